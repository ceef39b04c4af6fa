package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultMirrorQueue = 1024
	mirrorWriteTimeout = 10 * time.Second
)

// KafkaConfig holds configuration for the Kafka change-feed mirror.
type KafkaConfig struct {
	Brokers     []string // list of broker addresses
	TopicPrefix string   // prepended to the event topic
	QueueSize   int      // events buffered ahead of the writer
}

// messageWriter is the subset of *kafka.Writer the mirror needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror copies every published event to Kafka for consumers outside
// this process. Writes happen on one background goroutine in publish order;
// when the queue is full the copy is dropped and live subscribers are
// unaffected.
type KafkaMirror struct {
	writer messageWriter
	prefix string
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewKafkaMirror creates a mirror writing through a kafka-go Writer.
func NewKafkaMirror(config KafkaConfig) (*KafkaMirror, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaMirror(writer, config), nil
}

func newKafkaMirror(w messageWriter, config KafkaConfig) *KafkaMirror {
	size := config.QueueSize
	if size <= 0 {
		size = defaultMirrorQueue
	}
	m := &KafkaMirror{
		writer: w,
		prefix: config.TopicPrefix,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Mirror enqueues ev for export. It never blocks and is meant to be
// registered with Broker.OnPublish.
func (m *KafkaMirror) Mirror(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		log.Printf("pubsub: kafka mirror queue full, dropped event %s on %s", ev.ID, ev.Topic)
	}
}

// Close flushes queued events and closes the writer.
func (m *KafkaMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	return m.writer.Close()
}

func (m *KafkaMirror) run() {
	defer close(m.done)

	for ev := range m.queue {
		msg, err := m.message(ev)
		if err != nil {
			log.Printf("pubsub: kafka mirror: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		err = m.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			log.Printf("pubsub: kafka mirror write %s failed: %v", ev.ID, err)
		}
	}
}

func (m *KafkaMirror) message(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	return kafka.Message{
		Topic: m.prefix + ev.Topic,
		Key:   []byte(ev.ID),
		Value: value,
		Time:  ev.Timestamp,
	}, nil
}
