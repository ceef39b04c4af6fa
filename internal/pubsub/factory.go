package pubsub

import (
	"log"
	"strings"

	"github.com/darkden-lab/postfeed/internal/config"
)

// NewMirror creates a KafkaMirror when KAFKA_BROKERS is set. It returns
// nil, nil when the mirror is disabled.
func NewMirror(cfg *config.Config) (*KafkaMirror, error) {
	if cfg.KafkaBrokers == "" {
		log.Println("pubsub: kafka mirror disabled (KAFKA_BROKERS not set)")
		return nil, nil
	}

	var brokers []string
	for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	log.Printf("pubsub: mirroring events to kafka brokers=%v prefix=%q", brokers, cfg.KafkaTopicPrefix)
	return NewKafkaMirror(KafkaConfig{
		Brokers:     brokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
	})
}
