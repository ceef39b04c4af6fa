package ws

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/darkden-lab/postfeed/internal/config"
	"github.com/darkden-lab/postfeed/internal/graph"
)

// Executor runs operations started over a connection. *graph.Engine
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, req graph.Request) *graphql.Result
	Subscribe(ctx context.Context, req graph.Request) (<-chan *graphql.Result, error)
}

// Options tune every connection a Manager accepts.
type Options struct {
	SendBuffer     int
	InitTimeout    time.Duration
	StartRPS       float64
	StartBurst     int
	AllowedOrigins []string
}

// OptionsFromConfig reads the websocket settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendBuffer:     cfg.WSSendBuffer,
		InitTimeout:    cfg.WSInitTimeout,
		StartRPS:       cfg.WSStartRPS,
		StartBurst:     cfg.WSStartBurst,
		AllowedOrigins: ParseOrigins(cfg.AllowedOrigins),
	}
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = 10 * time.Second
	}
	if o.StartRPS <= 0 {
		o.StartRPS = 20
	}
	if o.StartBurst <= 0 {
		o.StartBurst = 40
	}
	return o
}

// Manager tracks live connections and drains them on shutdown. It is safe
// for concurrent use.
type Manager struct {
	engine Executor
	opts   Options

	mu       sync.Mutex
	conns    map[string]*Conn
	draining bool
}

// NewManager creates a Manager that runs operations on engine.
func NewManager(engine Executor, opts Options) *Manager {
	return &Manager{
		engine: engine,
		opts:   opts.withDefaults(),
		conns:  make(map[string]*Conn),
	}
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) register(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.conns[c.ID] = c
	log.Printf("ws: connection %s registered", c.ID)
	return true
}

func (m *Manager) unregister(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[c.ID]; ok {
		delete(m.conns, c.ID)
		log.Printf("ws: connection %s unregistered", c.ID)
	}
}

func (m *Manager) isDraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Shutdown refuses new connections and drains the live ones concurrently.
// Connections still open when ctx expires are force-closed and ctx's error
// is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	log.Printf("ws: draining %d connections", len(conns))
	for _, c := range conns {
		go c.drain()
	}

	for i, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			for _, rest := range conns[i:] {
				rest.forceClose()
			}
			log.Printf("ws: drain deadline exceeded, force-closed %d connections", len(conns)-i)
			return ctx.Err()
		}
	}
	return nil
}

// ParseOrigins splits a comma-separated ALLOWED_ORIGINS value.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
