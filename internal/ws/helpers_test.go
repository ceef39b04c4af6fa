package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/postfeed/internal/graph"
	"github.com/darkden-lab/postfeed/internal/posts"
	"github.com/darkden-lab/postfeed/internal/pubsub"
)

type testServer struct {
	srv     *httptest.Server
	manager *Manager
	broker  *pubsub.Broker
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	return newTestServerWithStore(t, opts, posts.NewMemoryStore())
}

func newTestServerWithStore(t *testing.T, opts Options, store posts.Store) *testServer {
	t.Helper()
	broker := pubsub.NewBroker()
	engine, err := graph.NewEngine(store, broker)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	m := NewManager(engine, opts)
	r := mux.NewRouter()
	m.RegisterRoutes(r)
	graph.NewHandlers(engine).RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
		srv.Close()
		broker.Shutdown()
	})
	return &testServer{srv: srv, manager: m, broker: broker}
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/graphql"
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(ts.url(), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp.Header.Get("Sec-Websocket-Protocol") != Subprotocol {
		t.Errorf("expected subprotocol %s, got %q", Subprotocol, resp.Header.Get("Sec-Websocket-Protocol"))
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialInit dials and completes the connection_init handshake.
func (ts *testServer) dialInit(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := ts.dial(t)
	send(t, conn, envelope{Type: TypeConnectionInit})
	if msg := readMessage(t, conn); msg.Type != TypeConnectionAck {
		t.Fatalf("expected connection_ack, got %+v", msg)
	}
	return conn
}

func (ts *testServer) waitForSubscribers(t *testing.T, topic string, n int) {
	t.Helper()
	waitFor(t, func() bool { return ts.broker.SubscriberCount(topic) == n },
		"%d subscribers on %s", n, topic)
}

func waitFor(t *testing.T, cond func() bool, format string, args ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, env envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func start(t *testing.T, conn *websocket.Conn, id, query string) {
	t.Helper()
	payload, _ := json.Marshal(graph.Request{Query: query})
	send(t, conn, envelope{ID: id, Type: TypeStart, Payload: payload})
}

func readMessage(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return env
}

// expectClose reads until the server closes the connection and checks the
// close code. Messages received before the close frame are returned.
func expectClose(t *testing.T, conn *websocket.Conn, code int) []envelope {
	t.Helper()
	var got []envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env envelope
		err := conn.ReadJSON(&env)
		if err == nil {
			got = append(got, env)
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close %d, got %v", code, err)
		}
		if ce.Code != code {
			t.Fatalf("expected close %d, got %d (%s)", code, ce.Code, ce.Text)
		}
		return got
	}
}
