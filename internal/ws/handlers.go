package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/postfeed/internal/httputil"
)

func (m *Manager) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin:     originChecker(m.opts.AllowedOrigins),
	}
}

// RegisterRoutes wires the websocket endpoint. It only matches upgrade
// requests, so it must be registered ahead of the plain GET /graphql route.
func (m *Manager) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/graphql", m.ServeWS).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)^websocket$")
}

// ServeWS upgrades GET /graphql to a websocket connection and starts its
// read and write pumps.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	if m.isDraining() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := m.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	c := newConn(m, conn)
	if !m.register(c) {
		log.Printf("ws: rejecting connection from %s, draining", r.RemoteAddr)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	c.run()
}
