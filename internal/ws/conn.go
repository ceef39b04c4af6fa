package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql/gqlerrors"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/postfeed/internal/graph"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 64 << 10
)

var (
	errRateLimited = errors.New("too many operations started, slow down")
	errDraining    = errors.New("server is shutting down")
)

// State is the lifecycle position of a Conn.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// operation is one started query, mutation or subscription.
type operation struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	// subscription is set for long-lived operations. Draining cancels
	// only these; queries and mutations run to completion.
	subscription bool
}

// Conn is a single websocket connection and the operations running on it.
type Conn struct {
	ID string

	conn    *websocket.Conn
	manager *Manager
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	ops         map[string]*operation
	send        chan []byte
	closeCode   int
	closeReason string
	initTimer   *time.Timer

	opsWG  sync.WaitGroup
	closed chan struct{}
}

func newConn(m *Manager, conn *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:      uuid.New().String(),
		conn:    conn,
		manager: m,
		limiter: rate.NewLimiter(rate.Limit(m.opts.StartRPS), m.opts.StartBurst),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateConnecting,
		ops:     make(map[string]*operation),
		send:    make(chan []byte, m.opts.SendBuffer),
		closed:  make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection is fully torn down and every operation
// on it has finished.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) run() {
	c.mu.Lock()
	c.initTimer = time.AfterFunc(c.manager.opts.InitTimeout, c.initExpired)
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *Conn) initExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		log.Printf("ws: connection %s sent no connection_init in %s", c.ID, c.manager.opts.InitTimeout)
		c.terminateLocked(CloseInitTimeout, "connection_init timeout")
	}
}

// readPump decodes inbound frames and dispatches them. It runs in its own
// goroutine per connection and tears the connection down when it returns.
func (c *Conn) readPump() {
	defer c.finish()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: connection %s read error: %v", c.ID, err)
			}
			c.terminate(websocket.CloseNormalClosure, "")
			return
		}

		if err := c.handle(data); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				log.Printf("ws: connection %s: %v", c.ID, perr)
				c.terminate(perr.Code, perr.Reason)
			}
			return
		}
	}
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with ping frames. Once the queue is closed it sends the close frame and
// closes the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.terminate(websocket.CloseAbnormalClosure, "")
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, reason := c.closeStatus()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle processes one inbound frame. A non-nil error ends the read loop.
func (c *Conn) handle(data []byte) error {
	msg, err := decodeClientMessage(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case initMessage:
		return c.handleInit()
	case startMessage:
		return c.handleStart(m)
	case stopMessage:
		c.handleStop(m.ID)
	case pingMessage:
		c.enqueue(pongFrame())
	case pongMessage:
	case terminateMessage:
		c.terminate(websocket.CloseNormalClosure, "")
		return errTerminated
	}
	return nil
}

var errTerminated = errors.New("connection terminated by client")

func (c *Conn) handleInit() error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return protocolErrorf(CloseTooManyInits, "too many initialisation requests")
	}
	c.state = StateOpen
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	c.mu.Unlock()

	c.enqueue(ackFrame())
	return nil
}

func (c *Conn) handleStart(m startMessage) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return protocolErrorf(CloseNotInitialised, "start %s before connection_init", m.ID)
	case StateDraining, StateClosed:
		c.mu.Unlock()
		c.enqueue(errorFrame(m.ID, gqlerrors.FormatErrors(errDraining)))
		return nil
	}
	if _, dup := c.ops[m.ID]; dup {
		c.mu.Unlock()
		return protocolErrorf(CloseDuplicateID, "operation %s already exists", m.ID)
	}
	if !c.limiter.Allow() {
		c.mu.Unlock()
		c.enqueue(errorFrame(m.ID, gqlerrors.FormatErrors(errRateLimited)))
		return nil
	}

	kind, kindErr := graph.Classify(m.Request)
	ctx, cancel := context.WithCancel(c.ctx)
	op := &operation{
		id:           m.ID,
		cancel:       cancel,
		done:         make(chan struct{}),
		subscription: kindErr == nil && kind == graph.OperationSubscription,
	}
	c.ops[m.ID] = op
	c.opsWG.Add(1)
	c.mu.Unlock()

	go c.runOperation(ctx, op, kindErr, m.Request)
	return nil
}

// handleStop cancels operation id and returns once it has finished, so its
// stream is already released when the peer receives complete.
func (c *Conn) handleStop(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	op.cancel()
	<-op.done
}

// runOperation executes req and reports results under op.id. Every
// operation ends with either complete or a single error frame.
func (c *Conn) runOperation(ctx context.Context, op *operation, kindErr error, req graph.Request) {
	defer c.opsWG.Done()
	defer close(op.done)
	defer op.cancel()

	final := completeFrame(op.id)
	defer func() {
		c.mu.Lock()
		delete(c.ops, op.id)
		c.mu.Unlock()
		c.enqueue(final)
	}()

	if kindErr != nil {
		final = errorFrame(op.id, gqlerrors.FormatErrors(kindErr))
		return
	}

	if !op.subscription {
		res := c.manager.engine.Execute(ctx, req)
		if ctx.Err() != nil {
			return
		}
		if res.Data == nil && res.HasErrors() {
			final = errorFrame(op.id, res.Errors)
			return
		}
		c.enqueue(nextFrame(op.id, res))
		return
	}

	results, err := c.manager.engine.Subscribe(ctx, req)
	if err != nil {
		final = errorFrame(op.id, gqlerrors.FormatErrors(err))
		return
	}
	first := true
	for res := range results {
		if first && res.Data == nil && res.HasErrors() {
			final = errorFrame(op.id, res.Errors)
			first = false
			continue
		}
		first = false
		if ctx.Err() != nil {
			continue
		}
		c.enqueue(nextFrame(op.id, res))
	}
}

// drain stops accepting operations, ends every subscription, waits for
// in-flight queries and mutations to report their result and closes the
// socket with 1001.
func (c *Conn) drain() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	ops := make([]*operation, 0, len(c.ops))
	for _, op := range c.ops {
		if op.subscription {
			ops = append(ops, op)
		}
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.cancel()
	}
	c.opsWG.Wait()
	c.terminate(websocket.CloseGoingAway, "server shutting down")
}

// enqueue hands msg to the write pump. A full queue means the peer is not
// keeping up; the connection is closed rather than blocking the producer.
func (c *Conn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("ws: connection %s send queue full, closing", c.ID)
		c.terminateLocked(CloseSlowConsumer, "slow consumer")
		return false
	}
}

// terminate moves the connection to Closed: operations are cancelled and the
// write pump flushes what is queued, then sends a close frame with code.
func (c *Conn) terminate(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked(code, reason)
}

func (c *Conn) terminateLocked(code int, reason string) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.closeCode, c.closeReason = code, reason
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	c.cancel()
	close(c.send)
}

func (c *Conn) closeStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// forceClose drops the socket without waiting for operations to finish.
func (c *Conn) forceClose() {
	c.terminate(websocket.CloseGoingAway, "server shutting down")
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Conn) finish() {
	c.opsWG.Wait()
	c.manager.unregister(c)
	close(c.closed)
}
