package ws

import (
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"

	"github.com/darkden-lab/postfeed/internal/graph"
)

// Subprotocol is the websocket subprotocol negotiated on /graphql.
const Subprotocol = "graphql-ws"

// Message types exchanged over a connection.
const (
	TypeConnectionInit      = "connection_init"
	TypeConnectionAck       = "connection_ack"
	TypeConnectionTerminate = "connection_terminate"
	TypeStart               = "start"
	TypeStop                = "stop"
	TypeNext                = "next"
	TypeError               = "error"
	TypeComplete            = "complete"
	TypePing                = "ping"
	TypePong                = "pong"
)

// Close codes sent when a peer violates the protocol.
const (
	CloseMalformed      = 4400
	CloseNotInitialised = 4401
	CloseInitTimeout    = 4408
	CloseDuplicateID    = 4409
	CloseTooManyInits   = 4429
	CloseSlowConsumer   = 4413
)

// ProtocolError is a violation that terminates the offending connection
// with Code.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Reason)
}

func protocolErrorf(code int, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// envelope is the JSON frame shared by both directions.
type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// clientMessage is one of the message types below, decoded from an envelope.
type clientMessage interface {
	clientMessage()
}

type initMessage struct{ Payload json.RawMessage }

type startMessage struct {
	ID      string
	Request graph.Request
}

type stopMessage struct{ ID string }

type pingMessage struct{}

type pongMessage struct{}

type terminateMessage struct{}

func (initMessage) clientMessage()      {}
func (startMessage) clientMessage()     {}
func (stopMessage) clientMessage()      {}
func (pingMessage) clientMessage()      {}
func (pongMessage) clientMessage()      {}
func (terminateMessage) clientMessage() {}

// decodeClientMessage turns a raw frame into a clientMessage. Anything it
// cannot make sense of is a CloseMalformed ProtocolError.
func decodeClientMessage(data []byte) (clientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, protocolErrorf(CloseMalformed, "invalid message: %v", err)
	}

	switch env.Type {
	case TypeConnectionInit:
		return initMessage{Payload: env.Payload}, nil
	case TypeStart:
		if env.ID == "" {
			return nil, protocolErrorf(CloseMalformed, "start without id")
		}
		var req graph.Request
		if len(env.Payload) == 0 {
			return nil, protocolErrorf(CloseMalformed, "start %s without payload", env.ID)
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, protocolErrorf(CloseMalformed, "start %s: invalid payload: %v", env.ID, err)
		}
		return startMessage{ID: env.ID, Request: req}, nil
	case TypeStop:
		if env.ID == "" {
			return nil, protocolErrorf(CloseMalformed, "stop without id")
		}
		return stopMessage{ID: env.ID}, nil
	case TypePing:
		return pingMessage{}, nil
	case TypePong:
		return pongMessage{}, nil
	case TypeConnectionTerminate:
		return terminateMessage{}, nil
	case "":
		return nil, protocolErrorf(CloseMalformed, "message without type")
	default:
		return nil, protocolErrorf(CloseMalformed, "unknown message type %q", env.Type)
	}
}

// serverMessage is an outbound frame.
type serverMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func encode(msg serverMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// only reachable when a resolver hands back an unencodable value
		data, _ = json.Marshal(serverMessage{
			ID:      msg.ID,
			Type:    TypeError,
			Payload: gqlerrors.FormatErrors(fmt.Errorf("encode %s: %w", msg.Type, err)),
		})
	}
	return data
}

func ackFrame() []byte  { return encode(serverMessage{Type: TypeConnectionAck}) }
func pongFrame() []byte { return encode(serverMessage{Type: TypePong}) }

func nextFrame(id string, res *graphql.Result) []byte {
	return encode(serverMessage{ID: id, Type: TypeNext, Payload: res})
}

func errorFrame(id string, errs []gqlerrors.FormattedError) []byte {
	return encode(serverMessage{ID: id, Type: TypeError, Payload: errs})
}

func completeFrame(id string) []byte {
	return encode(serverMessage{ID: id, Type: TypeComplete})
}
