package pollbroke

import "github.com/RoanBrand/pollbroke/internal/model"

// Event is a set of readiness conditions, also used as the interest set
// a connection is re-armed with.
type Event uint8

const (
	EventReadable Event = 1 << iota
	EventWritable
	EventHangUp
	EventError
)

// Token identifies what a readiness event is for.
type Token uint64

const (
	listenerToken Token = iota
	wakeToken
	firstSessionToken
)

func sessionToken(id int) Token {
	return firstSessionToken + Token(id)
}

// EventHandler receives the readiness events collected by the event loop.
type EventHandler interface {
	Ready(token Token, events Event)
}

// Handler consumes what the sessions decode. It is only ever called from the
// event loop goroutine, in the order bytes arrived on each connection.
// Writes to, and Close of, any Session are allowed from inside these calls.
// Server.Stop waits for the event loop, so a handler must call it as go server.Stop().
type Handler interface {
	HandlePacket(s *Session, p *model.Packet)
	// HandleParseError is called once when decoding fails; the session is
	// already closed at that point.
	HandleParseError(s *Session, err error)
}

// CloseHandler is optionally implemented by a Handler to learn about
// sessions leaving the connection table.
type CloseHandler interface {
	HandleClose(s *Session, err error)
}

type nopHandler struct{}

func (nopHandler) HandlePacket(*Session, *model.Packet) {}
func (nopHandler) HandleParseError(*Session, error)    {}
