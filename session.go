package pollbroke

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoanBrand/pollbroke/internal/model"
	"github.com/RoanBrand/pollbroke/internal/queue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Reads done for one readiness event before yielding to other connections.
// Re-arming a connection that is still readable reports it again.
const maxReadsPerEvent = 16

var (
	ErrSessionClosed = errors.New("session closed")
	errWouldBlock    = errors.New("operation would block")
	errRxStalled     = errors.New("receive buffer full without progress")
)

// ParseError is a fatal decode failure on one connection.
type ParseError struct {
	ConnID int
	State  string // decode state at the time of failure
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("conn %d: %v while %s", e.ConnID, e.Err, e.State)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Receive states. Each state carries only the data it needs.
type rxState interface {
	String() string
}

type awaitingFixedHeader struct{}

type awaitingBody struct {
	header model.FixedHeader
	body   []byte
}

type closed struct {
	err error // nil for an orderly close
}

func (awaitingFixedHeader) String() string { return "awaiting fixed header" }
func (st *awaitingBody) String() string {
	return fmt.Sprintf("awaiting %s body (%d/%d)", st.header.Type, len(st.body), st.header.RemainingLength)
}
func (st *closed) String() string { return "closed" }

// transport is the byte stream under a Session.
type transport interface {
	// Read returns errWouldBlock when no data is available right now,
	// and 0, nil when the peer has closed its side.
	Read(p []byte) (int, error)
	// Write may write part of p and return errWouldBlock.
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
	// fd is the pollable descriptor, or -1 if the transport pushes its
	// input through the mailbox instead.
	fd() int
}

// Session is the state of one client connection. It is only ever touched by
// the event loop goroutine; Handler methods may call Write and Close on it.
type Session struct {
	id   int
	gen  uint64
	uuid uuid.UUID
	conn transport
	log  log.FieldLogger
	reg  *registry

	state rxState
	rx    *queue.Ring[byte]
	tx    []byte // output not yet accepted by the socket

	dirty bool // needs settling by the registry outside of its own dispatch
}

func newSession(reg *registry, conn transport) (*Session, error) {
	rx, err := queue.NewRing[byte](reg.readBufferSize)
	if err != nil {
		return nil, err
	}

	return &Session{
		uuid:  uuid.New(),
		conn:  conn,
		reg:   reg,
		log:   reg.log,
		state: awaitingFixedHeader{},
		rx:    rx,
	}, nil
}

// ID is the connection id, a slot in the connection table. Ids are reused.
func (s *Session) ID() int {
	return s.id
}

// UUID identifies this session uniquely, unlike ID.
func (s *Session) UUID() uuid.UUID {
	return s.uuid
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

func (s *Session) State() string {
	return s.state.String()
}

func (s *Session) Closed() bool {
	_, ok := s.state.(*closed)
	return ok
}

// Err returns why the session closed, or nil.
func (s *Session) Err() error {
	if st, ok := s.state.(*closed); ok {
		return st.err
	}
	return nil
}

// Write sends p to the client. Whatever the socket does not take now is
// queued and sent when it becomes writable.
func (s *Session) Write(p []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}

	if len(s.tx) > 0 {
		s.tx = append(s.tx, p...)
		return nil
	}

	n, err := s.conn.Write(p)
	s.reg.metrics.bytesTx.Add(float64(n))
	if err != nil && err != errWouldBlock {
		s.close(err)
		return err
	}

	if n < len(p) {
		s.tx = append(s.tx, p[n:]...)
		s.markDirty() // needs write interest
	}
	return nil
}

// Close ends the session once the current event has been handled.
func (s *Session) Close() {
	s.close(nil)
}

func (s *Session) close(err error) {
	if s.Closed() {
		return
	}

	if err == nil && len(s.tx) > 0 {
		// A half-closed peer still reads. Output the socket won't take now is dropped.
		if s.flush(); s.Closed() {
			return
		}
	}
	s.state = &closed{err: err}
	s.markDirty()
}

func (s *Session) markDirty() {
	if !s.dirty {
		s.dirty = true
		s.reg.dirty = append(s.reg.dirty, s)
	}
}

func (s *Session) interest() Event {
	ev := EventReadable | EventHangUp
	if len(s.tx) > 0 {
		ev |= EventWritable
	}
	return ev
}

// buffered is the number of received bytes not yet handed upstream.
func (s *Session) buffered() int {
	n := s.rx.Len()
	if st, ok := s.state.(*awaitingBody); ok {
		n += len(st.body)
	}
	return n
}

// ready handles one readiness event. scratch is the event loop's shared read buffer.
func (s *Session) ready(ev Event, scratch []byte) {
	if s.Closed() {
		s.log.Debug("Readiness event for closed session")
		return
	}

	if ev&EventWritable > 0 {
		s.flush()
	}
	more := false
	if ev&EventReadable > 0 {
		more = s.readAll(scratch)
	}
	if s.Closed() {
		return
	}

	if ev&EventError > 0 {
		s.close(errors.New("socket error"))
	} else if ev&EventHangUp > 0 && !more {
		// with input left unread the re-armed interest reports the hang-up again
		s.close(nil)
	}
}

// readAll reads until the socket would block, and reports whether it stopped
// early on the read budget instead.
func (s *Session) readAll(scratch []byte) bool {
	for i := 0; i < maxReadsPerEvent; i++ {
		if s.Closed() {
			return false
		}

		n, err := s.conn.Read(scratch)
		switch {
		case err == errWouldBlock:
			return false
		case err != nil:
			s.close(err)
			return false
		case n == 0:
			// Bytes still buffered are not lost by a zero read; only an
			// empty session is done.
			if s.buffered() == 0 {
				s.close(nil)
			} else if err := s.decode(); err != nil {
				s.parseFailed(err)
			}
			return false
		}

		s.reg.metrics.bytesRx.Add(float64(n))
		if err = s.ingest(scratch[:n]); err != nil {
			s.parseFailed(err)
			return false
		}
	}
	return !s.Closed()
}

// ingest buffers data and decodes as many packets from it as possible.
func (s *Session) ingest(data []byte) error {
	for len(data) > 0 && !s.Closed() {
		n := s.rx.PushSlice(data)
		data = data[n:]

		if err := s.decode(); err != nil {
			return err
		}
		if n == 0 && s.rx.Full() {
			// only a ring smaller than a fixed header can stall
			return errRxStalled
		}
	}
	return nil
}

// decode advances the receive state machine over the buffered bytes,
// delivering every packet that completes.
func (s *Session) decode() error {
	var hdr [5]byte

	for !s.Closed() {
		switch st := s.state.(type) {
		case awaitingFixedHeader:
			n := s.rx.PeekInto(hdr[:])
			fh, used, err := DecodeFixedHeader(hdr[:n])
			if err != nil {
				if _, ok := model.IsNeedMoreInput(err); ok {
					return nil
				}
				return err
			}

			if fh.RemainingLength > s.reg.maxPacketSize {
				return model.ErrPacketTooLarge
			}

			s.rx.Discard(used)
			s.state = &awaitingBody{
				header: fh,
				body:   make([]byte, 0, min(int(fh.RemainingLength), s.rx.Cap())),
			}
		case *awaitingBody:
			need := int(st.header.RemainingLength) - len(st.body)
			if chunk := min(need, s.rx.Len()); chunk > 0 {
				old := len(st.body)
				st.body = slices.Grow(st.body, chunk)[:old+chunk]
				s.rx.ShiftInto(st.body[old:])
				need -= chunk
			}
			if need > 0 {
				return nil
			}

			p, err := DecodePacket(st.header, st.body)
			if err != nil {
				return err
			}

			s.state = awaitingFixedHeader{}
			s.deliver(p)
		default:
			return nil
		}
	}
	return nil
}

func (s *Session) deliver(p *model.Packet) {
	s.reg.metrics.packets.WithLabelValues(p.Type().String()).Inc()
	s.log.WithFields(log.Fields{
		"type":             p.Type().String(),
		"remaining_length": p.Header.RemainingLength,
	}).Debug("Got packet")

	s.reg.handler.HandlePacket(s, p)
}

func (s *Session) parseFailed(err error) {
	pe := &ParseError{ConnID: s.id, State: s.state.String(), Err: err}
	s.reg.metrics.parseErrors.WithLabelValues(errorLabel(err)).Inc()
	s.log.WithFields(log.Fields{
		"state": pe.State,
		"err":   err,
	}).Info("Dropping connection on decode failure")

	// no resync: anything still buffered is discarded with the session
	s.rx.Reset()
	s.close(pe)

	s.reg.handler.HandleParseError(s, pe)
}

// flush writes out queued output.
func (s *Session) flush() {
	for len(s.tx) > 0 {
		n, err := s.conn.Write(s.tx)
		s.reg.metrics.bytesTx.Add(float64(n))
		s.tx = s.tx[n:]
		if err == errWouldBlock {
			return
		}
		if err != nil {
			s.close(err)
			return
		}
	}
	s.tx = nil
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidControlType):
		return "invalid_control_type"
	case errors.Is(err, model.ErrInvalidRemainingLength):
		return "invalid_remaining_length"
	case errors.Is(err, model.ErrInvalidUTF8Sequence):
		return "invalid_utf8"
	case errors.Is(err, model.ErrMalformedPacket):
		return "malformed_packet"
	case errors.Is(err, model.ErrPacketTooLarge):
		return "packet_too_large"
	default:
		return "other"
	}
}
