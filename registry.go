package pollbroke

import (
	"errors"
	"io"

	"github.com/RoanBrand/pollbroke/internal/queue"
	log "github.com/sirupsen/logrus"
)

// registry owns the connection table and dispatches readiness events to it.
// All of its state belongs to the event loop goroutine, except the mailbox.
type registry struct {
	sessions *slab[*Session]
	poller   *poller
	handler  Handler
	log      log.FieldLogger
	metrics  *metrics

	listenFd int
	mailbox  queue.Mailbox // input from goroutines outside the loop

	gen     uint64
	scratch []byte
	dirty   []*Session
	fatal   error // stops the loop

	readBufferSize int
	maxPacketSize  uint32
}

// Ready implements EventHandler.
func (r *registry) Ready(tok Token, ev Event) {
	switch tok {
	case listenerToken:
		r.acceptAll()
	case wakeToken:
		r.poller.drainWake()
		r.drainMailbox()
	default:
		id := int(tok - firstSessionToken)
		s, ok := r.sessions.get(id)
		if !ok {
			r.log.WithField("conn", id).Debug("Event for unknown connection")
			break
		}

		s.markDirty()
		s.ready(ev, r.scratch)
	}

	r.settle()
}

// acceptAll accepts until no connection is pending, since one readiness
// event can stand for several of them.
func (r *registry) acceptAll() {
	for {
		conn, err := acceptConn(r.listenFd)
		if err == errWouldBlock {
			break
		}
		if err != nil {
			r.fatal = err
			return
		}

		if _, err = r.insert(conn); err != nil {
			r.reject(conn.RemoteAddr(), err)
			conn.Close()
		}
	}

	if err := r.poller.rearm(r.listenFd, listenerToken, EventReadable); err != nil {
		r.fatal = err
	}
}

// insert puts a new session for conn into the table.
func (r *registry) insert(conn transport) (*Session, error) {
	if r.sessions.len() == r.sessions.capacity {
		return nil, ErrTooManyConnections
	}

	s, err := newSession(r, conn)
	if err != nil {
		return nil, err
	}

	id, err := r.sessions.insert(s)
	if err != nil {
		return nil, err
	}

	r.gen++
	s.id, s.gen = id, r.gen
	s.log = r.log.WithFields(log.Fields{
		"conn":    id,
		"session": s.uuid.String(),
		"remote":  conn.RemoteAddr(),
	})

	if fd := conn.fd(); fd >= 0 {
		if err = r.poller.add(fd, sessionToken(id), s.interest()); err != nil {
			r.sessions.remove(id)
			return nil, err
		}
	}

	r.metrics.connsAccepted.Inc()
	r.metrics.connsActive.Set(float64(r.sessions.len()))
	s.log.Info("New connection")
	return s, nil
}

func (r *registry) reject(remote string, err error) {
	reason := "error"
	if errors.Is(err, ErrTooManyConnections) {
		reason = "capacity"
	}
	r.metrics.connsRejected.WithLabelValues(reason).Inc()

	r.log.WithFields(log.Fields{
		"remote": remote,
		"err":    err,
	}).Warn("Dropping new connection")
}

// settle re-arms or removes every session touched since the last settle.
// Handlers called during removal may touch more sessions; they are settled too.
func (r *registry) settle() {
	for i := 0; i < len(r.dirty); i++ {
		s := r.dirty[i]
		if !s.dirty {
			continue
		}
		s.dirty = false

		if s.Closed() {
			r.remove(s)
			continue
		}

		if fd := s.conn.fd(); fd >= 0 {
			if err := r.poller.rearm(fd, sessionToken(s.id), s.interest()); err != nil {
				s.close(err)
			}
		}
	}

	clear(r.dirty)
	r.dirty = r.dirty[:0]
}

func (r *registry) remove(s *Session) {
	if cur, ok := r.sessions.get(s.id); !ok || cur != s {
		return
	}

	if fd := s.conn.fd(); fd >= 0 {
		if err := r.poller.remove(fd); err != nil {
			s.log.WithField("err", err).Debug("Unregistering connection")
		}
	}
	if err := s.conn.Close(); err != nil {
		s.log.WithField("err", err).Debug("Closing connection")
	}

	r.sessions.remove(s.id)
	r.metrics.connsActive.Set(float64(r.sessions.len()))

	if err := s.Err(); err != nil {
		s.log.WithField("err", err).Info("Connection closed")
	} else {
		s.log.Info("Connection closed")
	}

	if ch, ok := r.handler.(CloseHandler); ok {
		ch.HandleClose(s, s.Err())
	}
}

// closeAll ends every session, as on shutdown.
func (r *registry) closeAll() {
	r.sessions.each(func(_ int, s *Session) {
		s.Close()
	})
	r.settle()
}

func (r *registry) drainMailbox() {
	for i := r.mailbox.TakeAll(); i != nil; {
		next := i.Next()
		r.post(i)
		queue.ReturnItem(i)
		i = next
	}
}

func (r *registry) post(i *queue.Item) {
	switch {
	case i.ConnID < 0:
		// a background listener failed
		if i.Err != nil && r.fatal == nil {
			r.fatal = i.Err
		}
	case i.Conn != nil:
		r.attach(i)
	default:
		s, ok := r.sessions.get(i.ConnID)
		if !ok || s.gen != i.Gen {
			return // left over from a connection already removed
		}

		s.markDirty()
		if i.Err != nil {
			if i.Err == io.EOF {
				i.Err = nil
			}
			s.close(i.Err)
			return
		}

		r.metrics.bytesRx.Add(float64(len(i.Data)))
		if err := s.ingest(i.Data); err != nil {
			s.parseFailed(err)
		}
	}
}

func (r *registry) attach(i *queue.Item) {
	sc := newStreamConn(i.Conn)
	s, err := r.insert(sc)
	if err != nil {
		r.reject(i.Conn.RemoteAddr().String(), err)
		i.Conn.Close()
		return
	}

	sc.start(&r.mailbox, s.id, s.gen)
}
