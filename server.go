package pollbroke

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/pollbroke/internal/config"
	"github.com/RoanBrand/pollbroke/internal/queue"
	"github.com/RoanBrand/pollbroke/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	maxEventsPerWait = 128
	shutdownTimeout  = 5 * time.Second
)

var (
	ErrServerClosed  = errors.New("server closed")
	ErrServerStarted = errors.New("server already started")
)

// Server accepts MQTT connections and decodes their packets on a single event
// loop goroutine, handing each packet to a Handler.
type Server struct {
	config *config.Config
	log    log.FieldLogger
	reg    *registry
	poller *poller
	addr   *net.TCPAddr

	promReg    *prometheus.Registry
	metricsSrv *http.Server
	wsSrv      *http.Server
	wsAddr     net.Addr

	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	shutOnce sync.Once

	wakeMu     sync.Mutex
	pollClosed bool // guards wake against a reused descriptor
}

type Option func(*Server)

// WithLogger replaces the standard logrus logger. The log file and level
// from the config are applied to l only if it is a *logrus.Logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithRegistry registers the server's metrics on r instead of a registry
// of its own.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Server) {
		s.promReg = r
	}
}

// NewServer binds the TCP listener and, if configured, the websocket and
// metrics listeners. A nil conf means defaults, a nil h discards everything decoded.
func NewServer(conf *config.Config, h Handler, opts ...Option) (*Server, error) {
	if conf == nil {
		var err error
		if conf, err = config.New(""); err != nil {
			return nil, err
		}
	}
	if h == nil {
		h = nopHandler{}
	}

	s := Server{
		config: conf,
		log:    log.StandardLogger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&s)
	}

	if l, ok := s.log.(*log.Logger); ok {
		if err := setupLogging(l, conf); err != nil {
			return nil, err
		}
	}

	if s.promReg == nil {
		s.promReg = prometheus.NewRegistry()
		s.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	p, err := newPoller(maxEventsPerWait)
	if err != nil {
		return nil, err
	}

	lfd, addr, err := listenTCP(conf.TCP.Address)
	if err != nil {
		p.close()
		return nil, err
	}

	if err = p.add(lfd, listenerToken, EventReadable); err != nil {
		closeFd(lfd)
		p.close()
		return nil, err
	}

	s.poller, s.addr = p, addr
	s.reg = &registry{
		sessions:       newSlab[*Session](conf.MaxConnections),
		poller:         p,
		handler:        h,
		log:            s.log,
		metrics:        newMetrics(s.promReg),
		listenFd:       lfd,
		scratch:        make([]byte, conf.ReadBufferSize),
		readBufferSize: conf.ReadBufferSize,
		maxPacketSize:  conf.MaxPacketSize,
	}
	s.reg.mailbox.Init(s.wake)

	if err = s.setupWebsocket(); err == nil {
		err = s.setupMetrics()
	}
	if err != nil {
		s.shutdown()
		return nil, err
	}

	return &s, nil
}

// Start runs the event loop until Stop is called or the loop fails.
func (s *Server) Start() error {
	if s.stopping.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	defer close(s.done)
	defer s.shutdown()

	lf := log.Fields{"tcp_address": s.addr.String()}
	if s.wsAddr != nil {
		lf["ws_address"] = s.wsAddr.String()
	}
	if s.config.Metrics.Address != "" {
		lf["metrics_address"] = s.config.Metrics.Address
	}
	s.log.WithFields(lf).Info("Starting MQTT server")

	for !s.stopping.Load() {
		if err := s.reg.fatal; err != nil {
			s.log.WithField("err", err).Error("Event loop failed")
			return err
		}
		if err := s.poller.wait(s.reg, -1); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends the event loop, closes every session and waits for Start to return.
// It is safe to call from any goroutine, more than once, except the event loop
// itself: a Handler that wants to stop the server calls it as go server.Stop().
func (s *Server) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("Shutting down MQTT server")

	if !s.started.CompareAndSwap(false, true) {
		s.wake()
		<-s.done
		return
	}

	// never started
	s.shutdown()
	close(s.done)
}

// Addr is the bound TCP listener address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// WSAddr is the bound websocket listener address, nil if not listening.
func (s *Server) WSAddr() net.Addr {
	return s.wsAddr
}

// Attach hands an established stream connection to the event loop, where it
// is served like an accepted TCP connection. Safe for concurrent use.
func (s *Server) Attach(conn net.Conn) {
	if s.stopping.Load() {
		conn.Close()
		return
	}

	i := queue.GetItem()
	i.Conn = conn
	s.reg.mailbox.Add(i)

	// lost the race with shutdown: nothing drains the mailbox any more
	s.wakeMu.Lock()
	closed := s.pollClosed
	s.wakeMu.Unlock()
	if closed {
		s.discardMailbox()
	}
}

// fail stops the loop from a background goroutine.
func (s *Server) fail(err error) {
	i := queue.GetItem()
	i.ConnID, i.Err = -1, err
	s.reg.mailbox.Add(i)
}

func (s *Server) wake() {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	if s.pollClosed {
		return
	}
	if err := s.poller.wake(); err != nil {
		s.log.WithField("err", err).Error("Waking event loop")
	}
}

func (s *Server) shutdown() {
	s.shutOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, srv := range []*http.Server{s.wsSrv, s.metricsSrv} {
			if srv != nil {
				if err := srv.Shutdown(ctx); err != nil {
					s.log.WithField("err", err).Warn("Stopping listener")
				}
			}
		}

		s.reg.closeAll()

		if err := closeFd(s.reg.listenFd); err != nil {
			s.log.WithField("err", err).Debug("Closing listener")
		}

		s.wakeMu.Lock()
		if err := s.poller.close(); err != nil {
			s.log.WithField("err", err).Debug("Closing poller")
		}
		s.pollClosed = true
		s.wakeMu.Unlock()

		// connections never attached, and input from pumps of the sessions closed above
		s.discardMailbox()
	})
}

func (s *Server) discardMailbox() {
	for i := s.reg.mailbox.TakeAll(); i != nil; {
		next := i.Next()
		if i.Conn != nil {
			i.Conn.Close()
		}
		queue.ReturnItem(i)
		i = next
	}
}

func (s *Server) setupWebsocket() error {
	if s.config.WS.Address == "" {
		return nil
	}

	srv, addr, err := websocket.Setup(s.config.WS.Address, s.config.WS.CheckOrigin, s.Attach, s.fail)
	if err != nil {
		return err
	}

	s.wsSrv, s.wsAddr = srv, addr
	return nil
}

func (s *Server) setupMetrics() error {
	if s.config.Metrics.Address == "" {
		return nil
	}

	l, err := net.Listen("tcp", s.config.Metrics.Address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.metricsSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			s.fail(err)
		}
	}()
	return nil
}

func setupLogging(l *log.Logger, conf *config.Config) error {
	if conf.Log.File != "" {
		f, err := os.OpenFile(conf.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.SetOutput(f)
	}
	if conf.Log.Level != "" {
		switch strings.ToLower(conf.Log.Level) {
		case "error":
			l.SetLevel(log.ErrorLevel)
		case "warn":
			l.SetLevel(log.WarnLevel)
		case "info":
			l.SetLevel(log.InfoLevel)
		case "debug":
			l.SetLevel(log.DebugLevel)
		default:
			return errors.New("unknown log level: " + conf.Log.Level)
		}
	}

	return nil
}
