package websocket

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const readHeaderTimeout = 10 * time.Second

// Setup listens on address and serves MQTT over websocket. Every upgraded
// connection is passed to dispatch as a byte stream. If serving fails later,
// the error is passed to errs.
func Setup(address string, checkOrigin bool, dispatch func(net.Conn), errs func(error)) (*http.Server, net.Addr, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:           http.HandlerFunc(handler(checkOrigin, dispatch)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			errs(err)
		}
	}()
	return srv, l.Addr(), nil
}

func handler(checkOrigin bool, dispatch func(net.Conn)) func(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{
		Subprotocols: []string{"mqtt"}, // [MQTT-6.0.0-4]
	}
	if !checkOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if protos := websocket.Subprotocols(r); len(protos) == 0 || protos[0] != "mqtt" { // [MQTT-6.0.0-3]
			errMsg := "websocket client not supported. sub protocol must be 'mqtt'"
			http.Error(w, errMsg, http.StatusNotAcceptable)
			return
		}

		// Upgrade replies to the client itself on failure.
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		dispatch(&wsConn{Conn: conn})
	}
}

// wsConn is a websocket as a net.Conn carrying MQTT in binary messages.
// Packets may span messages and a message may hold several packets.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Write(p []byte) (int, error) {
	err := c.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			var err error
			var mt int
			if mt, c.r, err = c.NextReader(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage { // [MQTT-6.0.0-1]
				return 0, errors.New("not binary message")
			}
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}
