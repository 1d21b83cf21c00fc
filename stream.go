package pollbroke

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/RoanBrand/pollbroke/internal/queue"
)

const (
	streamReadSize     = 4096
	streamSendQueue    = 64
	streamFlushTimeout = 5 * time.Second
)

var errSendQueueFull = errors.New("send queue full")

// streamConn adapts a blocking net.Conn, such as a websocket, to the event
// loop. A reader goroutine posts input to the registry mailbox and a writer
// goroutine drains output, so the loop itself never blocks on it.
type streamConn struct {
	conn net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	flushTimeout time.Duration // after Close, the conn is torn down within this
}

func newStreamConn(c net.Conn) *streamConn {
	return &streamConn{
		conn:         c,
		out:          make(chan []byte, streamSendQueue),
		done:         make(chan struct{}),
		flushTimeout: streamFlushTimeout,
	}
}

// start begins pumping once the connection has a slot in the table.
func (c *streamConn) start(mb *queue.Mailbox, id int, gen uint64) {
	go c.readPump(mb, id, gen)
	go c.writePump()
}

func (c *streamConn) readPump(mb *queue.Mailbox, id int, gen uint64) {
	for {
		buf := make([]byte, streamReadSize)
		n, err := c.conn.Read(buf)
		if n > 0 {
			i := queue.GetItem()
			i.ConnID, i.Gen, i.Data = id, gen, buf[:n]
			mb.Add(i)
		}
		if err != nil {
			i := queue.GetItem()
			i.ConnID, i.Gen, i.Err = id, gen, err
			mb.Add(i)
			return
		}
	}
}

func (c *streamConn) writePump() {
	defer c.conn.Close()

	for {
		select {
		case p := <-c.out:
			if _, err := c.conn.Write(p); err != nil {
				return
			}
		case <-c.done:
			// send what was queued before the close
			for {
				select {
				case p := <-c.out:
					if _, err := c.conn.Write(p); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// Write queues a copy of p. It never blocks; a peer too slow to keep up
// fails the write.
func (c *streamConn) Write(p []byte) (int, error) {
	select {
	case c.out <- append(make([]byte, 0, len(p)), p...):
		return len(p), nil
	default:
		return 0, errSendQueueFull
	}
}

// Read is never used: input arrives through the mailbox.
func (c *streamConn) Read([]byte) (int, error) {
	return 0, errWouldBlock
}

// Close stops the pumps once queued output is sent. A peer that does not read
// it within flushTimeout has its connection closed under a blocked write.
func (c *streamConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		time.AfterFunc(c.flushTimeout, func() { c.conn.Close() })
	})
	return nil
}

func (c *streamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *streamConn) fd() int {
	return -1
}
