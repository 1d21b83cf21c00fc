//go:build linux

package pollbroke

import (
	"encoding/binary"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// poller is an epoll instance plus an eventfd used to wake it up from other
// goroutines. Session and listener descriptors are registered edge-triggered
// and one-shot; the wake descriptor is edge-triggered only.
type poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wakeToken)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *poller) add(fd int, tok Token, interest Event) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, tok, interest)
}

// rearm replaces the interest of a one-shot registration that has fired.
func (p *poller) rearm(fd int, tok Token, interest Event) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, tok, interest)
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (p *poller) ctl(op, fd int, tok Token, interest Event) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(tok)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// wait blocks for up to msec milliseconds (-1 for no limit) and hands every
// collected event to h.
func (p *poller) wait(h EventHandler, msec int) error {
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &p.events[i]
		h.Ready(Token(uint32(ev.Fd)), fromEpoll(ev.Events))
	}
	return nil
}

// wake makes a blocked wait return with a wakeToken event. Safe for concurrent use.
func (p *poller) wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)

	_, err := unix.Write(p.wakefd, one[:])
	if err != nil && err != unix.EAGAIN { // counter saturated is still awake
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

func (p *poller) close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}

func toEpoll(ev Event) uint32 {
	var e uint32 = unix.EPOLLET | unix.EPOLLONESHOT
	if ev&EventReadable > 0 {
		e |= unix.EPOLLIN
	}
	if ev&EventWritable > 0 {
		e |= unix.EPOLLOUT
	}
	if ev&EventHangUp > 0 {
		e |= unix.EPOLLRDHUP
	}
	return e
}

func fromEpoll(e uint32) Event {
	var ev Event
	if e&(unix.EPOLLIN|unix.EPOLLPRI) > 0 {
		ev |= EventReadable
	}
	if e&unix.EPOLLOUT > 0 {
		ev |= EventWritable
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) > 0 {
		ev |= EventHangUp
	}
	if e&unix.EPOLLERR > 0 {
		ev |= EventError
	}
	return ev
}

// listenTCP opens a non-blocking listening socket on address.
func listenTCP(address string) (int, *net.TCPAddr, error) {
	ta, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, nil, err
	}

	family, sa := unix.AF_INET, unix.Sockaddr(&unix.SockaddrInet4{Port: ta.Port})
	if ip4 := ta.IP.To4(); ip4 != nil {
		sa.(*unix.SockaddrInet4).Addr = [4]byte(ip4)
	} else if ta.IP != nil {
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		family, sa = unix.AF_INET6, sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}

	fail := func(call string, err error) (int, *net.TCPAddr, error) {
		unix.Close(fd)
		return -1, nil, os.NewSyscallError(call, err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return fd, toTCPAddr(bound), nil
}

// acceptConn accepts one pending connection, or returns errWouldBlock if there is none.
func acceptConn(lfd int) (transport, error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return &fdConn{sock: nfd, remote: toTCPAddr(sa).String()}, nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, errWouldBlock
		default:
			return nil, os.NewSyscallError("accept4", err)
		}
	}
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return &net.TCPAddr{}
	}
}

// fdConn is an accepted non-blocking TCP socket.
type fdConn struct {
	sock   int
	remote string
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.sock, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, errWouldBlock
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.sock, p[written:])
		if n > 0 {
			written += n
		}

		switch err {
		case nil:
			if n <= 0 {
				return written, io.ErrShortWrite
			}
		case unix.EINTR:
		case unix.EAGAIN:
			return written, errWouldBlock
		default:
			return written, os.NewSyscallError("write", err)
		}
	}
	return written, nil
}

func (c *fdConn) Close() error {
	return unix.Close(c.sock)
}

func (c *fdConn) RemoteAddr() string {
	return c.remote
}

func (c *fdConn) fd() int {
	return c.sock
}
