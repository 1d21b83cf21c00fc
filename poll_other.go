//go:build !linux

package pollbroke

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("pollbroke: readiness polling is only implemented on linux")

type poller struct{}

func newPoller(int) (*poller, error) {
	return nil, errUnsupported
}

func (p *poller) add(int, Token, Event) error   { return errUnsupported }
func (p *poller) rearm(int, Token, Event) error { return errUnsupported }
func (p *poller) remove(int) error              { return errUnsupported }
func (p *poller) wait(EventHandler, int) error  { return errUnsupported }
func (p *poller) wake() error                   { return errUnsupported }
func (p *poller) drainWake()                    {}
func (p *poller) close() error                  { return nil }

func listenTCP(string) (int, *net.TCPAddr, error) {
	return -1, nil, errUnsupported
}

func acceptConn(int) (transport, error) {
	return nil, errUnsupported
}

func closeFd(int) error {
	return errUnsupported
}
