package stream

import (
	"context"
	"net"
)

// PlaintextDriver is the driver_mode=0 variant: no TLS, peer identity is
// just the socket's remote address.
type PlaintextDriver struct{}

func NewPlaintextDriver() *PlaintextDriver { return &PlaintextDriver{} }

func (d *PlaintextDriver) Mode() Mode { return ModePlaintext }

func (d *PlaintextDriver) OpenListener(network, address string) (Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &plaintextListener{ln: ln}, nil
}

type plaintextListener struct {
	ln net.Listener
}

func (l *plaintextListener) Addr() net.Addr { return l.ln.Addr() }
func (l *plaintextListener) Close() error   { return l.ln.Close() }

func (l *plaintextListener) Accept(ctx context.Context) (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	addr, port := splitHostPort(c.RemoteAddr())
	return &Conn{Conn: c, PeerAddr: addr, PeerPort: port}, nil
}

func splitHostPort(addr net.Addr) (net.IP, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, 0
	}
	return tcpAddr.IP, tcpAddr.Port
}
