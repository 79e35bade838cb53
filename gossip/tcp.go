package gossip

import (
	"net"
	"time"
)

// tcpStreamLayer implements StreamLayer over plain TCP: bind once, Dial per
// outgoing call, Accept loop for incoming sessions.
type tcpStreamLayer struct {
	listener  *net.TCPListener
	advertise string
}

// NewTCPStreamLayer binds bindAddr and returns a StreamLayer over it.
func NewTCPStreamLayer(bindAddr string) (StreamLayer, error) {
	return NewAdvertisedTCPStreamLayer(bindAddr, "")
}

// NewAdvertisedTCPStreamLayer binds bindAddr and returns a StreamLayer that
// reports advertise (if set) as its dialable address instead of bindAddr —
// e.g. when bindAddr is not itself routable from outside a NAT. The wire
// protocol has no address-exchange message, so this address is never
// transmitted automatically; it exists for an operator to read (AdvertiseAddr,
// or a "gossipd run" startup log line) and place in a peer's own
// peers.SeedFile.
func NewAdvertisedTCPStreamLayer(bindAddr, advertise string) (StreamLayer, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &tcpStreamLayer{listener: list.(*net.TCPListener), advertise: advertise}, nil
}

// AdvertiseAddr returns the address an operator should hand out to peers:
// the configured advertise address if any, otherwise the bound address.
func (t *tcpStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}

// Dial implements StreamLayer.
func (t *tcpStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Accept implements net.Listener.
func (t *tcpStreamLayer) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Close implements net.Listener.
func (t *tcpStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements net.Listener.
func (t *tcpStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}
