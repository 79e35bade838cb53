package gossip

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rng-ops/gossip/wire"
)

// StreamLayer is the low-level stream abstraction the transport dials and
// listens on, split into a net.Listener plus a Dial method so a TCP
// implementation, an in-memory pipe (for tests), or any other carrier can be
// substituted without touching the sync protocol above it.
type StreamLayer interface {
	net.Listener
	Dial(address string, timeout time.Duration) (net.Conn, error)
	AdvertiseAddr() string
}

// netConn is a pooled outgoing connection, wrapped in buffered
// reader/writer so repeated RPCs to the same peer reuse one socket.
type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
}

func (c *netConn) release() {
	c.conn.Close()
}

// Transport performs one request/response RPC per wire message type over a
// pooled connection to a peer address, the same call/response shape as a
// generic RPC transport, but over the wire package's canonical frame codec
// instead of a JSON-over-bufio encoding.
type Transport struct {
	stream  StreamLayer
	timeout time.Duration
	maxPool int

	mu       sync.Mutex
	pool     map[string][]*netConn
	shutdown bool
}

// NewTransport constructs a Transport over stream. timeout bounds a single
// RPC round trip; maxPool bounds the number of idle pooled connections kept
// per target address.
func NewTransport(stream StreamLayer, timeout time.Duration, maxPool int) *Transport {
	if maxPool <= 0 {
		maxPool = 3
	}
	return &Transport{
		stream:  stream,
		timeout: timeout,
		maxPool: maxPool,
		pool:    make(map[string][]*netConn),
	}
}

// AdvertiseAddr returns the address this node's stream layer reports as
// dialable, for an operator to place in a peer's bootstrap seed file.
func (t *Transport) AdvertiseAddr() string {
	return t.stream.AdvertiseAddr()
}

// Close stops accepting further pooled reuse and closes every idle pooled
// connection. In-flight RPCs are unaffected.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = true
	for _, conns := range t.pool {
		for _, c := range conns {
			c.release()
		}
	}
	t.pool = make(map[string][]*netConn)
	return t.stream.Close()
}

func (t *Transport) getConn(target string) (*netConn, error) {
	t.mu.Lock()
	if conns := t.pool[target]; len(conns) > 0 {
		c := conns[len(conns)-1]
		t.pool[target] = conns[:len(conns)-1]
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	conn, err := t.stream.Dial(target, t.timeout)
	if err != nil {
		return nil, fmt.Errorf("gossip: dial %s: %w", target, err)
	}
	return &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      bufio.NewWriter(conn),
	}, nil
}

func (t *Transport) returnConn(c *netConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown || len(t.pool[c.target]) >= t.maxPool {
		c.release()
		return
	}
	t.pool[c.target] = append(t.pool[c.target], c)
}

// call sends req to target and returns the single response frame, per the
// one-request-one-response RPC convention every wire message pair follows.
func (t *Transport) call(target string, req wire.Message) (wire.Message, error) {
	conn, err := t.getConn(target)
	if err != nil {
		return nil, err
	}

	if t.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	if err := wire.WriteFrame(conn.w, req); err != nil {
		conn.release()
		return nil, fmt.Errorf("gossip: send %s to %s: %w", req.Type(), target, err)
	}

	resp, err := wire.ReadFrame(conn.r)
	if err != nil {
		conn.release()
		return nil, fmt.Errorf("gossip: read response from %s: %w", target, err)
	}

	t.returnConn(conn)
	return resp, nil
}
