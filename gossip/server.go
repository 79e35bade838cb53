package gossip

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/wire"
)

// Listener accepts inbound connections and dispatches frames to a Handler:
// one goroutine per connection, looping until the peer closes the stream
// or sends a frame this node can't interpret.
type Listener struct {
	stream   StreamLayer
	handler  Handler
	logger   *logrus.Logger
	shutdown chan struct{}
}

// NewListener constructs a Listener. logger may be nil.
func NewListener(stream StreamLayer, handler Handler, logger *logrus.Logger) *Listener {
	if logger == nil {
		logger = logrus.New()
		logger.Level = logrus.DebugLevel
	}
	return &Listener{
		stream:   stream,
		handler:  handler,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Serve accepts connections until Close is called.
func (l *Listener) Serve() error {
	for {
		conn, err := l.stream.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				return nil
			default:
			}
			l.logger.WithField("error", err).Error("gossip: accept failed")
			continue
		}
		go l.handleConn(conn)
	}
}

// Close stops Serve and the underlying listener.
func (l *Listener) Close() error {
	close(l.shutdown)
	return l.stream.Close()
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	from := conn.RemoteAddr().String()
	if tracker, ok := l.handler.(SessionTracker); ok {
		tracker.SessionStart()
		defer tracker.SessionEnd()
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		msg, err := wire.ReadFrame(r)
		if err != nil {
			if err != io.EOF {
				l.logger.WithFields(logrus.Fields{"peer": from, "error": err}).Debug("gossip: connection closed")
			}
			return
		}

		resp, err := l.dispatch(from, msg)
		if err != nil {
			l.logger.WithFields(logrus.Fields{"peer": from, "error": err}).Debug("gossip: dispatch failed")
			return
		}

		if err := wire.WriteFrame(w, resp); err != nil {
			l.logger.WithFields(logrus.Fields{"peer": from, "error": err}).Debug("gossip: write response failed")
			return
		}
	}
}

func (l *Listener) dispatch(from string, msg wire.Message) (wire.Message, error) {
	switch m := msg.(type) {
	case *wire.SyncHello:
		return l.handler.HandleSyncHello(from, m), nil
	case *wire.DeltaRequest:
		return l.handler.HandleDeltaRequest(from, m), nil
	case *wire.DeltaBatch:
		// An unsolicited DeltaBatch is the anti-entropy sweep's push of
		// wanted events, answered with an empty acknowledgement batch.
		return l.handler.HandlePush(from, m), nil
	case *wire.EventOffer:
		return l.handler.HandleEventOffer(from, m), nil
	default:
		return nil, fmt.Errorf("gossip: unexpected frame type %T", msg)
	}
}
