package overlay

import (
	"sync"

	"github.com/flux-framework/flux-core-go/message"
	"github.com/teris-io/shortid"
)

// Loopback is an in-memory Transport test double: Send hands the message
// directly to a peer callback instead of crossing any real wire. It exists
// because the concrete transport is out of scope (section 1); tests wire
// two Loopbacks back to back to exercise routing without a socket.
type Loopback struct {
	mu     sync.Mutex
	id     string
	peer   func(*message.Message) error
	closed bool
}

// NewLoopback builds an unconnected Loopback with a freshly generated id.
// Connect it to a peer callback (typically an overlay's ReceiveFromChild or
// ReceiveFromParent) before using it.
func NewLoopback() *Loopback {
	id, err := shortid.Generate()
	if err != nil {
		id = "loopback"
	}
	return &Loopback{id: id}
}

func (l *Loopback) ID() string { return l.id }

// Connect wires the peer delivery callback invoked on every Send.
func (l *Loopback) Connect(peer func(*message.Message) error) {
	l.mu.Lock()
	l.peer = peer
	l.mu.Unlock()
}

func (l *Loopback) Send(m *message.Message) error {
	l.mu.Lock()
	closed, peer := l.closed, l.peer
	l.mu.Unlock()
	if closed {
		return ErrHostUnreachable
	}
	if peer == nil {
		return ErrHostUnreachable
	}
	return peer(m)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
