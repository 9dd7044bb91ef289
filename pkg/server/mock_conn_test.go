package server

import (
	"net"
	"sync"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

// mockConn is a transportConn that records sent messages instead of touching
// the network.
type mockConn struct {
	mu      sync.Mutex
	sent    []protocol.Message
	sendErr error
	closed  bool
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (c *mockConn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
}

func (c *mockConn) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *mockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lastOfType returns the most recent sent message of type t, or nil.
func (c *mockConn) lastOfType(t uint8) protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type() == t {
			return c.sent[i]
		}
	}
	return nil
}
