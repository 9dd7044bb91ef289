package server

import (
	"context"
	"net"
	"sync"

	"github.com/mfolta/ipk24chat/pkg/protocol"
	"github.com/mfolta/ipk24chat/pkg/reliability"
)

// DefaultChannel is where every freshly authenticated session lands.
const DefaultChannel = "default"

// transportConn is the capability surface the session layer needs from a
// transport. Exactly two implementations exist: StreamConn for the text
// encoding over a byte stream (TCP or the websocket bridge) and DatagramConn
// for the binary encoding behind the reliability layer.
type transportConn interface {
	// Send transmits one message. Safe for concurrent use; broadcast
	// goroutines call it directly.
	Send(m protocol.Message) error
	Close() error
	RemoteAddr() net.Addr
}

// StreamConn sends CRLF text records over a net.Conn, serializing writes so
// concurrent broadcasts cannot interleave records.
type StreamConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{conn: conn}
}

func (c *StreamConn) Send(m protocol.Message) error {
	data, err := protocol.EncodeText(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}

func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// DatagramConn sends binary messages through the reliability layer. The
// reliability connection serializes confirmation waits, which keeps one
// session's outbound messages ordered through the retry discipline.
type DatagramConn struct {
	rc *reliability.Conn
}

func NewDatagramConn(rc *reliability.Conn) *DatagramConn {
	return &DatagramConn{rc: rc}
}

func (c *DatagramConn) Send(m protocol.Message) error {
	return c.rc.Send(context.Background(), m)
}

func (c *DatagramConn) Close() error {
	return c.rc.Close()
}

func (c *DatagramConn) RemoteAddr() net.Addr {
	return c.rc.Remote()
}

// Inject routes a datagram that arrived on the well-known socket to this
// session's own socket, so retransmissions of a client's first message are
// deduplicated instead of spawning a second session.
func (c *DatagramConn) Inject(data []byte, from *net.UDPAddr) {
	c.rc.Inject(data, from)
}

// Session is one client conversation. State, identity and channel are owned
// by the session's handler goroutine; the registry and broadcast goroutines
// only touch them through the locked accessors.
type Session struct {
	ID        uint64
	Transport string // "tcp", "udp" or "websocket"

	conn transportConn

	mu            sync.RWMutex
	state         protocol.State
	username      string
	displayName   string
	channel       string
	authenticated bool

	// udpKey indexes the server's datagram demultiplexer; empty for stream
	// sessions.
	udpKey string

	closeOnce sync.Once
}

func newSession(id uint64, transport string, conn transportConn) *Session {
	return &Session{
		ID:        id,
		Transport: transport,
		conn:      conn,
		state:     protocol.StateStart,
	}
}

// Send transmits one message on the session's transport. Thread-safe.
func (sess *Session) Send(m protocol.Message) error {
	return sess.conn.Send(m)
}

// RemoteAddr returns the peer address.
func (sess *Session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

// State returns the current protocol state.
func (sess *Session) State() protocol.State {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.state
}

// SetState moves the session to a new protocol state.
func (sess *Session) SetState(state protocol.State) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.state = state
}

// SetIdentity records a successful authentication.
func (sess *Session) SetIdentity(username, displayName string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.username = username
	sess.displayName = displayName
	sess.authenticated = true
}

// Username returns the authenticated username, or "" before AUTH.
func (sess *Session) Username() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.username
}

// DisplayName returns the session's display name.
func (sess *Session) DisplayName() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.displayName
}

// Authenticated reports whether AUTH succeeded on this session.
func (sess *Session) Authenticated() bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.authenticated
}

// Channel returns the session's current channel, or "" before AUTH.
func (sess *Session) Channel() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.channel
}

// SetChannel records the session's channel membership.
func (sess *Session) SetChannel(channelID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.channel = channelID
}
