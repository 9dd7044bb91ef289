// Package reliability turns an unreliable datagram socket into an
// at-least-once, per-message-confirmed channel. Every outbound message is
// assigned a 16-bit id and retransmitted on a timeout until a matching
// CONFIRM arrives or the retry budget runs out; every inbound message is
// confirmed immediately and deduplicated by id before it reaches the caller.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

const (
	// DefaultTimeout is how long a sender waits for a CONFIRM before
	// retransmitting.
	DefaultTimeout = 250 * time.Millisecond
	// DefaultMaxRetries is the number of retransmissions after the initial
	// send.
	DefaultMaxRetries = 3

	maxDatagramSize = 65535
)

var (
	ErrRetryExhausted = errors.New("no confirmation received, retries exhausted")
	ErrClosed         = errors.New("reliability connection closed")
)

// Config tunes one reliability connection.
type Config struct {
	// Timeout is the confirmation timeout per transmission.
	Timeout time.Duration
	// MaxRetries is the number of retransmissions after the initial send.
	// With MaxRetries=3 an unconfirmed message is put on the wire 4 times.
	MaxRetries int
	// AdoptRemote lets the connection follow the peer to a new source port.
	// The server answers a client's first datagram from a fresh ephemeral
	// socket; a client connection must adopt that port for all subsequent
	// traffic.
	AdoptRemote bool
	// Logger receives wire-level debug output. Nil discards.
	Logger *log.Logger
	// OnRetransmit is called once per retransmission, if set.
	OnRetransmit func()
}

// Inbound is one message handed to the session layer. Err is set when the
// datagram was confirmed on the wire but failed to decode or validate; the
// session decides whether that ends the conversation.
type Inbound struct {
	Msg protocol.Message
	Err error
}

// Conn wraps one UDP socket with the confirm/retransmit discipline. Outbound
// messages on a Conn are serialized: a second Send blocks until the first
// confirmation wait resolves.
type Conn struct {
	sock   *net.UDPConn
	cfg    Config
	logger *log.Logger

	remoteMu sync.RWMutex
	remote   *net.UDPAddr
	adopted  bool

	sendMu sync.Mutex // serializes confirmation waits; guards nextID
	nextID uint16

	confirms chan uint16
	inbound  chan Inbound

	seenMu sync.Mutex
	seen   map[uint16]struct{}

	// injectMu fences Inject against Close: inbound may only be closed
	// once no injector can still be inside handleDatagram.
	injectMu     sync.RWMutex
	injectClosed bool

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConn wraps sock. remote is where outbound datagrams go; inbound
// datagrams from other sources are dropped (or adopted, see
// Config.AdoptRemote). The caller keeps ownership of nothing: Close releases
// the socket.
func NewConn(sock *net.UDPConn, remote *net.UDPAddr, cfg Config) *Conn {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Conn{
		sock:     sock,
		cfg:      cfg,
		logger:   logger,
		remote:   remote,
		confirms: make(chan uint16, 16),
		inbound:  make(chan Inbound, 16),
		seen:     make(map[uint16]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Start launches the receive loop.
func (c *Conn) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

// Inbound returns the stream of received, confirmed, deduplicated messages.
// The channel closes when the connection shuts down.
func (c *Conn) Inbound() <-chan Inbound {
	return c.inbound
}

// LocalAddr returns the socket's local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// Remote returns the current peer address.
func (c *Conn) Remote() *net.UDPAddr {
	c.remoteMu.RLock()
	defer c.remoteMu.RUnlock()
	return c.remote
}

// Send assigns the next outbound id to m, transmits it and blocks until the
// peer confirms that id, retransmitting the identical bytes on each timeout.
// Returns ErrRetryExhausted when the retry budget is spent.
func (c *Conn) Send(ctx context.Context, m protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	m.SetMessageID(c.nextID)
	data, err := protocol.EncodeBinary(m)
	if err != nil {
		return err
	}
	// Consume the id only once the message is actually going out; wraps at
	// 65536 by uint16 arithmetic.
	c.nextID++
	id := m.MessageID()

	// Drop confirmations left over from an abandoned wait.
	for {
		select {
		case <-c.confirms:
			continue
		default:
		}
		break
	}

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Printf("RETRY %d/%d | %s id=%d", attempt, c.cfg.MaxRetries, protocol.TypeName(m.Type()), id)
			if c.cfg.OnRetransmit != nil {
				c.cfg.OnRetransmit()
			}
		}
		if err := c.write(data); err != nil {
			return fmt.Errorf("send %s: %w", protocol.TypeName(m.Type()), err)
		}

		timer := time.NewTimer(c.cfg.Timeout)
	wait:
		for {
			select {
			case got := <-c.confirms:
				if got == id {
					timer.Stop()
					return nil
				}
				// Confirmation for a different id, keep waiting.
			case <-timer.C:
				break wait
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-c.shutdown:
				timer.Stop()
				return ErrClosed
			}
		}
	}

	return ErrRetryExhausted
}

// SendConfirm acknowledges wire receipt of message id. Fire and forget;
// confirmations are never themselves confirmed.
func (c *Conn) SendConfirm(id uint16) error {
	data, err := protocol.EncodeBinary(&protocol.ConfirmMessage{ID: id})
	if err != nil {
		return err
	}
	return c.write(data)
}

// Inject feeds a datagram received on another socket into this connection,
// as if it had arrived here. The server uses it to route retransmissions
// that still target the well-known port to the owning session. Safe to call
// concurrently with Close; after Close the datagram is dropped.
func (c *Conn) Inject(data []byte, from *net.UDPAddr) {
	c.injectMu.RLock()
	defer c.injectMu.RUnlock()
	if c.injectClosed {
		return
	}
	c.handleDatagram(data, from)
}

// Close stops the receive loop and releases the socket. Safe to call more
// than once. The inbound channel is closed only after the read loop has
// exited and any in-flight Inject has drained, so nothing can send on it.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.shutdown)
		err = c.sock.Close()
		c.wg.Wait()

		c.injectMu.Lock()
		c.injectClosed = true
		c.injectMu.Unlock()

		close(c.inbound)
	})
	return err
}

func (c *Conn) write(data []byte) error {
	c.remoteMu.RLock()
	remote := c.remote
	c.remoteMu.RUnlock()

	_, err := c.sock.WriteToUDP(data, remote)
	return err
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.shutdown:
			default:
				c.logger.Printf("read error: %v", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		c.handleDatagram(data, addr)
	}
}

func (c *Conn) handleDatagram(data []byte, from *net.UDPAddr) {
	if !c.acceptSource(from) {
		c.logger.Printf("DROP %s | datagram from unexpected source", from)
		return
	}

	msgType, id, err := protocol.PeekBinaryHeader(data)
	if err != nil {
		// Too short to even confirm.
		c.logger.Printf("DROP %s | %v", from, err)
		return
	}

	if msgType == protocol.TypeConfirm {
		c.logger.Printf("RECV %s | CONFIRM id=%d", from, id)
		select {
		case c.confirms <- id:
		default:
		}
		return
	}

	// Confirmation acknowledges wire delivery, not semantic correctness:
	// confirm before decoding the payload.
	if err := c.SendConfirm(id); err != nil {
		c.logger.Printf("SENT %s | CONFIRM id=%d failed: %v", from, id, err)
	}

	// A duplicate of an already-confirmed id is re-confirmed above but must
	// not be processed again.
	c.seenMu.Lock()
	_, dup := c.seen[id]
	if !dup {
		c.seen[id] = struct{}{}
	}
	c.seenMu.Unlock()
	if dup {
		c.logger.Printf("RECV %s | duplicate id=%d, re-confirmed", from, id)
		return
	}

	msg, err := protocol.DecodeBinary(data)
	in := Inbound{Msg: msg, Err: err}
	if err != nil {
		c.logger.Printf("RECV %s | %s id=%d invalid: %v", from, protocol.TypeName(msgType), id, err)
	} else {
		c.logger.Printf("RECV %s | %s id=%d", from, protocol.TypeName(msgType), id)
	}

	select {
	case c.inbound <- in:
	case <-c.shutdown:
	}
}

// acceptSource filters inbound datagrams by peer address, adopting the
// peer's new port once when AdoptRemote is set.
func (c *Conn) acceptSource(from *net.UDPAddr) bool {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()

	if c.remote == nil {
		c.remote = from
		return true
	}
	if from.IP.Equal(c.remote.IP) && from.Port == c.remote.Port {
		return true
	}
	if c.cfg.AdoptRemote && !c.adopted && from.IP.Equal(c.remote.IP) {
		c.logger.Printf("peer moved %s -> %s", c.remote, from)
		c.remote = from
		c.adopted = true
		return true
	}
	return false
}
