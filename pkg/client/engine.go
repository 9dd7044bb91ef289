package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

var (
	// ErrNotConnected is returned for operations on a closed session.
	ErrNotConnected = errors.New("session is closed")
	// ErrBadState is returned when an operation is not legal in the
	// session's current state, like sending a message before AUTH.
	ErrBadState = errors.New("operation not allowed in current state")
)

// Client runs one chat session over a Transport. Requests (AUTH, JOIN) are
// serialized and matched with their REPLY; chat traffic and errors arrive
// on the Events channel.
type Client struct {
	transport Transport

	mu          sync.Mutex
	state       protocol.State
	displayName string

	reqMu   sync.Mutex // one outstanding request at a time
	replyMu sync.Mutex
	replyCh chan *protocol.ReplyMessage

	events chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps transport in a session engine and starts its receive loop.
func New(transport Transport) *Client {
	c := &Client{
		transport: transport,
		state:     protocol.StateStart,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Events returns the asynchronous event stream. Closed when the session
// ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the session's protocol state.
func (c *Client) State() protocol.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state protocol.State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// DisplayName returns the name outgoing messages are attributed to.
func (c *Client) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// Rename changes the display name used for future messages. Purely local;
// nothing is sent to the server.
func (c *Client) Rename(displayName string) error {
	if !protocol.ValidDisplayName(displayName) {
		return protocol.ErrInvalidDisplayName
	}
	c.mu.Lock()
	c.displayName = displayName
	c.mu.Unlock()
	return nil
}

// Authenticate performs the AUTH exchange. On a negative reply the session
// stays usable and Authenticate may be called again with other credentials.
func (c *Client) Authenticate(ctx context.Context, username, secret, displayName string) (bool, string, error) {
	if c.State() != protocol.StateStart {
		return false, "", fmt.Errorf("%w: already authenticated", ErrBadState)
	}

	auth := &protocol.AuthMessage{Username: username, DisplayName: displayName, Secret: secret}
	if err := protocol.Validate(auth); err != nil {
		return false, "", err
	}

	c.setState(protocol.StateAuthenticating)
	reply, err := c.request(ctx, auth)
	if err != nil {
		c.setState(protocol.StateStart)
		return false, "", err
	}

	if !reply.Success {
		c.setState(protocol.StateStart)
		return false, reply.Content, nil
	}

	c.mu.Lock()
	c.state = protocol.StateOpen
	c.displayName = displayName
	c.mu.Unlock()
	return true, reply.Content, nil
}

// JoinChannel performs the JOIN exchange.
func (c *Client) JoinChannel(ctx context.Context, channelID string) (bool, string, error) {
	if c.State() != protocol.StateOpen {
		return false, "", fmt.Errorf("%w: not authenticated", ErrBadState)
	}

	join := &protocol.JoinMessage{ChannelID: channelID, DisplayName: c.DisplayName()}
	if err := protocol.Validate(join); err != nil {
		return false, "", err
	}

	reply, err := c.request(ctx, join)
	if err != nil {
		return false, "", err
	}
	return reply.Success, reply.Content, nil
}

// SendText sends one chat message to the current channel.
func (c *Client) SendText(ctx context.Context, content string) error {
	if c.State() != protocol.StateOpen {
		return fmt.Errorf("%w: not authenticated", ErrBadState)
	}

	msg := &protocol.MsgMessage{DisplayName: c.DisplayName(), Content: content}
	if err := protocol.Validate(msg); err != nil {
		return err
	}
	return c.transport.Send(ctx, msg)
}

// Disconnect ends the session gracefully: BYE, then transport teardown.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.State().Terminal() {
		return nil
	}
	c.setState(protocol.StateClosing)

	err := c.transport.Send(ctx, &protocol.ByeMessage{})
	c.shutdown()
	return err
}

// request sends m and blocks until its REPLY arrives. Only one request may
// be outstanding; the receive loop routes the next REPLY here.
func (c *Client) request(ctx context.Context, m protocol.Message) (*protocol.ReplyMessage, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	ch := make(chan *protocol.ReplyMessage, 1)
	c.replyMu.Lock()
	c.replyCh = ch
	c.replyMu.Unlock()
	defer func() {
		c.replyMu.Lock()
		c.replyCh = nil
		c.replyMu.Unlock()
	}()

	if err := c.transport.Send(ctx, m); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		// In the binary encoding the reply must reference the request id.
		if c.transport.Encoding() == protocol.EncodingBinary && reply.RefID != m.MessageID() {
			c.teardown(fmt.Sprintf("REPLY references unknown message id %d", reply.RefID))
			return nil, fmt.Errorf("reply to wrong message id %d", reply.RefID)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	}
}

// run is the receive loop: replies go to the pending request, everything
// else becomes an event or a protocol violation. Only this goroutine ever
// sends on or closes the events channel.
func (c *Client) run() {
	defer close(c.events)

	for in := range c.transport.Inbound() {
		if in.Err != nil {
			c.violation("Malformed message received")
			return
		}

		if !c.State().CanReceive(in.Msg.Type()) {
			c.violation(fmt.Sprintf("Unexpected %s message", protocol.TypeName(in.Msg.Type())))
			return
		}

		switch m := in.Msg.(type) {
		case *protocol.ReplyMessage:
			c.replyMu.Lock()
			ch := c.replyCh
			c.replyCh = nil
			c.replyMu.Unlock()

			if ch == nil {
				c.violation("Unsolicited REPLY")
				return
			}
			ch <- m
		case *protocol.MsgMessage:
			c.emit(Event{Kind: EventChat, From: m.DisplayName, Content: m.Content})
		case *protocol.ErrMessage:
			c.emit(Event{Kind: EventServerError, From: m.DisplayName, Content: m.Content})
			c.sendBestEffort(&protocol.ByeMessage{})
			c.shutdown()
			return
		case *protocol.ByeMessage:
			c.shutdown()
			return
		default:
			c.violation(fmt.Sprintf("Unexpected %s message", protocol.TypeName(in.Msg.Type())))
			return
		}
	}

	// Transport went away underneath us.
	c.shutdown()
}

// violation reports a protocol error and tears the session down. Called
// only from the run goroutine; emitting anywhere else would race the events
// channel close.
func (c *Client) violation(reason string) {
	c.emit(Event{Kind: EventClosed, Err: fmt.Errorf("protocol violation: %s", reason)})
	c.teardown(reason)
}

// teardown notifies the server of a protocol error and ends the session:
// ERR, BYE, close. Safe from any goroutine.
func (c *Client) teardown(reason string) {
	c.sendBestEffort(&protocol.ErrMessage{DisplayName: c.errName(), Content: reason})
	c.sendBestEffort(&protocol.ByeMessage{})
	c.shutdown()
}

// errName returns a display name usable on an outgoing ERR even before
// authentication.
func (c *Client) errName() string {
	if name := c.DisplayName(); name != "" {
		return name
	}
	return "Client"
}

func (c *Client) sendBestEffort(m protocol.Message) {
	if err := c.transport.Send(context.Background(), m); err != nil {
		// Nothing left to do with a dying transport.
		_ = err
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// shutdown ends the session. Closing the transport closes its inbound
// channel, which lets run drain out and close the events channel; events is
// never closed here because a concurrent emit could still be sending on it.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.setState(protocol.StateClosed)
		close(c.done)
		c.transport.Close()
	})
}
