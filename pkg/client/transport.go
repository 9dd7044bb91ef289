// Package client implements an IPK24-CHAT client engine: a transport layer
// speaking either encoding and a small state machine that correlates
// requests with server replies and surfaces everything else as events.
package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/mfolta/ipk24chat/pkg/protocol"
	"github.com/mfolta/ipk24chat/pkg/reliability"
)

// Incoming is one message (or decode failure) received from the server.
type Incoming struct {
	Msg protocol.Message
	Err error
}

// Transport carries messages to and from the server. Implementations exist
// for the text encoding over TCP or websocket and the binary encoding over
// UDP behind the reliability layer.
type Transport interface {
	// Send transmits one message, blocking until it is on the wire (text)
	// or confirmed (binary).
	Send(ctx context.Context, m protocol.Message) error
	// Inbound returns the stream of received messages. Closed when the
	// transport shuts down.
	Inbound() <-chan Incoming
	// Encoding reports which wire encoding this transport speaks. Reply
	// correlation by message id only exists in the binary encoding.
	Encoding() protocol.Encoding
	Close() error
}

// streamTransport speaks the text encoding over any byte stream.
type streamTransport struct {
	conn    net.Conn
	writeMu sync.Mutex

	inbound   chan Incoming
	closeOnce sync.Once
}

// DialTCP connects to addr ("host:port") over TCP.
func DialTCP(addr string) (Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return newStreamTransport(conn), nil
}

func newStreamTransport(conn net.Conn) *streamTransport {
	t := &streamTransport{
		conn:    conn,
		inbound: make(chan Incoming, 16),
	}
	go t.readLoop()
	return t
}

func (t *streamTransport) readLoop() {
	defer close(t.inbound)

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	scanner.Split(protocol.ScanRecords)

	for scanner.Scan() {
		msg, err := protocol.DecodeText(scanner.Bytes())
		t.inbound <- Incoming{Msg: msg, Err: err}
	}
}

func (t *streamTransport) Send(ctx context.Context, m protocol.Message) error {
	data, err := protocol.EncodeText(m)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.conn.Write(data)
	return err
}

func (t *streamTransport) Inbound() <-chan Incoming {
	return t.inbound
}

func (t *streamTransport) Encoding() protocol.Encoding {
	return protocol.EncodingText
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

// datagramTransport speaks the binary encoding through the reliability
// layer. The connection adopts the server's ephemeral port after the first
// response.
type datagramTransport struct {
	rc      *reliability.Conn
	inbound chan Incoming
}

// DatagramOptions tunes the reliability layer of a UDP transport.
type DatagramOptions struct {
	Timeout    time.Duration
	MaxRetries int
}

// DialUDP binds a local socket and targets the server's well-known port.
func DialUDP(addr string, opts DatagramOptions) (Transport, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	sock, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	rc := reliability.NewConn(sock, remote, reliability.Config{
		Timeout:     opts.Timeout,
		MaxRetries:  opts.MaxRetries,
		AdoptRemote: true,
	})
	rc.Start()

	t := &datagramTransport{
		rc:      rc,
		inbound: make(chan Incoming, 16),
	}
	go t.pump()
	return t, nil
}

func (t *datagramTransport) pump() {
	defer close(t.inbound)
	for in := range t.rc.Inbound() {
		t.inbound <- Incoming{Msg: in.Msg, Err: in.Err}
	}
}

func (t *datagramTransport) Send(ctx context.Context, m protocol.Message) error {
	return t.rc.Send(ctx, m)
}

func (t *datagramTransport) Inbound() <-chan Incoming {
	return t.inbound
}

func (t *datagramTransport) Encoding() protocol.Encoding {
	return protocol.EncodingBinary
}

func (t *datagramTransport) Close() error {
	return t.rc.Close()
}
