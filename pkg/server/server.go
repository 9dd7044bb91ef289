package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfolta/ipk24chat/pkg/protocol"
	"github.com/mfolta/ipk24chat/pkg/reliability"
)

// Server is the IPK24-CHAT server: a TCP listener and a UDP listener on the
// well-known port speaking the two encodings of the same message set, plus
// an optional HTTP listener carrying the text encoding over websocket and
// exposing prometheus metrics.
type Server struct {
	config   ServerConfig
	registry *ChannelRegistry
	metrics  *Metrics

	listener   net.Listener
	udpSock    *net.UDPConn
	httpServer *http.Server

	sessMu        sync.Mutex
	sessions      map[uint64]*Session
	nextSessionID atomic.Uint64

	// Datagram demultiplexer: first-seen client address -> session.
	udpMu       sync.Mutex
	udpSessions map[string]*Session

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new server instance.
func NewServer(config ServerConfig) *Server {
	return &Server{
		config:      config,
		registry:    NewChannelRegistry(),
		sessions:    make(map[uint64]*Session),
		udpSessions: make(map[string]*Session),
		shutdown:    make(chan struct{}),
	}
}

// SetMetrics attaches prometheus metrics. Must be called before Start.
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// Registry exposes the channel registry, mainly for tests and introspection.
func (s *Server) Registry() *ChannelRegistry {
	return s.registry
}

// Start opens the listeners and launches the accept loops.
func (s *Server) Start() error {
	tcpAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.TCPPort)
	listener, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tcpAddr, err)
	}
	s.listener = listener
	errorLog.Printf("TCP server listening on %s", listener.Addr())

	udpSock, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.ParseIP(s.config.Host),
		Port: s.config.UDPPort,
	})
	if err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to listen on udp %s:%d: %w", s.config.Host, s.config.UDPPort, err)
	}
	s.udpSock = udpSock
	errorLog.Printf("UDP server listening on %s", udpSock.LocalAddr())

	if s.config.HTTPPort > 0 {
		if err := s.startHTTPServer(); err != nil {
			s.listener.Close()
			s.udpSock.Close()
			return err
		}
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.datagramAcceptLoop()

	return nil
}

// TCPAddr returns the bound TCP address (useful when port 0 was requested).
func (s *Server) TCPAddr() net.Addr {
	return s.listener.Addr()
}

// UDPAddr returns the bound well-known UDP address.
func (s *Server) UDPAddr() net.Addr {
	return s.udpSock.LocalAddr()
}

// Stop gracefully stops the server: listeners down first, then a best-effort
// BYE to every live session.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.udpSock != nil {
		s.udpSock.Close()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}

	for _, sess := range s.allSessions() {
		s.closeSession(sess, true)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) allSessions() []*Session {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// newSession registers a session for a fresh connection.
func (s *Server) newSession(transport string, conn transportConn) *Session {
	sess := newSession(s.nextSessionID.Add(1), transport, conn)

	s.sessMu.Lock()
	s.sessions[sess.ID] = sess
	count := s.transportCountLocked(transport)
	s.sessMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
		s.metrics.RecordActiveSessions(transport, count)
	}
	return sess
}

func (s *Server) transportCountLocked(transport string) int {
	count := 0
	for _, sess := range s.sessions {
		if sess.Transport == transport {
			count++
		}
	}
	return count
}

func (s *Server) removeSession(sess *Session) {
	s.sessMu.Lock()
	delete(s.sessions, sess.ID)
	count := s.transportCountLocked(sess.Transport)
	s.sessMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionClosed()
		s.metrics.RecordActiveSessions(sess.Transport, count)
	}
}

// acceptLoop accepts incoming TCP connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStreamConn(conn, "tcp")
		}()
	}
}

// handleStreamConn runs the read loop for one text-encoding connection
// (TCP or the websocket bridge).
func (s *Server) handleStreamConn(conn net.Conn, transport string) {
	sess := s.newSession(transport, NewStreamConn(conn))
	debugLog.Printf("Session %d: new %s connection from %s", sess.ID, transport, conn.RemoteAddr())

	defer s.closeSession(sess, false)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	scanner.Split(protocol.ScanRecords)

	for scanner.Scan() {
		msg, err := protocol.DecodeText(scanner.Bytes())
		if err != nil {
			debugLog.Printf("Session %d: decode failed: %v", sess.ID, err)
			s.failSession(sess, "Invalid message format")
			return
		}

		debugLog.Printf("RECV %s | %s", sess.RemoteAddr(), protocol.TypeName(msg.Type()))
		if !s.dispatch(sess, msg) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.shutdown:
		default:
			debugLog.Printf("Session %d: read error: %v", sess.ID, err)
		}
	}
}

// noteSendError records a datagram send that exhausted its retry budget.
func (s *Server) noteSendError(err error) {
	if s.metrics != nil && errors.Is(err, reliability.ErrRetryExhausted) {
		s.metrics.RecordRetryExhausted()
	}
}

// closeSession retires a session: channel membership removed, siblings
// notified, transport released. Idempotent; safe from any goroutine. A
// failing session must never take a sibling with it.
func (s *Server) closeSession(sess *Session, sendBye bool) {
	sess.closeOnce.Do(func() {
		sess.SetState(protocol.StateClosing)

		if sess.udpKey != "" {
			s.udpMu.Lock()
			delete(s.udpSessions, sess.udpKey)
			s.udpMu.Unlock()
		}

		channelID, member := s.registry.Remove(sess)
		if member {
			notice := fmt.Sprintf("%s has left %s", sess.DisplayName(), channelID)
			s.broadcastServerMsg(notice, sess, channelID)
		}

		if sendBye {
			if err := sess.Send(&protocol.ByeMessage{}); err != nil {
				s.noteSendError(err)
				debugLog.Printf("Session %d: BYE not delivered: %v", sess.ID, err)
			}
		}

		sess.conn.Close()
		sess.SetState(protocol.StateClosed)
		s.removeSession(sess)
		debugLog.Printf("Session %d: closed", sess.ID)
	})
}

// failSession answers a protocol or validation failure: ERR, then teardown.
// Neither side may continue a session past a detected violation.
func (s *Server) failSession(sess *Session, reason string) {
	errMsg := &protocol.ErrMessage{DisplayName: ServerDisplayName, Content: reason}
	if err := sess.Send(errMsg); err != nil {
		s.noteSendError(err)
		debugLog.Printf("Session %d: ERR not delivered: %v", sess.ID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordMessageSent(protocol.TypeName(protocol.TypeErr))
	}
	s.closeSession(sess, true)
}

// broadcastServerMsg fans a server notice out to a channel.
func (s *Server) broadcastServerMsg(content string, exclude *Session, channelID string) {
	s.broadcast(&protocol.MsgMessage{DisplayName: ServerDisplayName, Content: content}, exclude, channelID)
}

// broadcast delivers msg to a channel and retires members whose transport
// failed. Delivery failures never bubble up to the caller.
func (s *Server) broadcast(msg protocol.Message, exclude *Session, channelID string) {
	start := time.Now()
	members := s.registry.Members(channelID)
	failed := s.registry.Broadcast(msg, exclude, channelID)

	if s.metrics != nil {
		recipients := len(members)
		if exclude != nil {
			recipients--
		}
		if recipients < 0 {
			recipients = 0
		}
		s.metrics.RecordBroadcast(recipients, time.Since(start).Seconds())
		s.metrics.RecordMessageSent(protocol.TypeName(msg.Type()))
	}

	for _, dead := range failed {
		debugLog.Printf("Session %d: unreachable, closing", dead.ID)
		go s.closeSession(dead, false)
	}
}

// startHTTPServer serves the websocket bridge and the metrics endpoint.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	httpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http %s: %w", addr, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	errorLog.Printf("HTTP server (websocket + metrics) listening on %s", httpListener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			select {
			case <-s.shutdown:
			default:
				errorLog.Printf("HTTP server error: %v", err)
			}
		}
	}()
	return nil
}
