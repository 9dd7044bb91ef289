package server

import (
	"net"

	"github.com/mfolta/ipk24chat/pkg/protocol"
	"github.com/mfolta/ipk24chat/pkg/reliability"
)

// datagramAcceptLoop reads the well-known UDP port. The first datagram from
// an address spawns a session with its own ephemeral socket; every later
// datagram that still targets the well-known port (a client retransmission)
// is injected into the owning session so its dedup layer re-confirms it.
func (s *Server) datagramAcceptLoop() {
	defer s.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, from, err := s.udpSock.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("UDP read error: %v", err)
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.udpMu.Lock()
		sess, known := s.udpSessions[from.String()]
		s.udpMu.Unlock()

		if known {
			sess.conn.(*DatagramConn).Inject(data, from)
			continue
		}

		if err := s.startDatagramSession(data, from); err != nil {
			errorLog.Printf("UDP session for %s not started: %v", from, err)
		}
	}
}

// startDatagramSession answers a new client from a fresh ephemeral socket on
// the same interface, per the dynamic port handoff.
func (s *Server) startDatagramSession(first []byte, from *net.UDPAddr) error {
	local := s.udpSock.LocalAddr().(*net.UDPAddr)
	eph, err := net.ListenUDP("udp", &net.UDPAddr{IP: local.IP, Port: 0})
	if err != nil {
		return err
	}

	rc := reliability.NewConn(eph, from, reliability.Config{
		Timeout:    s.config.ConfirmationTimeout,
		MaxRetries: s.config.MaxRetransmissions,
		Logger:     debugLog,
		OnRetransmit: func() {
			if s.metrics != nil {
				s.metrics.RecordRetransmission()
			}
		},
	})
	rc.Start()

	sess := s.newSession("udp", NewDatagramConn(rc))
	sess.udpKey = from.String()

	s.udpMu.Lock()
	s.udpSessions[sess.udpKey] = sess
	s.udpMu.Unlock()

	debugLog.Printf("Session %d: new udp client %s, replying from %s", sess.ID, from, eph.LocalAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.datagramSessionLoop(sess, rc)
	}()

	sess.conn.(*DatagramConn).Inject(first, from)
	return nil
}

// datagramSessionLoop dispatches the confirmed, deduplicated inbound stream
// of one datagram session.
func (s *Server) datagramSessionLoop(sess *Session, rc *reliability.Conn) {
	defer s.closeSession(sess, false)

	for in := range rc.Inbound() {
		if in.Err != nil {
			debugLog.Printf("Session %d: malformed datagram: %v", sess.ID, in.Err)
			s.failSession(sess, "Invalid message format")
			return
		}

		debugLog.Printf("RECV %s | %s", sess.RemoteAddr(), protocol.TypeName(in.Msg.Type()))
		if !s.dispatch(sess, in.Msg) {
			return
		}
	}
}
