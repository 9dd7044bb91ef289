package server

import (
	"fmt"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

// ServerDisplayName is the sender name used on server-originated MSG and ERR.
const ServerDisplayName = "Server"

// dispatch routes one inbound message through the session state machine.
// Returns false once the session is closed and its read loop should stop.
func (s *Server) dispatch(sess *Session, msg protocol.Message) bool {
	if s.metrics != nil {
		s.metrics.RecordMessageReceived(protocol.TypeName(msg.Type()))
	}

	if !sess.State().CanReceive(msg.Type()) {
		debugLog.Printf("Session %d: %s not allowed in state %s",
			sess.ID, protocol.TypeName(msg.Type()), sess.State())
		s.failSession(sess, fmt.Sprintf("Unexpected %s message", protocol.TypeName(msg.Type())))
		return false
	}

	switch m := msg.(type) {
	case *protocol.AuthMessage:
		return s.handleAuth(sess, m)
	case *protocol.JoinMessage:
		return s.handleJoin(sess, m)
	case *protocol.MsgMessage:
		return s.handleMsg(sess, m)
	case *protocol.ErrMessage:
		errorLog.Printf("Session %d: client error from %s: %s", sess.ID, m.DisplayName, m.Content)
		s.closeSession(sess, true)
		return false
	case *protocol.ByeMessage:
		debugLog.Printf("Session %d: client said BYE", sess.ID)
		s.closeSession(sess, false)
		return false
	default:
		// CanReceive already rejected REPLY and CONFIRM.
		s.failSession(sess, fmt.Sprintf("Unexpected %s message", protocol.TypeName(msg.Type())))
		return false
	}
}

func (s *Server) sendReply(sess *Session, success bool, refID uint16, content string) bool {
	reply := &protocol.ReplyMessage{RefID: refID, Success: success, Content: content}
	if err := sess.Send(reply); err != nil {
		s.noteSendError(err)
		debugLog.Printf("Session %d: REPLY not delivered: %v", sess.ID, err)
		s.closeSession(sess, false)
		return false
	}
	if s.metrics != nil {
		s.metrics.RecordMessageSent(protocol.TypeName(protocol.TypeReply))
	}
	return true
}

// handleAuth authenticates a session and drops it into the default channel.
// A username already attached to a live session is refused; the session
// stays in its pre-auth state and may retry with different credentials.
func (s *Server) handleAuth(sess *Session, m *protocol.AuthMessage) bool {
	sess.SetState(protocol.StateAuthenticating)

	if s.registry.UsernameActive(m.Username) {
		debugLog.Printf("Session %d: username %q already active", sess.ID, m.Username)
		if !s.sendReply(sess, false, m.MessageID(), "Authentication failed") {
			return false
		}
		sess.SetState(protocol.StateStart)
		return true
	}

	sess.SetIdentity(m.Username, m.DisplayName)
	sess.SetState(protocol.StateOpen)
	sess.SetChannel(DefaultChannel)
	s.registry.AddUser(sess, DefaultChannel)

	if !s.sendReply(sess, true, m.MessageID(), "Authenticated") {
		return false
	}

	errorLog.Printf("Session %d: %s (%s) authenticated via %s", sess.ID, m.Username, m.DisplayName, sess.Transport)
	notice := fmt.Sprintf("%s has joined %s", m.DisplayName, DefaultChannel)
	s.broadcastServerMsg(notice, sess, DefaultChannel)
	return true
}

// handleJoin moves the session between channels and notifies both sides.
func (s *Server) handleJoin(sess *Session, m *protocol.JoinMessage) bool {
	previous := s.registry.AddUser(sess, m.ChannelID)
	sess.SetChannel(m.ChannelID)

	if previous != "" && previous != m.ChannelID {
		left := fmt.Sprintf("%s has left %s", m.DisplayName, previous)
		s.broadcastServerMsg(left, sess, previous)
	}

	joined := fmt.Sprintf("%s has joined %s", m.DisplayName, m.ChannelID)
	s.broadcastServerMsg(joined, sess, m.ChannelID)

	return s.sendReply(sess, true, m.MessageID(), fmt.Sprintf("Joined %s", m.ChannelID))
}

// handleMsg fans a chat message out to the sender's channel. The sender
// never receives an echo of its own message.
func (s *Server) handleMsg(sess *Session, m *protocol.MsgMessage) bool {
	s.broadcast(&protocol.MsgMessage{DisplayName: m.DisplayName, Content: m.Content}, sess, sess.Channel())
	return true
}
