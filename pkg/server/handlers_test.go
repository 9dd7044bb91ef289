package server

import (
	"fmt"
	"testing"

	"github.com/mfolta/ipk24chat/pkg/protocol"
)

func newTestServer() *Server {
	return NewServer(DefaultConfig())
}

// authenticate runs a full AUTH exchange on a fresh session and returns it.
func authenticate(t *testing.T, s *Server, username, displayName string) (*Session, *mockConn) {
	t.Helper()

	conn := newMockConn()
	sess := s.newSession("tcp", conn)

	auth := &protocol.AuthMessage{ID: 1, Username: username, DisplayName: displayName, Secret: "secret"}
	if !s.dispatch(sess, auth) {
		t.Fatalf("AUTH dispatch closed the session")
	}

	reply, ok := conn.lastOfType(protocol.TypeReply).(*protocol.ReplyMessage)
	if !ok || !reply.Success {
		t.Fatalf("Expected positive REPLY to AUTH, got %v", conn.Sent())
	}
	return sess, conn
}

func TestAuthSuccess(t *testing.T) {
	s := newTestServer()
	sess, conn := authenticate(t, s, "alice", "Alice")

	if sess.State() != protocol.StateOpen {
		t.Errorf("Expected state Open after AUTH, got %s", sess.State())
	}
	if sess.Channel() != DefaultChannel {
		t.Errorf("Expected channel %q, got %q", DefaultChannel, sess.Channel())
	}

	reply := conn.lastOfType(protocol.TypeReply).(*protocol.ReplyMessage)
	if reply.RefID != 1 {
		t.Errorf("REPLY must reference the AUTH message id, got ref=%d", reply.RefID)
	}
	if reply.Content != "Authenticated" {
		t.Errorf("Expected content 'Authenticated', got %q", reply.Content)
	}
}

func TestAuthAnnouncesJoinToChannel(t *testing.T) {
	s := newTestServer()
	_, firstConn := authenticate(t, s, "alice", "Alice")
	authenticate(t, s, "bob", "Bob")

	notice, ok := firstConn.lastOfType(protocol.TypeMsg).(*protocol.MsgMessage)
	if !ok {
		t.Fatal("First user should see a join notice for the second")
	}
	if notice.DisplayName != ServerDisplayName {
		t.Errorf("Join notice must come from %q, got %q", ServerDisplayName, notice.DisplayName)
	}
	want := fmt.Sprintf("Bob has joined %s", DefaultChannel)
	if notice.Content != want {
		t.Errorf("Expected %q, got %q", want, notice.Content)
	}
}

func TestAuthDuplicateUsernameRefused(t *testing.T) {
	s := newTestServer()
	authenticate(t, s, "alice", "Alice")

	conn := newMockConn()
	sess := s.newSession("tcp", conn)
	auth := &protocol.AuthMessage{ID: 1, Username: "alice", DisplayName: "Impostor", Secret: "x"}

	if !s.dispatch(sess, auth) {
		t.Fatal("Refused AUTH must not close the session")
	}

	reply := conn.lastOfType(protocol.TypeReply).(*protocol.ReplyMessage)
	if reply.Success {
		t.Error("Second login with an active username must be refused")
	}
	if reply.Content != "Authentication failed" {
		t.Errorf("Expected content 'Authentication failed', got %q", reply.Content)
	}
	if sess.State() != protocol.StateStart {
		t.Errorf("Refused session should return to Start, got %s", sess.State())
	}

	// Retry with a free username succeeds on the same session.
	retry := &protocol.AuthMessage{ID: 2, Username: "bob", DisplayName: "Bob", Secret: "x"}
	if !s.dispatch(sess, retry) {
		t.Fatal("Retry AUTH closed the session")
	}
	reply = conn.lastOfType(protocol.TypeReply).(*protocol.ReplyMessage)
	if !reply.Success || reply.RefID != 2 {
		t.Errorf("Retry should succeed referencing id 2, got %+v", reply)
	}
}

func TestJoinMovesChannelAndNotifiesBothSides(t *testing.T) {
	s := newTestServer()
	mover, moverConn := authenticate(t, s, "alice", "Alice")
	_, stayConn := authenticate(t, s, "bob", "Bob")
	carol, thereConn := authenticate(t, s, "carol", "Carol")

	// Carol moves to general first so the target channel has a witness.
	s.dispatch(carol, &protocol.JoinMessage{ID: 2, ChannelID: "general", DisplayName: "Carol"})

	stayBefore := len(stayConn.Sent())
	thereBefore := len(thereConn.Sent())
	moverBefore := len(moverConn.Sent())

	if !s.dispatch(mover, &protocol.JoinMessage{ID: 5, ChannelID: "general", DisplayName: "Alice"}) {
		t.Fatal("JOIN dispatch closed the session")
	}

	if mover.Channel() != "general" {
		t.Errorf("Expected channel general, got %q", mover.Channel())
	}

	reply := moverConn.lastOfType(protocol.TypeReply).(*protocol.ReplyMessage)
	if !reply.Success || reply.RefID != 5 || reply.Content != "Joined general" {
		t.Errorf("Unexpected JOIN reply: %+v", reply)
	}

	stayMsgs := stayConn.Sent()[stayBefore:]
	if len(stayMsgs) != 1 || stayMsgs[0].(*protocol.MsgMessage).Content != "Alice has left default" {
		t.Errorf("Old channel should see a leave notice, got %v", stayMsgs)
	}

	thereMsgs := thereConn.Sent()[thereBefore:]
	if len(thereMsgs) != 1 || thereMsgs[0].(*protocol.MsgMessage).Content != "Alice has joined general" {
		t.Errorf("New channel should see a join notice, got %v", thereMsgs)
	}

	for _, m := range moverConn.Sent()[moverBefore:] {
		if m.Type() == protocol.TypeMsg {
			t.Errorf("Mover must not receive its own join/leave notices, got %v", m)
		}
	}
}

func TestMsgFansOutWithoutEcho(t *testing.T) {
	s := newTestServer()
	sender, senderConn := authenticate(t, s, "alice", "Alice")
	_, peerConn := authenticate(t, s, "bob", "Bob")

	senderBefore := len(senderConn.Sent())
	peerBefore := len(peerConn.Sent())

	if !s.dispatch(sender, &protocol.MsgMessage{DisplayName: "Alice", Content: "hello there"}) {
		t.Fatal("MSG dispatch closed the session")
	}

	peerMsgs := peerConn.Sent()[peerBefore:]
	if len(peerMsgs) != 1 {
		t.Fatalf("Peer should receive exactly 1 message, got %d", len(peerMsgs))
	}
	got := peerMsgs[0].(*protocol.MsgMessage)
	if got.DisplayName != "Alice" || got.Content != "hello there" {
		t.Errorf("Unexpected relayed message: %+v", got)
	}

	if extra := senderConn.Sent()[senderBefore:]; len(extra) != 0 {
		t.Errorf("Sender must not receive an echo, got %v", extra)
	}
}

func TestMsgBeforeAuthIsProtocolViolation(t *testing.T) {
	s := newTestServer()
	conn := newMockConn()
	sess := s.newSession("tcp", conn)

	if s.dispatch(sess, &protocol.MsgMessage{DisplayName: "Nobody", Content: "hi"}) {
		t.Fatal("MSG before AUTH must close the session")
	}

	if conn.lastOfType(protocol.TypeErr) == nil {
		t.Error("Expected an ERR before teardown")
	}
	if conn.lastOfType(protocol.TypeBye) == nil {
		t.Error("Expected a BYE before teardown")
	}
	if !conn.Closed() {
		t.Error("Transport should be closed")
	}
	if sess.State() != protocol.StateClosed {
		t.Errorf("Expected state Closed, got %s", sess.State())
	}
}

func TestByeClosesWithoutByeReply(t *testing.T) {
	s := newTestServer()
	sess, conn := authenticate(t, s, "alice", "Alice")
	_, peerConn := authenticate(t, s, "bob", "Bob")
	peerBefore := len(peerConn.Sent())

	if s.dispatch(sess, &protocol.ByeMessage{}) {
		t.Fatal("BYE must end the session")
	}

	if conn.lastOfType(protocol.TypeBye) != nil {
		t.Error("Server must not answer BYE with BYE")
	}
	if !conn.Closed() {
		t.Error("Transport should be closed")
	}
	if s.registry.UsernameActive("alice") {
		t.Error("Username should be released after BYE")
	}

	peerMsgs := peerConn.Sent()[peerBefore:]
	if len(peerMsgs) != 1 || peerMsgs[0].(*protocol.MsgMessage).Content != "Alice has left default" {
		t.Errorf("Channel should see a leave notice, got %v", peerMsgs)
	}
}

func TestErrFromClientEndsSessionWithBye(t *testing.T) {
	s := newTestServer()
	sess, conn := authenticate(t, s, "alice", "Alice")

	if s.dispatch(sess, &protocol.ErrMessage{DisplayName: "Alice", Content: "client giving up"}) {
		t.Fatal("ERR must end the session")
	}
	if conn.lastOfType(protocol.TypeBye) == nil {
		t.Error("Server should send BYE when the client reports an error")
	}
	if !conn.Closed() {
		t.Error("Transport should be closed")
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	s := newTestServer()
	sess, _ := authenticate(t, s, "alice", "Alice")
	_, peerConn := authenticate(t, s, "bob", "Bob")
	peerBefore := len(peerConn.Sent())

	s.closeSession(sess, false)
	s.closeSession(sess, true)

	peerMsgs := peerConn.Sent()[peerBefore:]
	if len(peerMsgs) != 1 {
		t.Errorf("Leave notice must be sent exactly once, got %d", len(peerMsgs))
	}
}
