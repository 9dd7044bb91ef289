package protocol

// State is the session lifecycle shared by both sides of the protocol. The
// client and server engines instantiate the same shape and drive it from
// their own inputs (user commands on one side, inbound messages on the
// other).
type State int

const (
	// StateStart: no identity established. Only AUTH is legal.
	StateStart State = iota
	// StateAuthenticating: AUTH in flight, awaiting REPLY.
	StateAuthenticating
	// StateOpen: authenticated; MSG, JOIN and ERR may flow.
	StateOpen
	// StateClosing: teardown in progress; at most the BYE handshake remains.
	StateClosing
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Terminal reports whether no further application messages may be sent.
func (s State) Terminal() bool {
	return s == StateClosing || s == StateClosed
}

// CanReceive reports whether a message of type t is legal input in state s.
// BYE and ERR are accepted in any live state so teardown always works;
// CONFIRM is handled below the state machine by the reliability layer and is
// never legal here.
func (s State) CanReceive(t uint8) bool {
	switch t {
	case TypeBye, TypeErr:
		return !s.Terminal()
	case TypeAuth:
		return s == StateStart
	case TypeJoin, TypeMsg:
		return s == StateOpen
	case TypeReply:
		return s == StateAuthenticating || s == StateOpen
	default:
		return false
	}
}
