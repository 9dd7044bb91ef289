package client

// EventKind classifies messages the engine surfaces outside of
// request/reply exchanges.
type EventKind int

const (
	// EventChat is an incoming MSG from another user (or the server).
	EventChat EventKind = iota
	// EventServerError is an ERR from the server; the session is over.
	EventServerError
	// EventClosed reports that the session ended, by BYE, by a protocol
	// violation or by transport failure.
	EventClosed
)

// Event is one asynchronous occurrence on the session.
type Event struct {
	Kind    EventKind
	From    string
	Content string
	Err     error
}
