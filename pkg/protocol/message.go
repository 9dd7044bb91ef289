package protocol

import "fmt"

// Message type codes shared by both encodings. The binary encoding puts the
// code in the first byte of every datagram; the text encoding maps them to
// verb keywords.
const (
	TypeConfirm = 0x00
	TypeReply   = 0x01
	TypeAuth    = 0x02
	TypeJoin    = 0x03
	TypeMsg     = 0x04
	TypeErr     = 0xFE
	TypeBye     = 0xFF
)

// Encoding selects one of the two wire encodings of the message set.
type Encoding int

const (
	// EncodingText is the CRLF-terminated line encoding used on the stream
	// transport.
	EncodingText Encoding = iota
	// EncodingBinary is the length-implicit binary encoding used on the
	// datagram transport.
	EncodingBinary
)

// Message is the abstract protocol message, one implementation per verb.
// All messages carry a 16-bit id on the datagram transport; the text
// encoding has no ids and leaves the field zero on decode.
type Message interface {
	// Type returns the message type code.
	Type() uint8
	// MessageID returns the sender-assigned id.
	MessageID() uint16
	// SetMessageID assigns the id before transmission. The reliability
	// layer owns id assignment on the datagram transport.
	SetMessageID(id uint16)
}

// ConfirmMessage (0x00) acknowledges wire-level receipt of the message with
// the same id. Datagram transport only.
type ConfirmMessage struct {
	ID uint16 // id of the message being confirmed
}

func (m *ConfirmMessage) Type() uint8           { return TypeConfirm }
func (m *ConfirmMessage) MessageID() uint16     { return m.ID }
func (m *ConfirmMessage) SetMessageID(id uint16) { m.ID = id }

// AuthMessage (0x02) is the login request.
type AuthMessage struct {
	ID          uint16
	Username    string
	DisplayName string
	Secret      string
}

func (m *AuthMessage) Type() uint8           { return TypeAuth }
func (m *AuthMessage) MessageID() uint16     { return m.ID }
func (m *AuthMessage) SetMessageID(id uint16) { m.ID = id }

// JoinMessage (0x03) requests a channel switch.
type JoinMessage struct {
	ID          uint16
	ChannelID   string
	DisplayName string
}

func (m *JoinMessage) Type() uint8           { return TypeJoin }
func (m *JoinMessage) MessageID() uint16     { return m.ID }
func (m *JoinMessage) SetMessageID(id uint16) { m.ID = id }

// MsgMessage (0x04) carries chat text.
type MsgMessage struct {
	ID          uint16
	DisplayName string
	Content     string
}

func (m *MsgMessage) Type() uint8           { return TypeMsg }
func (m *MsgMessage) MessageID() uint16     { return m.ID }
func (m *MsgMessage) SetMessageID(id uint16) { m.ID = id }

// ReplyMessage (0x01) is the server's answer to AUTH or JOIN, correlated by
// RefID on the datagram transport.
type ReplyMessage struct {
	ID      uint16
	RefID   uint16
	Success bool
	Content string
}

func (m *ReplyMessage) Type() uint8           { return TypeReply }
func (m *ReplyMessage) MessageID() uint16     { return m.ID }
func (m *ReplyMessage) SetMessageID(id uint16) { m.ID = id }

// ErrMessage (0xFE) is a protocol-level error notice, legal in either
// direction.
type ErrMessage struct {
	ID          uint16
	DisplayName string
	Content     string
}

func (m *ErrMessage) Type() uint8           { return TypeErr }
func (m *ErrMessage) MessageID() uint16     { return m.ID }
func (m *ErrMessage) SetMessageID(id uint16) { m.ID = id }

// ByeMessage (0xFF) is the graceful termination notice.
type ByeMessage struct {
	ID uint16
}

func (m *ByeMessage) Type() uint8           { return TypeBye }
func (m *ByeMessage) MessageID() uint16     { return m.ID }
func (m *ByeMessage) SetMessageID(id uint16) { m.ID = id }

// Clone returns an independent copy of m. Needed wherever one message fans
// out to several connections: the datagram transport assigns a per-session
// id via SetMessageID, so connections must never share a message value.
func Clone(m Message) Message {
	switch msg := m.(type) {
	case *ConfirmMessage:
		c := *msg
		return &c
	case *AuthMessage:
		c := *msg
		return &c
	case *JoinMessage:
		c := *msg
		return &c
	case *MsgMessage:
		c := *msg
		return &c
	case *ReplyMessage:
		c := *msg
		return &c
	case *ErrMessage:
		c := *msg
		return &c
	case *ByeMessage:
		c := *msg
		return &c
	default:
		return m
	}
}

// TypeName returns the verb keyword for a message type code.
func TypeName(t uint8) string {
	switch t {
	case TypeConfirm:
		return "CONFIRM"
	case TypeReply:
		return "REPLY"
	case TypeAuth:
		return "AUTH"
	case TypeJoin:
		return "JOIN"
	case TypeMsg:
		return "MSG"
	case TypeErr:
		return "ERR"
	case TypeBye:
		return "BYE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", t)
	}
}
