package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary encoding: [1B type][2B big-endian id] + verb-specific payload.
// Variable-length text fields are NUL-terminated UTF-8; REPLY carries its
// success byte and 2-byte refId at fixed offsets before the content.

var (
	ErrTruncated         = errors.New("truncated message")
	ErrMissingTerminator = errors.New("missing NUL terminator")
	ErrUnknownType       = errors.New("unknown message type")
	ErrTrailingData      = errors.New("unexpected data after message")
)

// binaryHeaderLen is the fixed prefix every datagram carries.
const binaryHeaderLen = 3

// writeUint16 appends v in big-endian byte order.
func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// writeCString appends s followed by the NUL terminator.
func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

// readCString consumes bytes up to and including the next NUL.
func readCString(r *bytes.Reader) (string, error) {
	var sb bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", ErrMissingTerminator
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// PeekBinaryHeader extracts the type code and message id without decoding
// the payload. The reliability layer uses it to confirm receipt before the
// payload is validated: confirmation acknowledges delivery, not semantic
// correctness.
func PeekBinaryHeader(data []byte) (msgType uint8, id uint16, err error) {
	if len(data) < binaryHeaderLen {
		return 0, 0, ErrTruncated
	}
	return data[0], binary.BigEndian.Uint16(data[1:3]), nil
}

// EncodeBinary serializes m into the binary encoding.
func EncodeBinary(m Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(m.Type())
	writeUint16(buf, m.MessageID())

	switch msg := m.(type) {
	case *ConfirmMessage, *ByeMessage:
		// Header only.
	case *AuthMessage:
		writeCString(buf, msg.Username)
		writeCString(buf, msg.DisplayName)
		writeCString(buf, msg.Secret)
	case *JoinMessage:
		writeCString(buf, msg.ChannelID)
		writeCString(buf, msg.DisplayName)
	case *MsgMessage:
		writeCString(buf, msg.DisplayName)
		writeCString(buf, msg.Content)
	case *ErrMessage:
		writeCString(buf, msg.DisplayName)
		writeCString(buf, msg.Content)
	case *ReplyMessage:
		if msg.Success {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeUint16(buf, msg.RefID)
		writeCString(buf, msg.Content)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	return buf.Bytes(), nil
}

// DecodeBinary parses one datagram payload. It never panics on malformed
// input; every failure mode maps to a sentinel error the caller can turn
// into a protocol-level ERR.
func DecodeBinary(data []byte) (Message, error) {
	msgType, id, err := PeekBinaryHeader(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data[binaryHeaderLen:])

	var m Message
	switch msgType {
	case TypeConfirm:
		m = &ConfirmMessage{ID: id}
	case TypeBye:
		m = &ByeMessage{ID: id}
	case TypeAuth:
		msg := &AuthMessage{ID: id}
		if msg.Username, err = readCString(r); err != nil {
			return nil, err
		}
		if msg.DisplayName, err = readCString(r); err != nil {
			return nil, err
		}
		if msg.Secret, err = readCString(r); err != nil {
			return nil, err
		}
		m = msg
	case TypeJoin:
		msg := &JoinMessage{ID: id}
		if msg.ChannelID, err = readCString(r); err != nil {
			return nil, err
		}
		if msg.DisplayName, err = readCString(r); err != nil {
			return nil, err
		}
		m = msg
	case TypeMsg:
		msg := &MsgMessage{ID: id}
		if msg.DisplayName, err = readCString(r); err != nil {
			return nil, err
		}
		if msg.Content, err = readCString(r); err != nil {
			return nil, err
		}
		m = msg
	case TypeErr:
		msg := &ErrMessage{ID: id}
		if msg.DisplayName, err = readCString(r); err != nil {
			return nil, err
		}
		if msg.Content, err = readCString(r); err != nil {
			return nil, err
		}
		m = msg
	case TypeReply:
		msg := &ReplyMessage{ID: id}
		success, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncated
		}
		msg.Success = success != 0
		var ref [2]byte
		if n, _ := r.Read(ref[:]); n < 2 {
			return nil, ErrTruncated
		}
		msg.RefID = binary.BigEndian.Uint16(ref[:])
		if msg.Content, err = readCString(r); err != nil {
			return nil, err
		}
		m = msg
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, msgType)
	}

	if r.Len() > 0 {
		return nil, ErrTrailingData
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}
