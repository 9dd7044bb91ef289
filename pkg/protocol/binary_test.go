package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBinaryAuthLayout(t *testing.T) {
	msg := &AuthMessage{ID: 0x0102, Username: "alice", DisplayName: "Alice", Secret: "s3cr3t"}

	data, err := EncodeBinary(msg)
	require.NoError(t, err)

	expected := append([]byte{TypeAuth, 0x01, 0x02}, []byte("alice\x00Alice\x00s3cr3t\x00")...)
	assert.Equal(t, expected, data)
}

func TestEncodeBinaryReplyLayout(t *testing.T) {
	msg := &ReplyMessage{ID: 7, RefID: 0x0304, Success: true, Content: "Authenticated"}

	data, err := EncodeBinary(msg)
	require.NoError(t, err)

	// [1B type][2B id][1B success][2B refId]content\0
	require.True(t, len(data) > 6)
	assert.Equal(t, uint8(TypeReply), data[0])
	assert.Equal(t, []byte{0x00, 0x07}, data[1:3])
	assert.Equal(t, uint8(1), data[3])
	assert.Equal(t, []byte{0x03, 0x04}, data[4:6])
	assert.Equal(t, []byte("Authenticated\x00"), data[6:])
}

func TestEncodeBinaryHeaderOnlyMessages(t *testing.T) {
	confirm, err := EncodeBinary(&ConfirmMessage{ID: 42})
	require.NoError(t, err)
	assert.Equal(t, []byte{TypeConfirm, 0x00, 0x2A}, confirm)

	bye, err := EncodeBinary(&ByeMessage{ID: 65535})
	require.NoError(t, err)
	assert.Equal(t, []byte{TypeBye, 0xFF, 0xFF}, bye)
}

func TestDecodeBinaryRoundTrip(t *testing.T) {
	messages := []Message{
		&ConfirmMessage{ID: 1},
		&AuthMessage{ID: 2, Username: "bob", DisplayName: "Bob!", Secret: "hunter-2"},
		&JoinMessage{ID: 3, ChannelID: "lobby", DisplayName: "Bob!"},
		&MsgMessage{ID: 4, DisplayName: "Bob!", Content: "hello there"},
		&ReplyMessage{ID: 5, RefID: 2, Success: false, Content: "Authentication failed"},
		&ErrMessage{ID: 6, DisplayName: "Server", Content: "Invalid message format"},
		&ByeMessage{ID: 7},
	}

	for _, original := range messages {
		data, err := EncodeBinary(original)
		require.NoError(t, err, "encode %s", TypeName(original.Type()))

		decoded, err := DecodeBinary(data)
		require.NoError(t, err, "decode %s", TypeName(original.Type()))
		assert.Equal(t, original, decoded)
	}
}

func TestDecodeBinaryTruncated(t *testing.T) {
	full, err := EncodeBinary(&AuthMessage{ID: 9, Username: "alice", DisplayName: "Alice", Secret: "pw"})
	require.NoError(t, err)

	// Every proper prefix of a valid encoding must fail, never decode to a
	// wrong message.
	for i := 0; i < len(full); i++ {
		_, err := DecodeBinary(full[:i])
		assert.Error(t, err, "prefix of length %d", i)
	}
}

func TestDecodeBinaryMissingTerminator(t *testing.T) {
	data := append([]byte{TypeMsg, 0x00, 0x01}, []byte("Alice\x00no terminator")...)
	_, err := DecodeBinary(data)
	assert.ErrorIs(t, err, ErrMissingTerminator)
}

func TestDecodeBinaryUnknownType(t *testing.T) {
	_, err := DecodeBinary([]byte{0x42, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeBinaryTrailingData(t *testing.T) {
	data, err := EncodeBinary(&ByeMessage{ID: 1})
	require.NoError(t, err)

	_, err = DecodeBinary(append(data, 0xAA))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeBinaryInvalidField(t *testing.T) {
	// Username with a space violates the grammar even though the bytes
	// decode cleanly.
	data := append([]byte{TypeAuth, 0x00, 0x01}, []byte("bad user\x00Alice\x00pw\x00")...)
	_, err := DecodeBinary(data)
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestPeekBinaryHeader(t *testing.T) {
	msgType, id, err := PeekBinaryHeader([]byte{TypeJoin, 0x12, 0x34, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, uint8(TypeJoin), msgType)
	assert.Equal(t, uint16(0x1234), id)

	_, _, err = PeekBinaryHeader([]byte{TypeJoin, 0x12})
	assert.ErrorIs(t, err, ErrTruncated)
}
