package protocol

import (
	"bytes"
	"testing"
)

// FuzzDecodeBinary verifies the binary decoder never panics and that
// anything it accepts re-encodes to the same bytes.
func FuzzDecodeBinary(f *testing.F) {
	seeds := []Message{
		&ConfirmMessage{ID: 1},
		&AuthMessage{ID: 2, Username: "alice", DisplayName: "Alice", Secret: "pw"},
		&JoinMessage{ID: 3, ChannelID: "lobby", DisplayName: "Alice"},
		&MsgMessage{ID: 4, DisplayName: "Alice", Content: "hi"},
		&ReplyMessage{ID: 5, RefID: 2, Success: true, Content: "Authenticated"},
		&ErrMessage{ID: 6, DisplayName: "Server", Content: "nope"},
		&ByeMessage{ID: 7},
	}
	for _, m := range seeds {
		data, err := EncodeBinary(m)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(data)
	}
	f.Add([]byte{})
	f.Add([]byte{0x42, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := DecodeBinary(data)
		if err != nil {
			return
		}

		encoded, err := EncodeBinary(msg)
		if err != nil {
			t.Fatalf("accepted message failed to re-encode: %v", err)
		}
		if !bytes.Equal(encoded, data) {
			t.Fatalf("re-encode mismatch: got %x, want %x", encoded, data)
		}
	})
}

// FuzzDecodeText verifies the text decoder never panics and that anything it
// accepts round-trips semantically.
func FuzzDecodeText(f *testing.F) {
	f.Add("AUTH alice AS Alice USING s3cr3t")
	f.Add("JOIN lobby AS Alice")
	f.Add("MSG FROM Alice IS hello")
	f.Add("REPLY OK IS Authenticated")
	f.Add("REPLY NOK IS nope")
	f.Add("ERR FROM Server IS bad")
	f.Add("BYE")
	f.Add("")
	f.Add("MSG FROM")

	f.Fuzz(func(t *testing.T, line string) {
		msg, err := DecodeText([]byte(line))
		if err != nil {
			return
		}

		encoded, err := EncodeText(msg)
		if err != nil {
			t.Fatalf("accepted message failed to re-encode: %v", err)
		}
		reparsed, err := DecodeText(encoded)
		if err != nil {
			t.Fatalf("re-encoded message failed to decode: %v", err)
		}
		if reparsed.Type() != msg.Type() {
			t.Fatalf("type changed across round-trip: 0x%02X -> 0x%02X", msg.Type(), reparsed.Type())
		}
	})
}
