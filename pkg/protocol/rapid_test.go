package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

func genDisplayName(t *rapid.T, label string) string {
	return rapid.StringMatching(`[\x21-\x7e]{1,20}`).Draw(t, label)
}

func genContent(t *rapid.T, label string) string {
	return rapid.StringMatching(`[\x20-\x7e]{1,200}`).Draw(t, label)
}

// TestBinaryRoundTrip tests that any valid message survives a binary
// encode/decode cycle unchanged.
func TestBinaryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.Uint16().Draw(t, "id")

		var original Message
		switch rapid.IntRange(0, 6).Draw(t, "variant") {
		case 0:
			original = &ConfirmMessage{ID: id}
		case 1:
			original = &AuthMessage{
				ID:          id,
				Username:    rapid.StringMatching(`[A-Za-z0-9-]{1,20}`).Draw(t, "username"),
				DisplayName: genDisplayName(t, "displayName"),
				Secret:      rapid.StringMatching(`[A-Za-z0-9-]{1,128}`).Draw(t, "secret"),
			}
		case 2:
			original = &JoinMessage{
				ID:          id,
				ChannelID:   rapid.StringMatching(`[A-Za-z0-9-]{1,20}`).Draw(t, "channelID"),
				DisplayName: genDisplayName(t, "displayName"),
			}
		case 3:
			original = &MsgMessage{
				ID:          id,
				DisplayName: genDisplayName(t, "displayName"),
				Content:     genContent(t, "content"),
			}
		case 4:
			original = &ReplyMessage{
				ID:      id,
				RefID:   rapid.Uint16().Draw(t, "refID"),
				Success: rapid.Bool().Draw(t, "success"),
				Content: genContent(t, "content"),
			}
		case 5:
			original = &ErrMessage{
				ID:          id,
				DisplayName: genDisplayName(t, "displayName"),
				Content:     genContent(t, "content"),
			}
		case 6:
			original = &ByeMessage{ID: id}
		}

		data, err := EncodeBinary(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeBinary(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type() != original.Type() {
			t.Fatalf("type mismatch: got 0x%02X, want 0x%02X", decoded.Type(), original.Type())
		}
		if decoded.MessageID() != original.MessageID() {
			t.Fatalf("id mismatch: got %d, want %d", decoded.MessageID(), original.MessageID())
		}
		assertMessagesEqual(t, original, decoded)
	})
}

// TestTextRoundTrip tests the round-trip law for the text encoding. Message
// ids do not exist on the wire in this encoding, so generated messages carry
// the zero id.
func TestTextRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var original Message
		switch rapid.IntRange(0, 5).Draw(t, "variant") {
		case 0:
			original = &AuthMessage{
				Username:    rapid.StringMatching(`[A-Za-z0-9-]{1,20}`).Draw(t, "username"),
				DisplayName: genDisplayName(t, "displayName"),
				Secret:      rapid.StringMatching(`[A-Za-z0-9-]{1,128}`).Draw(t, "secret"),
			}
		case 1:
			original = &JoinMessage{
				ChannelID:   rapid.StringMatching(`[A-Za-z0-9-]{1,20}`).Draw(t, "channelID"),
				DisplayName: genDisplayName(t, "displayName"),
			}
		case 2:
			original = &MsgMessage{
				DisplayName: genDisplayName(t, "displayName"),
				Content:     genContent(t, "content"),
			}
		case 3:
			original = &ReplyMessage{
				Success: rapid.Bool().Draw(t, "success"),
				Content: genContent(t, "content"),
			}
		case 4:
			original = &ErrMessage{
				DisplayName: genDisplayName(t, "displayName"),
				Content:     genContent(t, "content"),
			}
		case 5:
			original = &ByeMessage{}
		}

		data, err := EncodeText(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeText(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		assertMessagesEqual(t, original, decoded)
	})
}

func assertMessagesEqual(t *rapid.T, want, got Message) {
	t.Helper()

	switch w := want.(type) {
	case *AuthMessage:
		g := got.(*AuthMessage)
		if w.Username != g.Username || w.DisplayName != g.DisplayName || w.Secret != g.Secret {
			t.Fatalf("auth mismatch: got %+v, want %+v", g, w)
		}
	case *JoinMessage:
		g := got.(*JoinMessage)
		if w.ChannelID != g.ChannelID || w.DisplayName != g.DisplayName {
			t.Fatalf("join mismatch: got %+v, want %+v", g, w)
		}
	case *MsgMessage:
		g := got.(*MsgMessage)
		if w.DisplayName != g.DisplayName || w.Content != g.Content {
			t.Fatalf("msg mismatch: got %+v, want %+v", g, w)
		}
	case *ReplyMessage:
		g := got.(*ReplyMessage)
		if w.RefID != g.RefID || w.Success != g.Success || w.Content != g.Content {
			t.Fatalf("reply mismatch: got %+v, want %+v", g, w)
		}
	case *ErrMessage:
		g := got.(*ErrMessage)
		if w.DisplayName != g.DisplayName || w.Content != g.Content {
			t.Fatalf("err mismatch: got %+v, want %+v", g, w)
		}
	}
}
