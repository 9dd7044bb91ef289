package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Text encoding: one CRLF-terminated record per message, fields separated by
// the literal keywords AS, IS and USING. Verbs and keywords match
// case-insensitively; field content is passed through verbatim.

var (
	ErrUnknownVerb      = errors.New("unknown verb")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrNotTextEncodable = errors.New("message has no text encoding")
)

// EncodeText serializes m into one CRLF-terminated record. CONFIRM has no
// text form; the stream transport does not need it.
func EncodeText(m Message) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	var line string
	switch msg := m.(type) {
	case *AuthMessage:
		line = fmt.Sprintf("AUTH %s AS %s USING %s", msg.Username, msg.DisplayName, msg.Secret)
	case *JoinMessage:
		line = fmt.Sprintf("JOIN %s AS %s", msg.ChannelID, msg.DisplayName)
	case *MsgMessage:
		line = fmt.Sprintf("MSG FROM %s IS %s", msg.DisplayName, msg.Content)
	case *ErrMessage:
		line = fmt.Sprintf("ERR FROM %s IS %s", msg.DisplayName, msg.Content)
	case *ReplyMessage:
		status := "NOK"
		if msg.Success {
			status = "OK"
		}
		line = fmt.Sprintf("REPLY %s IS %s", status, msg.Content)
	case *ByeMessage:
		line = "BYE"
	case *ConfirmMessage:
		return nil, ErrNotTextEncodable
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	return []byte(line + "\r\n"), nil
}

// DecodeText parses one record. The trailing CRLF may be present or already
// stripped by the record scanner. Message ids do not exist in this encoding
// and decode as zero.
func DecodeText(data []byte) (Message, error) {
	line := strings.TrimSuffix(string(data), "\r\n")
	if line == "" {
		return nil, ErrMalformedRecord
	}

	verb := line
	rest := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb, rest = line[:i], line[i+1:]
	}

	var m Message
	switch {
	case strings.EqualFold(verb, "AUTH"):
		// AUTH {username} AS {displayName} USING {secret}
		parts := strings.SplitN(rest, " ", 5)
		if len(parts) != 5 || !strings.EqualFold(parts[1], "AS") || !strings.EqualFold(parts[3], "USING") {
			return nil, fmt.Errorf("%w: AUTH", ErrMalformedRecord)
		}
		m = &AuthMessage{Username: parts[0], DisplayName: parts[2], Secret: parts[4]}
	case strings.EqualFold(verb, "JOIN"):
		// JOIN {channelId} AS {displayName}
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) != 3 || !strings.EqualFold(parts[1], "AS") {
			return nil, fmt.Errorf("%w: JOIN", ErrMalformedRecord)
		}
		m = &JoinMessage{ChannelID: parts[0], DisplayName: parts[2]}
	case strings.EqualFold(verb, "MSG"):
		displayName, content, err := parseFromIs(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: MSG", ErrMalformedRecord)
		}
		m = &MsgMessage{DisplayName: displayName, Content: content}
	case strings.EqualFold(verb, "ERR"):
		displayName, content, err := parseFromIs(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: ERR", ErrMalformedRecord)
		}
		m = &ErrMessage{DisplayName: displayName, Content: content}
	case strings.EqualFold(verb, "REPLY"):
		// REPLY OK|NOK IS {content}
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) != 3 || !strings.EqualFold(parts[1], "IS") {
			return nil, fmt.Errorf("%w: REPLY", ErrMalformedRecord)
		}
		var success bool
		switch {
		case strings.EqualFold(parts[0], "OK"):
			success = true
		case strings.EqualFold(parts[0], "NOK"):
			success = false
		default:
			return nil, fmt.Errorf("%w: REPLY status %q", ErrMalformedRecord, parts[0])
		}
		m = &ReplyMessage{Success: success, Content: parts[2]}
	case strings.EqualFold(verb, "BYE"):
		if rest != "" {
			return nil, fmt.Errorf("%w: BYE", ErrMalformedRecord)
		}
		m = &ByeMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// parseFromIs parses "FROM {displayName} IS {content}".
func parseFromIs(rest string) (displayName, content string, err error) {
	parts := strings.SplitN(rest, " ", 4)
	if len(parts) != 4 || !strings.EqualFold(parts[0], "FROM") || !strings.EqualFold(parts[2], "IS") {
		return "", "", ErrMalformedRecord
	}
	return parts[1], parts[3], nil
}

// ScanRecords is a bufio.SplitFunc that splits a byte stream into
// CRLF-terminated records. A read spanning several records yields them one at
// a time in order; the terminator is stripped from the token. Data left at
// EOF without a terminator is returned as a final token so the decoder can
// report it instead of silently dropping it.
func ScanRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, []byte("\r\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
