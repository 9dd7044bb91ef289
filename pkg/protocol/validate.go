package protocol

import (
	"errors"
	"fmt"
	"regexp"
)

// Field limits.
const (
	MaxUsernameLength    = 20
	MaxChannelIDLength   = 20
	MaxSecretLength      = 128
	MaxDisplayNameLength = 20
	MaxContentLength     = 1400
)

var (
	usernameRegex    = regexp.MustCompile(`^[A-Za-z0-9-]{1,20}$`)
	channelIDRegex   = regexp.MustCompile(`^[A-Za-z0-9-]{1,20}$`)
	secretRegex      = regexp.MustCompile(`^[A-Za-z0-9-]{1,128}$`)
	displayNameRegex = regexp.MustCompile(`^[\x21-\x7e]{1,20}$`)
	// The length bound is checked separately; regexp repeat counts max out
	// at 1000.
	contentRegex = regexp.MustCompile(`^[\x0d\x0a\x20-\x7e]+$`)
)

var (
	ErrInvalidUsername    = errors.New("username must be 1-20 characters, alphanumeric plus -")
	ErrInvalidChannelID   = errors.New("channel id must be 1-20 characters, alphanumeric plus -")
	ErrInvalidSecret      = errors.New("secret must be 1-128 characters, alphanumeric plus -")
	ErrInvalidDisplayName = errors.New("display name must be 1-20 printable characters without spaces")
	ErrInvalidContent     = errors.New("message content must be 1-1400 printable characters")
)

// ValidUsername reports whether s is a legal username.
func ValidUsername(s string) bool { return usernameRegex.MatchString(s) }

// ValidChannelID reports whether s is a legal channel identifier.
func ValidChannelID(s string) bool { return channelIDRegex.MatchString(s) }

// ValidSecret reports whether s is a legal secret.
func ValidSecret(s string) bool { return secretRegex.MatchString(s) }

// ValidDisplayName reports whether s is a legal display name.
func ValidDisplayName(s string) bool { return displayNameRegex.MatchString(s) }

// ValidContent reports whether s is legal message content.
func ValidContent(s string) bool {
	return len(s) <= MaxContentLength && contentRegex.MatchString(s)
}

// Validate checks every field of m against the protocol grammar. Both
// decoders call this so a malformed message never reaches a state machine,
// and both engines call it before transmission.
func Validate(m Message) error {
	switch msg := m.(type) {
	case *ConfirmMessage, *ByeMessage:
		return nil
	case *AuthMessage:
		if !ValidUsername(msg.Username) {
			return ErrInvalidUsername
		}
		if !ValidDisplayName(msg.DisplayName) {
			return ErrInvalidDisplayName
		}
		if !ValidSecret(msg.Secret) {
			return ErrInvalidSecret
		}
		return nil
	case *JoinMessage:
		if !ValidChannelID(msg.ChannelID) {
			return ErrInvalidChannelID
		}
		if !ValidDisplayName(msg.DisplayName) {
			return ErrInvalidDisplayName
		}
		return nil
	case *MsgMessage:
		if !ValidDisplayName(msg.DisplayName) {
			return ErrInvalidDisplayName
		}
		if !ValidContent(msg.Content) {
			return ErrInvalidContent
		}
		return nil
	case *ErrMessage:
		if !ValidDisplayName(msg.DisplayName) {
			return ErrInvalidDisplayName
		}
		if !ValidContent(msg.Content) {
			return ErrInvalidContent
		}
		return nil
	case *ReplyMessage:
		if !ValidContent(msg.Content) {
			return ErrInvalidContent
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %T", m)
	}
}
