package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds replayed message text.
const MaxMessageLength = 100000

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a chat identifier such as
// 40712345678@s.whatsapp.net or 120363041234567890@g.us.
func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New("conversation ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("conversation ID exceeds maximum length")
	}
	if !utf8.ValidString(id) || strings.ContainsAny(id, " \t\r\n/") {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateAuthor validates a replay author label.
func ValidateAuthor(author string) error {
	if len(author) > 256 {
		return errors.New("author exceeds maximum length")
	}
	if !utf8.ValidString(author) {
		return errors.New("author must be valid UTF-8")
	}
	return nil
}
