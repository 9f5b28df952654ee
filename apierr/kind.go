package apierr

import (
	"fmt"
	"strings"
)

// Kind is the closed set of backend failure categories.
type Kind int

// Error kinds. Unknown is the zero value.
const (
	Unknown Kind = iota
	RateLimitExceeded
	MessageTooLong
	ConcurrentMessageInProgress
	SessionExpired
	ConversationNotFound
)

var kindNames = [...]string{
	Unknown:                     "unknown",
	RateLimitExceeded:           "rate_limit_exceeded",
	MessageTooLong:              "message_too_long",
	ConcurrentMessageInProgress: "concurrent_message_in_progress",
	SessionExpired:              "session_expired",
	ConversationNotFound:        "conversation_not_found",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

type rule struct {
	pattern string
	kind    Kind
}

// rules are evaluated in order; the first match wins. The browser-refresh
// rule must precede "too long" because that message can mention both.
var rules = []rule{
	{"too many requests", RateLimitExceeded},
	{"try refreshing your browser", Unknown},
	{"too long", MessageTooLong},
	{"one message at a time", ConcurrentMessageInProgress},
	{"expired", SessionExpired},
	{"conversation not found", ConversationNotFound},
}

// Classify maps a backend error message to a Kind. Matching is
// case-insensitive. An empty message is Unknown.
func Classify(msg string) Kind {
	if msg == "" {
		return Unknown
	}
	lower := strings.ToLower(msg)
	for _, r := range rules {
		if strings.Contains(lower, r.pattern) {
			return r.kind
		}
	}
	return Unknown
}

// ClassifyValue classifies an arbitrary decoded value. Anything other
// than a string is Unknown.
func ClassifyValue(v any) Kind {
	s, ok := v.(string)
	if !ok {
		return Unknown
	}
	return Classify(s)
}
