package apierr

import (
	"encoding/json"
	"strings"
)

// Normalize extracts a single error message from a backend error body.
//
// Recognized shapes, checked in order:
//
//	{"error": "..."}
//	{"detail": "..."}   or {"detail": {"message": "..."}}
//	{"details": "..."}  or {"details": {"message": "..."}}
//
// A body that is not JSON, or JSON without any of these fields, yields
// fallback. A plain-text body is returned trimmed when fallback is empty.
func Normalize(body []byte, fallback string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		if fallback == "" {
			return strings.TrimSpace(string(body))
		}
		return fallback
	}

	for _, key := range []string{"error", "detail", "details"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if msg, ok := messageFrom(raw); ok {
			return msg
		}
	}
	return fallback
}

// messageFrom reads either a bare string or an object with a message
// field. Null and empty values are treated as absent.
func messageFrom(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return "", false
}
