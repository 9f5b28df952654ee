package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/zeebo/blake3"
)

// Version is the schema version written by this package.
const Version = 1

// Snapshot is the persisted subset of session and conversation state.
type Snapshot struct {
	Version       int            `json:"version" jsonschema:"required,minimum=1"`
	Name          string         `json:"name" jsonschema:"required,description=Instance name the snapshot belongs to"`
	SessionSecret string         `json:"session_secret" jsonschema:"required"`
	AccessToken   string         `json:"access_token,omitempty"`
	Expires       string         `json:"expires,omitempty" jsonschema:"description=Expiry reported by the session endpoint"`
	Fingerprint   string         `json:"fingerprint" jsonschema:"required,description=Keyed BLAKE3 hash of the session secret"`
	SavedAt       time.Time      `json:"saved_at"`
	Conversations []Conversation `json:"conversations"`
}

// Conversation is one persisted thread.
type Conversation struct {
	ID             string    `json:"id" jsonschema:"required"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ParentID       string    `json:"parent_id" jsonschema:"required"`
	LastActive     time.Time `json:"last_active"`
}

// fingerprintKey domain-separates secret fingerprints from any other
// BLAKE3 use of the same secret. Exactly 32 bytes.
var fingerprintKey = [32]byte{
	'g', 'p', 't', 'k', 'i', 't', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0,
}

// Fingerprint returns the hex keyed hash identifying secret.
func Fingerprint(secret string) string {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("snapshot: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Matches reports whether the snapshot was taken for secret.
func (s *Snapshot) Matches(secret string) bool {
	return s.Fingerprint != "" && s.Fingerprint == Fingerprint(secret)
}

// Validate checks the fields every snapshot must carry.
func (s *Snapshot) Validate() error {
	if s.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrInvalid, s.Version)
	}
	if s.Version > Version {
		return fmt.Errorf("%w: version %d, newest supported %d", ErrUnsupportedVersion, s.Version, Version)
	}
	if s.SessionSecret == "" {
		return fmt.Errorf("%w: missing session secret", ErrInvalid)
	}
	if s.Fingerprint == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalid)
	}
	return nil
}

// Schema returns the JSON Schema of Snapshot.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{}
	schema := r.Reflect(&Snapshot{})
	schema.Title = "gptkit snapshot"
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
