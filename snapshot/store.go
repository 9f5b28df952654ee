package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// Store errors.
var (
	// ErrNotFound indicates no snapshot has been written yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalid indicates the stored snapshot is malformed.
	ErrInvalid = errors.New("invalid snapshot")

	// ErrUnsupportedVersion indicates a snapshot newer than this build.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Store persists snapshots.
type Store interface {
	Save(snap *Snapshot) error
	Load() (*Snapshot, error)
}

// FileStore keeps a snapshot in {dir}/{name}.json, or {name}.json.age
// when encrypted.
type FileStore struct {
	dir        string
	name       string
	passphrase string
	workFactor int
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithPassphrase encrypts the snapshot with an age scrypt recipient.
func WithPassphrase(passphrase string) StoreOption {
	return func(s *FileStore) { s.passphrase = passphrase }
}

// WithWorkFactor sets the scrypt work factor (log2 N) used when encrypting.
// Zero keeps the age default.
func WithWorkFactor(logN int) StoreOption {
	return func(s *FileStore) { s.workFactor = logN }
}

// NewFileStore creates a store for the named instance.
func NewFileStore(dir, name string, opts ...StoreOption) *FileStore {
	s := &FileStore{dir: dir, name: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	file := s.name + ".json"
	if s.passphrase != "" {
		file += ".age"
	}
	return filepath.Join(s.dir, file)
}

// Save writes snap atomically with owner-only permissions.
func (s *FileStore) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if s.passphrase != "" {
		data, err = s.encrypt(data)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	path := s.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads and validates the snapshot.
func (s *FileStore) Load() (*Snapshot, error) {
	path := s.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if s.passphrase != "" {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize snapshot encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %w", ErrInvalid, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read decrypted snapshot: %w", ErrInvalid, err)
	}
	return plaintext, nil
}
