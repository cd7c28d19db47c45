// Package credstore persists the single authenticated-session artifact and a
// small key-value settings record under an owner-only state directory. It
// performs no network I/O; freshness is judged from the artifact's creation
// timestamp alone.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sessionmate-mcp-server/internal/schedule"
)

const (
	credentialFile = "credential.json"
	settingsFile   = "settings.json"

	dirMode  = 0o700
	fileMode = 0o600
)

// Store holds the on-disk credential artifact for one remote account.
// At most one artifact exists at a time; Put replaces it atomically.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open ensures the state directory exists with owner-only permissions.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("credstore: state directory is required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("credstore: create state dir: %w", err)
	}
	// Pre-existing directories keep whatever mode they had; tighten them.
	if err := os.Chmod(dir, dirMode); err != nil {
		return nil, fmt.Errorf("credstore: restrict state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory backing the store.
func (s *Store) Dir() string { return s.dir }

func (s *Store) credentialPath() string { return filepath.Join(s.dir, credentialFile) }
func (s *Store) settingsPath() string   { return filepath.Join(s.dir, settingsFile) }

// Has reports whether a credential artifact currently exists.
func (s *Store) Has() bool {
	_, err := os.Stat(s.credentialPath())
	return err == nil
}

// Get loads the stored credential. Returns os.ErrNotExist when absent.
func (s *Store) Get() (*schedule.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.credentialPath())
	if err != nil {
		return nil, err
	}
	var cred schedule.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("credstore: decode credential: %w", err)
	}
	return &cred, nil
}

// Put persists the credential, replacing any prior artifact. The write goes
// through a temp file followed by rename so concurrent readers never observe
// a half-written artifact.
func (s *Store) Put(cred *schedule.Credential) error {
	if cred == nil {
		return fmt.Errorf("credstore: nil credential")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stamp a copy; the caller's artifact is never mutated in place.
	stored := *cred
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encode credential: %w", err)
	}
	return atomicWrite(s.credentialPath(), data)
}

// Clear removes the artifact. Idempotent: clearing an empty store succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.credentialPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: clear credential: %w", err)
	}
	return nil
}

// Age returns the duration since the artifact was created. The second return
// is false when no artifact exists.
func (s *Store) Age() (time.Duration, bool) {
	cred, err := s.Get()
	if err != nil {
		return 0, false
	}
	return time.Since(cred.CreatedAt), true
}

// IsFresh reports whether an artifact exists and is younger than maxAge.
func (s *Store) IsFresh(maxAge time.Duration) bool {
	age, ok := s.Age()
	if !ok {
		return false
	}
	return age < maxAge
}

// Setting reads one key from the settings record.
func (s *Store) Setting(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.readSettings()
	if err != nil {
		return "", false
	}
	v, ok := settings[key]
	return v, ok
}

// SetSetting writes one key into the settings record with the same atomic
// replace discipline as the credential.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.readSettings()
	if err != nil {
		return err
	}
	settings[key] = value
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encode settings: %w", err)
	}
	return atomicWrite(s.settingsPath(), data)
}

func (s *Store) readSettings() (map[string]string, error) {
	raw, err := os.ReadFile(s.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("credstore: read settings: %w", err)
	}
	settings := map[string]string{}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("credstore: decode settings: %w", err)
	}
	return settings, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("credstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credstore: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
