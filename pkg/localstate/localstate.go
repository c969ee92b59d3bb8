package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a JSON-file-backed key store for per-device client state:
// pinned/muted/archived conversation id lists plus the session token and
// cached user profile written by the authentication layer. Writes are
// last-writer-wins across processes.
type Store struct {
	mu   sync.Mutex
	path string
	data fileData
}

// fileData mirrors the browser localStorage keys of the web client so a
// previously persisted state file remains readable.
type fileData struct {
	Token                 string          `json:"token,omitempty"`
	User                  json.RawMessage `json:"user,omitempty"`
	PinnedConversations   []string        `json:"pinnedConversations,omitempty"`
	MutedConversations    []string        `json:"mutedConversations,omitempty"`
	ArchivedConversations []string        `json:"archivedConversations,omitempty"`
}

// Open loads the state file at path, creating an empty store if the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt state file is recoverable client state, not a fatal
		// condition. Start over empty.
		s.data = fileData{}
	}
	return s, nil
}

// Token returns the stored session token, empty if absent.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Token
}

// CachedUser decodes the cached user profile into v.
// Returns false if no profile is stored.
func (s *Store) CachedUser(v interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data.User) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(s.data.User, v); err != nil {
		return false, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return true, nil
}

// PinnedIDs returns the persisted pinned conversation ids.
func (s *Store) PinnedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data.PinnedConversations...)
}

// MutedIDs returns the persisted muted conversation ids.
func (s *Store) MutedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data.MutedConversations...)
}

// ArchivedIDs returns the persisted archived conversation ids.
func (s *Store) ArchivedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data.ArchivedConversations...)
}

// SetPinnedIDs persists the pinned conversation ids.
func (s *Store) SetPinnedIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PinnedConversations = append([]string(nil), ids...)
	return s.save()
}

// SetMutedIDs persists the muted conversation ids.
func (s *Store) SetMutedIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.MutedConversations = append([]string(nil), ids...)
	return s.save()
}

// SetArchivedIDs persists the archived conversation ids.
func (s *Store) SetArchivedIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ArchivedConversations = append([]string(nil), ids...)
	return s.save()
}

// ClearSession removes the token and cached profile, keeping the
// conversation flags.
func (s *Store) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Token = ""
	s.data.User = nil
	return s.save()
}

// save must be called with s.mu held.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
