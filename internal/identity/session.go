package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var errNoSession = errors.New("no saved session")

type sessionFile struct {
	Identity
	SavedAt time.Time `json:"saved_at"`
}

func loadSession(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoSession
		}
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}

	var s sessionFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}
	if s.UID == "" {
		return nil, fmt.Errorf("session file %s has no uid", path)
	}
	if s.Email == "" {
		return nil, fmt.Errorf("session file %s has no email", path)
	}
	if s.Token == "" {
		return nil, fmt.Errorf("session file %s has no token", path)
	}
	id := s.Identity
	return &id, nil
}

// saveSession writes the session with mode 0600 since it holds a token.
func saveSession(path string, id Identity) error {
	data, err := json.MarshalIndent(sessionFile{Identity: id, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing session file %s: %w", path, err)
	}
	return nil
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file %s: %w", path, err)
	}
	return nil
}
