// Package passcache keeps the last known registration in a single file so a
// pass can be shown before the authoritative store answers.
package passcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pz26/confpass/internal/models"
)

// FileCache is a durable single-slot cache. Save overwrites the slot, Load
// never fails: a missing, unreadable or corrupt file reads as absent.
type FileCache struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New creates a cache stored at path.
func New(path string, logger *zap.Logger) *FileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileCache{path: path, logger: logger, now: time.Now}
}

// Path returns the backing file.
func (c *FileCache) Path() string { return c.path }

// Load returns the cached record, if any.
func (c *FileCache) Load() (*models.LocalPassRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("pass cache unreadable", zap.String("path", c.path), zap.Error(err))
		}
		return nil, false
	}
	var rec models.LocalPassRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("pass cache corrupt, ignoring", zap.String("path", c.path), zap.Error(err))
		return nil, false
	}
	if r := rec.Registration; r.RegID == "" || r.Email == "" || r.QRText == "" {
		c.logger.Warn("pass cache incomplete, ignoring", zap.String("path", c.path))
		return nil, false
	}
	return &rec, true
}

// Save replaces the slot with reg.
func (c *FileCache) Save(reg models.Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(models.LocalPassRecord{Registration: reg, SavedAt: c.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pass record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".pass-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing pass cache: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod pass cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing pass cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing pass cache %s: %w", c.path, err)
	}
	return nil
}

// Clear empties the slot. Clearing an empty slot is not an error.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pass cache %s: %w", c.path, err)
	}
	return nil
}
