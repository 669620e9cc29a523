// Package session persists and restores the authenticated session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Store reads and writes the session file.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the session file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored session. A missing, unreadable or malformed file
// is a cache miss and reports false.
func (s *Store) Load() (*models.Session, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading session file", "path", s.path, "error", err)
		}
		return nil, false
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("ignoring malformed session file", "path", s.path, "error", err)
		return nil, false
	}
	if sess.Empty() {
		return nil, false
	}
	sess.IssuedVia = models.IssuedViaRestored
	return &sess, true
}

// Save replaces the stored session. The new content is written to a
// temporary file in the same directory and renamed over the old one.
func (s *Store) Save(sess *models.Session) error {
	if sess.Empty() {
		return fmt.Errorf("refusing to save an empty session")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting session permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Clear removes the stored session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// Probe installs sess on client and checks it with a cheap read-only call.
// Errors, panics and negative answers all report false.
func Probe(ctx context.Context, sess *models.Session, client connectors.CourseClient, logger *slog.Logger) (ok bool) {
	if logger == nil {
		logger = slog.Default()
	}
	if sess.Empty() {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("session probe panicked", "panic", r)
			ok = false
		}
	}()

	client.UseSession(sess)
	valid, err := client.Probe(ctx)
	if err != nil {
		logger.Info("session probe failed", "error", err)
		return false
	}
	return valid
}
