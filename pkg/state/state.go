// Package state persists the time of the last successful reward claim.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
)

// ClaimStore reads and writes the last claim time. A zero time means the
// reward has never been claimed.
type ClaimStore interface {
	LastClaim() (time.Time, error)
	SetLastClaim(t time.Time) error
}

// FileStore keeps the timestamp as decimal epoch milliseconds in one file.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// LastClaim returns the epoch when the file is absent or does not hold an
// integer. Only I/O failures other than absence are returned as errors.
func (s *FileStore) LastClaim() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.UnixMilli(0), nil
	}
	if err != nil {
		return time.UnixMilli(0), fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	millis, err := parseMillis(string(data))
	if err != nil {
		logger.Warnf("[state] ignoring unparsable last claim time in %s: %v", s.path, err)
		return time.UnixMilli(0), nil
	}
	return time.UnixMilli(millis), nil
}

// SetLastClaim replaces the file atomically.
func (s *FileStore) SetLastClaim(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(strconv.FormatInt(t.UnixMilli(), 10)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Path() string {
	return s.path
}

// parseMillis accepts leading digits the way a lenient integer parse does,
// so "1700000000000\n" and "1700000000000ms" both read as the number.
func parseMillis(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	return strconv.ParseInt(raw[:end], 10, 64)
}
