// Package store owns the authoritative in-memory record set and its durable
// JSON mirror.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/runes"
)

// fromDiskSuffix marks a lastLoadedAt value that came from the mirror file
// rather than a live fetch.
const fromDiskSuffix = " (from-disk)"

// Store holds the last successfully extracted record set. Reads are safe
// concurrently with an in-flight Replace; readers always observe a fully
// committed set, never a partial one.
type Store struct {
	path   string
	clock  runes.Clock
	logger *zap.Logger

	mu           sync.RWMutex
	records      runes.RecordSet
	lastLoadedAt string
}

// New creates a Store mirroring to the file at path. The store starts empty;
// call Restore or LoadRemote to warm it.
func New(path string, clock runes.Clock, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		clock:  clock,
		logger: logger,
	}
}

// Replace atomically swaps the in-memory set and overwrites the durable
// mirror. The in-memory swap is kept even when the mirror write fails; the
// failure is reported so the caller can surface it.
func (s *Store) Replace(set runes.RecordSet) error {
	now := s.clock.Now().Format(time.RFC3339)

	s.mu.Lock()
	s.records = set.Clone()
	s.lastLoadedAt = now
	s.mu.Unlock()

	if err := s.persist(set); err != nil {
		s.logger.Warn("cache mirror write failed", zap.Error(err))
		return fmt.Errorf("persist mirror: %w", err)
	}
	return nil
}

// Restore reads the durable mirror. A missing mirror is absent, not an
// error; a corrupt mirror is reported so startup can log and move on.
func (s *Store) Restore() (bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read mirror: %w", err)
	}

	var set runes.RecordSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return false, fmt.Errorf("decode mirror: %w", err)
	}
	if set == nil {
		return false, fmt.Errorf("decode mirror: content is not a JSON array")
	}

	s.mu.Lock()
	s.records = set
	s.lastLoadedAt = s.clock.Now().Format(time.RFC3339) + fromDiskSuffix
	s.mu.Unlock()
	return true, nil
}

// Current returns a read-only snapshot of the records.
func (s *Store) Current() runes.RecordSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone()
}

// Items returns the number of cached records.
func (s *Store) Items() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LastLoadedAt returns when the current set was loaded, or "" when the
// store has never been filled. Values restored from disk carry a
// "(from-disk)" suffix.
func (s *Store) LastLoadedAt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoadedAt
}

func (s *Store) persist(set runes.RecordSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit mirror: %w", err)
	}
	return nil
}
