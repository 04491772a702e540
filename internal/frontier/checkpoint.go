package frontier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// checkpointVersion guards against loading snapshots written by an
// incompatible build.
const checkpointVersion = 1

// ErrCorruptCheckpoint marks a checkpoint file that exists but cannot be
// trusted. Corruption is fatal to resuming, not to the run: callers fall back
// to a fresh start and surface the condition to the operator.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

type checkpointFile struct {
	Version  int       `json:"version"`
	RunID    string    `json:"run_id"`
	SavedAt  time.Time `json:"saved_at"`
	Frontier []string  `json:"frontier"`
	Visited  []string  `json:"visited"`
	Sections []Section `json:"sections"`
	Counters Counters  `json:"counters"`
}

// Checkpoint atomically persists the full traversal state. The snapshot is
// written to a temp file in the same directory and renamed into place, so a
// reader observes either the previous complete checkpoint or the new one,
// never a partial write.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	snap := checkpointFile{
		Version:  checkpointVersion,
		RunID:    s.runID,
		SavedAt:  time.Now().UTC(),
		Frontier: append([]string(nil), s.queue...),
		Visited:  make([]string, 0, len(s.visited)),
		Sections: make([]Section, 0, len(s.order)),
		Counters: s.counters,
	}
	for url := range s.visited {
		snap.Visited = append(snap.Visited, url)
	}
	sort.Strings(snap.Visited)
	for _, url := range s.order {
		snap.Sections = append(snap.Sections, *s.sections[url])
	}
	path := s.path
	s.mu.Unlock()

	if err := writeAtomic(path, snap); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastCheckpoint = snap.SavedAt
	s.mu.Unlock()

	s.logger.Info("checkpoint saved",
		zap.Int("frontier", len(snap.Frontier)),
		zap.Int("visited", len(snap.Visited)),
		zap.Int("sections", len(snap.Sections)),
	)
	return nil
}

func writeAtomic(path string, snap checkpointFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("swap checkpoint into place: %w", err)
	}
	return nil
}

// Load restores state from the checkpoint file. It returns false with a nil
// error when no checkpoint exists (a fresh run), and ErrCorruptCheckpoint
// when the file cannot be decoded or carries the wrong version.
func (s *Store) Load() (bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}

	var snap checkpointFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrCorruptCheckpoint, s.path, err)
	}
	if snap.Version != checkpointVersion {
		return false, fmt.Errorf("%w: version %d, want %d", ErrCorruptCheckpoint, snap.Version, checkpointVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.RunID != "" {
		s.runID = snap.RunID
	}
	s.queue = append([]string(nil), snap.Frontier...)
	s.visited = make(map[string]struct{}, len(snap.Visited))
	for _, url := range snap.Visited {
		s.visited[url] = struct{}{}
	}
	s.sections = make(map[string]*Section, len(snap.Sections))
	s.order = s.order[:0]
	for i := range snap.Sections {
		sec := snap.Sections[i]
		s.sections[sec.URL] = &sec
		s.order = append(s.order, sec.URL)
	}
	s.counters = snap.Counters
	s.claimed = make(map[string]struct{})
	s.lastCheckpoint = snap.SavedAt

	s.logger.Info("resuming from checkpoint",
		zap.String("run_id", s.runID),
		zap.Time("saved_at", snap.SavedAt),
		zap.Int("frontier", len(s.queue)),
		zap.Int("visited", len(s.visited)),
		zap.Int("sections", len(s.order)),
	)
	return true, nil
}
