package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// JSONLStore appends one JSON record per line to a local file. On open it
// replays existing lines to rebuild the written-key set, so a resumed run
// never writes a second record for the same section.
type JSONLStore struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	seen   map[string]struct{}
	logger *zap.Logger
}

// OpenJSONL opens (or creates) the dataset file at path.
func OpenJSONL(path string, logger *zap.Logger) (*JSONLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	seen, err := replayKeys(path, logger)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}

	return &JSONLStore{
		file:   file,
		writer: bufio.NewWriter(file),
		seen:   seen,
		logger: logger,
	}, nil
}

func replayKeys(path string, logger *zap.Logger) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, fmt.Errorf("open existing output %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			// A torn tail line from a crash is tolerated; the section stays
			// pending in the checkpoint and will be re-resolved.
			logger.Warn("skipping malformed output line", zap.Int("line", line), zap.Error(err))
			continue
		}
		seen[rec.Key()] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan existing output: %w", err)
	}
	return seen, nil
}

// Append writes rec unless its key was already written.
func (s *JSONLStore) Append(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("append canceled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.writer.Write(payload); err != nil {
		return false, fmt.Errorf("write record: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return false, fmt.Errorf("write record: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return false, fmt.Errorf("flush record: %w", err)
	}

	s.seen[key] = struct{}{}
	return true, nil
}

// Len returns the number of written keys.
func (s *JSONLStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close flushes and releases the file handle.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush output: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// ReadAll loads every record from a dataset file. It is used by the coverage
// reporter, never by the write path.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan output: %w", err)
	}
	return records, nil
}
