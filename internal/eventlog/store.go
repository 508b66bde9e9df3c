// Package eventlog implements the per-canvas append-only event log: one
// newline-delimited JSON file per canvas, single-writer-per-file append
// discipline owned by the canvas's hub.
package eventlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// Store opens and appends to per-canvas log files rooted at dataDir.
type Store struct {
	dataDir string

	mu      sync.Mutex
	handles map[string]*os.File
}

// New creates a Store rooted at dataDir/canvases. The directory is
// created if missing.
func New(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "canvases")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("eventlog: create data dir: %w", err)
	}
	return &Store{dataDir: dataDir, handles: make(map[string]*os.File)}, nil
}

func (s *Store) pathFor(canvasID string) string {
	return filepath.Join(s.dataDir, "canvases", canvasID)
}

func (s *Store) handle(canvasID string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.handles[canvasID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.pathFor(canvasID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", canvasID, err)
	}
	s.handles[canvasID] = f
	return f, nil
}

// Append writes record followed by a newline delimiter to canvasID's log
// file. Callers must serialize concurrent Append calls for the same
// canvasID themselves (the owning CanvasHub's lock provides this); Append
// itself only guards handle creation.
func (s *Store) Append(canvasID string, record []byte) error {
	f, err := s.handle(canvasID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(record, '\n')); err != nil {
		return fmt.Errorf("eventlog: append %s: %w", canvasID, err)
	}
	return nil
}

// Replay returns every complete record in canvasID's log file, in append
// order. A missing file yields an empty slice, not an error. A truncated
// trailing record (no terminating newline) is dropped and logged.
func (s *Store) Replay(canvasID string) ([][]byte, error) {
	f, err := os.Open(s.pathFor(canvasID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open for replay %s: %w", canvasID, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read %s: %w", canvasID, err)
	}

	// A complete record is always followed by its delimiter. If the file
	// does not end in a newline, its final segment is a partial write
	// from a crash mid-append; drop and log it rather than replaying
	// malformed JSON.
	complete := data
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
			fwlog.Warnf("eventlog: dropping truncated trailing record for canvas %s", canvasID)
			complete = data[:idx+1]
		} else {
			fwlog.Warnf("eventlog: dropping truncated trailing record for canvas %s", canvasID)
			complete = nil
		}
	}

	var records [][]byte
	for _, line := range bytes.Split(bytes.TrimSuffix(complete, []byte("\n")), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		record := make([]byte, len(line))
		copy(record, line)
		records = append(records, record)
	}
	return records, nil
}

// Path exposes the on-disk path for canvasID, for the archiver.
func (s *Store) Path(canvasID string) string {
	return s.pathFor(canvasID)
}

// Close closes every open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("eventlog: close %s: %w", id, err)
		}
	}
	return firstErr
}
