package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultRotateMaxBytes = 100 * 1024 * 1024

// JSONLAuditSink appends one JSON object per line. When the file would grow
// past RotateMaxBytes it is renamed with a UTC timestamp suffix and a fresh
// file is started; at most MaxBackups rotated files are kept (0 keeps all).
type JSONLAuditSink struct {
	Path           string
	RotateMaxBytes int64
	MaxBackups     int

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	size int64
}

func NewJSONLAuditSink(path string, rotateMaxBytes int64) (*JSONLAuditSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing jsonl path")
	}
	if rotateMaxBytes <= 0 {
		rotateMaxBytes = defaultRotateMaxBytes
	}
	s := &JSONLAuditSink{
		Path:           filepath.Clean(path),
		RotateMaxBytes: rotateMaxBytes,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLAuditSink) Emit(_ context.Context, e AuditEvent) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return fmt.Errorf("audit sink is closed")
	}
	if err := s.rotateIfNeededLocked(int64(len(b))); err != nil {
		return err
	}
	n, err := s.w.Write(b)
	s.size += int64(n)
	if err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLAuditSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *JSONLAuditSink) closeLocked() error {
	var err error
	if s.w != nil {
		err = s.w.Flush()
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
	}
	s.f = nil
	s.w = nil
	s.size = 0
	return err
}

func (s *JSONLAuditSink) openLocked() error {
	dir := filepath.Dir(s.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create audit dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", s.Path, err)
	}
	s.size = 0
	if st, err := f.Stat(); err == nil {
		s.size = st.Size()
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

func (s *JSONLAuditSink) rotateIfNeededLocked(addBytes int64) error {
	if s.RotateMaxBytes <= 0 || s.size == 0 || s.size+addBytes <= s.RotateMaxBytes {
		return nil
	}
	_ = s.closeLocked()

	rotated := fmt.Sprintf("%s.%s", s.Path, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.Rename(s.Path, rotated); err != nil {
		// Keep appending to the current file rather than losing events.
		return s.openLocked()
	}
	s.pruneBackupsLocked()
	return s.openLocked()
}

func (s *JSONLAuditSink) pruneBackupsLocked() {
	if s.MaxBackups <= 0 {
		return
	}
	matches, err := filepath.Glob(s.Path + ".*")
	if err != nil || len(matches) <= s.MaxBackups {
		return
	}
	// Timestamp suffixes sort chronologically.
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-s.MaxBackups] {
		_ = os.Remove(m)
	}
}
