package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// JSONLSubscriber appends events as newline-delimited JSON. Types, when
// non-empty, restricts which events are written.
type JSONLSubscriber struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	w     *bufio.Writer
	Types map[Type]bool
}

// NewJSONL returns nil for a blank path; a nil subscriber drops events.
func NewJSONL(path string) *JSONLSubscriber {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &JSONLSubscriber{path: path}
}

func (s *JSONLSubscriber) Handle(e Event) {
	if s == nil {
		return
	}
	if len(s.Types) > 0 && !s.Types[e.Type] {
		return
	}
	if err := s.write(e); err != nil {
		logrus.WithField("path", s.path).Warnf("⚠️  event log write failed: %v", err)
	}
}

func (s *JSONLSubscriber) write(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		s.file = f
		s.w = bufio.NewWriterSize(f, 64*1024)
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLSubscriber) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.w != nil {
		firstErr = s.w.Flush()
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.w, s.file = nil, nil
	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
