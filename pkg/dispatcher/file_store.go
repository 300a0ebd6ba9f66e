package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/dmitrymomot/flagkit/pkg/event"
)

// FileStore persists the queue as a JSON file so events queued before a
// crash or shutdown are retried on the next run. The whole queue is held in
// memory and rewritten on every mutation; queues are bounded (see the
// dispatcher's max queue size) so this stays cheap.
type FileStore struct {
	mu    sync.Mutex
	path  string
	items []event.EventForDispatch
}

// NewFileStore opens or creates a file-backed queue at path, loading any
// previously persisted events.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("open event queue file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, fmt.Errorf("decode event queue file: %w", err)
	}
	return s, nil
}

// persist writes the queue atomically via a temp-file rename. Callers hold
// the mutex.
func (s *FileStore) persist() error {
	data, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("encode event queue: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write event queue file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace event queue file: %w", err)
	}
	return nil
}

func (s *FileStore) Save(_ context.Context, item event.EventForDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	if err := s.persist(); err != nil {
		// Leave prior state unchanged on a failed write.
		s.items = s.items[:len(s.items)-1]
		return err
	}
	return nil
}

func (s *FileStore) GetFirstItems(_ context.Context, count int) ([]event.EventForDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > len(s.items) {
		count = len(s.items)
	}
	out := make([]event.EventForDispatch, count)
	copy(out, s.items[:count])
	return out, nil
}

func (s *FileStore) RemoveFirstItems(_ context.Context, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > len(s.items) {
		count = len(s.items)
	}
	removed := s.items[:count]
	s.items = s.items[count:]
	if err := s.persist(); err != nil {
		s.items = append(removed, s.items...)
		return err
	}
	return nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}
