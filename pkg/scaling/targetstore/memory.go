package targetstore

import (
	"context"
	"sync"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu       sync.Mutex
	targets  map[string]int
	watchers map[string]map[chan int]struct{}
	closed   bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:  make(map[string]int),
		watchers: make(map[string]map[chan int]struct{}),
	}
}

func (s *MemoryStore) Target(_ context.Context, app string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, gberrors.ErrClosed
	}
	n, ok := s.targets[app]
	return n, ok, nil
}

func (s *MemoryStore) SetTarget(_ context.Context, app string, n int) error {
	if err := validate(app, n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gberrors.ErrClosed
	}
	s.targets[app] = n
	for ch := range s.watchers[app] {
		// keep only the latest value for slow watchers
		select {
		case <-ch:
		default:
		}
		ch <- n
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, app string) (<-chan int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, gberrors.ErrClosed
	}
	ch := make(chan int, 1)
	if s.watchers[app] == nil {
		s.watchers[app] = make(map[chan int]struct{})
	}
	s.watchers[app][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[app][ch]; ok {
			delete(s.watchers[app], ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close closes every watch channel. Watch goroutines exit when their
// contexts end.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, set := range s.watchers {
		for ch := range set {
			close(ch)
		}
	}
	s.watchers = make(map[string]map[chan int]struct{})
	return nil
}
