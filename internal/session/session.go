// internal/session/session.go
package session

import (
	"context"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// State is the conversational state of one user.
type State struct {
	// AwaitingFix is armed by the fix command and consumed by the very
	// next text message from the user, whatever it says.
	AwaitingFix bool
	Paused      bool
}

// Store keeps per-user session state.
type Store interface {
	ArmFix(ctx context.Context, userID string) error
	// ConsumeFix clears the fix latch and reports whether it was armed.
	ConsumeFix(ctx context.Context, userID string) (bool, error)
	SetPaused(ctx context.Context, userID string, paused bool) error
	Get(ctx context.Context, userID string) (State, error)
}

type entry struct {
	mu    sync.Mutex
	state State
}

// MemoryStore keeps session state in process memory.
type MemoryStore struct {
	users cmap.ConcurrentMap[string, *entry]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: cmap.New[*entry]()}
}

func (s *MemoryStore) entry(userID string) *entry {
	return s.users.Upsert(userID, nil, func(exist bool, current, _ *entry) *entry {
		if exist {
			return current
		}
		return &entry{}
	})
}

func (s *MemoryStore) ArmFix(_ context.Context, userID string) error {
	e := s.entry(userID)
	e.mu.Lock()
	e.state.AwaitingFix = true
	e.mu.Unlock()
	return nil
}

func (s *MemoryStore) ConsumeFix(_ context.Context, userID string) (bool, error) {
	e, ok := s.users.Get(userID)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	armed := e.state.AwaitingFix
	e.state.AwaitingFix = false
	return armed, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, userID string, paused bool) error {
	e := s.entry(userID)
	e.mu.Lock()
	e.state.Paused = paused
	e.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (State, error) {
	e, ok := s.users.Get(userID)
	if !ok {
		return State{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}
