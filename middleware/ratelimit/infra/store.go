package infra

import (
	"sync"
	"time"

	"patient-portal/middleware/ratelimit/domain"
)

// WindowStore é o domain.WindowStore em memória.
//
// Um mutex protege a tabela inteira; Hit é O(1) e nunca faz I/O. Entradas
// saem quando a janela terminou há mais de expiredWindows janelas, seja na
// varredura a cada sweepEvery hits, seja via Cleanup/StartJanitor.
type WindowStore struct {
	mu             sync.Mutex
	entries        map[entryKey]*storeEntry
	hits           int
	sweepEvery     int
	expiredWindows int
	cleanupEvery   time.Duration
}

type entryKey struct {
	key      domain.Key
	category domain.Category
}

type storeEntry struct {
	state  domain.WindowState
	window time.Duration
}

type StoreOption func(*WindowStore)

// WithSweepEvery define quantos hits passam entre varreduras.
// Zero desliga a varredura no acesso.
func WithSweepEvery(n int) StoreOption {
	return func(s *WindowStore) { s.sweepEvery = n }
}

func WithExpiredWindows(k int) StoreOption {
	return func(s *WindowStore) { s.expiredWindows = k }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

func NewWindowStore(opts ...StoreOption) *WindowStore {
	s := &WindowStore{
		entries:        make(map[entryKey]*storeEntry),
		sweepEvery:     1024,
		expiredWindows: 2,
		cleanupEvery:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.expiredWindows < 0 {
		s.expiredWindows = 0
	}
	return s
}

func (s *WindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Hit implementa domain.WindowStore.
func (s *WindowStore) Hit(key domain.Key, category domain.Category, window time.Duration, now time.Time) domain.WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits++
	if s.sweepEvery > 0 && s.hits%s.sweepEvery == 0 {
		s.sweep(now)
	}

	ek := entryKey{key: key, category: category}
	ent, ok := s.entries[ek]
	if !ok {
		ent = &storeEntry{state: domain.WindowState{Start: now}}
		s.entries[ek] = ent
	}
	ent.window = window

	if now.Sub(ent.state.Start) >= window {
		ent.state.Start = now
		ent.state.Count = 0
	}
	ent.state.Count++
	ent.state.LastSeen = now

	return ent.state
}

// Cleanup remove entradas expiradas e devolve quantas saíram.
func (s *WindowStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(now)
}

func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *WindowStore) sweep(now time.Time) int {
	removed := 0
	for k, ent := range s.entries {
		ttl := ent.window * time.Duration(1+s.expiredWindows)
		if now.Sub(ent.state.Start) >= ttl {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor roda Cleanup a cada cleanupEvery até o ctx encerrar.
func (s *WindowStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}

// DoneContext é a parte de context.Context que o janitor usa.
type DoneContext interface {
	Done() <-chan struct{}
}
