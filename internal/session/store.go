// Package session holds per-session conversational state and the store that
// owns it.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/logging"
)

// Persister saves and restores sessions across process restarts.
type Persister interface {
	LoadSession(ctx context.Context, id string) (State, bool, error)
	SaveSession(ctx context.Context, st State) error
	DeleteSession(ctx context.Context, id string) error
}

// Store maps session ids to sessions. Creation is serialized by a single
// lock so concurrent first access yields one Session per id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	defaults  func() domain.SessionConfig
	persister Persister
	onEvict   func(id string)
	log       *logging.Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersister backs the store with durable storage.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

// WithEvictionHandler registers fn to be called with the id of every session
// Prune evicts. fn runs after the store lock is released.
func WithEvictionHandler(fn func(id string)) StoreOption {
	return func(s *Store) { s.onEvict = fn }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *Store) { s.log = l.Sub("session") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store. defaults is called once per new session.
func NewStore(defaults func() domain.SessionConfig, opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		defaults: defaults,
		log:      logging.New(nil, "silent"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreate returns the session for id, restoring it from the persister or
// creating it with the default config on first use.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess, err := s.restoreLocked(ctx, id)
	if err != nil || sess != nil {
		return sess, err
	}

	var cfg domain.SessionConfig
	if s.defaults != nil {
		cfg = s.defaults()
	}
	sess = newSession(id, cfg, s.now)
	s.sessions[id] = sess
	s.log.Debug().Str("sessionId", id).Str("model", cfg.Model).Msg("session created")
	return sess, nil
}

// Lookup returns the session for id, restoring it from the persister if it is
// not loaded. Unlike GetOrCreate it never creates a session.
func (s *Store) Lookup(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess, err := s.restoreLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// restoreLocked loads id from the persister into the map. It returns nil when
// there is no persister or no saved state. s.mu must be held.
func (s *Store) restoreLocked(ctx context.Context, id string) (*Session, error) {
	if s.persister == nil {
		return nil, nil
	}
	st, ok, err := s.persister.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	sess := fromState(st, s.now)
	s.sessions[id] = sess
	s.log.Debug().
		Str("sessionId", id).
		Int("messages", len(st.Messages)).
		Bool("interrupted", sess.interrupted).
		Msg("session restored")
	return sess, nil
}

// Get returns a session that is already loaded in this process.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// List returns the loaded session ids in lexical order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Save writes the session through the persister. It is a no-op without one.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveSession(ctx, sess.State()); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID(), err)
	}
	return nil
}

// Prune evicts sessions that have been idle longer than idle and are not
// running. Evicted sessions stay in the persister and are restored on the
// next GetOrCreate or Lookup. It returns the number of evicted sessions.
func (s *Store) Prune(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	evicted := s.prune(idle)
	if s.onEvict != nil {
		for _, id := range evicted {
			s.onEvict(id)
		}
	}
	return len(evicted)
}

func (s *Store) prune(idle time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	var evicted []string
	for id, sess := range s.sessions {
		if !sess.tryAcquire() {
			continue
		}
		sess.mu.Lock()
		stale := !sess.activeRun && sess.updatedAt.Before(cutoff)
		if stale {
			sess.evicted = true
		}
		sess.mu.Unlock()
		sess.Release()

		if stale {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		s.log.Info().Int("evicted", len(evicted)).Int("remaining", len(s.sessions)).Msg("pruned idle sessions")
	}
	return evicted
}

// RunPruner calls Prune every interval until ctx is cancelled.
func (s *Store) RunPruner(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(idle)
		}
	}
}
