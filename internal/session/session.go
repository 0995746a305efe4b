package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
)

var (
	// ErrNotFound is returned when a session id has never been created.
	ErrNotFound = errors.New("session not found")

	// ErrUnknownInvocation is returned when a tool result names an
	// invocation id with no tool_use block in the transcript.
	ErrUnknownInvocation = errors.New("unknown tool invocation")

	// ErrDuplicateResult is returned when an invocation already has a result.
	ErrDuplicateResult = errors.New("tool invocation already answered")

	// ErrEvicted is returned by Acquire when the session was pruned from the
	// store while the caller waited. Callers should look the id up again.
	ErrEvicted = errors.New("session evicted")
)

// State is the persisted form of a session.
type State struct {
	ID          string                       `json:"id"`
	Config      domain.SessionConfig         `json:"config"`
	Messages    []domain.Message             `json:"messages"`
	ToolResults map[string]domain.ToolResult `json:"toolResults"`
	ActiveRun   bool                         `json:"activeRun"`
	Interrupted bool                         `json:"interrupted"`
	CreatedAt   time.Time                    `json:"createdAt"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// Session is the conversational state of one agent session. Fields are
// guarded by mu; run is a one-slot semaphore held for the length of a run.
type Session struct {
	id        string
	config    domain.SessionConfig
	createdAt time.Time
	now       func() time.Time

	run chan struct{}

	mu            sync.RWMutex
	messages      []domain.Message
	toolResults   map[string]domain.ToolResult
	responses     map[string]domain.Exchange
	responseOrder []string
	activeRun     bool
	interrupted   bool
	evicted       bool
	updatedAt     time.Time
}

func newSession(id string, cfg domain.SessionConfig, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:          id,
		config:      cfg,
		createdAt:   t,
		updatedAt:   t,
		now:         now,
		run:         make(chan struct{}, 1),
		toolResults: make(map[string]domain.ToolResult),
		responses:   make(map[string]domain.Exchange),
	}
}

// fromState rebuilds a session loaded from a Persister. A session persisted
// mid-run is marked interrupted so the next run heals it.
func fromState(st State, now func() time.Time) *Session {
	s := newSession(st.ID, st.Config, now)
	s.messages = domain.CloneMessages(st.Messages)
	for id, r := range st.ToolResults {
		s.toolResults[id] = cloneResult(r)
	}
	s.interrupted = st.Interrupted || st.ActiveRun
	if !st.CreatedAt.IsZero() {
		s.createdAt = st.CreatedAt
	}
	if !st.UpdatedAt.IsZero() {
		s.updatedAt = st.UpdatedAt
	}
	return s
}

func cloneResult(r domain.ToolResult) domain.ToolResult {
	if r.Attachment != nil {
		att := r.Attachment.Clone()
		r.Attachment = &att
	}
	return r
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the session's engine options.
func (s *Session) Config() domain.SessionConfig { return s.config }

// Acquire takes the run slot, blocking until it is free or ctx ends.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.run <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	evicted := s.evicted
	s.mu.RUnlock()
	if evicted {
		<-s.run
		return ErrEvicted
	}
	return nil
}

// Release frees the run slot taken by Acquire.
func (s *Session) Release() {
	<-s.run
}

func (s *Session) tryAcquire() bool {
	select {
	case s.run <- struct{}{}:
		return true
	default:
		return false
	}
}

// Snapshot returns a deep copy of the transcript taken under the read lock.
func (s *Session) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneMessages(s.messages)
}

// ToolResult returns the recorded result for an invocation id.
func (s *Session) ToolResult(id string) (domain.ToolResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.toolResults[id]
	if !ok {
		return domain.ToolResult{}, false
	}
	return cloneResult(r), true
}

// Responses returns the kept engine exchanges, oldest first.
func (s *Session) Responses() []domain.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Exchange, 0, len(s.responseOrder))
	for _, id := range s.responseOrder {
		out = append(out, s.responses[id])
	}
	return out
}

// Active reports whether a run is marked in flight.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRun
}

// Interrupted reports whether the previous run ended abnormally.
func (s *Session) Interrupted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interrupted
}

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// State returns a copy of the session suitable for persistence.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make(map[string]domain.ToolResult, len(s.toolResults))
	for id, r := range s.toolResults {
		results[id] = cloneResult(r)
	}
	return State{
		ID:          s.id,
		Config:      s.config,
		Messages:    domain.CloneMessages(s.messages),
		ToolResults: results,
		ActiveRun:   s.activeRun,
		Interrupted: s.interrupted,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

// Update runs fn with the write lock held. Readers never observe a partially
// applied update.
func (s *Session) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(&Tx{s: s})
	s.updatedAt = s.now()
	return err
}

// Tx gives locked access to a session's state. It is only valid inside the
// Update callback that received it.
type Tx struct {
	s *Session
}

// ID returns the session id.
func (tx *Tx) ID() string { return tx.s.id }

// Messages returns the live transcript. Callers must not retain it.
func (tx *Tx) Messages() []domain.Message { return tx.s.messages }

// LastMessage returns the final transcript message.
func (tx *Tx) LastMessage() (domain.Message, bool) {
	if len(tx.s.messages) == 0 {
		return domain.Message{}, false
	}
	return tx.s.messages[len(tx.s.messages)-1], true
}

// Append adds a message to the transcript.
func (tx *Tx) Append(m domain.Message) {
	tx.s.messages = append(tx.s.messages, m.Clone())
}

// AppendBlock adds a block to the last message when it has the given role,
// otherwise starts a new message.
func (tx *Tx) AppendBlock(role domain.Role, b domain.Block) {
	b = b.Clone()
	if n := len(tx.s.messages); n > 0 && tx.s.messages[n-1].Role == role {
		tx.s.messages[n-1].Content = append(tx.s.messages[n-1].Content, b)
		return
	}
	tx.s.messages = append(tx.s.messages, domain.Message{Role: role, Content: []domain.Block{b}})
}

// ReplaceMessages swaps in an authoritative transcript.
func (tx *Tx) ReplaceMessages(msgs []domain.Message) {
	tx.s.messages = domain.CloneMessages(msgs)
}

// HasToolUse reports whether a tool_use block with id is in the transcript.
func (tx *Tx) HasToolUse(id string) bool {
	for i := len(tx.s.messages) - 1; i >= 0; i-- {
		if slices.Contains(tx.s.messages[i].ToolUseIDs(), id) {
			return true
		}
	}
	return false
}

// ToolResult returns the recorded result for id.
func (tx *Tx) ToolResult(id string) (domain.ToolResult, bool) {
	r, ok := tx.s.toolResults[id]
	return r, ok
}

// PutToolResult records the result for an invocation. The invocation must
// already appear in the transcript and must not have a result yet.
func (tx *Tx) PutToolResult(id string, r domain.ToolResult) error {
	if !tx.HasToolUse(id) {
		return fmt.Errorf("%w: %s", ErrUnknownInvocation, id)
	}
	if _, ok := tx.s.toolResults[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, id)
	}
	tx.s.toolResults[id] = cloneResult(r)
	return nil
}

// RetainImages applies the image retention policy to the transcript and to
// the recorded tool results.
func (tx *Tx) RetainImages(keep int) int {
	dropped := domain.RetainImages(tx.s.messages, keep)
	for _, id := range dropped {
		if r, ok := tx.s.toolResults[id]; ok && r.Attachment != nil {
			r.Attachment = &domain.Attachment{MediaType: r.Attachment.MediaType, Omitted: true}
			tx.s.toolResults[id] = r
		}
	}
	return len(dropped)
}

// Active reports whether a run is marked in flight.
func (tx *Tx) Active() bool { return tx.s.activeRun }

// SetActive marks the run flag.
func (tx *Tx) SetActive(v bool) { tx.s.activeRun = v }

// Interrupted reports whether the previous run ended abnormally.
func (tx *Tx) Interrupted() bool { return tx.s.interrupted }

// SetInterrupted marks or clears the interrupted flag.
func (tx *Tx) SetInterrupted(v bool) { tx.s.interrupted = v }

// AddExchange stores an engine exchange under a timestamp-derived id and
// trims the oldest entries beyond limit. A limit of zero or less keeps all.
func (tx *Tx) AddExchange(ex domain.Exchange, limit int) string {
	s := tx.s
	if ex.At.IsZero() {
		ex.At = s.now()
	}
	base := ex.At.UTC().Format(time.RFC3339Nano)
	id := base
	for i := 1; ; i++ {
		if _, taken := s.responses[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
	ex.ID = id
	s.responses[id] = ex
	s.responseOrder = append(s.responseOrder, id)

	if limit > 0 {
		for len(s.responseOrder) > limit {
			delete(s.responses, s.responseOrder[0])
			s.responseOrder = s.responseOrder[1:]
		}
	}
	return id
}
