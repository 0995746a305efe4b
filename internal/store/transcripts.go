package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/session"
)

// TranscriptStore persists session transcripts and the engine exchange audit
// trail. It satisfies session.Persister and agent.ExchangeRecorder.
type TranscriptStore struct {
	db *DB
}

// NewTranscriptStore creates a transcript store using the given database.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// LoadSession returns the saved state of a session. The bool is false when
// no row exists.
func (s *TranscriptStore) LoadSession(ctx context.Context, id string) (session.State, bool, error) {
	var (
		st                   session.State
		cfg, msgs, results   string
		active, interrupted  bool
		createdAt, updatedAt string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, config, messages, tool_results, active_run, interrupted, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&st.ID, &cfg, &msgs, &results, &active, &interrupted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, false, nil
	}
	if err != nil {
		return session.State{}, false, fmt.Errorf("loading session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(cfg), &st.Config); err != nil {
		return session.State{}, false, fmt.Errorf("decoding config of session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(msgs), &st.Messages); err != nil {
		return session.State{}, false, fmt.Errorf("decoding messages of session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(results), &st.ToolResults); err != nil {
		return session.State{}, false, fmt.Errorf("decoding tool results of session %s: %w", id, err)
	}
	st.ActiveRun = active
	st.Interrupted = interrupted
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return st, true, nil
}

// SaveSession inserts or replaces the stored state of a session.
func (s *TranscriptStore) SaveSession(ctx context.Context, st session.State) error {
	cfg, err := json.Marshal(st.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	msgs := st.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	msgsJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	results := st.ToolResults
	if results == nil {
		results = map[string]domain.ToolResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding tool results: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, config, messages, tool_results, active_run, interrupted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			config = excluded.config,
			messages = excluded.messages,
			tool_results = excluded.tool_results,
			active_run = excluded.active_run,
			interrupted = excluded.interrupted,
			updated_at = excluded.updated_at`,
		st.ID, string(cfg), string(msgsJSON), string(resultsJSON), st.ActiveRun, st.Interrupted,
		st.CreatedAt.UTC().Format(time.RFC3339Nano), st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", st.ID, err)
	}
	return nil
}

// DeleteSession removes a session and its exchanges.
func (s *TranscriptStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// SessionIDs lists stored sessions, most recently updated first.
func (s *TranscriptStore) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, "SELECT id FROM sessions ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordExchange appends an engine round trip to the session's audit trail.
func (s *TranscriptStore) RecordExchange(ctx context.Context, sessionID string, ex domain.Exchange) error {
	at := ex.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO exchanges (id, session_id, at, model, status_code, request, response, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, sessionID, at.UTC().Format(time.RFC3339Nano), ex.Model, ex.StatusCode,
		nullableJSON(ex.Request), nullableJSON(ex.Response), ex.Error,
	)
	if err != nil {
		return fmt.Errorf("recording exchange %s: %w", ex.ID, err)
	}
	return nil
}

// Exchanges returns up to limit of the most recent exchanges of a session,
// oldest first. A limit of zero or less returns all of them.
func (s *TranscriptStore) Exchanges(ctx context.Context, sessionID string, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, at, model, status_code, request, response, error FROM (
			SELECT seq, id, at, model, status_code, request, response, error
			FROM exchanges WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		var (
			ex        domain.Exchange
			at        string
			req, resp sql.NullString
		)
		if err := rows.Scan(&ex.ID, &at, &ex.Model, &ex.StatusCode, &req, &resp, &ex.Error); err != nil {
			return nil, err
		}
		ex.At, _ = time.Parse(time.RFC3339Nano, at)
		if req.Valid {
			ex.Request = json.RawMessage(req.String)
		}
		if resp.Valid {
			ex.Response = json.RawMessage(resp.String)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
