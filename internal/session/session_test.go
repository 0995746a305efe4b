package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store := NewStore(func() domain.SessionConfig { return domain.SessionConfig{Model: "m", ImageRetention: 3} })
	sess, err := store.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	return sess
}

func userText(text string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: []domain.Block{domain.TextBlock(text)}}
}

func TestUpdate_AppendAndSnapshot(t *testing.T) {
	sess := newTestSession(t)

	require.NoError(t, sess.Update(func(tx *Tx) error {
		tx.Append(userText("find a restaurant"))
		tx.AppendBlock(domain.RoleAssistant, domain.TextBlock("looking"))
		tx.AppendBlock(domain.RoleAssistant, domain.ToolUseBlock("tu_1", "web_fetch", json.RawMessage(`{}`)))
		return nil
	}))

	snap := sess.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.RoleUser, snap[0].Role)
	assert.Equal(t, domain.RoleAssistant, snap[1].Role)
	assert.Len(t, snap[1].Content, 2)

	// snapshot is detached from session state
	snap[0].Content[0].Text = "mutated"
	assert.Equal(t, "find a restaurant", sess.Snapshot()[0].Content[0].Text)
}

func TestUpdate_ReturnsCallbackError(t *testing.T) {
	sess := newTestSession(t)
	err := sess.Update(func(tx *Tx) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPutToolResult_Validation(t *testing.T) {
	sess := newTestSession(t)

	err := sess.Update(func(tx *Tx) error {
		return tx.PutToolResult("tu_missing", domain.ToolResult{Output: "x"})
	})
	assert.ErrorIs(t, err, ErrUnknownInvocation)

	require.NoError(t, sess.Update(func(tx *Tx) error {
		tx.AppendBlock(domain.RoleAssistant, domain.ToolUseBlock("tu_1", "web_fetch", nil))
		return tx.PutToolResult("tu_1", domain.ToolResult{Output: "page"})
	}))

	err = sess.Update(func(tx *Tx) error {
		return tx.PutToolResult("tu_1", domain.ToolResult{Output: "again"})
	})
	assert.ErrorIs(t, err, ErrDuplicateResult)

	r, ok := sess.ToolResult("tu_1")
	require.True(t, ok)
	assert.Equal(t, "page", r.Output)
}

func TestRetainImages_ClearsToolResults(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Update(func(tx *Tx) error {
		for i := range 3 {
			id := fmt.Sprintf("tu_%d", i)
			res := domain.ToolResult{Output: "shot", Attachment: &domain.Attachment{MediaType: "image/png", Data: []byte{byte(i)}}}
			tx.AppendBlock(domain.RoleAssistant, domain.ToolUseBlock(id, "screenshot", nil))
			if err := tx.PutToolResult(id, res); err != nil {
				return err
			}
			tx.AppendBlock(domain.RoleUser, domain.ToolResultBlock(id, res))
		}
		assert.Equal(t, 2, tx.RetainImages(1))
		return nil
	}))

	r0, _ := sess.ToolResult("tu_0")
	assert.True(t, r0.Attachment.Omitted)
	assert.Nil(t, r0.Attachment.Data)
	r2, _ := sess.ToolResult("tu_2")
	assert.Equal(t, []byte{2}, r2.Attachment.Data)
}

func TestAddExchange_UniqueIDsAndCap(t *testing.T) {
	sess := newTestSession(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	var ids []string
	require.NoError(t, sess.Update(func(tx *Tx) error {
		for range 4 {
			ids = append(ids, tx.AddExchange(domain.Exchange{At: at, StatusCode: 200}, 3))
		}
		return nil
	}))

	assert.Equal(t, "2026-01-02T03:04:05.000000006Z", ids[0])
	assert.Equal(t, "2026-01-02T03:04:05.000000006Z-1", ids[1])
	assert.Len(t, sess.Responses(), 3)
	assert.Equal(t, ids[1], sess.Responses()[0].ID)
}

func TestAcquire_Exclusive(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sess.Acquire(ctx), context.DeadlineExceeded)

	sess.Release()
	require.NoError(t, sess.Acquire(context.Background()))
	sess.Release()
}

func TestSnapshotConsistency(t *testing.T) {
	sess := newTestSession(t)
	const writers = 4
	const turns = 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range turns {
				_ = sess.Update(func(tx *Tx) error {
					// each message is built across several appends inside one update
					tx.Append(domain.Message{Role: domain.RoleAssistant})
					for b := range 3 {
						tx.AppendBlock(domain.RoleAssistant, domain.TextBlock(fmt.Sprintf("w%d-t%d-b%d", w, i, b)))
					}
					tx.Append(userText("ack"))
					return nil
				})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := sess.Snapshot()
		for _, m := range snap {
			if m.Role == domain.RoleAssistant {
				require.Len(t, m.Content, 3, "snapshot observed a half-built message")
			}
		}
		if len(snap) > 0 {
			assert.Equal(t, domain.RoleUser, snap[len(snap)-1].Role)
		}
		select {
		case <-done:
			assert.Len(t, sess.Snapshot(), writers*turns*2)
			return
		default:
		}
	}
}

func TestState_RoundTrip(t *testing.T) {
	sess := newTestSession(t)
	require.NoError(t, sess.Update(func(tx *Tx) error {
		tx.Append(userText("hello"))
		tx.SetActive(true)
		return nil
	}))

	st := sess.State()
	assert.Equal(t, "s1", st.ID)
	assert.True(t, st.ActiveRun)
	assert.Equal(t, "m", st.Config.Model)
	require.Len(t, st.Messages, 1)

	restored := fromState(st, time.Now)
	assert.False(t, restored.Active())
	assert.True(t, restored.Interrupted(), "a session persisted mid-run is interrupted")
	assert.Equal(t, st.Messages, restored.Snapshot())
}
