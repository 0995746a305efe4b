package engine

import (
	"context"

	"github.com/soyeahso/easiwork/internal/domain"
)

// Mock is a test double for Engine. Without RunFunc it answers every run with
// a single assistant text block.
type Mock struct {
	RunFunc func(ctx context.Context, req Request, cb Callbacks) ([]domain.Message, error)
}

func (m *Mock) Run(ctx context.Context, req Request, cb Callbacks) ([]domain.Message, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req, cb)
	}
	reply := domain.TextBlock("mock response")
	if err := cb.output(reply); err != nil {
		return nil, err
	}
	msgs := domain.CloneMessages(req.Messages)
	return append(msgs, domain.Message{Role: domain.RoleAssistant, Content: []domain.Block{reply}}), nil
}
