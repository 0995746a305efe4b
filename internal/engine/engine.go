// Package engine runs the reasoning loop that produces assistant turns and
// executes the tools they invoke.
package engine

import (
	"context"
	"errors"

	"github.com/soyeahso/easiwork/internal/domain"
)

// ErrMaxIterations is returned when the model keeps calling tools past the
// configured iteration limit.
var ErrMaxIterations = errors.New("engine: max iterations reached")

// Engine runs one agent turn over a transcript.
type Engine interface {
	// Run samples the model until it stops calling tools and returns the
	// updated transcript. Callbacks are invoked in the order the model
	// produced content. A callback error aborts the run.
	Run(ctx context.Context, req Request, cb Callbacks) ([]domain.Message, error)
}

// Request is the input to Engine.Run.
type Request struct {
	Messages []domain.Message
	Config   domain.SessionConfig
	APIKey   string
}

// Callbacks observe a run as it progresses.
type Callbacks struct {
	// Output receives every assistant content block.
	Output func(b domain.Block) error

	// ToolOutput receives the result of each tool invocation.
	ToolOutput func(id string, r domain.ToolResult) error

	// Response receives every round trip to the provider, including
	// failed ones.
	Response func(ex domain.Exchange)
}

func (cb Callbacks) output(b domain.Block) error {
	if cb.Output == nil {
		return nil
	}
	return cb.Output(b)
}

func (cb Callbacks) toolOutput(id string, r domain.ToolResult) error {
	if cb.ToolOutput == nil {
		return nil
	}
	return cb.ToolOutput(id, r)
}

func (cb Callbacks) response(ex domain.Exchange) {
	if cb.Response != nil {
		cb.Response(ex)
	}
}
