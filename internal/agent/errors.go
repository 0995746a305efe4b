package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/easiwork/internal/engine"
	"github.com/soyeahso/easiwork/internal/session"
)

var (
	// ErrEmptyResult is returned when a run finishes without any text in
	// its final message.
	ErrEmptyResult = errors.New("agent: run produced no text")

	// ErrUnexpectedContentType is returned when the engine emits a block
	// that is neither text nor tool_use.
	ErrUnexpectedContentType = errors.New("agent: unexpected content type")

	// ErrSessionBusy is returned when the run slot could not be taken
	// before the caller's context ended.
	ErrSessionBusy = errors.New("agent: session busy")

	// ErrRunPanicked is returned when the engine or a callback panics.
	ErrRunPanicked = errors.New("agent: run panicked")

	// ErrUnknownInvocation is returned when a tool result names an
	// invocation that is not in the transcript.
	ErrUnknownInvocation = session.ErrUnknownInvocation
)

// FormatErrorRecord renders an engine error as the markdown body stored in an
// error_<ts>.md record.
func FormatErrorRecord(err error) string {
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) && apiErr.IsRateLimit() {
		var b strings.Builder
		b.WriteString("You have been rate limited.")
		if apiErr.RetryAfter > 0 {
			fmt.Fprintf(&b, " Retry after %s (HH:MM:SS).", clock(apiErr.RetryAfter))
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		b.WriteString("\n\n")
		b.WriteString(msg)
		return b.String()
	}

	var b strings.Builder
	b.WriteString(err.Error())
	if chain := causes(err); len(chain) > 1 {
		b.WriteString("\n\n**Causes:**\n")
		for _, c := range chain {
			fmt.Fprintf(&b, "\n- %T: %s", c, c.Error())
		}
	}
	return b.String()
}

// clock formats d as H:MM:SS.
func clock(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func causes(err error) []error {
	var out []error
	for err != nil {
		out = append(out, err)
		err = errors.Unwrap(err)
	}
	return out
}
