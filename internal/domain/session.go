package domain

import (
	"encoding/json"
	"time"
)

// DefaultImageRetention is the number of tool-result attachments kept when a
// session config leaves ImageRetention unset.
const DefaultImageRetention = 3

// SessionConfig holds the per-session engine options. It is fixed when the
// session is created. ImageRetention 0 means DefaultImageRetention and a
// negative value keeps every attachment.
type SessionConfig struct {
	Model              string `json:"model"`
	Provider           string `json:"provider"`
	SystemPromptSuffix string `json:"systemPromptSuffix,omitempty"`
	ImageRetention     int    `json:"imageRetention"`
	MaxTokens          int    `json:"maxTokens,omitempty"`
}

// ImageLimit returns the keep argument for RetainImages.
func (c SessionConfig) ImageLimit() int {
	if c.ImageRetention == 0 {
		return DefaultImageRetention
	}
	return c.ImageRetention
}

// Exchange records one request/response round trip with the reasoning engine.
type Exchange struct {
	ID         string          `json:"id"`
	At         time.Time       `json:"at"`
	Model      string          `json:"model,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Error      string          `json:"error,omitempty"`

	Err error `json:"-"`
}
