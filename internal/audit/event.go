package audit

import (
	"context"
	"time"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Event is a single session trail entry.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message,omitempty"`
	TokenFP   string    `json:"token_fp,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which events to return.
type Filter struct {
	DeviceID string // optional: exact device ID
	Phase    string // optional: phase name (connecting, subscribed, error, ...)
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains one page of events.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for session event storage.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

func (f Filter) normalised() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
