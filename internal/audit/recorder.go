package audit

import (
	"context"
	"time"

	"github.com/nerrad567/devicelive/internal/livechannel"
)

// writeTimeout bounds one insert so a locked database cannot stall the
// watch stream indefinitely.
const writeTimeout = 5 * time.Second

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Recorder turns channel state snapshots into session events.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Run records every change of (session, phase, attempt) seen on states
// until the stream closes or ctx is done. Reading updates within a phase
// are not recorded. Storage errors are logged and skipped.
func (r *Recorder) Run(ctx context.Context, states <-chan livechannel.State) {
	var prev livechannel.State
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if !changed(prev, st) {
				continue
			}
			r.record(ctx, eventFor(prev, st))
			prev = st
		}
	}
}

func (r *Recorder) record(ctx context.Context, event *Event) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, event); err != nil {
		if r.logger != nil {
			r.logger.Warn("recording session event failed",
				"session_id", event.SessionID,
				"phase", event.Phase,
				"error", err,
			)
		}
		return
	}
	if r.logger != nil {
		r.logger.Debug("session event recorded",
			"id", event.ID,
			"session_id", event.SessionID,
			"phase", event.Phase,
		)
	}
}

func changed(prev, st livechannel.State) bool {
	return prev.SessionID != st.SessionID ||
		prev.Phase != st.Phase ||
		prev.Attempt != st.Attempt
}

// eventFor builds the trail entry for st. A return to idle is attributed
// to the session that just ended.
func eventFor(prev, st livechannel.State) *Event {
	e := &Event{
		SessionID: st.SessionID,
		DeviceID:  st.DeviceID,
		Phase:     st.Phase.String(),
		Message:   st.ErrorMessage,
		TokenFP:   st.TokenFP,
		Attempt:   st.Attempt,
		CreatedAt: st.UpdatedAt,
	}
	if st.Phase == livechannel.PhaseIdle && st.SessionID == "" && prev.SessionID != "" {
		e.SessionID = prev.SessionID
		e.DeviceID = prev.DeviceID
		e.TokenFP = prev.TokenFP
		e.Message = "session ended"
	}
	return e
}
