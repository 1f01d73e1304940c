/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import "time"

// StatusEvent is emitted on every status transition of a credential.
type StatusEvent struct {
	TaskID   string
	Status   Status
	Attempts int
	Metadata map[string]string
	Time     time.Time
}

// Stages reported in LogEvent.
const (
	StagePrimary = "primary"
	StagePremium = "premium"
)

// LogEvent describes a single finished attempt.
type LogEvent struct {
	TaskID  string
	Stage   string
	Attempt int
	Elapsed time.Duration
	Status  Status
	Err     error
}

// Reporter observes the progress of a run. Implementations must be safe for concurrent use
// and should return quickly: they are called from the pipelines.
type Reporter interface {
	OnStatus(StatusEvent)
	OnLogEvent(LogEvent)
}

// ReporterFuncs implements Reporter with optional callbacks.
type ReporterFuncs struct {
	Status func(StatusEvent)
	Log    func(LogEvent)
}

// OnStatus implements Reporter.
func (r ReporterFuncs) OnStatus(e StatusEvent) {
	if r.Status != nil {
		r.Status(e)
	}
}

// OnLogEvent implements Reporter.
func (r ReporterFuncs) OnLogEvent(e LogEvent) {
	if r.Log != nil {
		r.Log(e)
	}
}
