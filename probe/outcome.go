/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"fmt"
	"time"
)

// OutcomeKind is the coarse result of a single attempt.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeRetryableError
	OutcomeTerminalError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rateLimited"
	case OutcomeRetryableError:
		return "retryableError"
	case OutcomeTerminalError:
		return "terminalError"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the immutable result of one attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Latency    time.Duration
	Class      Class
	Message    string
}

// Succeeded reports whether the attempt succeeded.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Err converts a failed Outcome into an error of the taxonomy. It returns nil for a successful Outcome.
func (o Outcome) Err() error {
	if o.Kind == OutcomeSuccess {
		return nil
	}
	msg := o.Message
	if msg == "" {
		msg = o.Kind.String()
	}
	if o.StatusCode != 0 {
		return NewStatusError(o.StatusCode, msg)
	}
	class := o.Class
	if class == "" {
		switch o.Kind {
		case OutcomeRateLimited:
			class = ClassRateLimit
		case OutcomeRetryableError:
			class = ClassServer
		default:
			class = ClassUnknown
		}
	}
	return &StatusError{Class: class, Err: fmt.Errorf("%w: %s", sentinelForClass(class), msg)}
}

// OutcomeFromStatusCode maps an HTTP status code to an Outcome kind and class:
// 2xx is a success, 429 is rate limiting, 5xx is retryable and any other code is terminal.
func OutcomeFromStatusCode(code int, latency time.Duration) Outcome {
	o := Outcome{StatusCode: code, Latency: latency, Class: ClassForCode(code)}
	switch {
	case code >= 200 && code < 300:
		o.Kind = OutcomeSuccess
	case code == 429:
		o.Kind = OutcomeRateLimited
	case code >= 500:
		o.Kind = OutcomeRetryableError
	default:
		o.Kind = OutcomeTerminalError
	}
	return o
}

// Status is the lifecycle status of a credential.
type Status string

// Credential statuses.
const (
	StatusPending     Status = "pending"
	StatusTesting     Status = "testing"
	StatusRetrying    Status = "retrying"
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
	StatusRateLimited Status = "rateLimited"
	StatusPaid        Status = "paid"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether the status ends a credential's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusRateLimited, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Tier values reported in TaskResult.Tier.
const (
	TierFree    = "free"
	TierPaid    = "paid"
	TierUnknown = "unknown"
)

// TaskResult is the terminal result of a Task.
type TaskResult struct {
	TaskID     string        `json:"taskId" yaml:"taskId"`
	Credential string        `json:"credential" yaml:"credential"`
	Provider   string        `json:"provider" yaml:"provider"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Status     Status        `json:"status" yaml:"status"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	Class      Class         `json:"class,omitempty" yaml:"class,omitempty"`
	StatusCode int           `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Latency    time.Duration `json:"latency" yaml:"latency"`
	Tier       string        `json:"tier,omitempty" yaml:"tier,omitempty"`
}
