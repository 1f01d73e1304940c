/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-keyprobe/probe"
)

// Step is the scripted result of one validation attempt.
type Step struct {
	Outcome probe.Outcome
	Err     error

	// Delay is waited before returning, it is interrupted by the context.
	Delay time.Duration

	// Block, if not nil, is waited for before returning.
	Block <-chan struct{}

	// Panic, if not nil, is raised instead of returning.
	Panic interface{}
}

// SuccessStep returns a successful step with the given reported latency.
func SuccessStep(latency time.Duration) Step {
	return Step{Outcome: probe.Outcome{Kind: probe.OutcomeSuccess, StatusCode: 200, Latency: latency}}
}

// StatusStep returns a step answering with the HTTP status code.
func StatusStep(code int, latency time.Duration) Step {
	return Step{Outcome: probe.OutcomeFromStatusCode(code, latency)}
}

// ScriptedValidator is a probe.Validator replaying scripted steps per secret.
// The last step of a script repeats, secrets without a script get the default step.
type ScriptedValidator struct {
	mu      sync.Mutex
	scripts map[string][]Step
	calls   map[string]int
	def     Step

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	total       atomic.Int32
}

var _ probe.Validator = (*ScriptedValidator)(nil)

// NewScriptedValidator creates a ScriptedValidator whose default step is def.
func NewScriptedValidator(def Step) *ScriptedValidator {
	return &ScriptedValidator{scripts: make(map[string][]Step), calls: make(map[string]int), def: def}
}

// Script sets the steps for the secret.
func (v *ScriptedValidator) Script(secret string, steps ...Step) *ScriptedValidator {
	v.mu.Lock()
	v.scripts[secret] = steps
	v.mu.Unlock()
	return v
}

// Probe implements probe.Validator.
func (v *ScriptedValidator) Probe(ctx context.Context, cred probe.Credential) (probe.Outcome, error) {
	v.mu.Lock()
	n := v.calls[cred.Secret]
	v.calls[cred.Secret] = n + 1
	step := v.def
	if steps := v.scripts[cred.Secret]; len(steps) > 0 {
		if n >= len(steps) {
			n = len(steps) - 1
		}
		step = steps[n]
	}
	v.mu.Unlock()

	v.total.Inc()
	cur := v.inFlight.Inc()
	defer v.inFlight.Dec()
	for {
		prev := v.maxInFlight.Load()
		if cur <= prev || v.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if step.Block != nil {
		<-step.Block
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return probe.Outcome{}, probe.TransientNetworkError(ctx.Err())
		case <-timer.C:
		}
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	return step.Outcome, step.Err
}

// Calls returns the number of attempts made for the secret.
func (v *ScriptedValidator) Calls(secret string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[secret]
}

// TotalCalls returns the number of attempts made for all secrets.
func (v *ScriptedValidator) TotalCalls() int {
	return int(v.total.Load())
}

// InFlight returns the number of attempts running now.
func (v *ScriptedValidator) InFlight() int {
	return int(v.inFlight.Load())
}

// MaxInFlight returns the highest number of concurrent attempts observed.
func (v *ScriptedValidator) MaxInFlight() int {
	return int(v.maxInFlight.Load())
}
