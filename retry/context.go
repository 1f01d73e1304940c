/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import "context"

type ctxKey int

const (
	ctxKeyStopSignal ctxKey = iota
	ctxKeyNotify
)

// NewContextWithStopSignal returns a derived context carrying a cooperative stop signal.
// Closing the channel prevents new attempts and interrupts backoff sleeps,
// but never aborts an attempt already in flight (unlike cancelling the context).
func NewContextWithStopSignal(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, ctxKeyStopSignal, stop)
}

// GetStopSignalFromContext extracts the stop signal from the context. It returns nil if there is none.
func GetStopSignalFromContext(ctx context.Context) <-chan struct{} {
	stop, _ := ctx.Value(ctxKeyStopSignal).(<-chan struct{})
	return stop
}

// NewContextWithNotify returns a derived context carrying a callback that is invoked
// for every failed attempt that is going to be retried.
func NewContextWithNotify(ctx context.Context, notify Notify) context.Context {
	return context.WithValue(ctx, ctxKeyNotify, notify)
}

// GetNotifyFromContext extracts the retry callback from the context. It returns nil if there is none.
func GetNotifyFromContext(ctx context.Context) Notify {
	notify, _ := ctx.Value(ctxKeyNotify).(Notify)
	return notify
}

func isStopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
