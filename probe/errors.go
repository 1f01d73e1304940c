/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors of the failure taxonomy.
var (
	ErrTerminalAuth     = errors.New("authentication failed")
	ErrTerminalNotFound = errors.New("resource not found")
	ErrRateLimit        = errors.New("rate limited")
	ErrTransientServer  = errors.New("transient server error")
	ErrTransientNetwork = errors.New("transient network error")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrMergeExpired     = errors.New("merge group expired")
	ErrCancelled        = errors.New("cancelled")
	ErrUnknown          = errors.New("unclassified failure")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// Class is an error classification tag.
type Class string

// Error classes.
const (
	ClassNone         Class = ""
	ClassAuth         Class = "auth"
	ClassNotFound     Class = "notFound"
	ClassRateLimit    Class = "rateLimit"
	ClassServer       Class = "server"
	ClassNetwork      Class = "network"
	ClassCircuitOpen  Class = "circuitOpen"
	ClassMergeExpired Class = "mergeExpired"
	ClassCancelled    Class = "cancelled"
	ClassUnknown      Class = "unknown"
)

// StatusError is a failure with an explicit status code and classification.
// Validators should return it (or an Outcome with a status code) so that no text parsing is needed.
type StatusError struct {
	Code  int
	Class Class
	Err   error
}

// NewStatusError creates a StatusError for an HTTP status code.
func NewStatusError(code int, msg string) *StatusError {
	class := ClassForCode(code)
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &StatusError{Code: code, Class: class, Err: fmt.Errorf("%w: %s", sentinelForClass(class), msg)}
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("HTTP %d: %v", e.Code, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// TransientNetworkError wraps a connect, timeout or DNS failure.
func TransientNetworkError(err error) error {
	return &StatusError{Class: ClassNetwork, Err: fmt.Errorf("%w: %w", ErrTransientNetwork, err)}
}

// CircuitOpenError is returned without attempting a call while the provider breaker is open.
func CircuitOpenError(provider string) error {
	return &StatusError{Class: ClassCircuitOpen, Err: fmt.Errorf("%w for provider %q", ErrCircuitOpen, provider)}
}

// MergeExpiredError rejects the waiters of a coalesced call that never settled.
func MergeExpiredError(key string) error {
	return &StatusError{Class: ClassMergeExpired, Err: fmt.Errorf("%w: %s", ErrMergeExpired, key)}
}

// ClassForCode maps an HTTP status code to a class.
func ClassForCode(code int) Class {
	switch {
	case code == 0:
		return ClassNone
	case code >= 200 && code < 300:
		return ClassNone
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code >= 500 && code < 600:
		return ClassServer
	}
	return ClassUnknown
}

func sentinelForClass(class Class) error {
	switch class {
	case ClassAuth:
		return ErrTerminalAuth
	case ClassNotFound:
		return ErrTerminalNotFound
	case ClassRateLimit:
		return ErrRateLimit
	case ClassServer:
		return ErrTransientServer
	case ClassNetwork:
		return ErrTransientNetwork
	case ClassCircuitOpen:
		return ErrCircuitOpen
	case ClassMergeExpired:
		return ErrMergeExpired
	case ClassCancelled:
		return ErrCancelled
	}
	return ErrUnknown
}

// Classification is the result of Classify.
type Classification struct {
	Code  int
	Class Class
}

// Classify extracts a status code and a class from err.
// The structured path (StatusError, sentinels, net errors) is tried first;
// parsing the error text is only a fallback for validators that return plain errors.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if c, ok := classifyStructured(err); ok {
		return c
	}
	return classifyText(err.Error())
}

func classifyStructured(err error) (Classification, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		class := statusErr.Class
		if class == ClassNone {
			class = ClassForCode(statusErr.Code)
		}
		return Classification{Code: statusErr.Code, Class: class}, true
	}

	sentinels := []struct {
		err   error
		class Class
	}{
		{ErrTerminalAuth, ClassAuth},
		{ErrTerminalNotFound, ClassNotFound},
		{ErrRateLimit, ClassRateLimit},
		{ErrTransientServer, ClassServer},
		{ErrTransientNetwork, ClassNetwork},
		{ErrCircuitOpen, ClassCircuitOpen},
		{ErrMergeExpired, ClassMergeExpired},
		{ErrCancelled, ClassCancelled},
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return Classification{Class: s.class}, true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassNetwork}, true
	}
	var netErr net.Error // includes *net.DNSError and *net.OpError
	if errors.As(err, &netErr) {
		return Classification{Class: ClassNetwork}, true
	}
	return Classification{}, false
}

var (
	httpCodeRe     = regexp.MustCompile(`(?i)\bHTTP[ /:]*(\d{3})\b`)
	trailingCodeRe = regexp.MustCompile(`\b(\d{3})\s*$`)
)

var networkHints = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
	"tls handshake",
	"dns",
}

// ParseStatusCode finds a status code in an error message: either "HTTP nnn" or a trailing 3-digit number.
// It returns 0 if there is none.
func ParseStatusCode(msg string) int {
	for _, re := range []*regexp.Regexp{httpCodeRe, trailingCodeRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			code, err := strconv.Atoi(m[1])
			if err == nil && code >= 100 && code < 600 {
				return code
			}
		}
	}
	return 0
}

func classifyText(msg string) Classification {
	if code := ParseStatusCode(msg); code != 0 {
		return Classification{Code: code, Class: ClassForCode(code)}
	}
	lower := strings.ToLower(msg)
	for _, hint := range networkHints {
		if strings.Contains(lower, hint) {
			return Classification{Class: ClassNetwork}
		}
	}
	return Classification{Class: ClassUnknown}
}

// IsNetworkError reports whether err is classified as a transient network failure.
func IsNetworkError(err error) bool {
	return Classify(err).Class == ClassNetwork
}
