/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stretchr/testify/require"
)

type tHelper interface {
	Helper()
}

func markHelper(t require.TestingT) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
}

// RequireNoErrorInChannel fails if the buffered channel already holds a non-nil error.
// It never blocks, so it fits fatal error channels of service units that are still running.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	markHelper(t)
	select {
	case err := <-c:
		require.NoError(t, err, msgAndArgs...)
	default:
	}
}

// RequireErrorIsAny fails unless errors.Is(err, target) holds for one of targets.
// The failure message shows the whole error tree, including errors joined with errors.Join.
func RequireErrorIsAny(t require.TestingT, err error, targets []error, msgAndArgs ...interface{}) {
	markHelper(t)
	quoted := make([]string, 0, len(targets))
	for _, target := range targets {
		if errors.Is(err, target) {
			return
		}
		quoted = append(quoted, fmt.Sprintf("%q", target.Error()))
	}
	require.FailNow(t, fmt.Sprintf("None of the target errors is in the error tree:\n"+
		"targets: [%s]\n"+
		"tree:\n%s", strings.Join(quoted, "; "), formatErrorTree(err)), msgAndArgs...)
}

func formatErrorTree(err error) string {
	var sb strings.Builder
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		if e == nil {
			return
		}
		fmt.Fprintf(&sb, "%s%q\n", strings.Repeat("\t", depth+1), e.Error())
		switch u := e.(type) { //nolint:errorlint // walking the tree by hand
		case interface{ Unwrap() []error }:
			for _, child := range u.Unwrap() {
				walk(child, depth+1)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap(), depth+1)
		}
	}
	walk(err, 0)
	if sb.Len() == 0 {
		return "\t<nil>"
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
