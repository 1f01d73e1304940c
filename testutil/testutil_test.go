/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import "fmt"

// MockT records the failure reported by a require helper instead of stopping the test.
type MockT struct {
	Failed  bool
	Message string
}

func (t *MockT) FailNow() {
	t.Failed = true
}

func (t *MockT) Errorf(format string, args ...interface{}) {
	t.Message = fmt.Sprintf(format, args...)
}
