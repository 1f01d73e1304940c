/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/log/logtest"
)

func TestMaskingLogger(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks, log.DefaultSecretPrefixes))

	requireSingleEntry := func(wantText string, wantLevel log.Level, wantFields ...log.Field) {
		t.Helper()
		entries := recorder.Entries()
		require.Len(t, entries, 1)
		require.Equal(t, wantText, entries[0].Text)
		require.Equal(t, wantLevel, entries[0].Level)
		require.ElementsMatch(t, wantFields, entries[0].Fields)
		recorder.Reset()
	}

	logger.Error("probe sk-abcd1234", log.String("url", "/models?key=zzz"), log.Error(errors.New("bad key sk-qwerty99")))
	requireSingleEntry("probe sk-***", log.LevelError,
		log.String("url", "/models?key=***"), log.Error(errors.New("bad key sk-***")))

	logger.Warn("x-api-key: abc", log.Strings("headers", []string{"Authorization: Bearer t0ken", "Accept: */*"}))
	requireSingleEntry("x-api-key: ***", log.LevelWarn,
		log.Strings("headers", []string{"Authorization: ***", "Accept: */*"}))

	logger.Infof("credential %s is valid", "AIzaSyABCDEF")
	requireSingleEntry("credential AIza*** is valid", log.LevelInfo)

	logger.Debug("nothing secret", log.Int("attempt", 3))
	requireSingleEntry("nothing secret", log.LevelDebug, log.Int("attempt", 3))

	logger.With(log.String("secret", "sk-ant-api03-abcdef")).Info("with fields")
	entry, found := recorder.FindEntry("with fields")
	require.True(t, found)
	require.Equal(t, "sk-ant-***", entry.StringField("secret"))
	recorder.Reset()

	logger.AtLevel(log.LevelWarn, func(logFunc log.LogFunc) {
		logFunc("at level sk-abcdefgh")
	})
	requireSingleEntry("at level sk-***", log.LevelWarn)
}

type verboseError struct{ msg string }

func (e verboseError) Error() string { return e.msg }

func (e verboseError) Format(f fmt.State, _ rune) { _, _ = fmt.Fprintf(f, "%s (verbose)", e.msg) }

func TestMaskingLogger_VerboseError(t *testing.T) {
	recorder := logtest.NewRecorder()
	logger := log.NewMaskingLogger(recorder, log.NewMasker(nil, []string{"sk-"}))

	logger.Error("failed", log.Error(verboseError{"token sk-12345678"}))
	entry, found := recorder.FindEntry("failed")
	require.True(t, found)
	field, found := entry.FindField("error")
	require.True(t, found)
	err := field.Any.(error)
	require.Equal(t, "token sk-***", err.Error())
	require.Equal(t, "token sk-*** (verbose)", fmt.Sprintf("%+v", err))
}
