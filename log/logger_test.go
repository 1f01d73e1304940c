/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LevelInfo)
	logger.Debug("hidden")
	logger.With(String("provider", "gemini")).Info("probe finished", Int("attempts", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "probe finished", entry["msg"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "gemini", entry["provider"])
	require.EqualValues(t, 2, entry["attempts"])
}

func TestNewLogger_FileOutputMasked(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = filepath.Join(t.TempDir(), "keyprobe.log")

	logger, closeFn := NewLogger(cfg)
	logger.Warn("rejected sk-abcdef123456", String("header", "x-api-key: topsecret"))
	closeFn()

	data, err := os.ReadFile(cfg.File.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "rejected sk-***")
	require.Contains(t, string(data), "x-api-key: ***")
	require.NotContains(t, string(data), "topsecret")
}

func TestDurationMs(t *testing.T) {
	f := DurationMs(1500 * time.Millisecond)
	require.Equal(t, "duration_ms", f.Key)
	require.Equal(t, int64(1500), f.Int)
}
