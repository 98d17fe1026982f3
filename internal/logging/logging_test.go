package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFilter(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{level: "debug", want: []string{"debug", "info", "warn", "error"}},
		{level: "info", want: []string{"info", "warn", "error"}},
		{level: "", want: []string{"info", "warn", "error"}},
		{level: "WARN", want: []string{"warn", "error"}},
		{level: "error", want: []string{"error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tt.level, "logfmt")
			require.NoError(t, err)

			level.Debug(logger).Log("msg", "d")
			level.Info(logger).Log("msg", "i")
			level.Warn(logger).Log("msg", "w")
			level.Error(logger).Log("msg", "e")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, len(tt.want))
			for i, lvl := range tt.want {
				require.Contains(t, lines[i], "level="+lvl)
				require.Contains(t, lines[i], "ts=")
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	require.NoError(t, err)
	level.Info(logger).Log("msg", "query finished", "groups", 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "query finished", entry["msg"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, float64(2), entry["groups"])
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "verbose", "logfmt")
	require.ErrorContains(t, err, "unknown log level")

	_, err = New(&bytes.Buffer{}, "info", "xml")
	require.ErrorContains(t, err, "unknown log format")
}
