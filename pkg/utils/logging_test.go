package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"Warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	logger.Debug("cache miss", "key", "Abbey Road_The Beatles_album")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "cache miss", record["msg"])
	assert.Equal(t, "Abbey Road_The Beatles_album", record["key"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "text", &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.False(t, strings.Contains(out, "dropped"))
	assert.True(t, strings.Contains(out, "kept"))
}

func TestNewLogger_BadFormat(t *testing.T) {
	_, err := NewLogger("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestBytes(t *testing.T) {
	n, err := ParseBytes("16MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(16*1024*1024), n)

	n, err = ParseBytes("1 MB")
	require.NoError(t, err)
	assert.Equal(t, int64(1000*1000), n)

	_, err = ParseBytes("")
	assert.Error(t, err)
	_, err = ParseBytes("lots")
	assert.Error(t, err)

	assert.Equal(t, "16 MiB", FormatBytes(16*1024*1024))
	assert.Equal(t, "512 B", FormatBytes(512))
}
