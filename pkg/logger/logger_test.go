package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/amoylab/oauthd/internal/common/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	cfg := &config.LoggerConfig{}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.Equal(t, defaultTimeFormat, cfg.TimeFormat)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "oauthd.log")
	l, err := NewLogger(&config.LoggerConfig{
		Level:    "debug",
		Format:   "console",
		Output:   "file",
		FilePath: path,
		TimeZone: "UTC",
	})
	require.NoError(t, err)

	l.Info("token issued")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "token issued")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(&config.LoggerConfig{Output: "file"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggerConfig{TimeZone: "Mars/Olympus"})
	assert.Error(t, err)
}
