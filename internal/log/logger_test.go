package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest/internal/config"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"})
	assert.Error(t, err)
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backtest.log")
	console := filepath.Join(dir, "console.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level:            "debug",
		Encoding:         "json",
		OutputPaths:      []string{console},
		ErrorOutputPaths: []string{console},
		File:             config.FileLog{Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	logger.Debug("写入文件")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "写入文件")
	assert.Contains(t, string(data), `"level":"DEBUG"`)

	data, err = os.ReadFile(console)
	require.NoError(t, err)
	assert.Contains(t, string(data), "写入文件", "主输出与文件同时写入")
}
