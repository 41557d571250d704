package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajy121650/mailer-back/internal/model"
)

func TestNew_Levels(t *testing.T) {
	logger, err := New(model.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, err = New(model.LogConfig{Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = New(model.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestForAccount(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ForAccount(zap.New(core), model.Account{ID: "acc-1", Address: "me@example.com"}).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "acc-1", fields["account_id"])
	assert.Equal(t, "me@example.com", fields["address"])
}

func TestDetached(t *testing.T) {
	logger, err := Detached(model.LogConfig{})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))

	path := filepath.Join(t.TempDir(), "watch.log")
	logger, err = Detached(model.LogConfig{Level: "info", File: path})
	require.NoError(t, err)
	logger.Info("sync finished", zap.String("account_id", "acc-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync finished")
	assert.Contains(t, string(data), "acc-1")
}
