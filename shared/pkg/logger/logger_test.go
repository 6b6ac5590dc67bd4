package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		l, err := New(env, "gateway")
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}
}

func TestPackageHelpersUseGlobal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(nil) })

	Info("queued", zap.String("notification_id", "n-1"))
	Warn("slow")
	Error("boom")

	require.Equal(t, 3, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "queued", first.Message)
	assert.Equal(t, "n-1", first.ContextMap()["notification_id"])
}

func TestSetGlobalNil(t *testing.T) {
	SetGlobal(nil)
	assert.NotPanics(t, func() { Info("dropped") })
}
