package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		env        string
		wantJSON   bool
	}{
		{name: "console output", jsonOutput: false, wantJSON: false},
		{name: "json output", jsonOutput: true, wantJSON: true},
		{name: "production env forces json", jsonOutput: false, env: "production", wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.env)
			t.Setenv("DAILYIX_LOG_FORMAT", "")

			require.NoError(t, Initialize(tt.jsonOutput, VerbosityInfo))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.wantJSON, JSONOutput)

			Logger = zap.NewNop().Sugar()
			JSONOutput = false
		})
	}
}

func TestLogFormatEnvForcesJSON(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DAILYIX_LOG_FORMAT", "JSON")

	assert.True(t, isProductionEnvironment())
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))

	assert.Equal(t, "Info (-v)", LevelName(1))
	assert.Equal(t, "Debug (-vv)", LevelName(3))
}

func TestFromContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-123")
	ctx = WithComponent(ctx, "ixgest.dailies")

	FromContext(ctx, base).Infow("Import started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-123", fields[FieldJobID])
	assert.Equal(t, "ixgest.dailies", fields[FieldComponent])
}

func TestFromContextWithoutFieldsReturnsBase(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestWrappersTolerateNopLogger(t *testing.T) {
	Logger = zap.NewNop().Sugar()

	assert.NotPanics(t, func() {
		Infow("info", "k", "v")
		Warnw("warn", "k", "v")
		Errorw("error", "k", "v")
		Debugw("debug", "k", "v")
		Cleanup()
	})
}
