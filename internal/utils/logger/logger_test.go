package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"edusync/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		debugOn    bool
		infoOn     bool
		wantPretty bool
	}{
		{name: "local environment", env: config.EnvLocal, debugOn: true, infoOn: true, wantPretty: true},
		{name: "dev environment", env: config.EnvDev, debugOn: true, infoOn: true},
		{name: "prod environment", env: config.EnvProd, debugOn: false, infoOn: true},
		{name: "unknown environment", env: "staging", debugOn: false, infoOn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.env)
			require.NotNil(t, log)

			ctx := context.Background()
			assert.Equal(t, tt.debugOn, log.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, log.Enabled(ctx, slog.LevelInfo))

			_, pretty := log.Handler().(*PrettyHandler)
			assert.Equal(t, tt.wantPretty, pretty)
		})
	}
}

func TestWithLevel(t *testing.T) {
	ctx := context.Background()

	// Явный уровень перекрывает уровень окружения
	log := WithLevel(config.EnvProd, "debug")
	assert.True(t, log.Enabled(ctx, slog.LevelDebug))

	log = WithLevel(config.EnvDev, "error")
	assert.False(t, log.Enabled(ctx, slog.LevelWarn))

	// Мусор в уровне - берем уровень окружения
	log = WithLevel(config.EnvProd, "loud")
	assert.False(t, log.Enabled(ctx, slog.LevelDebug))
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}
	log := slog.New(opts.NewPrettyHandler(&buf)).With("component", "test")

	log.Info("row synced", "id", 42, "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "row synced")
	assert.Contains(t, out, `"component": "test"`)
	assert.Contains(t, out, `"id": 42`)
	assert.Contains(t, out, `"error": "boom"`)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
