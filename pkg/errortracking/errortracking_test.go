package errortracking

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TopicSpec/pkg/config"
)

func TestNoOpProvider(t *testing.T) {
	provider := NewNoOpProvider()

	t.Run("CaptureError", func(t *testing.T) {
		provider.CaptureError(context.Background(), errors.New("connect refused"), SeverityError, nil)
	})

	t.Run("CaptureMessage", func(t *testing.T) {
		provider.CaptureMessage(context.Background(), "reconnect attempts exhausted", SeverityWarning, nil)
	})

	t.Run("CapturePanic", func(t *testing.T) {
		provider.CapturePanic(context.Background(), "panic!", []byte("stack trace"), nil)
	})

	t.Run("Flush", func(t *testing.T) {
		assert.True(t, provider.Flush(5))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, provider.Close())
	})
}

func TestConvertSeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		expected sentry.Level
	}{
		{SeverityError, sentry.LevelError},
		{SeverityWarning, sentry.LevelWarning},
		{SeverityInfo, sentry.LevelInfo},
		{SeverityDebug, sentry.LevelDebug},
		{Severity("bogus"), sentry.LevelError},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.expected, convertSeverity(tt.severity))
		})
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		p, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: false, Provider: "sentry"})
		require.NoError(t, err)
		assert.IsType(t, &NoOpProvider{}, p)
	})

	t.Run("sentry without dsn", func(t *testing.T) {
		_, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: "sentry"})
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: "rollbar"})
		assert.ErrorContains(t, err, "unknown error tracking provider")
	})

	t.Run("noop", func(t *testing.T) {
		p, err := NewProviderFromConfig(config.ErrorTrackingConfig{Enabled: true, Provider: "noop"})
		require.NoError(t, err)
		assert.IsType(t, &NoOpProvider{}, p)
	})
}

func TestProviderInterface(t *testing.T) {
	var _ Provider = (*NoOpProvider)(nil)
	var _ Provider = (*SentryProvider)(nil)
}
