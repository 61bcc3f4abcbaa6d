package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsNonNilByDefault(t *testing.T) {
	require.NotNil(t, Get())
}

func TestSetReplacesSingleton(t *testing.T) {
	t.Cleanup(Initialize)

	var buf bytes.Buffer
	Set(slog.New(slog.NewTextHandler(&buf, nil)))

	Infow("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestFormattedHelpers(t *testing.T) {
	t.Cleanup(Initialize)

	var buf bytes.Buffer
	Set(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	Debugf("debug %d", 1)
	Infof("info %s", "two")
	Warnf("warn %v", 3.0)
	Errorf("error %q", "four")

	out := buf.String()
	assert.Contains(t, out, "debug 1")
	assert.Contains(t, out, "info two")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, `error \"four\"`)
}
