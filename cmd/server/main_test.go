package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type syncRecorder struct {
	bytes.Buffer
	synced int
}

func (s *syncRecorder) Sync() error {
	s.synced++
	return nil
}

func newRecordingLogger() (*zap.Logger, *syncRecorder) {
	out := &syncRecorder{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, zapcore.DebugLevel)
	return zap.New(core), out
}

func TestExitCodeFlushesLogsOnFailure(t *testing.T) {
	zl, out := newRecordingLogger()

	code := exitCode(zl, errors.New("listen: address already in use"))

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, out.synced, "logger must be flushed before exiting")
	assert.Contains(t, out.String(), "server stopped")
	assert.Contains(t, out.String(), "address already in use")
}

func TestExitCodeCleanShutdown(t *testing.T) {
	zl, out := newRecordingLogger()

	assert.Zero(t, exitCode(zl, nil))
	assert.Equal(t, 1, out.synced)
	assert.Empty(t, out.String())
}
