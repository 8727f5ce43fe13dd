package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedFlowLogger(t *testing.T) (*FlowLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := NewFlowLogger(&FlowLoggerConfig{Level: slog.LevelDebug, Format: "json", Output: &buf})
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestFlowLogger_GenericMethodsCarryContext(t *testing.T) {
	l, buf := newCapturedFlowLogger(t)

	l.WithComponent("runner").WithSession("s-1").Info("hello", "step", "classify")

	entry := decodeLine(t, buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "classify", entry["step"])
}

func TestFlowLogger_WithHelpersDoNotMutateReceiver(t *testing.T) {
	l, buf := newCapturedFlowLogger(t)

	_ = l.WithComponent("chain")
	l.Warn("plain")

	entry := decodeLine(t, buf)
	assert.Equal(t, "plain", entry["msg"])
	assert.NotContains(t, entry, "component")
}

func TestFlowLogger_OddArgsKeepTrailingKey(t *testing.T) {
	l, buf := newCapturedFlowLogger(t)

	l.Debug("dangling", "orphan")

	entry := decodeLine(t, buf)
	assert.Contains(t, entry, "orphan")
}

func TestFlowLogger_LogStep(t *testing.T) {
	l, buf := newCapturedFlowLogger(t)

	l.WithComponent("runner").LogStep("plan", 2, 150*time.Millisecond, false, errors.New("boom"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "Step failed", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, "plan", entry["step"])
	assert.Equal(t, float64(2), entry["attempts"])
	assert.Equal(t, "boom", entry["error"])
}
