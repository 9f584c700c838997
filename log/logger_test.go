package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	ll := logrus.New()
	ll.SetOutput(buf)
	ll.SetLevel(logrus.DebugLevel)
	return New(ll, nil), buf
}

func TestLoggerCategoryField(t *testing.T) {
	t.Parallel()

	l, buf := newCaptureLogger()
	l.Debugf("server", "listening on %s", "127.0.0.1:9322")

	out := buf.String()
	assert.Contains(t, out, "category=server")
	assert.Contains(t, out, "listening on 127.0.0.1:9322")
}

func TestLoggerLevelGate(t *testing.T) {
	t.Parallel()

	l, buf := newCaptureLogger()
	require.NoError(t, l.SetLevel("warn"))

	l.Debugf("server", "not shown")
	l.Infof("server", "not shown either")
	assert.Empty(t, buf.String())

	l.Warnf("server", "shown")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, l.SetLevel("chatty"))
}

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	l, buf := newCaptureLogger()
	require.NoError(t, l.SetCategoryFilter("^agent:"))

	l.Debugf("server", "suppressed")
	assert.Empty(t, buf.String())

	l.Debugf("agent:act", "visible")
	assert.Contains(t, buf.String(), "visible")

	// Clearing the filter lets everything through again.
	require.NoError(t, l.SetCategoryFilter(""))
	l.Debugf("server", "back")
	assert.Contains(t, buf.String(), "back")

	assert.Error(t, l.SetCategoryFilter("("))
}

func TestDebugMode(t *testing.T) {
	t.Parallel()

	l, _ := newCaptureLogger()
	assert.True(t, l.DebugMode())

	require.NoError(t, l.SetLevel("info"))
	assert.False(t, l.DebugMode())
}
