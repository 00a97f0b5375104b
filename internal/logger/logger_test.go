package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, false, NoticeLevel)

	l.Debug("dropped %d", 1)
	l.Info("dropped %d", 2)
	l.Notice("kept %d", 3)
	l.ErrorWithChain(11155111, "failed %s", "x")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "[NOTICE] kept 3")
	assert.Contains(t, out, "[ERROR]  [SEP] failed x")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, NoticeLevel, ParseLevel("notice"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("whatever"))
}

func TestOrEmpty(t *testing.T) {
	assert.IsType(t, &EmptyLogger{}, OrEmpty(nil))
	l := NewStdLogger(false, InfoLevel)
	assert.Same(t, l, OrEmpty(l))
}
