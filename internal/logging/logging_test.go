package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.viam.com/test"
)

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Debugw("object steady", "name", "cube_0")
	logger.Warn("marker missing")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("marker missing").Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.ContextMap()["name"], test.ShouldEqual, "cube_0")
}

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("stackeval", &buf, zap.InfoLevel)
	logger.Debug("hidden")
	logger.Infow("rethrow", "trial", 3)

	out := buf.String()
	test.That(t, strings.Contains(out, "hidden"), test.ShouldBeFalse)
	test.That(t, out, test.ShouldContainSubstring, "INFO")
	test.That(t, out, test.ShouldContainSubstring, "stackeval")
	test.That(t, out, test.ShouldContainSubstring, "trial")
}
