package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLevelAndFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	if log.Enabled(LevelDebug) || !log.Enabled(LevelWarn) {
		t.Fatal("level gate does not match the writer level")
	}
	log.Debug("hidden")
	log.Warn("shown", Int("n", 2))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written:\n%s", out)
	}
	for _, want := range []string{`"comp":"test"`, `"n":2`, `"message":"shown"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestZeroLoggerIsSilent(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() || log.Enabled(LevelError) {
		t.Fatal("zero logger should be a disabled no-op")
	}
	log.Error("nothing happens")
}
