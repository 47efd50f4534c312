package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestForRunTagsRunID(t *testing.T) {
	orig := Logger
	t.Cleanup(func() { Logger = orig })

	var buf bytes.Buffer
	Init(&buf, "debug")
	ForRun("run-42").Info("Step 1: spot finding")

	out := buf.String()
	if !strings.Contains(out, "run_id=run-42") || !strings.Contains(out, "Step 1: spot finding") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	orig := Logger
	t.Cleanup(func() { Logger = orig })

	var buf bytes.Buffer
	Init(&buf, "chatty")
	Logger.Debug("hidden")
	Info("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
