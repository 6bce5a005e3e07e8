package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitAppliesLevelAndFormat(t *testing.T) {
	if err := Init(Config{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	l := Get()
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", l.Formatter)
	}
}

func TestInitFallsBackToInfoOnUnknownLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	if Get().GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", Get().GetLevel())
	}
}

func TestFileOutputWritesComponentField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pos.log")
	if err := Init(Config{Output: "file", File: path, Format: "json"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	With("worker").Info("sweep done")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"component":"worker"`) {
		t.Fatalf("expected component field in %s", raw)
	}
}
