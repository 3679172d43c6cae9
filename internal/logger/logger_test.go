package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"DEBUG":   logrus.DebugLevel,
		" warn ":  logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.log")
	Configure(Options{Level: "debug", File: path, MaxSizeMB: 1})
	defer Configure(Options{Level: "info"})

	if Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("Expected debug level, got %v", Logger.GetLevel())
	}

	WithField("component", "test").Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected log file to contain the entry")
	}
}
