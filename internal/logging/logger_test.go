package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(EnvLevel, tt.env)
			if got := Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
			if IsDebug() != (tt.env == "debug") {
				t.Errorf("IsDebug() mismatch for %q", tt.env)
			}
		})
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv(EnvLevel, "")
	t.Setenv(EnvPrefix, "")

	var buf bytes.Buffer
	lc := NewLoggerWithWriter(&buf)
	lc.Info("Patching", "addr", "0x1000")
	lc.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "nativepatch") || !strings.Contains(out, "addr=0x1000") {
		t.Errorf("unexpected log line %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line logged at info level")
	}
	if err := lc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewLoggerToFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvToFile, "1")

	lc := NewLogger()
	lc.Info("SUCCESS: Exporting")
	if err := lc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if lc.Path == "" {
		t.Fatal("logger did not open a file")
	}

	latest, err := LatestLogFile(dir)
	if err != nil {
		t.Fatalf("LatestLogFile: %v", err)
	}
	data, err := os.ReadFile(latest)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "SUCCESS: Exporting") {
		t.Errorf("log file content %q", data)
	}
}

func TestLatestLogFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LatestLogFile(dir); !errors.Is(err, ErrNoLogFile) {
		t.Fatalf("empty dir err = %v", err)
	}
	for _, name := range []string{
		"nativepatch-20260101-090000-debug.log",
		"nativepatch-20261014-120000-debug.log",
		"nativepatch-20250601-000000-debug.log",
		"other.log",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := LatestLogFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "nativepatch-20261014-120000-debug.log" {
		t.Errorf("LatestLogFile = %s", got)
	}
}
