package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestBuildWritesJSONWithProfile(t *testing.T) {
	var file, console bytes.Buffer
	logger, err := build(&file, &console, "front-desk", "warn")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("filtered out")
	logger.Warn("socket dropped")
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d file lines, want 1: %q", len(lines), file.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "socket dropped" || entry["profile"] != "front-desk" || entry["ts"] == nil {
		t.Errorf("entry = %v", entry)
	}
	if !strings.Contains(console.String(), "socket dropped") {
		t.Errorf("console = %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"chatty", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "officechatd.log")
	logger, err := New(path, "main", "")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("started")
	_ = logger.Sync()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("log file permission = %o, want 0600", info.Mode().Perm())
	}
}
