package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewWritesToLogFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{Level: "debug", Path: dir, Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	logger.Info("hello")

	path := filepath.Join(dir, "storytriage-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line not JSON: %v\n%s", err, line)
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestComponentField(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{Level: "info", Path: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	logger.WithComponent("queue").Info("claimed")

	data, err := os.ReadFile(filepath.Join(dir, "storytriage-"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("parsing log line: %v", err)
	}
	if entry["component"] != "queue" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestWithFields(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{Level: "info", Path: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	logger.WithFields(map[string]any{
		"task_id":  "t1",
		"trace_id": "trace_abc",
	}).Info("processing")

	data, err := os.ReadFile(filepath.Join(dir, "storytriage-"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("parsing log line: %v", err)
	}
	if entry["task_id"] != "t1" {
		t.Errorf("task_id = %v", entry["task_id"])
	}
	if entry["trace_id"] != "trace_abc" {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{Level: "warn", Path: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	data, err := os.ReadFile(filepath.Join(dir, "storytriage-"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("line = %s", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for name, want := range tests {
		got, err := parseLevel(name)
		if err != nil {
			t.Errorf("parseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud", Path: t.TempDir()}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
