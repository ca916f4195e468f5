package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLogFile(t *testing.T, dir, date string, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, "storytriage-"+date+".log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing log file: %v", err)
	}
}

func TestLogFilterMatches(t *testing.T) {
	entry := parseEntry(`{"level":"info","time":"2026-08-30T10:00:00Z","message":"task completed","component":"worker","task_id":"8c1dfe02-1111","trace_id":"trace_3f2a","story_id":"42","worker_id":"w1"}`)

	tests := []struct {
		name   string
		filter logFilter
		want   bool
	}{
		{"empty filter", logFilter{}, true},
		{"task prefix", logFilter{taskID: "8c1dfe02"}, true},
		{"task mismatch", logFilter{taskID: "other"}, false},
		{"trace prefix", logFilter{traceID: "trace_3f"}, true},
		{"trace mismatch", logFilter{traceID: "trace_zz"}, false},
		{"component", logFilter{component: "worker"}, true},
		{"component mismatch", logFilter{component: "queue"}, false},
		{"level at threshold", logFilter{level: "info"}, true},
		{"level above entry", logFilter{level: "error"}, false},
		{"combined", logFilter{component: "worker", traceID: "trace_3f2a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.matches(entry); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShowLogsRendersQueueFields(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "2026-08-30",
		`{"level":"info","time":"2026-08-30T10:00:00Z","message":"task completed","component":"queue","task_id":"8c1dfe02-2222-3333","task_type":"triage","story_id":"42","trace_id":"trace_3f2a","worker_id":"w1"}`,
		`{"level":"warn","time":"2026-08-30T10:00:01Z","message":"task failed, retrying","component":"queue","task_id":"8c1dfe02-2222-3333","attempt":2}`,
	)

	var buf strings.Builder
	if err := showLogs(&buf, dir, 50, logFilter{}); err != nil {
		t.Fatalf("showLogs: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"[queue] task completed",
		"task=8c1dfe02",
		"type=triage",
		"story=42",
		"trace=trace_3f2a",
		"worker=w1",
		"attempt=2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowLogsFiltersByTrace(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "2026-08-30",
		`{"level":"info","time":"2026-08-30T10:00:00Z","message":"webhook accepted","component":"webhook","trace_id":"trace_aaa"}`,
		`{"level":"info","time":"2026-08-30T10:00:01Z","message":"task completed","component":"worker","trace_id":"trace_bbb"}`,
	)

	var buf strings.Builder
	if err := showLogs(&buf, dir, 50, logFilter{traceID: "trace_bbb"}); err != nil {
		t.Fatalf("showLogs: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "webhook accepted") {
		t.Errorf("filtered-out entry rendered:\n%s", out)
	}
	if !strings.Contains(out, "task completed") {
		t.Errorf("matching entry missing:\n%s", out)
	}
}

func TestTailEntriesSpansFilesChronologically(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "2026-08-29",
		`{"level":"info","time":"2026-08-29T10:00:00Z","message":"yesterday one"}`,
		`{"level":"info","time":"2026-08-29T11:00:00Z","message":"yesterday two"}`,
	)
	writeLogFile(t, dir, "2026-08-30",
		`{"level":"info","time":"2026-08-30T10:00:00Z","message":"today"}`,
	)

	files, err := logFiles(dir)
	if err != nil {
		t.Fatalf("logFiles: %v", err)
	}
	entries := tailEntries(files, 2, logFilter{})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "yesterday two" || entries[1].Message != "today" {
		t.Errorf("entries out of order: %q, %q", entries[0].Message, entries[1].Message)
	}
}

func TestRenderEntryNonJSON(t *testing.T) {
	var buf strings.Builder
	renderEntry(&buf, parseEntry("plain text line"))
	if got := strings.TrimSpace(buf.String()); got != "plain text line" {
		t.Errorf("non-JSON render = %q", got)
	}
}

func TestLevelRank(t *testing.T) {
	order := []string{"debug", "info", "warn", "error"}
	for i := 1; i < len(order); i++ {
		if levelRank(order[i-1]) >= levelRank(order[i]) {
			t.Errorf("levelRank(%s) should be below levelRank(%s)", order[i-1], order[i])
		}
	}
}
