package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nathandonaldson/storytriage/internal/config"
	"github.com/nathandonaldson/storytriage/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View queue and worker logs",
	Long: `View storytriage logs.

Shows recent entries from the shared log directory. The serve and worker
processes both write here, so filtering to a single trace or task follows
one story across the webhook, the queue, and the pipeline handlers:

  storytriage logs --trace trace_3f2a8b --follow
  storytriage logs --task 8c1dfe02 --level error
  storytriage logs --component worker -n 200`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		export, _ := cmd.Flags().GetString("export")

		filter := logFilter{}
		filter.taskID, _ = cmd.Flags().GetString("task")
		filter.traceID, _ = cmd.Flags().GetString("trace")
		filter.component, _ = cmd.Flags().GetString("component")
		filter.level, _ = cmd.Flags().GetString("level")

		dir, err := logDir(cmd)
		if err != nil {
			return err
		}

		if export != "" {
			return exportLogs(dir, export, filter)
		}
		if follow {
			return followLogs(dir, tail, filter)
		}
		return showLogs(os.Stdout, dir, tail, filter)
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log entries to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("export", "e", "", "Export matching entries to file")
	logsCmd.Flags().String("task", "", "Only entries for this task ID")
	logsCmd.Flags().String("trace", "", "Only entries for this trace ID")
	logsCmd.Flags().String("component", "", "Only entries from this component (worker, queue, webhook, pipeline)")
	logsCmd.Flags().String("level", "", "Minimum level (debug, info, warn, error)")
	rootCmd.AddCommand(logsCmd)
}

// logDir resolves the log directory from the config file, falling back to
// the logging default. Logging itself is not initialized here so reading
// logs never appends to them.
func logDir(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Logging.Path != "" {
		return cfg.Logging.Path, nil
	}
	return logging.DefaultConfig().Path, nil
}

// logEntry is one parsed JSON log line. The queue and pipeline attach task
// correlation fields; any of them may be absent on a given line.
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	StoryID   string    `json:"story_id,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`

	raw string // original line, kept for export and non-JSON fallback
}

func parseEntry(line string) logEntry {
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		e = logEntry{Message: line}
	}
	e.raw = line
	return e
}

// logFilter selects entries. Zero value matches everything.
type logFilter struct {
	taskID    string
	traceID   string
	component string
	level     string
}

func (f logFilter) matches(e logEntry) bool {
	if f.taskID != "" && !strings.HasPrefix(e.TaskID, f.taskID) {
		return false
	}
	if f.traceID != "" && !strings.HasPrefix(e.TraceID, f.traceID) {
		return false
	}
	if f.component != "" && e.Component != f.component {
		return false
	}
	if f.level != "" && levelRank(e.Level) < levelRank(f.level) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

func showLogs(w io.Writer, dir string, n int, filter logFilter) error {
	files, err := logFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(w, "No log files found.")
		return nil
	}

	for _, e := range tailEntries(files, n, filter) {
		renderEntry(w, e)
	}
	return nil
}

func followLogs(dir string, initial int, filter logFilter) error {
	files, err := logFiles(dir)
	if err != nil {
		return err
	}
	if len(files) > 0 && initial > 0 {
		for _, e := range tailEntries(files, initial, filter) {
			renderEntry(os.Stdout, e)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	currentFile := todaysLogFile(dir)
	var file *os.File
	var reader *bufio.Reader
	if currentFile != "" {
		if file, err = os.Open(currentFile); err == nil {
			file.Seek(0, io.SeekEnd)
			reader = bufio.NewReader(file)
		}
	}

	fmt.Println("--- Following logs (Ctrl+C to exit) ---")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Date rollover opens a fresh file.
			if newFile := todaysLogFile(dir); newFile != currentFile {
				if file != nil {
					file.Close()
				}
				currentFile = newFile
				if file, err = os.Open(currentFile); err != nil {
					continue
				}
				reader = bufio.NewReader(file)
			}

			if event.Op&fsnotify.Write == fsnotify.Write && reader != nil {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					if e := parseEntry(strings.TrimSuffix(line, "\n")); filter.matches(e) {
						renderEntry(os.Stdout, e)
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

// exportLogs writes matching raw lines in chronological order, preserving
// the JSON so the export can be fed to other tooling.
func exportLogs(dir, outFile string, filter logFilter) error {
	files, err := logFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no log files found")
	}

	out, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	total := 0
	// Oldest file first.
	for i := len(files) - 1; i >= 0; i-- {
		for _, e := range fileEntries(files[i]) {
			if !filter.matches(e) {
				continue
			}
			fmt.Fprintln(out, e.raw)
			total++
		}
	}

	fmt.Printf("Exported %d log entries to %s\n", total, outFile)
	return nil
}

// logFiles returns the daily log files newest first.
func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "storytriage-") && strings.HasSuffix(name, ".log") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func todaysLogFile(dir string) string {
	path := filepath.Join(dir, fmt.Sprintf("storytriage-%s.log", time.Now().Format("2006-01-02")))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// tailEntries collects the last n matching entries across files, walking
// newest file first and keeping chronological order in the result.
func tailEntries(files []string, n int, filter logFilter) []logEntry {
	var out []logEntry
	for _, file := range files {
		if len(out) >= n {
			break
		}
		var matched []logEntry
		for _, e := range fileEntries(file) {
			if filter.matches(e) {
				matched = append(matched, e)
			}
		}
		remaining := n - len(out)
		if len(matched) > remaining {
			matched = matched[len(matched)-remaining:]
		}
		out = append(matched, out...)
	}
	return out
}

func fileEntries(path string) []logEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []logEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, parseEntry(scanner.Text()))
	}
	return entries
}

func renderEntry(w io.Writer, e logEntry) {
	if e.Time.IsZero() && e.Level == "" {
		// Non-JSON line, print as-is.
		fmt.Fprintln(w, e.raw)
		return
	}

	level := formatLogLevel(e.Level)
	ts := e.Time.Format("15:04:05")

	if e.Component != "" {
		fmt.Fprintf(w, "%s %s [%s] %s", ts, level, e.Component, e.Message)
	} else {
		fmt.Fprintf(w, "%s %s %s", ts, level, e.Message)
	}

	if e.TaskID != "" {
		fmt.Fprintf(w, " task=%s", shortID(e.TaskID))
	}
	if e.TaskType != "" {
		fmt.Fprintf(w, " type=%s", e.TaskType)
	}
	if e.StoryID != "" {
		fmt.Fprintf(w, " story=%s", e.StoryID)
	}
	if e.TraceID != "" {
		fmt.Fprintf(w, " trace=%s", e.TraceID)
	}
	if e.WorkerID != "" {
		fmt.Fprintf(w, " worker=%s", e.WorkerID)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(w, " attempt=%d", e.Attempt)
	}
	if e.Error != "" {
		fmt.Fprintf(w, " error=%s", e.Error)
	}
	fmt.Fprintln(w)
}

// shortID trims task UUIDs for display; full IDs still match --task by
// prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	default:
		if len(level) >= 3 {
			return strings.ToUpper(level[:3])
		}
		return strings.ToUpper(level)
	}
}
