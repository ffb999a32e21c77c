package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTabHandler_Handle(t *testing.T) {
	ts := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "run-1",
			level:   slog.LevelInfo,
			message: "recovery started",
			want:    "2026-03-02T08:15:00Z\tINFO\trun-1\trecovery started\n",
		},
		{
			name:    "warn level",
			runID:   "run-2",
			level:   slog.LevelWarn,
			message: "stale backup found",
			want:    "2026-03-02T08:15:00Z\tWARN\trun-2\tstale backup found\n",
		},
		{
			name:    "with record attrs",
			runID:   "run-3",
			level:   slog.LevelInfo,
			message: "artifact fetched",
			attrs:   []slog.Attr{slog.String("dest", "/srv/app.db-wal"), slog.Int("bytes", 4120)},
			want:    "2026-03-02T08:15:00Z\tINFO\trun-3\tartifact fetched\tdest=/srv/app.db-wal\tbytes=4120\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTabHandler(&buf, tt.runID, nil)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestTabHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newTabHandler(&buf, "run-1", nil)
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "fetcher")}).(*tabHandler)
	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "fetch", 0)
	r.AddAttrs(slog.String("key", "prod/app.db-wal"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"a=1", "component=fetcher", "key=prod/app.db-wal"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %s", got, want)
		}
	}
}

func TestTabHandler_Enabled(t *testing.T) {
	all := newTabHandler(nil, "", nil)
	warn := newTabHandler(nil, "", slog.LevelWarn)

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !all.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false with no minimum", level)
		}
		if got, want := warn.Enabled(context.Background(), level), level >= slog.LevelWarn; got != want {
			t.Errorf("Enabled(%v) = %v with minimum WARN, want %v", level, got, want)
		}
	}
}

func TestFanoutHandler(t *testing.T) {
	var file, console bytes.Buffer
	logger := slog.New(&fanoutHandler{handlers: []slog.Handler{
		newTabHandler(&file, "run-9", nil),
		newTabHandler(&console, "run-9", slog.LevelWarn),
	}}).With("store", "app.db")

	logger.Debug("table row count")
	logger.Error("recovery failed")

	if n := strings.Count(file.String(), "\n"); n != 2 {
		t.Errorf("file got %d lines, want 2:\n%s", n, file.String())
	}
	if strings.Contains(console.String(), "table row count") {
		t.Error("debug record reached the WARN handler")
	}
	if !strings.Contains(console.String(), "recovery failed\tstore=app.db") {
		t.Errorf("console output = %q", console.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "run-7", slog.LevelError)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hello")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tINFO\trun-7\thello") {
		t.Errorf("log file = %q, want the info record", data)
	}
}
