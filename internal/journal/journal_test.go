package journal

import (
	"path/filepath"
	"testing"
	"time"

	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

func openTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteJournal_RecordAndList(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []*recovery.SessionRecord{
		{
			ID:            "s-1",
			Strategy:      recovery.StrategyCheckpoint,
			Artifact:      "logs/app.db-wal",
			StorePath:     "/data/app.db",
			StartedAt:     base,
			FinishedAt:    base.Add(3 * time.Second),
			Success:       true,
			Phase:         recovery.PhaseDone,
			Guard:         recovery.OutcomeCommitted,
			FetchDuration: 1500 * time.Millisecond,
			ApplyDuration: 200 * time.Millisecond,
			Bytes:         4096,
		},
		{
			ID:            "s-2",
			Strategy:      recovery.StrategyReplay,
			Artifact:      "logs/app.replay.sql",
			StorePath:     "/data/app.db",
			StartedAt:     base.Add(time.Hour),
			FinishedAt:    base.Add(time.Hour + time.Second),
			Success:       false,
			Phase:         recovery.PhaseFetch,
			FailureReason: "fetch: remote fetch failed: object not found",
			Guard:         recovery.OutcomeRestored,
			Warnings:      2,
		},
	}
	for _, r := range recs {
		if err := j.RecordSession(r); err != nil {
			t.Fatalf("RecordSession(%s) error = %v", r.ID, err)
		}
	}

	got, err := j.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ListSessions()) = %d, want 2", len(got))
	}

	newest := got[0]
	if newest.ID != "s-2" {
		t.Errorf("newest ID = %q, want s-2", newest.ID)
	}
	if newest.Success || newest.Phase != recovery.PhaseFetch || newest.Guard != recovery.OutcomeRestored {
		t.Errorf("newest = %+v, want failed fetch with restored guard", newest)
	}
	if newest.Warnings != 2 {
		t.Errorf("Warnings = %d, want 2", newest.Warnings)
	}

	oldest := got[1]
	if !oldest.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", oldest.StartedAt, base)
	}
	if oldest.FetchDuration != 1500*time.Millisecond {
		t.Errorf("FetchDuration = %v, want 1.5s", oldest.FetchDuration)
	}
	if oldest.Strategy != recovery.StrategyCheckpoint || oldest.Bytes != 4096 {
		t.Errorf("oldest = %+v", oldest)
	}
}

func TestSQLiteJournal_ListLimit(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		rec := &recovery.SessionRecord{
			ID:         string(rune('a' + i)),
			Strategy:   recovery.StrategyCheckpoint,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
			Phase:      recovery.PhaseDone,
			Guard:      recovery.OutcomeNone,
		}
		if err := j.RecordSession(rec); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
	}

	got, err := j.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "e" || got[1].ID != "d" {
		t.Errorf("ListSessions(2) = %v, want [e d]", ids(got))
	}
}

func TestSQLiteJournal_DuplicateID(t *testing.T) {
	j := openTestJournal(t)
	rec := &recovery.SessionRecord{ID: "dup", StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := j.RecordSession(rec); err != nil {
		t.Fatalf("first RecordSession() error = %v", err)
	}
	if err := j.RecordSession(rec); err == nil {
		t.Error("second RecordSession() with same ID expected error")
	}
}

func TestOpen_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := j.RecordSession(&recovery.SessionRecord{ID: "keep", StartedAt: time.Now(), FinishedAt: time.Now()}); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j.Close()

	if err := j.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	got, err := j.ListSessions(10)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListSessions() = %d records, %v; want 1", len(got), err)
	}
}

func TestNewJournalFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.JournalConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.JournalConfig{Type: "memory"}},
		{name: "sqlite", cfg: config.JournalConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "journal")}},
		{name: "sqlite without data_dir", cfg: config.JournalConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown", cfg: config.JournalConfig{Type: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewJournalFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewJournalFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != nil {
				got.Close()
			}
			if tt.wantErr && got != nil {
				t.Error("NewJournalFromConfig() should return nil on error")
			}
		})
	}
}

func ids(recs []*recovery.SessionRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
