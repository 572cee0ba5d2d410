package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vplan-notifier/pkg/timetable"
)

func newTestStates(t *testing.T) (*States, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	docs := NewDocuments(nil, "", dir, logger)
	return NewStates(docs, logger), dir
}

func TestStatesEmptyByDefault(t *testing.T) {
	states, _ := newTestStates(t)

	state, err := states.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(state) != 0 {
		t.Errorf("Load() on fresh store = %v, want empty", state)
	}
}

func TestStatesRoundTrip(t *testing.T) {
	states, _ := newTestStates(t)
	ctx := context.Background()

	in := map[string]*timetable.DayState{
		"Montag": {
			ContentFingerprint: "abc",
			ScheduleDate:       "08.01.2024",
			Delivered:          map[string]bool{"fp1": true, "fp2": true},
		},
	}
	if err := states.Save(ctx, in); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	out, err := states.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	day := out["Montag"]
	if day == nil {
		t.Fatal("Load() missing Montag state")
	}
	if day.ContentFingerprint != "abc" || day.ScheduleDate != "08.01.2024" {
		t.Errorf("Load() = %+v, want fingerprint abc, date 08.01.2024", day)
	}
	if len(day.Delivered) != 2 || !day.Delivered["fp1"] || !day.Delivered["fp2"] {
		t.Errorf("Load() delivered = %v, want fp1 and fp2", day.Delivered)
	}
}

func TestStatesNormalizesNilDelivered(t *testing.T) {
	states, dir := newTestStates(t)

	doc := `{"Dienstag": {"html_hash": "x", "last_date": "09.01.2024"}}`
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte(doc), 0o600); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	state, err := states.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	day := state["Dienstag"]
	if day == nil || day.Delivered == nil {
		t.Fatal("Load() must initialize the delivered set")
	}
	day.Delivered["fp"] = true // must not panic
}

func TestDocumentsWriteLeavesNoTempFiles(t *testing.T) {
	states, dir := newTestStates(t)

	if err := states.Save(context.Background(), map[string]*timetable.DayState{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}
