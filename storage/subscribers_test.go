package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestSubscribers(t *testing.T) (*Subscribers, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	docs := NewDocuments(nil, "", dir, logger)
	return NewSubscribers(docs, logger), dir
}

func TestSubscribeRoundTrip(t *testing.T) {
	subs, _ := newTestSubscribers(t)
	ctx := context.Background()

	added, err := subs.AddClass(ctx, "555", "11b")
	if err != nil {
		t.Fatalf("AddClass() error: %v", err)
	}
	if !added {
		t.Error("AddClass() = false, want true for new class")
	}

	// A second subscribe is a no-op, not a duplicate.
	added, err = subs.AddClass(ctx, "555", "11b")
	if err != nil {
		t.Fatalf("AddClass() error: %v", err)
	}
	if added {
		t.Error("AddClass() = true, want false for existing class")
	}

	classes, err := subs.Classes(ctx, "555")
	if err != nil {
		t.Fatalf("Classes() error: %v", err)
	}
	if len(classes) != 1 || classes[0] != "11b" {
		t.Errorf("Classes() = %v, want [11b]", classes)
	}
}

func TestUnsubscribe(t *testing.T) {
	subs, _ := newTestSubscribers(t)
	ctx := context.Background()

	if _, err := subs.AddClass(ctx, "555", "11b"); err != nil {
		t.Fatalf("AddClass() error: %v", err)
	}

	removed, err := subs.RemoveClass(ctx, "555", "11b")
	if err != nil {
		t.Fatalf("RemoveClass() error: %v", err)
	}
	if !removed {
		t.Error("RemoveClass() = false, want true")
	}

	removed, err = subs.RemoveClass(ctx, "555", "11b")
	if err != nil {
		t.Fatalf("RemoveClass() error: %v", err)
	}
	if removed {
		t.Error("RemoveClass() = true, want false for absent class")
	}

	// Emptied records persist with an empty class list.
	classes, err := subs.Classes(ctx, "555")
	if err != nil {
		t.Fatalf("Classes() error: %v", err)
	}
	if len(classes) != 0 {
		t.Errorf("Classes() = %v, want empty", classes)
	}
}

func TestUnknownRecipient(t *testing.T) {
	subs, _ := newTestSubscribers(t)
	ctx := context.Background()

	classes, err := subs.Classes(ctx, "nobody")
	if err != nil {
		t.Fatalf("Classes() error for unknown recipient: %v", err)
	}
	if len(classes) != 0 {
		t.Errorf("Classes() = %v, want empty", classes)
	}

	version, err := subs.ResetVersion(ctx, "nobody")
	if err != nil {
		t.Fatalf("ResetVersion() error: %v", err)
	}
	if version != 0 {
		t.Errorf("ResetVersion() = %d, want 0", version)
	}
}

func TestIncrementResetVersion(t *testing.T) {
	subs, _ := newTestSubscribers(t)
	ctx := context.Background()

	// Increment creates the record if absent.
	v, err := subs.IncrementResetVersion(ctx, "555")
	if err != nil {
		t.Fatalf("IncrementResetVersion() error: %v", err)
	}
	if v != 1 {
		t.Errorf("IncrementResetVersion() = %d, want 1", v)
	}

	v, err = subs.IncrementResetVersion(ctx, "555")
	if err != nil {
		t.Fatalf("IncrementResetVersion() error: %v", err)
	}
	if v != 2 {
		t.Errorf("IncrementResetVersion() = %d, want 2", v)
	}

	got, err := subs.ResetVersion(ctx, "555")
	if err != nil {
		t.Fatalf("ResetVersion() error: %v", err)
	}
	if got != 2 {
		t.Errorf("ResetVersion() = %d, want 2", got)
	}
}

func TestLegacyListRecord(t *testing.T) {
	subs, dir := newTestSubscribers(t)
	ctx := context.Background()

	// A store written by an old version holds a bare class list.
	doc := `{"111": ["11b", "9a"], "222": {"classes": ["7c"], "version": 3}}`
	if err := os.WriteFile(filepath.Join(dir, "data.json"), []byte(doc), 0o600); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	classes, err := subs.Classes(ctx, "111")
	if err != nil {
		t.Fatalf("Classes() error: %v", err)
	}
	if len(classes) != 2 || classes[0] != "11b" || classes[1] != "9a" {
		t.Errorf("Classes() = %v, want [11b 9a]", classes)
	}

	version, err := subs.ResetVersion(ctx, "111")
	if err != nil {
		t.Fatalf("ResetVersion() error: %v", err)
	}
	if version != 0 {
		t.Errorf("legacy record version = %d, want 0", version)
	}

	snapshot, err := subs.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("Snapshot() returned %d records, want 2", len(snapshot))
	}
	// Sorted by recipient ID.
	if snapshot[0].ID != "111" || snapshot[1].ID != "222" {
		t.Errorf("Snapshot() order = [%s %s], want [111 222]", snapshot[0].ID, snapshot[1].ID)
	}
	if snapshot[0].Version != 0 || snapshot[1].Version != 3 {
		t.Errorf("Snapshot() versions = [%d %d], want [0 3]", snapshot[0].Version, snapshot[1].Version)
	}
}

func TestLegacyRecordNotUpgradedByUnrelatedMutation(t *testing.T) {
	subs, dir := newTestSubscribers(t)
	ctx := context.Background()

	doc := `{"111": ["11b"]}`
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	// Mutating a different recipient rewrites the document but must leave
	// the untouched legacy record in its original shape.
	if _, err := subs.AddClass(ctx, "222", "9a"); err != nil {
		t.Fatalf("AddClass() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal store: %v", err)
	}

	var legacyClasses []string
	if err := json.Unmarshal(raw["111"], &legacyClasses); err != nil {
		t.Errorf("record 111 is no longer a bare list: %s", raw["111"])
	}

	// Mutating the legacy record itself upgrades it.
	if _, err := subs.AddClass(ctx, "111", "9a"); err != nil {
		t.Fatalf("AddClass() error: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal store: %v", err)
	}
	var upgraded struct {
		Classes []string `json:"classes"`
		Version int      `json:"version"`
	}
	if err := json.Unmarshal(raw["111"], &upgraded); err != nil {
		t.Fatalf("record 111 not in dict shape after mutation: %s", raw["111"])
	}
	if len(upgraded.Classes) != 2 || upgraded.Version != 0 {
		t.Errorf("upgraded record = %+v, want classes [11b 9a] version 0", upgraded)
	}
}
