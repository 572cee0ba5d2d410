package meme

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestRenderer(t *testing.T, templates ...int) *Renderer {
	t.Helper()
	dir := t.TempDir()
	for _, id := range templates {
		path := filepath.Join(dir, "templates")
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		name := filepath.Join(path, fmt.Sprintf("%d.mp4", id))
		if err := os.WriteFile(name, []byte("fake mp4"), 0o600); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(
		filepath.Join(dir, "templates"),
		filepath.Join(dir, "output"),
		filepath.Join(dir, "counter"),
		logger,
	)
}

func TestTemplateRotation(t *testing.T) {
	r := newTestRenderer(t, 1, 2)

	// Fresh counter starts at template 1 and rotates through the library,
	// wrapping when the next numbered file does not exist.
	want := []int{1, 2, 1, 2, 1}
	for i, expected := range want {
		if got := r.nextTemplateID(); got != expected {
			t.Errorf("call %d: nextTemplateID() = %d, want %d", i+1, got, expected)
		}
	}
}

func TestTemplateRotationSurvivesGarbageCounter(t *testing.T) {
	r := newTestRenderer(t, 1)
	if err := os.WriteFile(r.counterFile, []byte("not a number"), 0o600); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	if got := r.nextTemplateID(); got != 1 {
		t.Errorf("nextTemplateID() = %d, want 1 on unreadable counter", got)
	}
}

func TestRenderMissingTemplate(t *testing.T) {
	r := newTestRenderer(t) // empty library
	if _, err := r.Render(t.Context(), "am Montag kein Bio"); err == nil {
		t.Error("Render() should fail when no template exists")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"am Montag kein Bio", "am_Montag_kein_Bio"},
		{"Am Montag Sport verschoben!", "Am_Montag_Sport_verschoben"},
		{"  äöü  ", ""},
		{"a  b", "a_b"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeDrawtext(t *testing.T) {
	got := escapeDrawtext(`10:30 100% it's a \test`)
	want := `10\:30 100\% it\'s a \\test`
	if got != want {
		t.Errorf("escapeDrawtext() = %q, want %q", got, want)
	}
}
