// Package meme renders short captioned video clips for change notifications.
// Templates are numbered mp4 files; a counter file rotates through them so
// consecutive notifications use different clips.
package meme

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Renderer produces captioned clips from the template library via ffmpeg.
type Renderer struct {
	logger      *slog.Logger
	templateDir string
	outputDir   string
	counterFile string
	mu          sync.Mutex
}

// New creates a renderer. counterFile holds the id of the next template to
// use and survives restarts so rotation does not reset.
func New(templateDir, outputDir, counterFile string, logger *slog.Logger) *Renderer {
	return &Renderer{
		logger:      logger,
		templateDir: templateDir,
		outputDir:   outputDir,
		counterFile: counterFile,
	}
}

// nextTemplateID reads the rotation counter, wraps back to 1 when the
// numbered template file is missing, and persists the incremented counter.
// Counter I/O failures degrade to template 1 rather than failing the render.
func (r *Renderer) nextTemplateID() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := 1
	if data, err := os.ReadFile(r.counterFile); err == nil {
		if id, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && id > 0 {
			current = id
		}
	}

	if _, err := os.Stat(r.templatePath(current)); err != nil {
		r.logger.Info("Template missing, rotating back to first", "template_id", current)
		current = 1
		if _, err := os.Stat(r.templatePath(1)); err != nil {
			r.logger.Warn("First template is missing too", "path", r.templatePath(1))
		}
	}

	if err := os.WriteFile(r.counterFile, []byte(strconv.Itoa(current+1)), 0o600); err != nil {
		r.logger.Warn("Failed to persist template counter", "error", err)
	}

	return current
}

func (r *Renderer) templatePath(id int) string {
	return filepath.Join(r.templateDir, fmt.Sprintf("%d.mp4", id))
}

// Render produces a clip with the caption burned in and returns its path.
// The caller owns the file and removes it after sending.
func (r *Renderer) Render(ctx context.Context, caption string) (string, error) {
	templateID := r.nextTemplateID()
	input := r.templatePath(templateID)
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("template %d unavailable: %w", templateID, err)
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	output := filepath.Join(r.outputDir, fmt.Sprintf("meme_%d_%s.mp4", templateID, slug(caption)))

	// Crop to a centered square and draw the caption over it. aac audio is
	// required for Telegram playback.
	filter := fmt.Sprintf(
		"crop='min(iw,ih)':'min(iw,ih)',drawtext=text='%s':fontcolor=white:fontsize=50:borderw=2:bordercolor=black:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeDrawtext(caption),
	)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", input,
		"-vf", filter,
		"-r", "24",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		output,
	)

	r.logger.Info("Rendering meme", "template_id", templateID, "caption", caption, "output", output)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg: %w (output: %s)", err, lastLine(out))
	}

	return output, nil
}

// slug makes a caption safe for use in a filename.
func slug(text string) string {
	var b strings.Builder
	for _, c := range text {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// escapeDrawtext escapes the characters ffmpeg's drawtext filter treats
// specially inside a single-quoted filter argument.
func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(text)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
