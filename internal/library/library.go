package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"withvoice/internal/audio"
	"withvoice/internal/domain"
)

// Entry is the metadata written next to each saved clip.
type Entry struct {
	ID              string               `yaml:"id"`
	Title           string               `yaml:"title"`
	Category        domain.VoiceCategory `yaml:"category"`
	MimeType        string               `yaml:"mime_type"`
	DurationSeconds int                  `yaml:"duration_seconds"`
	File            string               `yaml:"file"`
	SavedAt         time.Time            `yaml:"saved_at"`
}

// DirSaver stores finished recordings in a local directory. It is the
// save handler used outside the desktop app, where the frontend owns the
// upload.
type DirSaver struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

func NewDirSaver(dir string, logger *zap.Logger) *DirSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirSaver{dir: dir, now: time.Now, logger: logger.Named("library")}
}

func (s *DirSaver) Dir() string {
	return s.dir
}

// Save writes <slug>-<id>.<ext> and a matching .yaml entry.
func (s *DirSaver) Save(ctx context.Context, req domain.SaveRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}

	id := uuid.NewString()
	base := slug(req.Title) + "-" + id[:8]
	audioName := base + "." + audio.Extension(req.MimeType)
	if err := os.WriteFile(filepath.Join(s.dir, audioName), req.AudioBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	entry := Entry{
		ID:              id,
		Title:           req.Title,
		Category:        req.Category,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		File:            audioName,
		SavedAt:         s.now().UTC(),
	}
	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, base+".yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	s.logger.Info("recording saved", zap.String("id", id), zap.String("file", audioName), zap.Int("bytes", len(req.AudioBytes)))
	return nil
}

// List reads every entry in the directory, oldest first.
func (s *DirSaver) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var entry Entry
		if err := yaml.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SavedAt.Before(entries[j].SavedAt)
	})
	return entries, nil
}

func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "recording"
	}
	return out
}
