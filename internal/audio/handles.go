package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"withvoice/internal/domain"
)

// TempFileHandles stores artifacts as files a player can open by path.
type TempFileHandles struct {
	dir string
}

func NewTempFileHandles(dir string) *TempFileHandles {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "withvoice")
	}
	return &TempFileHandles{dir: dir}
}

func (h *TempFileHandles) Dir() string {
	return h.dir
}

func (h *TempFileHandles) Create(data []byte, mimeType string) (domain.PlayableHandle, error) {
	if err := os.MkdirAll(h.dir, 0o700); err != nil {
		return domain.PlayableHandle{}, fmt.Errorf("failed to create handle dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(h.dir, id+"."+Extension(mimeType))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return domain.PlayableHandle{}, fmt.Errorf("failed to write playable file: %w", err)
	}
	return domain.PlayableHandle{ID: id, Path: path, MimeType: mimeType}, nil
}

// Release removes the file. Releasing twice is not an error.
func (h *TempFileHandles) Release(handle domain.PlayableHandle) error {
	if handle.Path == "" {
		return nil
	}
	if err := os.Remove(handle.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove playable file: %w", err)
	}
	return nil
}
