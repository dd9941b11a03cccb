package ingestion

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/transfer"
)

// Store keeps uploaded push files on disk under <dir>/<syncEventId>/<kind>.csv.
type Store struct {
	dir string
}

func NewStore(cfg config.Config) *Store {
	return &Store{dir: cfg.UploadDir}
}

func (s *Store) Path(eventID snowflake.ID, kind transfer.Kind) string {
	return filepath.Join(s.dir, eventID.String(), kind.FileName())
}

// Save replaces the stored file for kind. The file is written next to its
// final path and renamed so readers never see a partial upload.
func (s *Store) Save(eventID snowflake.ID, kind transfer.Kind, r io.Reader) (string, error) {
	dst := s.Path(eventID, kind)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+string(kind)+"-*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store upload file: %w", err)
	}
	return dst, nil
}

// Open returns the stored file, or ok=false when nothing was uploaded for kind.
func (s *Store) Open(eventID snowflake.ID, kind transfer.Kind) (*os.File, bool, error) {
	f, err := os.Open(s.Path(eventID, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}
