package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersister keeps the mapping as a JSON object in a single file.
type FilePersister struct {
	Path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// Load returns an empty mapping when the file does not exist yet.
func (f *FilePersister) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	links := make(map[string]string)
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Path, err)
	}
	return links, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the old one, so readers never see a partial file.
func (f *FilePersister) Save(_ context.Context, links map[string]string) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(links); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode links: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

func (f *FilePersister) Close() error { return nil }
