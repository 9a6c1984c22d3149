package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kaiden.app/licensing/internal/logger"
)

// FileStore keeps every key in a single JSON object on disk and rewrites the
// file on each change.
type FileStore struct {
	mu       sync.Mutex
	filepath string
	data     map[string]string
	closed   bool
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	fs := &FileStore{
		filepath: path,
		data:     make(map[string]string),
	}
	err := fs.loadFromFile()
	return fs, err
}

func (f *FileStore) loadFromFile() error {
	file, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Store file does not exist, starting empty", map[string]interface{}{
				"path": f.filepath,
			})
			return nil
		}
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warn("Failed to close store file", map[string]interface{}{
				"path":  f.filepath,
				"error": err.Error(),
			})
		}
	}()

	if err := json.NewDecoder(file).Decode(&f.data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if f.data == nil {
		f.data = make(map[string]string)
	}
	return nil
}

// writeToFile replaces the file atomically through a temp file in the same
// directory.
func (f *FileStore) writeToFile() error {
	dir := filepath.Dir(f.filepath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kvstore-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(f.data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.filepath)
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	prev, had := f.data[key]
	f.data[key] = value
	if err := f.writeToFile(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.writeToFile(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
