package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileBackend stores values in a single JSON file shared by every key.
//
// Writes take a lock file next to the data file so concurrent processes do not clobber each other,
// and replace the file atomically through a temp file and rename.
type FileBackend struct {
	path       string
	retries    int
	retryDelay time.Duration
	staleAfter time.Duration
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path:       path,
		retries:    50,
		retryDelay: 100 * time.Millisecond,
		staleAfter: 30 * time.Second,
	}
}

func (f *FileBackend) Get(key string) ([]byte, error) {
	values, err := f.read()
	if err != nil {
		return nil, err
	}

	v, ok := values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Put(key string, value []byte) error {
	return f.update(func(values map[string][]byte) { values[key] = value })
}

func (f *FileBackend) Delete(key string) error {
	return f.update(func(values map[string][]byte) { delete(values, key) })
}

func (f *FileBackend) read() (map[string][]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	values := map[string][]byte{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) update(mutate func(map[string][]byte)) error {
	lock, err := f.acquire()
	if err != nil {
		return err
	}
	defer lock.release()

	values, err := f.read()
	if err != nil {
		// unreadable contents are replaced rather than blocking every later write
		values = map[string][]byte{}
	}
	mutate(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

type fileLock struct {
	file *os.File
	path string
}

func (f *FileBackend) acquire() (*fileLock, error) {
	lockPath := f.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	for range f.retries {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(file, "%d", os.Getpid())
			return &fileLock{file: file, path: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > f.staleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(f.retryDelay)
	}

	return nil, fmt.Errorf("timeout waiting for file lock after %v", time.Duration(f.retries)*f.retryDelay)
}

func (l *fileLock) release() error {
	l.file.Close()
	return os.Remove(l.path)
}
