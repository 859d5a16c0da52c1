// Package settings provides the durable key-value store backing the
// saved-URL library and user preferences: a single JSON file, written
// atomically so a crash never leaves a half-written state behind.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/mjpeg-studio/studio/internal/logging"
)

// File is a key-value store backed by one JSON file. Reads are served from
// memory; every Set rewrites the file before returning, so the in-memory view
// always equals the last persisted snapshot.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads the store at path. A missing file starts empty; a malformed one
// is logged and discarded rather than refusing to start.
func Open(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &f.values); err != nil {
		logging.WarningLogger.Printf("Settings file %s is corrupt, starting empty: %v", path, err)
		f.values = make(map[string]string)
	}
	return f, nil
}

// Get returns the stored value for key and whether it was present.
func (f *File) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// Set stores value under key and persists the whole store before returning.
func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, had := f.values[key]
	f.values[key] = value
	if err := f.persistLocked(); err != nil {
		if had {
			f.values[key] = old
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) persistLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	// renameio handles: temp file creation, fsync, atomic rename, cleanup
	pending, err := renameio.NewPendingFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to create pending settings file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logging.Trace("cleanup pending settings file: %v", err)
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("failed to write settings data: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
