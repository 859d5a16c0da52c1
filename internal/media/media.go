// Package media owns the capture output folder: where it lives, what the
// files are called, and what has been captured so far.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mjpeg-studio/studio/internal/logging"
)

// Kind distinguishes the two capture outputs.
type Kind string

const (
	KindStill Kind = "still"
	KindClip  Kind = "clip"
)

// ParseKind maps the wire form used by the web console to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(s)) {
	case KindStill:
		return KindStill, true
	case KindClip:
		return KindClip, true
	}
	return "", false
}

const timeFormat = "2006-01-02_15h04m05s"

// StillName returns the file name for a still captured at t.
func StillName(t time.Time) string {
	return fmt.Sprintf("frame_%s.png", t.Format(timeFormat))
}

// ClipName returns the file name for a clip captured at t.
func ClipName(t time.Time) string {
	return fmt.Sprintf("clip_%s.mp4", t.Format(timeFormat))
}

// Item is one captured file in the output folder.
type Item struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// DefaultDir returns the output folder used when none is configured: a
// studio folder under Pictures when that exists, under the home directory
// otherwise.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		logging.WarningLogger.Printf("Could not determine home directory: %v", err)
		return "MJPEG Capture Studio"
	}
	pictures := filepath.Join(home, "Pictures")
	if info, err := os.Stat(pictures); err == nil && info.IsDir() {
		return filepath.Join(pictures, "MJPEG Capture Studio")
	}
	return filepath.Join(home, "MJPEG Capture Studio")
}

// Settings is the persistence used to remember the chosen output folder.
type Settings interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

const settingsKey = "output_dir_v1"

// Manager resolves and guards the output folder. The folder chosen in the
// application is remembered in settings and wins over the configured one;
// the configuration value only seeds the folder until a choice is made.
type Manager struct {
	mu         sync.Mutex
	settings   Settings
	configured string
	dir        string

	watcher *dirWatcher
}

// NewManager picks the output folder and makes sure it exists.
func NewManager(settings Settings, configuredDir string) *Manager {
	m := &Manager{settings: settings, configured: configuredDir}

	if saved, ok := settings.Get(settingsKey); ok && saved != "" {
		m.dir = saved
	} else if configuredDir != "" {
		m.dir = configuredDir
	} else {
		m.dir = DefaultDir()
	}

	if err := os.MkdirAll(m.dir, os.ModePerm); err != nil {
		logging.ErrorLogger.Printf("Failed to create output folder %s: %v", m.dir, err)
	}
	return m
}

// Dir returns the current output folder.
func (m *Manager) Dir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

// SetDir switches the output folder, creating it and checking it is
// writable before persisting the choice.
func (m *Manager) SetDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("output folder cannot be empty")
	}
	return m.switchTo(path, path)
}

// ResetDir forgets the remembered choice and switches back to the
// configured folder, or the platform default when none is configured.
func (m *Manager) ResetDir() error {
	dir := m.configured
	if dir == "" {
		dir = DefaultDir()
	}
	return m.switchTo(dir, "")
}

// switchTo moves captures (and the watcher) to path after checking it is
// usable, storing remember as the saved choice.
func (m *Manager) switchTo(path, remember string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output folder %s: %w", path, err)
	}
	if err := probeWritable(path); err != nil {
		return err
	}
	if err := m.settings.Set(settingsKey, remember); err != nil {
		return fmt.Errorf("failed to remember output folder: %w", err)
	}

	m.mu.Lock()
	old := m.dir
	m.dir = path
	watcher := m.watcher
	m.mu.Unlock()

	if watcher != nil {
		watcher.swap(old, path)
	}
	logging.InfoLogger.Printf("Output folder set to %s", path)
	return nil
}

func probeWritable(dir string) error {
	probe := filepath.Join(dir, ".studio-write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("output folder %s is not writable: %w", dir, err)
	}
	os.Remove(probe)
	return nil
}

// StillPath returns the full path for a still captured at t.
func (m *Manager) StillPath(t time.Time) string {
	return filepath.Join(m.Dir(), StillName(t))
}

// ClipPath returns the full path for a clip captured at t.
func (m *Manager) ClipPath(t time.Time) string {
	return filepath.Join(m.Dir(), ClipName(t))
}

// List returns the captured files in the output folder, newest first.
func (m *Manager) List() ([]Item, error) {
	dir := m.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output folder %s: %w", dir, err)
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, ok := kindForFile(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].ModTime.After(items[j].ModTime)
	})
	return items, nil
}

// Latest returns the newest captured file of the given kind.
func (m *Manager) Latest(kind Kind) (Item, bool) {
	items, err := m.List()
	if err != nil {
		return Item{}, false
	}
	for _, item := range items {
		if item.Kind == kind {
			return item, true
		}
	}
	return Item{}, false
}

func kindForFile(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return KindStill, true
	case ".mp4":
		return KindClip, true
	}
	return "", false
}
