// Package urlstore maintains the library of saved stream URLs shown in the
// side panel: a bounded most-recently-used list where pinned entries survive
// pruning. Every mutation is persisted before it is reported as done.
package urlstore

import (
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mjpeg-studio/studio/internal/logging"
)

// MaxEntries caps the library size. Touching a new URL beyond the cap evicts
// the least recently used unpinned entry.
const MaxEntries = 20

const settingsKey = "saved_urls_v1"

var (
	// ErrInvalidURL is returned when a URL is blank after trimming.
	ErrInvalidURL = errors.New("url is empty")
	// ErrLibraryFull is returned when the library holds MaxEntries pinned
	// entries and none can be evicted to make room.
	ErrLibraryFull = errors.New("url library is full of pinned entries")
	// ErrNotFound is returned when the URL is not in the library.
	ErrNotFound = errors.New("url not found in library")
)

// Entry is one saved URL. LastUsedAt drives both the list order and the
// eviction choice; Pinned exempts the entry from eviction.
type Entry struct {
	URL        string    `json:"url"`
	Label      string    `json:"label,omitempty"`
	Pinned     bool      `json:"pinned,omitempty"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// DisplayName returns the custom label when one is set, the URL otherwise.
func (e Entry) DisplayName() string {
	if e.Label != "" {
		return e.Label
	}
	return e.URL
}

// Settings is the persistence the store writes through. Satisfied by
// settings.File.
type Settings interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Store is the saved-URL library. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	settings Settings
	entries  []Entry
	now      func() time.Time
}

// New loads the library from settings. A corrupt snapshot is logged and
// replaced by an empty library so the application still starts.
func New(settings Settings) *Store {
	s := &Store{settings: settings, now: time.Now}

	raw, ok := settings.Get(settingsKey)
	if !ok || raw == "" {
		return s
	}
	var loaded []Entry
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		logging.WarningLogger.Printf("Saved URL list is corrupt, starting empty: %v", err)
		return s
	}
	for _, e := range loaded {
		if strings.TrimSpace(e.URL) == "" {
			continue
		}
		s.entries = append(s.entries, e)
	}
	sortEntries(s.entries)
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[:MaxEntries]
	}
	return s
}

// Touch records a use of rawURL: an existing entry has its timestamp bumped,
// a new one is inserted, evicting the least recently used unpinned entry when
// the library is at capacity. ErrLibraryFull means nothing could be evicted;
// the stream itself is unaffected, the URL is just not remembered.
func (s *Store) Touch(rawURL string) error {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return ErrInvalidURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.entries {
		if s.entries[i].URL == u {
			updated := cloneEntries(s.entries)
			updated[i].LastUsedAt = now
			return s.commitLocked(updated)
		}
	}

	updated := cloneEntries(s.entries)
	if len(updated) >= MaxEntries {
		victim := -1
		for i, e := range updated {
			if e.Pinned {
				continue
			}
			if victim == -1 || e.LastUsedAt.Before(updated[victim].LastUsedAt) {
				victim = i
			}
		}
		if victim == -1 {
			return ErrLibraryFull
		}
		logging.Trace("evicting saved URL %s", updated[victim].URL)
		updated = append(updated[:victim], updated[victim+1:]...)
	}
	updated = append(updated, Entry{URL: u, LastUsedAt: now})
	return s.commitLocked(updated)
}

// SetPinned pins or unpins the entry for url.
func (s *Store) SetPinned(url string, pinned bool) error {
	return s.update(url, func(e *Entry) {
		e.Pinned = pinned
	})
}

// Pin marks the entry for url as exempt from eviction.
func (s *Store) Pin(url string) error { return s.SetPinned(url, true) }

// Unpin makes the entry for url evictable again.
func (s *Store) Unpin(url string) error { return s.SetPinned(url, false) }

// Rename sets a custom display label for url. An empty label reverts the
// entry to displaying its URL.
func (s *Store) Rename(url, label string) error {
	return s.update(url, func(e *Entry) {
		e.Label = strings.TrimSpace(label)
	})
}

func (s *Store) update(rawURL string, apply func(*Entry)) error {
	u := strings.TrimSpace(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].URL == u {
			updated := cloneEntries(s.entries)
			apply(&updated[i])
			return s.commitLocked(updated)
		}
	}
	return ErrNotFound
}

// Delete removes the entry for url.
func (s *Store) Delete(rawURL string) error {
	u := strings.TrimSpace(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].URL == u {
			updated := cloneEntries(s.entries)
			updated = append(updated[:i], updated[i+1:]...)
			return s.commitLocked(updated)
		}
	}
	return ErrNotFound
}

// Clear removes every entry, pinned or not.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(nil)
}

// List returns the entries in display order: pinned first, then most
// recently used first within each group.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := cloneEntries(s.entries)
	sortEntries(out)
	return out
}

// Len returns the number of saved entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MostRecent returns the last URL used, pinned or not. Remote triggers fall
// back to it when no explicit URL is given.
func (s *Store) MostRecent() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i := range s.entries {
		if best == -1 || s.entries[i].LastUsedAt.After(s.entries[best].LastUsedAt) {
			best = i
		}
	}
	if best == -1 {
		return Entry{}, false
	}
	return s.entries[best], true
}

// commitLocked persists entries and only then makes them the live state, so
// a failed write leaves the previous snapshot in force.
func (s *Store) commitLocked(entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := s.settings.Set(settingsKey, string(data)); err != nil {
		return err
	}
	s.entries = entries
	return nil
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Pinned != entries[j].Pinned {
			return entries[i].Pinned
		}
		return entries[i].LastUsedAt.After(entries[j].LastUsedAt)
	})
}

// MaskCredentials replaces userinfo in a URL with asterisks for display and
// logging. Anything that does not parse is returned unchanged.
func MaskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword("***", "***")
	} else {
		u.User = url.User("***")
	}
	return u.String()
}
