package media

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mjpeg-studio/studio/internal/logging"
)

// debounceDelay coalesces the burst of filesystem events a finished capture
// produces into a single change callback.
const debounceDelay = 300 * time.Millisecond

type dirWatcher struct {
	fsw      *fsnotify.Watcher
	onChange func()
}

// StartWatcher begins watching the output folder and calls onChange, after a
// short debounce, whenever captured files appear, change, or disappear.
func (m *Manager) StartWatcher(onChange func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(m.Dir()); err != nil {
		fsw.Close()
		return err
	}

	w := &dirWatcher{fsw: fsw, onChange: onChange}
	go w.loop()

	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	logging.InfoLogger.Printf("Watching output folder %s", m.Dir())
	return nil
}

// Close stops the folder watcher if one is running.
func (m *Manager) Close() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.fsw.Close()
}

func (w *dirWatcher) loop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, relevant := kindForFile(event.Name); !relevant {
				continue
			}
			logging.Trace("output folder event: %s", event)
			if debounce == nil {
				debounce = time.AfterFunc(debounceDelay, w.onChange)
			} else {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WarningLogger.Printf("Output folder watcher error: %v", err)
		}
	}
}

// swap moves the watch from the old output folder to the new one.
func (w *dirWatcher) swap(oldDir, newDir string) {
	if err := w.fsw.Remove(oldDir); err != nil {
		logging.Trace("stop watching %s: %v", oldDir, err)
	}
	if err := w.fsw.Add(newDir); err != nil {
		logging.ErrorLogger.Printf("Failed to watch new output folder %s: %v", newDir, err)
	}
}
