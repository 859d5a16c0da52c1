// Package session coordinates captures: it validates requests, enforces the
// one-active-capture rule, drives the countdown, and guarantees that every
// recording ends in exactly one terminal notification, even when a cancel
// races natural completion.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mjpeg-studio/studio/internal/capture"
	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/status"
	"github.com/mjpeg-studio/studio/internal/urlstore"
)

// MaxClipSeconds bounds the requested clip duration.
const MaxClipSeconds = 3600

var (
	ErrInvalidURL        = errors.New("stream url must be an http:// or https:// address")
	ErrInvalidDuration   = fmt.Errorf("clip duration must be between 1 and %d seconds", MaxClipSeconds)
	ErrAlreadyRecording  = errors.New("a recording is already in progress")
	ErrNoActiveRecording = errors.New("no recording is in progress")
	ErrCaptureBusy       = errors.New("another capture is still in progress")
)

const (
	countdownInterval = 250 * time.Millisecond
	snapshotTimeout   = 20 * time.Second
)

// cancelWait bounds how long a cancelled recording may linger before the
// controller declares it over regardless of what ffmpeg is doing.
var cancelWait = 5 * time.Second

// Recorder is the capture engine the controller drives. Satisfied by
// capture.Service.
type Recorder interface {
	Still(ctx context.Context, streamURL, destPath string) error
	Record(ctx context.Context, streamURL string, seconds int, destPath string, onProgress func(capture.Progress)) error
}

// Paths decides where captured files go. Satisfied by media.Manager.
type Paths interface {
	StillPath(t time.Time) string
	ClipPath(t time.Time) string
}

// Recording describes one accepted clip request.
type Recording struct {
	ID        string
	URL       string
	Seconds   int
	Path      string
	StartedAt time.Time
}

// Remaining returns the whole seconds left at now, rounded up so the
// countdown never shows 0 while the recording is still running.
func (r Recording) Remaining(now time.Time) int {
	end := r.StartedAt.Add(time.Duration(r.Seconds) * time.Second)
	return displaySeconds(end.Sub(now))
}

func displaySeconds(remaining time.Duration) int {
	ms := remaining.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int((ms + 999) / 1000)
}

type activeRecording struct {
	rec      Recording
	cancel   context.CancelFunc
	done     chan struct{}
	terminal atomic.Bool
}

// Controller serializes captures against a single stream. All methods are
// safe for concurrent use; notifications go out on the status pipeline.
type Controller struct {
	recorder Recorder
	paths    Paths
	notify   func(code, text string)
	urlUsed  func(url string) error
	now      func() time.Time

	mu     sync.Mutex
	active *activeRecording
	busy   bool
}

// NewController wires a controller to the capture engine and path provider.
func NewController(recorder Recorder, paths Paths) *Controller {
	return &Controller{
		recorder: recorder,
		paths:    paths,
		notify:   status.Send,
		now:      time.Now,
	}
}

// OnURLUsed registers a hook invoked with the stream URL every time a
// capture is accepted. Wired to the saved-URL library at startup. A hook
// error is shown to the user as a status notice.
func (c *Controller) OnURLUsed(fn func(url string) error) {
	c.urlUsed = fn
}

// markUsed bumps u in the saved-URL library. A rejected address is reported
// on the status pipeline rather than just the log.
func (c *Controller) markUsed(u string) {
	if c.urlUsed == nil {
		return
	}
	if err := c.urlUsed(u); err != nil {
		logging.WarningLogger.Printf("Could not save %s to the library: %v", urlstore.MaskCredentials(u), err)
		c.notify(status.Notice, fmt.Sprintf("Address not saved: %v", err))
	}
}

// ValidateURL trims raw and checks that it is a usable stream address.
// It returns ErrInvalidURL for anything that is not http or https.
func ValidateURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", ErrInvalidURL
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", ErrInvalidURL
	}
	return u, nil
}

// Preview validates rawURL for the live preview and announces it on the
// status pipeline. Frame delivery is the preview loop's job; the controller
// only vets the address and bumps its usage.
func (c *Controller) Preview(rawURL string) (string, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}
	logging.InfoLogger.Printf("Preview requested for %s", urlstore.MaskCredentials(u))
	c.notify(status.Preview, "Preview running")
	c.markUsed(u)
	return u, nil
}

// StartRecording validates the request and launches a timed clip capture.
// Progress and the terminal outcome are reported on the status pipeline.
func (c *Controller) StartRecording(rawURL string, seconds int) (Recording, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return Recording{}, err
	}
	if seconds <= 0 || seconds > MaxClipSeconds {
		return Recording{}, ErrInvalidDuration
	}

	c.mu.Lock()
	if c.active != nil && !c.active.terminal.Load() {
		c.mu.Unlock()
		return Recording{}, ErrAlreadyRecording
	}
	if c.busy {
		c.mu.Unlock()
		return Recording{}, ErrCaptureBusy
	}
	now := c.now()
	rec := Recording{
		ID:        uuid.NewString(),
		URL:       u,
		Seconds:   seconds,
		Path:      c.paths.ClipPath(now),
		StartedAt: now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &activeRecording{rec: rec, cancel: cancel, done: make(chan struct{})}
	c.active = a
	c.mu.Unlock()

	logging.InfoLogger.Printf("Starting %ds recording from %s", seconds, urlstore.MaskCredentials(u))
	c.notify(status.Recording, fmt.Sprintf("Recording... %ds left", seconds))
	c.markUsed(u)

	go c.runRecording(ctx, a)
	go c.runCountdown(ctx, a)
	return rec, nil
}

// CancelRecording asks the active recording to stop. The Cancelled
// notification follows once ffmpeg has flushed, or after a bounded wait when
// it refuses to die.
func (c *Controller) CancelRecording() error {
	c.mu.Lock()
	a := c.active
	c.mu.Unlock()

	if a == nil || a.terminal.Load() {
		return ErrNoActiveRecording
	}
	logging.InfoLogger.Printf("Cancelling recording %s", a.rec.ID)
	a.cancel()
	go c.enforceCancel(a)
	return nil
}

// Snapshot captures a single still. The result is reported on the status
// pipeline; only acceptance errors are returned here. A running recording
// rejects the request with ErrAlreadyRecording, an unfinished still with
// ErrCaptureBusy.
func (c *Controller) Snapshot(rawURL string) error {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active != nil && !c.active.terminal.Load() {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	if c.busy {
		c.mu.Unlock()
		return ErrCaptureBusy
	}
	c.busy = true
	path := c.paths.StillPath(c.now())
	c.mu.Unlock()

	logging.InfoLogger.Printf("Capturing still from %s", urlstore.MaskCredentials(u))
	c.markUsed(u)

	go func() {
		defer func() {
			c.mu.Lock()
			c.busy = false
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := c.recorder.Still(ctx, u, path); err != nil {
			logging.ErrorLogger.Printf("Still capture failed: %v", err)
			c.notify(status.Error, describeError(err))
			return
		}
		logging.InfoLogger.Printf("Still saved: %s", path)
		c.notify(status.Snapshot, fmt.Sprintf("Still saved: %s", filepath.Base(path)))
	}()
	return nil
}

// Current returns the active recording, if any.
func (c *Controller) Current() (Recording, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.terminal.Load() {
		return Recording{}, false
	}
	return c.active.rec, true
}

// IsRecording returns the current recording state
func (c *Controller) IsRecording() bool {
	_, ok := c.Current()
	return ok
}

func (c *Controller) runRecording(ctx context.Context, a *activeRecording) {
	defer close(a.done)
	err := c.recorder.Record(ctx, a.rec.URL, a.rec.Seconds, a.rec.Path, func(p capture.Progress) {
		logging.Trace("recording %s: frame=%d fps=%.1f speed=%s", a.rec.ID, p.Frame, p.FPS, p.Speed)
	})
	c.finishRecording(a, err)
}

// finishRecording publishes the terminal outcome. The latch makes sure a
// recording that is cancelled just as it completes reports exactly once.
func (c *Controller) finishRecording(a *activeRecording, err error) {
	if !a.terminal.CompareAndSwap(false, true) {
		return
	}

	switch {
	case err == nil:
		logging.InfoLogger.Printf("Recording %s finished: %s", a.rec.ID, a.rec.Path)
		c.notify(status.Done, fmt.Sprintf("Clip ready: %s", filepath.Base(a.rec.Path)))
	case errors.Is(err, context.Canceled):
		logging.InfoLogger.Printf("Recording %s cancelled", a.rec.ID)
		c.notify(status.Cancelled, "Recording cancelled")
	default:
		logging.ErrorLogger.Printf("Recording %s failed: %v", a.rec.ID, err)
		c.notify(status.Error, describeError(err))
	}

	c.clearActive(a)
	a.cancel()
}

// enforceCancel forces the terminal state when the recorder ignores the
// cancellation for too long.
func (c *Controller) enforceCancel(a *activeRecording) {
	select {
	case <-a.done:
	case <-time.After(cancelWait):
		if a.terminal.CompareAndSwap(false, true) {
			logging.WarningLogger.Printf("Recording %s did not stop in time", a.rec.ID)
			c.notify(status.Cancelled, "Recording cancelled")
			c.clearActive(a)
		}
	}
}

func (c *Controller) clearActive(a *activeRecording) {
	c.mu.Lock()
	if c.active == a {
		c.active = nil
	}
	c.mu.Unlock()
}

// runCountdown reports the remaining time while the recording runs, at most
// once per displayed second.
func (c *Controller) runCountdown(ctx context.Context, a *activeRecording) {
	ticker := time.NewTicker(countdownInterval)
	defer ticker.Stop()

	last := a.rec.Seconds
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case now := <-ticker.C:
			if a.terminal.Load() {
				return
			}
			secs := a.rec.Remaining(now)
			if secs <= 0 {
				return
			}
			if secs != last {
				last = secs
				c.notify(status.Recording, fmt.Sprintf("Recording... %ds left", secs))
			}
		}
	}
}

// describeError turns a capture failure into the text shown to the user.
// Raw Go error strings never reach the status pipeline.
func describeError(err error) string {
	var ce *capture.Error
	if errors.As(err, &ce) {
		msg := ce.Msg
		if msg == "" {
			msg = ce.Error()
		}
		switch ce.Kind {
		case capture.KindMissingDependency:
			return msg
		case capture.KindTransport:
			return fmt.Sprintf("Could not read the stream: %s", msg)
		default:
			return fmt.Sprintf("Capture failed: %s", msg)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Capture timed out: the stream did not respond"
	}
	return fmt.Sprintf("Capture failed: %v", err)
}
