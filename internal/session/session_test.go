package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjpeg-studio/studio/internal/capture"
	"github.com/mjpeg-studio/studio/internal/status"
	"github.com/mjpeg-studio/studio/internal/urlstore"
)

// fakeRecorder hands control of capture completion to the test: Record
// blocks until the test pushes a result into release (or the context is
// cancelled, unless ignoreCtx is set).
type fakeRecorder struct {
	started   chan struct{}
	release   chan error
	ignoreCtx bool

	stillErr   error
	stillBlock chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		started: make(chan struct{}, 8),
		release: make(chan error),
	}
}

func (f *fakeRecorder) Record(ctx context.Context, streamURL string, seconds int, destPath string, onProgress func(capture.Progress)) error {
	f.started <- struct{}{}
	if f.ignoreCtx {
		return <-f.release
	}
	select {
	case err := <-f.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRecorder) Still(ctx context.Context, streamURL, destPath string) error {
	if f.stillBlock != nil {
		select {
		case <-f.stillBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.stillErr
}

type fakePaths struct{ dir string }

func (p fakePaths) StillPath(t time.Time) string { return filepath.Join(p.dir, "still.png") }
func (p fakePaths) ClipPath(t time.Time) string  { return filepath.Join(p.dir, "clip.mp4") }

// notifications records status updates for assertion.
type notifications struct {
	mu   sync.Mutex
	msgs []status.Message
}

func (n *notifications) notify(code, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, status.Message{Code: code, Text: text})
}

func (n *notifications) all() []status.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]status.Message, len(n.msgs))
	copy(out, n.msgs)
	return out
}

func (n *notifications) terminals() []status.Message {
	var out []status.Message
	for _, m := range n.all() {
		switch m.Code {
		case status.Done, status.Error, status.Cancelled:
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until pred holds or the deadline passes.
func waitFor(t *testing.T, pred func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "timed out waiting for "+what)
}

func (n *notifications) waitForCode(t *testing.T, code string) {
	t.Helper()
	waitFor(t, func() bool {
		for _, m := range n.all() {
			if m.Code == code {
				return true
			}
		}
		return false
	}, "status "+code)
}

func newTestController(t *testing.T) (*Controller, *fakeRecorder, *notifications) {
	t.Helper()
	rec := newFakeRecorder()
	n := &notifications{}
	c := NewController(rec, fakePaths{dir: t.TempDir()})
	c.notify = n.notify
	return c, rec, n
}

func TestStartRecordingValidatesURL(t *testing.T) {
	c, _, _ := newTestController(t)

	for _, bad := range []string{"", "   ", "cam.local/video", "ftp://cam.local/video", "http://"} {
		_, err := c.StartRecording(bad, 10)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", bad)
	}
}

func TestStartRecordingValidatesDuration(t *testing.T) {
	c, _, _ := newTestController(t)

	for _, bad := range []int{0, -5, MaxClipSeconds + 1} {
		_, err := c.StartRecording("http://cam.local/video", bad)
		assert.ErrorIs(t, err, ErrInvalidDuration, "duration %d", bad)
	}
}

func TestRecordingSucceeds(t *testing.T) {
	c, rec, n := newTestController(t)

	r, err := c.StartRecording("http://cam.local/video", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 10, r.Seconds)
	assert.True(t, c.IsRecording())

	<-rec.started
	rec.release <- nil
	n.waitForCode(t, status.Done)

	waitFor(t, func() bool { return !c.IsRecording() }, "controller idle")
	terminals := n.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, status.Done, terminals[0].Code)
	assert.Contains(t, terminals[0].Text, "clip.mp4")

	msgs := n.all()
	assert.Equal(t, status.Recording, msgs[0].Code)

	// The controller is reusable after a terminal state.
	_, err = c.StartRecording("http://cam.local/video", 5)
	require.NoError(t, err)
	<-rec.started
	rec.release <- nil
	waitFor(t, func() bool { return len(n.terminals()) == 2 }, "second terminal")
}

func TestRecordingFailureClassifiesTransport(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 10)
	require.NoError(t, err)

	<-rec.started
	rec.release <- &capture.Error{
		Kind:     capture.KindTransport,
		Op:       "record",
		ExitCode: 1,
		Msg:      "Connection refused",
	}
	n.waitForCode(t, status.Error)

	terminals := n.terminals()
	require.Len(t, terminals, 1)
	assert.Contains(t, terminals[0].Text, "Could not read the stream")
	assert.Contains(t, terminals[0].Text, "Connection refused")
}

func TestMissingDependencySurfacesInstallInstructions(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 10)
	require.NoError(t, err)

	<-rec.started
	rec.release <- &capture.Error{
		Kind:     capture.KindMissingDependency,
		Op:       "record",
		ExitCode: -1,
		Msg:      "ffmpeg is required but was not found. " + capture.InstallInstructions(),
	}
	n.waitForCode(t, status.Error)

	terminals := n.terminals()
	require.Len(t, terminals, 1)
	assert.Contains(t, terminals[0].Text, "Install it with")
}

func TestSecondStartIsRejectedWhileRecording(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 10)
	require.NoError(t, err)
	<-rec.started

	_, err = c.StartRecording("http://cam.local/video", 10)
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	err = c.Snapshot("http://cam.local/video")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	rec.release <- nil
	n.waitForCode(t, status.Done)
}

func TestCancelRecording(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 30)
	require.NoError(t, err)
	<-rec.started

	require.NoError(t, c.CancelRecording())
	n.waitForCode(t, status.Cancelled)

	terminals := n.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, status.Cancelled, terminals[0].Code)
	waitFor(t, func() bool { return !c.IsRecording() }, "controller idle")
}

func TestCancelWithoutRecording(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.ErrorIs(t, c.CancelRecording(), ErrNoActiveRecording)
}

func TestCancelRacingCompletionReportsOnce(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 10)
	require.NoError(t, err)
	<-rec.started

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.CancelRecording()
	}()
	go func() {
		defer wg.Done()
		select {
		case rec.release <- nil:
		case <-time.After(time.Second):
		}
	}()
	wg.Wait()

	waitFor(t, func() bool { return len(n.terminals()) >= 1 }, "terminal status")
	time.Sleep(100 * time.Millisecond)

	terminals := n.terminals()
	require.Len(t, terminals, 1, "exactly one terminal notification")
	code := terminals[0].Code
	assert.True(t, code == status.Done || code == status.Cancelled, "unexpected terminal %s", code)
}

func TestWedgedRecorderIsForcedToCancel(t *testing.T) {
	oldWait := cancelWait
	cancelWait = 50 * time.Millisecond
	defer func() { cancelWait = oldWait }()

	c, rec, n := newTestController(t)
	rec.ignoreCtx = true

	_, err := c.StartRecording("http://cam.local/video", 30)
	require.NoError(t, err)
	<-rec.started

	require.NoError(t, c.CancelRecording())
	n.waitForCode(t, status.Cancelled)
	waitFor(t, func() bool { return !c.IsRecording() }, "controller idle")

	// The stuck recorder finally returns; the latch suppresses a second
	// terminal notification.
	rec.release <- nil
	time.Sleep(100 * time.Millisecond)

	require.Len(t, n.terminals(), 1)
}

func TestSnapshotReportsResult(t *testing.T) {
	c, _, n := newTestController(t)

	require.NoError(t, c.Snapshot("http://cam.local/video"))
	n.waitForCode(t, status.Snapshot)

	msgs := n.all()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "still.png")
}

func TestSnapshotValidatesURL(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.ErrorIs(t, c.Snapshot("not a url"), ErrInvalidURL)
}

func TestSnapshotTimeoutReportsReadableError(t *testing.T) {
	c, rec, n := newTestController(t)
	rec.stillErr = context.DeadlineExceeded

	require.NoError(t, c.Snapshot("http://cam.local/video"))
	n.waitForCode(t, status.Error)

	msgs := n.all()
	assert.Equal(t, "Capture timed out: the stream did not respond", msgs[len(msgs)-1].Text)
}

func TestUnclassifiedFailureIsWrapped(t *testing.T) {
	c, rec, n := newTestController(t)
	rec.stillErr = errors.New("connection reset by peer")

	require.NoError(t, c.Snapshot("http://cam.local/video"))
	n.waitForCode(t, status.Error)

	msgs := n.all()
	assert.Equal(t, "Capture failed: connection reset by peer", msgs[len(msgs)-1].Text)
}

func TestPreviewValidatesAndAnnounces(t *testing.T) {
	c, _, n := newTestController(t)

	var mu sync.Mutex
	var used []string
	c.OnURLUsed(func(u string) error {
		mu.Lock()
		used = append(used, u)
		mu.Unlock()
		return nil
	})

	_, err := c.Preview("rtsp://cam.local/video")
	assert.ErrorIs(t, err, ErrInvalidURL)

	u, err := c.Preview("  http://cam.local/video ")
	require.NoError(t, err)
	assert.Equal(t, "http://cam.local/video", u)
	n.waitForCode(t, status.Preview)

	// Rejected previews never reach the library.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"http://cam.local/video"}, used)
}

func TestOverlappingSnapshotsAreRejected(t *testing.T) {
	c, rec, n := newTestController(t)
	rec.stillBlock = make(chan struct{})

	require.NoError(t, c.Snapshot("http://cam.local/video"))
	assert.ErrorIs(t, c.Snapshot("http://cam.local/video"), ErrCaptureBusy)

	close(rec.stillBlock)
	n.waitForCode(t, status.Snapshot)

	// Once the first snapshot finishes the controller accepts another.
	waitFor(t, func() bool {
		return c.Snapshot("http://cam.local/video") == nil
	}, "snapshot slot free")
}

func TestURLUsedHookFires(t *testing.T) {
	c, rec, n := newTestController(t)

	var mu sync.Mutex
	var used []string
	c.OnURLUsed(func(u string) error {
		mu.Lock()
		used = append(used, u)
		mu.Unlock()
		return nil
	})

	require.NoError(t, c.Snapshot("  http://cam.local/video  "))
	n.waitForCode(t, status.Snapshot)

	// The slot frees just after the report; retry until accepted. Rejected
	// attempts never fire the hook.
	waitFor(t, func() bool {
		_, err := c.StartRecording("http://cam.local/video", 5)
		return err == nil
	}, "recording accepted")
	<-rec.started
	rec.release <- nil

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(used) == 2
	}, "url hook calls")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "http://cam.local/video", used[0], "hook receives the trimmed url")
}

func TestRejectedAddressSurfacesNotice(t *testing.T) {
	c, _, n := newTestController(t)
	c.OnURLUsed(func(string) error { return urlstore.ErrLibraryFull })

	_, err := c.Preview("http://cam.local/video")
	require.NoError(t, err)

	msgs := n.all()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, status.Notice, last.Code)
	assert.Contains(t, last.Text, "Address not saved")
	// The capture itself still goes ahead.
	assert.Equal(t, status.Preview, msgs[len(msgs)-2].Code)
}

func TestCountdownTicks(t *testing.T) {
	c, rec, n := newTestController(t)

	_, err := c.StartRecording("http://cam.local/video", 2)
	require.NoError(t, err)
	<-rec.started

	waitFor(t, func() bool {
		for _, m := range n.all() {
			if m.Code == status.Recording && strings.Contains(m.Text, "1s left") {
				return true
			}
		}
		return false
	}, "countdown tick")

	require.NoError(t, c.CancelRecording())
	n.waitForCode(t, status.Cancelled)
}

func TestDisplaySeconds(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{10 * time.Second, 10},
		{9*time.Second + 999*time.Millisecond, 10},
		{9 * time.Second, 9},
		{time.Millisecond, 1},
		{0, 0},
		{-time.Second, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, displaySeconds(tt.remaining), "remaining %v", tt.remaining)
	}
}

func TestRemaining(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Recording{Seconds: 10, StartedAt: start}

	assert.Equal(t, 10, r.Remaining(start))
	assert.Equal(t, 8, r.Remaining(start.Add(2500*time.Millisecond)))
	assert.Equal(t, 1, r.Remaining(start.Add(9*time.Second+900*time.Millisecond)))
	assert.Equal(t, 0, r.Remaining(start.Add(11*time.Second)))
}
