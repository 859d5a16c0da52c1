// Package preview reads an MJPEG-over-HTTP stream and hands JPEG frames to
// the UI at a bounded rate. Capture never depends on the preview: stills and
// clips are produced by ffmpeg from the stream directly.
package preview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/urlstore"
)

// maxFrameBytes caps a single frame so a malformed stream cannot exhaust
// memory.
const maxFrameBytes = 8 << 20

// retryDelay is the pause before reconnecting after a stream error.
const retryDelay = 2 * time.Second

// The client has no overall timeout: the stream is endless by design. Only
// the response headers are required to arrive promptly.
var client = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 10 * time.Second,
	},
}

// Loop is one running preview. Frames arrive on the onFrame callback from a
// background goroutine until Stop is called.
type Loop struct {
	url     string
	fps     int
	onFrame func(frame []byte)
	onError func(err error)

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start begins previewing streamURL at most fps frames per second. Stream
// errors are reported through onError and followed by a reconnect attempt.
func Start(streamURL string, fps int, onFrame func(frame []byte), onError func(err error)) *Loop {
	if fps <= 0 {
		fps = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		url:     streamURL,
		fps:     fps,
		onFrame: onFrame,
		onError: onError,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	logging.InfoLogger.Printf("Starting preview of %s", urlstore.MaskCredentials(streamURL))
	go l.run(ctx)
	return l
}

// Stop ends the preview and waits for the reader to exit. Safe to call more
// than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(l.cancel)
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	for {
		err := l.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.WarningLogger.Printf("Preview stream error: %v", err)
			if l.onError != nil {
				l.onError(err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (l *Loop) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("stream has an unusable Content-Type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("not an MJPEG stream (Content-Type %s)", mediaType)
	}
	// Some cameras put the leading dashes into the boundary parameter.
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return fmt.Errorf("stream has no multipart boundary")
	}

	reader := multipart.NewReader(resp.Body, boundary)
	interval := time.Second / time.Duration(l.fps)
	var lastDelivery time.Time

	for {
		part, err := reader.NextPart()
		if err != nil {
			return fmt.Errorf("stream ended: %w", err)
		}
		frame, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		part.Close()
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		// Frames beyond the display rate are read and dropped to keep the
		// stream position current.
		if now := time.Now(); now.Sub(lastDelivery) >= interval {
			lastDelivery = now
			l.onFrame(frame)
		}
	}
}
