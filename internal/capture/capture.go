// Package capture runs ffmpeg against an MJPEG stream to produce still
// images and timed clips. Recordings are stopped cooperatively: ffmpeg gets
// "q" on stdin and a bounded wait before being killed.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mjpeg-studio/studio/internal/config"
	"github.com/mjpeg-studio/studio/internal/logging"
)

// gracefulStopTimeout bounds how long a cancelled recording may take to
// flush and exit before it is killed.
const gracefulStopTimeout = 3 * time.Second

// rwTimeoutMicros is passed to ffmpeg so a dead stream fails the capture
// instead of blocking it forever.
const rwTimeoutMicros = "5000000"

// Service runs one-shot ffmpeg captures. The zero FfmpegPath means the
// executable is searched in PATH. Simulate skips ffmpeg entirely and writes
// placeholder files, for running without a camera.
type Service struct {
	FfmpegPath string
	Settings   config.CaptureConfig
	Simulate   bool
}

// New builds a Service from the loaded configuration.
func New(cfg *config.Config) *Service {
	return &Service{
		FfmpegPath: cfg.FfmpegPath,
		Settings:   cfg.Capture,
		Simulate:   config.NoCapture,
	}
}

// Still grabs a single frame from streamURL and writes it to destPath.
func (s *Service) Still(ctx context.Context, streamURL, destPath string) error {
	args := buildStillArgs(streamURL, destPath)
	if s.Simulate {
		logging.InfoLogger.Printf("Simulating snapshot: ffmpeg %s", strings.Join(args, " "))
		return s.simulate(ctx, "snapshot", 0, destPath, nil)
	}
	return s.run(ctx, "snapshot", args, destPath, nil)
}

// Record captures a clip of the given duration from streamURL into destPath.
// It blocks until the recording finishes, fails, or ctx is cancelled; a
// cancelled recording keeps its partial file when one was written. Progress
// callbacks are invoked from a reader goroutine.
func (s *Service) Record(ctx context.Context, streamURL string, seconds int, destPath string, onProgress func(Progress)) error {
	args := s.buildClipArgs(streamURL, seconds, destPath)
	if s.Simulate {
		logging.InfoLogger.Printf("Simulating record: ffmpeg %s", strings.Join(args, " "))
		return s.simulate(ctx, "record", seconds, destPath, onProgress)
	}
	return s.run(ctx, "record", args, destPath, onProgress)
}

func buildStillArgs(streamURL, destPath string) []string {
	return []string{
		"-y",
		"-rw_timeout", rwTimeoutMicros,
		"-f", "mjpeg",
		"-use_wallclock_as_timestamps", "1",
		"-i", streamURL,
		"-frames:v", "1",
		destPath,
	}
}

// buildClipArgs builds the ffmpeg arguments for a timed clip. Without
// recoding the MJPEG frames are copied into the container as-is; recoding
// applies the resolution and frame rate from the capture settings.
func (s *Service) buildClipArgs(streamURL string, seconds int, destPath string) []string {
	args := []string{
		"-y",
		"-rw_timeout", rwTimeoutMicros,
		"-f", "mjpeg",
		"-use_wallclock_as_timestamps", "1",
		"-i", streamURL,
		"-t", strconv.Itoa(seconds),
		"-an",
	}

	if s.Settings.Recode {
		if s.Settings.Width > 0 && s.Settings.Height > 0 {
			args = append(args, "-s", fmt.Sprintf("%dx%d", s.Settings.Width, s.Settings.Height))
		}
		if s.Settings.FPS > 0 {
			args = append(args, "-r", strconv.Itoa(s.Settings.FPS))
		}
		args = append(args,
			"-c:v", "libx264",
			"-crf", "18",
			"-preset", "medium",
			"-profile:v", "main",
			"-pix_fmt", "yuv420p",
		)
	} else {
		args = append(args, "-c:v", "copy")
	}

	args = append(args, destPath)
	return args
}

func (s *Service) run(ctx context.Context, op string, args []string, destPath string, onProgress func(Progress)) error {
	ffmpegPath, err := s.locate(op)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Msg: "failed to create output directory", Err: err}
	}

	cmd := newCaptureCmd(ffmpegPath, args)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Err: err}
	}

	logging.InfoLogger.Printf("Executing %s command: %s", op, cmd.String())
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Msg: "failed to start ffmpeg", Err: err}
	}
	if err := assignToJob(cmd); err != nil {
		logging.WarningLogger.Printf("Could not assign ffmpeg to job object: %v", err)
	}

	monitor := newStderrMonitor(onProgress)
	go monitor.run(stderr)

	// Stderr must be drained before Wait reaps the process, or the last
	// diagnostic lines can be lost.
	waitCh := make(chan error, 1)
	go func() {
		monitor.wait()
		waitCh <- cmd.Wait()
	}()

	select {
	case waitErr := <-waitCh:
		return s.finish(op, destPath, waitErr, monitor)

	case <-ctx.Done():
		waitErr := stopGracefully(cmd, stdin, waitCh)
		logging.Trace("cancelled %s, ffmpeg exit: %v", op, waitErr)
		keepOrRemovePartial(destPath)
		return ctx.Err()
	}
}

// stopGracefully asks ffmpeg to finish the output file by sending "q", then
// kills it if it has not exited within the stop timeout.
func stopGracefully(cmd *exec.Cmd, stdin io.WriteCloser, waitCh <-chan error) error {
	logging.InfoLogger.Println("Attempting to stop ffmpeg gracefully...")
	if _, err := stdin.Write([]byte("q\n")); err != nil {
		logging.InfoLogger.Printf("Could not write 'q' to ffmpeg (this is normal if process exited): %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := stdin.Close(); err != nil {
		logging.InfoLogger.Printf("Could not close stdin (this is normal if process exited): %v", err)
	}

	select {
	case err := <-waitCh:
		logging.InfoLogger.Println("ffmpeg stopped gracefully")
		return err
	case <-time.After(gracefulStopTimeout):
		logging.WarningLogger.Println("ffmpeg did not stop in time, killing it")
		if err := forceKill(cmd); err != nil {
			logging.ErrorLogger.Printf("Failed to kill ffmpeg: %v", err)
		}
		return <-waitCh
	}
}

// finish classifies the outcome of a completed ffmpeg run.
func (s *Service) finish(op, destPath string, waitErr error, monitor *stderrMonitor) error {
	if waitErr == nil {
		if err := verifyOutput(destPath); err != nil && !s.Settings.AcceptCleanExit {
			return &Error{
				Kind:     KindCapture,
				Op:       op,
				ExitCode: 0,
				Msg:      fmt.Sprintf("ffmpeg reported success but %v", err),
			}
		}
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	removeEmptyOutput(destPath)

	tail := monitor.tailText()
	kind := classifyStderr(tail)
	msg := fmt.Sprintf("ffmpeg exited with status %d", exitCode)
	if tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastLine(tail))
	}
	logging.ErrorLogger.Printf("%s failed: %s", op, msg)
	if tail != "" {
		logging.ErrorLogger.Printf("ffmpeg output:\n%s", tail)
	}

	return &Error{Kind: kind, Op: op, ExitCode: exitCode, Msg: msg, Err: waitErr}
}

// verifyOutput checks that the capture actually produced a usable file.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output file was produced at %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file %s is empty", path)
	}
	return nil
}

// keepOrRemovePartial keeps a cancelled recording's partial file when ffmpeg
// managed to write anything, and cleans up an empty one.
func keepOrRemovePartial(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() == 0 {
		os.Remove(path)
		return
	}
	logging.InfoLogger.Printf("Kept partial file: %s", path)
}

func removeEmptyOutput(path string) {
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		os.Remove(path)
	}
}

func lastLine(tail string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i] == '\n' {
			return tail[i+1:]
		}
	}
	return tail
}

// simulate stands in for ffmpeg when running without a camera: it waits out
// the requested duration, emits fake progress, and writes a marker file.
func (s *Service) simulate(ctx context.Context, op string, seconds int, destPath string, onProgress func(Progress)) error {
	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Msg: "failed to create output directory", Err: err}
	}

	fps := s.Settings.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for elapsed := 0; elapsed < seconds; elapsed++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if onProgress != nil {
				onProgress(Progress{
					Frame: int64((elapsed + 1) * fps),
					FPS:   float64(fps),
					Speed: "1x",
				})
			}
		}
	}

	if err := os.WriteFile(destPath, []byte("simulated capture output\n"), 0644); err != nil {
		return &Error{Kind: KindCapture, Op: op, ExitCode: -1, Err: err}
	}
	return nil
}
