//go:build !windows && !linux

package capture

import (
	"os/exec"
)

const ffmpegExe = "ffmpeg"

// InitPlatform is a no-op on this platform.
func InitPlatform() error {
	return nil
}

func newCaptureCmd(path string, args []string) *exec.Cmd {
	return exec.Command(path, args...)
}

func assignToJob(cmd *exec.Cmd) error {
	return nil
}

func forceKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
