package capture

import (
	"os/exec"
	"syscall"
)

const ffmpegExe = "ffmpeg"

// InitPlatform is a no-op on Linux; child cleanup uses process groups.
func InitPlatform() error {
	return nil
}

// newCaptureCmd creates the ffmpeg command in its own process group so a
// force kill can take down ffmpeg together with anything it spawned.
func newCaptureCmd(path string, args []string) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd
}

func assignToJob(cmd *exec.Cmd) error {
	return nil
}

// forceKill kills the entire process group.
func forceKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return err
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
