package capture

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/mjpeg-studio/studio/internal/logging"
)

const ffmpegExe = "ffmpeg.exe"

var jobObject windows.Handle

// InitPlatform creates a Windows Job Object with KILL_ON_JOB_CLOSE.
// When the parent process exits (for any reason), Windows will automatically
// kill all ffmpeg processes assigned to this job.
func InitPlatform() error {
	handle, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("CreateJobObject: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err = windows.SetInformationJobObject(
		handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		windows.CloseHandle(handle)
		return fmt.Errorf("SetInformationJobObject: %w", err)
	}

	jobObject = handle
	return nil
}

// newCaptureCmd creates the ffmpeg command without opening a console window.
func newCaptureCmd(path string, args []string) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return cmd
}

// assignToJob adds a running ffmpeg process to the job object so it dies
// with the application.
func assignToJob(cmd *exec.Cmd) error {
	if jobObject == 0 || cmd == nil || cmd.Process == nil {
		return nil
	}

	h, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE,
		false,
		uint32(cmd.Process.Pid),
	)
	if err != nil {
		return fmt.Errorf("OpenProcess(%d): %w", cmd.Process.Pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.AssignProcessToJobObject(jobObject, h); err != nil {
		return fmt.Errorf("AssignProcessToJobObject(%d): %w", cmd.Process.Pid, err)
	}
	return nil
}

// forceKill terminates ffmpeg and its whole process tree.
func forceKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	logging.InfoLogger.Printf("Killing ffmpeg process %d", cmd.Process.Pid)
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	kill.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
	return kill.Run()
}
