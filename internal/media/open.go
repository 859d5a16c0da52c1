package media

import (
	"os/exec"
	"runtime"

	"github.com/mjpeg-studio/studio/internal/logging"
)

// OpenInFileManager opens the output folder in the platform file explorer.
func OpenInFileManager(dir string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	case "linux":
		cmd = exec.Command("xdg-open", dir)
	default:
		logging.WarningLogger.Printf("Unsupported platform: %s", runtime.GOOS)
		return
	}
	if err := cmd.Start(); err != nil {
		logging.ErrorLogger.Printf("Failed to open output folder: %v", err)
	}
}
