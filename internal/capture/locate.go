package capture

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/mjpeg-studio/studio/internal/logging"
)

// locate resolves the ffmpeg executable: an explicitly configured path wins,
// otherwise the system PATH is searched.
func (s *Service) locate(op string) (string, error) {
	if s.FfmpegPath != "" {
		if _, err := os.Stat(s.FfmpegPath); err != nil {
			return "", &Error{
				Kind:     KindMissingDependency,
				Op:       op,
				ExitCode: -1,
				Msg:      fmt.Sprintf("configured ffmpeg path %s is not usable. %s", s.FfmpegPath, InstallInstructions()),
				Err:      err,
			}
		}
		return s.FfmpegPath, nil
	}

	path, err := exec.LookPath(ffmpegExe)
	if err != nil {
		logging.ErrorLogger.Printf("ffmpeg not found in PATH: %v", err)
		return "", &Error{
			Kind:     KindMissingDependency,
			Op:       op,
			ExitCode: -1,
			Msg:      "ffmpeg is required but was not found. " + InstallInstructions(),
			Err:      err,
		}
	}
	return path, nil
}

// InstallInstructions returns a one-line hint for installing ffmpeg on the
// current platform, shown alongside missing-dependency errors.
func InstallInstructions() string {
	switch runtime.GOOS {
	case "windows":
		return "Install it with: winget install ffmpeg (or choco install ffmpeg), or download it from https://ffmpeg.org/"
	case "darwin":
		return "Install it with: brew install ffmpeg"
	default:
		return "Install it with your package manager, e.g.: sudo apt install ffmpeg"
	}
}
