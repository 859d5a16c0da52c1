package capture

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mjpeg-studio/studio/internal/logging"
)

// Progress is a decoded ffmpeg stats line (frame= ... fps= ... speed= ...).
type Progress struct {
	Frame   int64
	FPS     float64
	Bitrate string
	Speed   string
}

var (
	frameRegex   = regexp.MustCompile(`frame=\s*([0-9]+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([0-9.]+)`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*([^\s]+)`)
	speedRegex   = regexp.MustCompile(`speed=\s*([^\s]+)`)
)

const tailLines = 12

// stderrMonitor consumes ffmpeg's stderr: stats lines are decoded and handed
// to onProgress, everything else is kept in a bounded tail used to explain
// failures afterwards.
type stderrMonitor struct {
	mu         sync.Mutex
	tail       []string
	onProgress func(Progress)
	done       chan struct{}
}

func newStderrMonitor(onProgress func(Progress)) *stderrMonitor {
	return &stderrMonitor{onProgress: onProgress, done: make(chan struct{})}
}

// run reads stderr until EOF. ffmpeg rewrites its stats line in place using
// bare carriage returns, so the scanner splits on CR as well as LF.
func (m *stderrMonitor) run(stderr io.Reader) {
	defer close(m.done)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logging.Trace("ffmpeg: %s", line)

		if strings.Contains(line, "frame=") || strings.Contains(line, "fps=") {
			if m.onProgress != nil {
				m.onProgress(parseProgress(line))
			}
			continue
		}
		m.keep(line)
	}
}

// wait blocks until stderr has been fully drained.
func (m *stderrMonitor) wait() {
	<-m.done
}

func (m *stderrMonitor) keep(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tail = append(m.tail, line)
	if len(m.tail) > tailLines {
		m.tail = m.tail[len(m.tail)-tailLines:]
	}
}

// tailText returns the retained stderr lines as one string.
func (m *stderrMonitor) tailText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.tail, "\n")
}

func parseProgress(line string) Progress {
	var p Progress
	if v, ok := regexValue(frameRegex, line); ok {
		p.Frame, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := regexValue(fpsRegex, line); ok {
		p.FPS, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := regexValue(bitrateRegex, line); ok {
		p.Bitrate = v
	}
	if v, ok := regexValue(speedRegex, line); ok {
		p.Speed = v
	}
	return p
}

func regexValue(re *regexp.Regexp, line string) (string, bool) {
	matches := re.FindStringSubmatch(line)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

func splitCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// transportMarkers are stderr fragments that identify a failure to reach or
// read the stream, as opposed to a failure of the capture itself.
var transportMarkers = []string{
	"Connection refused",
	"Connection timed out",
	"Connection reset",
	"Failed to resolve hostname",
	"Name or service not known",
	"No route to host",
	"Server returned 4",
	"Server returned 5",
	"Error opening input",
	"Input/output error",
	"End of file",
}

// classifyStderr decides whether a failed run was a transport problem by
// inspecting the retained stderr tail.
func classifyStderr(tail string) Kind {
	for _, marker := range transportMarkers {
		if strings.Contains(tail, marker) {
			return KindTransport
		}
	}
	return KindCapture
}
