// Package status fans state changes out to the desktop UI and to web console
// clients. The UI reads StatusChan; web clients get the same message as JSON.
package status

import (
	"encoding/json"
	"sync"

	"github.com/mjpeg-studio/studio/internal/websocket"
)

const (
	Ready     = "READY"  // Application idle, stream ready
	Preview   = "PREV"   // Preview running
	Snapshot  = "SNAP"   // Still image captured
	Recording = "REC"    // Clip recording in progress
	Done      = "DONE"   // Capture finished and file verified
	Cancelled = "CANCEL" // Capture stopped by the user
	Error     = "ERR"    // Capture failed
	Notice    = "NOTE"   // Advisory message, not a capture outcome
)

// Message wraps a status code and message text
type Message struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// StatusChan carries updates to the desktop UI. Sends never block: when the
// UI falls behind, intermediate updates are dropped.
var StatusChan = make(chan Message, 10)

var (
	lastMu  sync.Mutex
	lastMsg = Message{Code: Ready, Text: "Ready"}
)

// Last returns the most recent status, so late-joining web clients can show
// something before the next update arrives.
func Last() Message {
	lastMu.Lock()
	defer lastMu.Unlock()
	return lastMsg
}

// Send broadcasts a status update to web clients and the desktop UI.
func Send(code string, text string) {
	msg := Message{
		Code: code,
		Text: text,
	}

	lastMu.Lock()
	lastMsg = msg
	lastMu.Unlock()

	// Send to web clients
	if data, err := json.Marshal(msg); err == nil {
		websocket.SendMessage(string(data))

		// New media only appears on the console after a reload
		if code == Done || code == Snapshot {
			websocket.SendMessage("reload")
		}
	}

	// Send to Fyne UI
	select {
	case StatusChan <- msg:
	default:
		// Channel is full, skip this update
	}
}
