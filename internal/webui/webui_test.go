package webui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjpeg-studio/studio/internal/capture"
	"github.com/mjpeg-studio/studio/internal/config"
	"github.com/mjpeg-studio/studio/internal/media"
	"github.com/mjpeg-studio/studio/internal/session"
	"github.com/mjpeg-studio/studio/internal/settings"
	"github.com/mjpeg-studio/studio/internal/urlstore"
)

// newTestServer wires the real controller, media manager and library over a
// simulated capture service, then serves the router from httptest. The
// handler package state is global, so tests must not run in parallel.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	cfg = &config.Config{
		Port:    8097,
		Capture: config.CaptureConfig{Durations: []int{5, 10, 30}},
	}
	manager = media.NewManager(store, t.TempDir())
	library = urlstore.New(store)
	controller = session.NewController(&capture.Service{Simulate: true}, manager)

	srv := httptest.NewServer(newRouter())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// waitForIdle polls the status endpoint until no recording is active.
func waitForIdle(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/api/status")
		require.NoError(t, err)
		var st struct {
			Recording bool `json:"recording"`
		}
		decodeBody(t, resp, &st)
		if !st.Recording {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("recording never went idle")
}

func TestConsolePageRenders(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "MJPEG Capture Studio")
	assert.Contains(t, string(body), "Record 10s")
}

func TestRecordRejectsBadDuration(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/record", map[string]any{
		"url":     "http://cam.example/video",
		"seconds": 0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordRejectsBadURL(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/record", map[string]any{
		"url":     "cam.example/video",
		"seconds": 5,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/record", map[string]any{
		"url":     "http://cam.example/video",
		"seconds": 30,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		ID      string `json:"id"`
		Seconds int    `json:"seconds"`
	}
	decodeBody(t, resp, &accepted)
	assert.NotEmpty(t, accepted.ID)
	assert.Equal(t, 30, accepted.Seconds)

	// A second start while recording conflicts.
	resp = postJSON(t, srv.URL+"/api/record", map[string]any{
		"url":     "http://cam.example/video",
		"seconds": 5,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Status reflects the running recording.
	stResp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	var st struct {
		Recording        bool `json:"recording"`
		RemainingSeconds int  `json:"remainingSeconds"`
	}
	decodeBody(t, stResp, &st)
	assert.True(t, st.Recording)
	assert.Greater(t, st.RemainingSeconds, 0)

	resp = postJSON(t, srv.URL+"/api/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	waitForIdle(t, srv.URL)

	// Nothing left to cancel.
	resp = postJSON(t, srv.URL+"/api/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSnapshotFallsBackToMostRecentURL(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, library.Touch("http://cam.example/stream"))

	// Empty body: the library supplies the stream.
	resp, err := http.Post(srv.URL+"/api/snapshot", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The simulated still lands in the output folder.
	deadline := time.Now().Add(3 * time.Second)
	for {
		latest, err := http.Get(srv.URL + "/latest/still")
		require.NoError(t, err)
		latest.Body.Close()
		if latest.StatusCode == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("still never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSnapshotWithoutAnyURLFails(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/snapshot", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLatestWithoutCaptures(t *testing.T) {
	srv := newTestServer(t)

	for _, kind := range []string{"still", "clip"} {
		resp, err := http.Get(srv.URL + "/latest/" + kind)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, kind)
	}

	resp, err := http.Get(srv.URL + "/latest/nonsense")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMediaListAndDownload(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/snapshot", map[string]string{
		"url": "http://cam.example/video",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var items []media.Item
	deadline := time.Now().Add(3 * time.Second)
	for len(items) == 0 {
		listResp, err := http.Get(srv.URL + "/api/media")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, listResp.StatusCode)
		decodeBody(t, listResp, &items)
		if time.Now().After(deadline) {
			t.Fatal("media list stayed empty")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, media.KindStill, items[0].Kind)

	fileResp, err := http.Get(fmt.Sprintf("%s/media/%s", srv.URL, items[0].Name))
	require.NoError(t, err)
	defer fileResp.Body.Close()
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	payload, err := io.ReadAll(fileResp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}
