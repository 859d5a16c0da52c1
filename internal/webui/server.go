// Package webui serves the browser console: current status over a
// websocket, the captured files, and a small JSON API so the studio can be
// driven from another machine on the network.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mjpeg-studio/studio/internal/config"
	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/media"
	"github.com/mjpeg-studio/studio/internal/session"
	"github.com/mjpeg-studio/studio/internal/status"
	"github.com/mjpeg-studio/studio/internal/urlstore"
	"github.com/mjpeg-studio/studio/internal/websocket"
)

var (
	Server    *http.Server
	templates *template.Template

	cfg        *config.Config
	controller *session.Controller
	manager    *media.Manager
	library    *urlstore.Store
)

func init() {
	// Load templates from embedded filesystem
	var err error
	templates, err = template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		panic(err)
	}
}

// StartServer starts the HTTP server on the configured port. It blocks until
// the server is shut down.
func StartServer(c *config.Config, ctrl *session.Controller, mgr *media.Manager, lib *urlstore.Store) {
	cfg = c
	controller = ctrl
	manager = mgr
	library = lib

	addr := fmt.Sprintf(":%d", cfg.Port)
	Server = &http.Server{
		Addr:    addr,
		Handler: newRouter(),
	}

	logging.InfoLogger.Printf("Starting HTTP server on %s\n", addr)
	if err := Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.ErrorLogger.Printf("Failed to start server: %v", err)
	}
}

func newRouter() *mux.Router {
	router := mux.NewRouter()

	// Serve static files from embedded filesystem
	fileServer := http.FileServer(getFileSystem())
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fileServer))

	// The media handler resolves the output folder on every request so a
	// folder change takes effect without a restart.
	router.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.HandlerFunc(serveMedia)))

	router.HandleFunc("/", consoleHandler)
	router.HandleFunc("/ws", handleWebSocket)
	router.HandleFunc("/latest/{kind}", handleLatest)

	router.HandleFunc("/api/status", handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/media", handleMediaList).Methods(http.MethodGet)
	router.HandleFunc("/api/snapshot", handleSnapshot).Methods(http.MethodPost)
	router.HandleFunc("/api/record", handleRecord).Methods(http.MethodPost)
	router.HandleFunc("/api/cancel", handleCancel).Methods(http.MethodPost)

	return router
}

// StopServer gracefully shuts down the HTTP server
func StopServer() {
	if Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := Server.Shutdown(ctx); err != nil {
			logging.ErrorLogger.Printf("Server forced to shutdown: %v", err)
		}
		logging.InfoLogger.Println("Server stopped")
	}
}

type consoleData struct {
	Version   string
	Status    status.Message
	Durations []int
	Items     []media.Item
	HasStill  bool
	HasClip   bool
	OutputDir string
}

// consoleHandler renders the console page with the current status and the
// captured files, newest first.
func consoleHandler(w http.ResponseWriter, r *http.Request) {
	items, err := manager.List()
	if err != nil {
		http.Error(w, "Failed to read output folder", http.StatusInternalServerError)
		return
	}

	hasStill := false
	hasClip := false
	for _, item := range items {
		switch item.Kind {
		case media.KindStill:
			hasStill = true
		case media.KindClip:
			hasClip = true
		}
	}

	data := consoleData{
		Version:   config.GetProgramVersion(),
		Status:    status.Last(),
		Durations: cfg.Capture.Durations,
		Items:     items,
		HasStill:  hasStill,
		HasClip:   hasClip,
		OutputDir: manager.Dir(),
	}

	if err := templates.ExecuteTemplate(w, "console.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func serveMedia(w http.ResponseWriter, r *http.Request) {
	http.FileServer(http.Dir(manager.Dir())).ServeHTTP(w, r)
}

// handleLatest serves the most recent still or clip with caching disabled,
// so the console image refreshes on every reload.
func handleLatest(w http.ResponseWriter, r *http.Request) {
	kind, ok := media.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		http.Error(w, "Unknown capture kind", http.StatusNotFound)
		return
	}
	item, ok := manager.Latest(kind)
	if !ok {
		http.Error(w, "Nothing captured yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	http.ServeFile(w, r, item.Path)
}

// handleWebSocket upgrades HTTP connection to WebSocket
func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.ErrorLogger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	websocket.Register(conn)

	// Send current status immediately after connection
	if data, err := json.Marshal(status.Last()); err == nil {
		if err := websocket.SendTo(conn, string(data)); err != nil {
			logging.ErrorLogger.Printf("Failed to send initial status: %v", err)
		}
	}

	// Keep the connection alive until it closes
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	websocket.Unregister(conn)
}
