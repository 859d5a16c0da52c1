package main

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/mjpeg-studio/studio/internal/capture"
	"github.com/mjpeg-studio/studio/internal/config"
	"github.com/mjpeg-studio/studio/internal/iputils"
	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/media"
	"github.com/mjpeg-studio/studio/internal/monitor"
	"github.com/mjpeg-studio/studio/internal/preview"
	"github.com/mjpeg-studio/studio/internal/session"
	"github.com/mjpeg-studio/studio/internal/settings"
	"github.com/mjpeg-studio/studio/internal/status"
	"github.com/mjpeg-studio/studio/internal/urlstore"
	"github.com/mjpeg-studio/studio/internal/webui"
	"github.com/mjpeg-studio/studio/internal/websocket"
)

var (
	sigChan      = make(chan os.Signal, 1)
	shutdownOnce sync.Once
)

func main() {
	// Disable Fyne telemetry
	os.Setenv("FYNE_TELEMETRY", "0")

	if err := logging.Init(filepath.Join(config.GetInstallDir(), "logs")); err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
	}
	defer logging.Close()

	cfg, err := config.InitConfig()
	if err != nil {
		logging.ErrorLogger.Fatalf("Error loading configuration: %v", err)
	}
	logging.InfoLogger.Printf("MJPEG Capture Studio %s starting", config.GetProgramVersion())

	if err := capture.InitPlatform(); err != nil {
		logging.WarningLogger.Printf("Child process cleanup unavailable: %v", err)
	}

	store, err := settings.Open(config.SettingsPath())
	if err != nil {
		logging.ErrorLogger.Fatalf("Failed to open settings: %v", err)
	}

	library := urlstore.New(store)
	manager := media.NewManager(store, cfg.OutputDir)
	controller := session.NewController(capture.New(cfg), manager)

	// Web console
	go webui.StartServer(cfg, controller, manager, library)

	// The console reloads itself when files appear in the output folder
	// behind the studio's back.
	if err := manager.StartWatcher(func() {
		websocket.SendMessage("reload")
	}); err != nil {
		logging.WarningLogger.Printf("Output folder watcher unavailable: %v", err)
	}

	go monitor.Start(cfg, controller, library)

	myApp := app.New()
	ui := buildUI(myApp, cfg, controller, manager, library)

	// Every accepted capture bumps its URL in the saved streams panel. A
	// rejected address comes back as a status notice via the controller.
	controller.OnURLUsed(func(u string) error {
		if err := library.Touch(u); err != nil {
			return err
		}
		ui.refreshLibrary()
		return nil
	})

	// Status update goroutine
	go func() {
		var resetTimer *time.Timer
		for msg := range status.StatusChan {
			if resetTimer != nil {
				resetTimer.Stop()
			}
			ui.setStatusText(msg.Text, msg.Code == status.Error || msg.Code == status.Notice)

			// Terminal outcomes and notices linger a moment, then the
			// label resets
			switch msg.Code {
			case status.Done, status.Snapshot, status.Cancelled, status.Notice:
				resetTimer = time.AfterFunc(10*time.Second, func() {
					ui.setStatusText("Ready", false)
				})
			}
		}
	}()

	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.InfoLogger.Println("Interrupt signal received. Shutting down...")
		shutdown(ui, manager)
		myApp.Quit()
	}()

	ui.window.ShowAndRun()

	shutdown(ui, manager)
}

func shutdown(ui *studioUI, manager *media.Manager) {
	shutdownOnce.Do(func() {
		ui.stopPreview()
		monitor.Stop()
		webui.StopServer()
		if err := manager.Close(); err != nil {
			logging.WarningLogger.Printf("Failed to close folder watcher: %v", err)
		}
	})
}

// studioUI holds the widgets that event handlers and background goroutines
// update.
type studioUI struct {
	cfg        *config.Config
	controller *session.Controller
	manager    *media.Manager
	library    *urlstore.Store

	window       fyne.Window
	urlEntry     *widget.Entry
	statusLabel  *widget.Label
	outputLabel  *widget.Label
	previewImage *canvas.Image
	previewBtn   *widget.Button
	pinBtn       *widget.Button
	durations    *widget.Select
	list         *widget.List

	mu          sync.Mutex
	entries     []urlstore.Entry
	selectedURL string
	previewLoop *preview.Loop
}

func buildUI(myApp fyne.App, cfg *config.Config, controller *session.Controller, manager *media.Manager, library *urlstore.Store) *studioUI {
	window := myApp.NewWindow("MJPEG Capture Studio")
	ui := &studioUI{
		cfg:        cfg,
		controller: controller,
		manager:    manager,
		library:    library,
		window:     window,
	}

	ui.urlEntry = widget.NewEntry()
	ui.urlEntry.SetPlaceHolder("http://camera:8080/video")

	ui.previewBtn = widget.NewButton("Start preview", ui.togglePreview)
	saveBtn := widget.NewButton("Save", ui.saveCurrentURL)
	urlRow := container.NewBorder(nil, nil, widget.NewLabel("Stream:"),
		container.NewHBox(saveBtn, ui.previewBtn), ui.urlEntry)

	ui.previewImage = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 16, 9)))
	ui.previewImage.FillMode = canvas.ImageFillContain
	ui.previewImage.SetMinSize(fyne.NewSize(480, 270))

	options := make([]string, len(cfg.Capture.Durations))
	for i, d := range cfg.Capture.Durations {
		options[i] = fmt.Sprintf("%d s", d)
	}
	ui.durations = widget.NewSelect(options, nil)
	ui.durations.SetSelectedIndex(0)

	stillBtn := widget.NewButton("Take still", ui.takeStill)
	recordBtn := widget.NewButton("Record clip", ui.record)
	cancelBtn := widget.NewButton("Cancel", ui.cancel)
	controls := container.NewHBox(stillBtn, widget.NewLabel("Clip length:"), ui.durations, recordBtn, cancelBtn)

	ui.statusLabel = widget.NewLabel(status.Last().Text)
	ui.statusLabel.Wrapping = fyne.TextWrapWord

	ui.outputLabel = widget.NewLabel(manager.Dir())
	changeBtn := widget.NewButton("Change...", ui.chooseOutputDir)
	openBtn := widget.NewButton("Open", func() {
		media.OpenInFileManager(manager.Dir())
	})
	outputRow := container.NewHBox(widget.NewLabel("Output folder:"), ui.outputLabel, changeBtn, openBtn)

	consoleLink := widget.NewHyperlink("Open web console in browser", consoleURL(cfg.Port))

	bottom := container.NewVBox(
		controls,
		widget.NewSeparator(),
		ui.statusLabel,
		outputRow,
		consoleLink,
	)
	right := container.NewBorder(urlRow, bottom, nil, nil, ui.previewImage)

	split := container.NewHSplit(ui.buildLibraryPanel(), container.NewPadded(right))
	split.SetOffset(0.3)

	window.SetContent(split)
	window.Resize(fyne.NewSize(1000, 620))
	window.CenterOnScreen()
	window.SetMainMenu(ui.buildMainMenu())

	window.SetCloseIntercept(func() {
		if !controller.IsRecording() {
			window.Close()
			return
		}
		confirmDialog := dialog.NewConfirm(
			"Confirm Exit",
			"A recording is in progress. Exit and stop the recording?",
			func(confirm bool) {
				if confirm {
					if err := controller.CancelRecording(); err != nil {
						logging.WarningLogger.Printf("Cancel on exit: %v", err)
					}
					window.Close()
				}
			},
			window,
		)
		confirmDialog.SetConfirmText("Stop and Exit")
		confirmDialog.SetDismissText("Keep Recording")
		confirmDialog.Show()
	})

	ui.refreshLibrary()
	return ui
}

// buildLibraryPanel assembles the saved streams list. Pinned entries render
// bold and sort first.
func (ui *studioUI) buildLibraryPanel() fyne.CanvasObject {
	ui.list = widget.NewList(
		ui.entryCount,
		func() fyne.CanvasObject {
			return widget.NewLabel("template")
		},
		func(i widget.ListItemID, obj fyne.CanvasObject) {
			entry, ok := ui.entryAt(i)
			if !ok {
				return
			}
			label := obj.(*widget.Label)
			label.TextStyle = fyne.TextStyle{Bold: entry.Pinned}
			name := entry.Label
			if name == "" {
				name = urlstore.MaskCredentials(entry.URL)
			}
			label.SetText(name)
		},
	)
	ui.list.OnSelected = func(i widget.ListItemID) {
		entry, ok := ui.entryAt(i)
		if !ok {
			return
		}
		ui.mu.Lock()
		same := ui.selectedURL == entry.URL
		ui.selectedURL = entry.URL
		ui.mu.Unlock()
		ui.urlEntry.SetText(entry.URL)
		ui.updatePinButton()
		// Loading a saved entry starts its preview; the preview counts as a
		// use and bumps the entry. Re-selection after a refresh does not.
		if !same {
			ui.startPreviewOf(entry.URL)
		}
	}

	ui.pinBtn = widget.NewButton("Pin", ui.togglePinSelected)
	renameBtn := widget.NewButton("Rename", ui.renameSelected)
	deleteBtn := widget.NewButton("Remove", ui.deleteSelected)

	return container.NewBorder(
		widget.NewLabel("Saved streams"),
		container.NewHBox(ui.pinBtn, renameBtn, deleteBtn),
		nil, nil,
		ui.list,
	)
}

func (ui *studioUI) buildMainMenu() *fyne.MainMenu {
	return fyne.NewMainMenu(
		fyne.NewMenu("Files",
			fyne.NewMenuItem("Open Output Folder", func() {
				media.OpenInFileManager(ui.manager.Dir())
			}),
			fyne.NewMenuItem("Open Application Directory", func() {
				media.OpenInFileManager(config.GetInstallDir())
			}),
			fyne.NewMenuItem("Reset Output Folder", func() {
				if err := ui.manager.ResetDir(); err != nil {
					dialog.ShowError(err, ui.window)
					return
				}
				ui.outputLabel.SetText(ui.manager.Dir())
			}),
			fyne.NewMenuItem("Clear Saved Streams", func() {
				dialog.ShowConfirm("Clear Saved Streams",
					"Remove all saved streams, including pinned ones?",
					func(confirm bool) {
						if !confirm {
							return
						}
						if err := ui.library.Clear(); err != nil {
							dialog.ShowError(err, ui.window)
							return
						}
						ui.refreshLibrary()
					},
					ui.window)
			}),
		),
		fyne.NewMenu("Help",
			fyne.NewMenuItem("About", func() {
				dialog.ShowInformation("About",
					fmt.Sprintf("MJPEG Capture Studio\nVersion %s", config.GetProgramVersion()),
					ui.window)
			}),
		),
	)
}

// refreshLibrary reloads the list and keeps the visual selection on the same
// entry after the reorder a bumped timestamp causes.
func (ui *studioUI) refreshLibrary() {
	entries := ui.library.List()
	ui.mu.Lock()
	ui.entries = entries
	selectedURL := ui.selectedURL
	ui.mu.Unlock()
	ui.list.Refresh()

	if selectedURL == "" {
		return
	}
	for i, e := range entries {
		if e.URL == selectedURL {
			ui.list.Select(i)
			return
		}
	}
	// The selected entry was evicted or removed.
	ui.mu.Lock()
	ui.selectedURL = ""
	ui.mu.Unlock()
	ui.list.UnselectAll()
	ui.updatePinButton()
}

func (ui *studioUI) entryCount() int {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return len(ui.entries)
}

func (ui *studioUI) entryAt(i int) (urlstore.Entry, bool) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if i < 0 || i >= len(ui.entries) {
		return urlstore.Entry{}, false
	}
	return ui.entries[i], true
}

// selected resolves the selection against the live library, so stale list
// rows never act on the wrong entry.
func (ui *studioUI) selected() (urlstore.Entry, bool) {
	ui.mu.Lock()
	selectedURL := ui.selectedURL
	ui.mu.Unlock()
	if selectedURL == "" {
		return urlstore.Entry{}, false
	}
	for _, e := range ui.library.List() {
		if e.URL == selectedURL {
			return e, true
		}
	}
	return urlstore.Entry{}, false
}

func (ui *studioUI) setStatusText(text string, bold bool) {
	ui.statusLabel.SetText(text)
	ui.statusLabel.TextStyle = fyne.TextStyle{Bold: bold}
	ui.statusLabel.Refresh()
}

func (ui *studioUI) takeStill() {
	if err := ui.controller.Snapshot(ui.urlEntry.Text); err != nil {
		dialog.ShowError(err, ui.window)
	}
}

func (ui *studioUI) record() {
	if _, err := ui.controller.StartRecording(ui.urlEntry.Text, ui.selectedSeconds()); err != nil {
		dialog.ShowError(err, ui.window)
	}
}

func (ui *studioUI) cancel() {
	if err := ui.controller.CancelRecording(); err != nil {
		dialog.ShowError(err, ui.window)
	}
}

func (ui *studioUI) selectedSeconds() int {
	idx := ui.durations.SelectedIndex()
	if idx < 0 || idx >= len(ui.cfg.Capture.Durations) {
		idx = 0
	}
	return ui.cfg.Capture.Durations[idx]
}

func (ui *studioUI) togglePreview() {
	ui.mu.Lock()
	running := ui.previewLoop != nil
	ui.mu.Unlock()

	if running {
		ui.stopPreview()
		ui.previewBtn.SetText("Start preview")
		status.Send(status.Ready, "Ready")
		return
	}
	ui.startPreviewOf(ui.urlEntry.Text)
}

// startPreviewOf switches the live preview to rawURL, replacing any running
// loop.
func (ui *studioUI) startPreviewOf(rawURL string) {
	streamURL, err := ui.controller.Preview(rawURL)
	if err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	ui.stopPreview()

	loop := preview.Start(streamURL, ui.cfg.Preview.FPS, ui.showFrame, func(err error) {
		ui.setStatusText(fmt.Sprintf("Preview: %v", err), true)
	})
	ui.mu.Lock()
	ui.previewLoop = loop
	ui.mu.Unlock()
	ui.previewBtn.SetText("Stop preview")
}

func (ui *studioUI) stopPreview() {
	ui.mu.Lock()
	loop := ui.previewLoop
	ui.previewLoop = nil
	ui.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

func (ui *studioUI) showFrame(frame []byte) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		logging.Trace("Dropping undecodable preview frame: %v", err)
		return
	}
	ui.previewImage.Image = img
	ui.previewImage.Refresh()
}

func (ui *studioUI) saveCurrentURL() {
	streamURL, err := session.ValidateURL(ui.urlEntry.Text)
	if err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	if err := ui.library.Touch(streamURL); err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	ui.refreshLibrary()
}

func (ui *studioUI) togglePinSelected() {
	entry, ok := ui.selected()
	if !ok {
		return
	}
	if err := ui.library.SetPinned(entry.URL, !entry.Pinned); err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	ui.refreshLibrary()
	ui.updatePinButton()
}

func (ui *studioUI) updatePinButton() {
	if entry, ok := ui.selected(); ok && entry.Pinned {
		ui.pinBtn.SetText("Unpin")
	} else {
		ui.pinBtn.SetText("Pin")
	}
}

func (ui *studioUI) renameSelected() {
	entry, ok := ui.selected()
	if !ok {
		return
	}
	nameEntry := widget.NewEntry()
	nameEntry.SetText(entry.Label)
	nameEntry.SetPlaceHolder("Display name")
	dialog.ShowForm("Rename Stream", "Save", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Name", nameEntry)},
		func(confirm bool) {
			if !confirm {
				return
			}
			if err := ui.library.Rename(entry.URL, nameEntry.Text); err != nil {
				dialog.ShowError(err, ui.window)
				return
			}
			ui.refreshLibrary()
		},
		ui.window)
}

func (ui *studioUI) deleteSelected() {
	entry, ok := ui.selected()
	if !ok {
		return
	}
	dialog.ShowConfirm("Remove Stream",
		fmt.Sprintf("Remove %s from the saved streams?", entry.DisplayName()),
		func(confirm bool) {
			if !confirm {
				return
			}
			if err := ui.library.Delete(entry.URL); err != nil {
				dialog.ShowError(err, ui.window)
				return
			}
			ui.refreshLibrary()
		},
		ui.window)
}

func (ui *studioUI) chooseOutputDir() {
	dirEntry := widget.NewEntry()
	dirEntry.SetText(ui.manager.Dir())
	form := dialog.NewForm("Output Folder", "Save", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Folder", dirEntry)},
		func(confirm bool) {
			if !confirm {
				return
			}
			if err := ui.manager.SetDir(dirEntry.Text); err != nil {
				dialog.ShowError(err, ui.window)
				return
			}
			ui.outputLabel.SetText(ui.manager.Dir())
		},
		ui.window)
	form.Resize(fyne.NewSize(600, 180))
	form.Show()
}

// consoleURL prefers the LAN address so the link works from phones and other
// machines, falling back to localhost.
func consoleURL(port int) *url.URL {
	host := "localhost"
	if ip, err := iputils.PrimaryIPv4(); err == nil {
		host = ip
	}
	parsed, _ := url.Parse(fmt.Sprintf("http://%s:%d", host, port))
	return parsed
}
