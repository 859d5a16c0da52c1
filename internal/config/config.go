package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mjpeg-studio/studio/internal/logging"
)

// Config holds the studio settings read from config.toml, environment
// variables and command-line flags.
type Config struct {
	Port       int    `toml:"port"`
	OutputDir  string `toml:"outputDir"`  // empty means the Pictures default
	FfmpegPath string `toml:"ffmpegPath"` // empty means search PATH

	Preview PreviewConfig `toml:"preview"`
	Capture CaptureConfig `toml:"capture"`
	MQTT    MQTTConfig    `toml:"mqtt"`
}

// PreviewConfig holds the live preview settings.
type PreviewConfig struct {
	FPS int `toml:"fps"`
}

// CaptureConfig holds the snapshot/clip settings.
type CaptureConfig struct {
	Durations []int `toml:"durations"` // selectable clip lengths in seconds
	// AcceptCleanExit treats a zero-status ffmpeg exit as success even when
	// the output file cannot be verified. Off by default: the output file
	// must exist and be non-empty.
	AcceptCleanExit bool `toml:"acceptCleanExit"`
	Recode          bool `toml:"recode"` // re-encode clips with libx264 instead of stream copy
	Width           int  `toml:"width"`  // recode output width
	Height          int  `toml:"height"` // recode output height
	FPS             int  `toml:"fps"`    // recode output framerate
}

// MQTTConfig enables the remote-control monitor when Broker is set.
type MQTTConfig struct {
	Broker string `toml:"broker"` // host or host:port; empty disables remote control
}

var (
	Verbose   bool
	NoCapture bool
)

// GetInstallDir returns the per-user directory holding config.toml, the
// settings file and studio.log.
func GetInstallDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MJPEG Capture Studio")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "MJPEG Capture Studio")
	default:
		return filepath.Join(os.Getenv("HOME"), ".mjpeg-capture-studio")
	}
}

// SettingsPath returns the location of the durable key-value settings file.
func SettingsPath() string {
	return filepath.Join(GetInstallDir(), "settings.json")
}

// InitConfig processes command-line flags, extracts the default config file
// on first run, and loads the configuration.
func InitConfig() (*Config, error) {
	var configPath string
	flag.BoolVar(&Verbose, "v", false, "enable verbose logging")
	flag.BoolVar(&Verbose, "verbose", false, "enable verbose logging")
	flag.BoolVar(&NoCapture, "noCapture", false, "log ffmpeg commands but do not execute them")
	flag.StringVar(&configPath, "config", "", "path to config.toml (default: install directory)")
	port := flag.Int("port", 0, "web console port (overrides config.toml)")
	flag.Parse()

	logging.SetVerbose(Verbose)

	if configPath == "" {
		configPath = filepath.Join(GetInstallDir(), "config.toml")
		if err := ExtractDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to extract default config: %w", err)
		}
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if *port != 0 {
		cfg.Port = *port
	}
	return cfg, nil
}

// LoadConfig reads configPath, applies environment overrides and defaults.
// A missing file is not an error; defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("error reading %s: %w", configPath, err)
		}
	} else {
		logging.WarningLogger.Printf("%s not found, using default configuration", configPath)
	}

	if path := os.Getenv("STUDIO_FFMPEG"); path != "" {
		cfg.FfmpegPath = path
	}
	if dir := os.Getenv("STUDIO_OUTPUT_DIR"); dir != "" {
		cfg.OutputDir = dir
	}
	if port := os.Getenv("STUDIO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		} else {
			logging.WarningLogger.Printf("Ignoring invalid STUDIO_PORT %q: %v", port, err)
		}
	}
	if broker := os.Getenv("STUDIO_BROKER"); broker != "" {
		cfg.MQTT.Broker = broker
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8097
	}
	if c.Preview.FPS <= 0 {
		c.Preview.FPS = 8
	}
	if len(c.Capture.Durations) == 0 {
		c.Capture.Durations = []int{5, 10, 30}
	}
	var durations []int
	for _, d := range c.Capture.Durations {
		if d > 0 {
			durations = append(durations, d)
		} else {
			logging.WarningLogger.Printf("Ignoring non-positive clip duration %d", d)
		}
	}
	if len(durations) == 0 {
		durations = []int{5, 10, 30}
	}
	c.Capture.Durations = durations
	if c.Capture.Width == 0 {
		c.Capture.Width = 1280
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = 720
	}
	if c.Capture.FPS == 0 {
		c.Capture.FPS = 30
	}
}
