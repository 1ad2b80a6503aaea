package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Logging    LoggingConfig    `toml:"logging"`
	Browser    BrowserConfig    `toml:"browser"`
	Automation AutomationConfig `toml:"automation"`
	Queue      QueueConfig      `toml:"queue"`
	Downloads  DownloadsConfig  `toml:"downloads"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	WebSocket  WebSocketConfig  `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "trace", "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05"
	Dir        string   `toml:"dir"`         // defaults to ./logs next to the executable
}

// BrowserConfig controls the Chrome process pages are opened in
type BrowserConfig struct {
	Headless        bool   `toml:"headless"`
	DisableGPU      bool   `toml:"disable_gpu"`
	NoSandbox       bool   `toml:"no_sandbox"`
	UserAgent       string `toml:"user_agent"`
	ExecPath        string `toml:"exec_path"`        // empty = search PATH
	StartupTimeout  string `toml:"startup_timeout"`  // e.g. "30s"
	ShutdownTimeout string `toml:"shutdown_timeout"` // e.g. "30s"
}

// AutomationConfig describes how a video page is driven to its download link
type AutomationConfig struct {
	ReadyTimeout        string `toml:"ready_timeout"`
	AbortOnReadyTimeout bool   `toml:"abort_on_ready_timeout"`
	ScrollY             int    `toml:"scroll_y"`
	ScrollSettle        string `toml:"scroll_settle"`

	ControlSelector string `toml:"control_selector"`
	ControlLabel    string `toml:"control_label"`
	InitialAttempts int    `toml:"initial_attempts"`
	InitialInterval string `toml:"initial_interval"`
	SettleDelay     string `toml:"settle_delay"`

	ResourceSelector  string `toml:"resource_selector"`
	ContainerSelector string `toml:"container_selector"`
	MarkerSelector    string `toml:"marker_selector"`
	MarkerLabel       string `toml:"marker_label"`
	ResourceAttempts  int    `toml:"resource_attempts"`
	ResourceInterval  string `toml:"resource_interval"`
}

// QueueConfig controls pacing between items and page teardown
type QueueConfig struct {
	GracePeriod     string `toml:"grace_period"`
	ItemDelay       string `toml:"item_delay"`
	TeardownTimeout string `toml:"teardown_timeout"`
	Size            int    `toml:"size"` // max queued batches
}

type DownloadsConfig struct {
	Dir            string  `toml:"dir"`
	Subfolder      string  `toml:"subfolder"`
	Extension      string  `toml:"extension"`
	FallbackName   string  `toml:"fallback_name"`
	Workers        int     `toml:"workers"`
	QueueSize      int     `toml:"queue_size"`
	RatePerSecond  float64 `toml:"rate_per_second"` // 0 = unlimited
	Burst          int     `toml:"burst"`
	RequestTimeout string  `toml:"request_timeout"` // "0s" = no limit
	UserAgent      string  `toml:"user_agent"`
}

type DiscoveryConfig struct {
	LinkSelector   string `toml:"link_selector"`
	RequestTimeout string `toml:"request_timeout"`
}

type WebSocketConfig struct {
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Browser: BrowserConfig{
			Headless:        true,
			DisableGPU:      true,
			StartupTimeout:  "30s",
			ShutdownTimeout: "30s",
		},
		Automation: AutomationConfig{
			ReadyTimeout:      "20s",
			ScrollY:           312,
			ScrollSettle:      "500ms",
			ControlSelector:   "div.mt-2.download-btn a.pa-2.download-btn",
			ControlLabel:      "Download",
			InitialAttempts:   20,
			InitialInterval:   "500ms",
			SettleDelay:       "3s",
			ResourceSelector:  `a[href*="storage.pmvhaven.com"]`,
			ContainerSelector: "div.mt-2.download-btn",
			MarkerSelector:    "button",
			MarkerLabel:       "SOURCE",
			ResourceAttempts:  30,
			ResourceInterval:  "500ms",
		},
		Queue: QueueConfig{
			GracePeriod:     "2s",
			ItemDelay:       "1500ms",
			TeardownTimeout: "10s",
			Size:            64,
		},
		Downloads: DownloadsConfig{
			Dir:            "./downloads",
			Subfolder:      "pmvhaven_downloads",
			Extension:      "mp4",
			FallbackName:   "download",
			Workers:        2,
			QueueSize:      64,
			RatePerSecond:  1,
			Burst:          1,
			RequestTimeout: "0s",
		},
		Discovery: DiscoveryConfig{
			LinkSelector:   `a[href^="/video/"]`,
			RequestTimeout: "30s",
		},
		WebSocket: WebSocketConfig{
			MessagesPerSecond: 5,
			Burst:             10,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal merges into the existing values
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies REELFETCH_* environment variables to config
func applyEnvOverrides(config *Config) {
	// Server configuration
	if port := os.Getenv("REELFETCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REELFETCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("REELFETCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("REELFETCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser configuration
	if headless := os.Getenv("REELFETCH_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if noSandbox := os.Getenv("REELFETCH_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if b, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = b
		}
	}
	if execPath := os.Getenv("REELFETCH_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	// Automation configuration
	if readyTimeout := os.Getenv("REELFETCH_READY_TIMEOUT"); readyTimeout != "" {
		config.Automation.ReadyTimeout = readyTimeout
	}
	if abort := os.Getenv("REELFETCH_ABORT_ON_READY_TIMEOUT"); abort != "" {
		if b, err := strconv.ParseBool(abort); err == nil {
			config.Automation.AbortOnReadyTimeout = b
		}
	}

	// Queue configuration
	if itemDelay := os.Getenv("REELFETCH_QUEUE_ITEM_DELAY"); itemDelay != "" {
		config.Queue.ItemDelay = itemDelay
	}

	// Downloads configuration
	if dir := os.Getenv("REELFETCH_DOWNLOADS_DIR"); dir != "" {
		config.Downloads.Dir = dir
	}
	if workers := os.Getenv("REELFETCH_DOWNLOADS_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Downloads.Workers = w
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDuration parses a config duration, returning fallback when value
// is empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
