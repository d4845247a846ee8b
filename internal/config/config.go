// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/bnema/anvil/internal/input"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/viper"
)

// Backend names accepted in the backend key.
const (
	BackendHost      = "host"
	BackendNative    = "native"
	BackendNestedX11 = "nested-x11"
)

// Config represents the application configuration
type Config struct {
	// Backend selects the presentation/input adapter for the whole run.
	Backend string `mapstructure:"backend"`

	XWayland XWaylandConfig `mapstructure:"xwayland"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Output   OutputConfig   `mapstructure:"output"`
	Keyboard KeyboardConfig `mapstructure:"keyboard"`
	Host     HostConfig     `mapstructure:"host"`
	X11      X11Config      `mapstructure:"x11"`
	Native   NativeConfig   `mapstructure:"native"`
	IPC      IPCConfig      `mapstructure:"ipc"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// XWaylandConfig controls the X11 compatibility bridge
type XWaylandConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Binary         string `mapstructure:"binary"`
	WaylandDisplay string `mapstructure:"wayland_display"` // socket Xwayland connects back to
}

// DebugConfig contains debugging aids
type DebugConfig struct {
	Overlay bool `mapstructure:"overlay"` // FPS overlay
}

// OutputConfig contains frame scheduling and clear settings
type OutputConfig struct {
	MinRedrawIntervalMs int    `mapstructure:"min_redraw_interval_ms"`
	Background          string `mapstructure:"background"`
}

// KeyboardConfig contains keymap settings
type KeyboardConfig struct {
	Layout      string `mapstructure:"layout"`
	RepeatRate  int    `mapstructure:"repeat_rate"`     // keys per second
	RepeatDelay int    `mapstructure:"repeat_delay_ms"` // milliseconds
}

// HostConfig contains settings for the window on a parent Wayland session
type HostConfig struct {
	Display string `mapstructure:"display"` // empty means $WAYLAND_DISPLAY
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Title   string `mapstructure:"title"`
}

// X11Config contains settings for the nested X11 window
type X11Config struct {
	Display string `mapstructure:"display"` // empty means $DISPLAY
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Title   string `mapstructure:"title"`
}

// NativeConfig contains settings for running directly on the hardware
type NativeConfig struct {
	Session     string `mapstructure:"session"` // auto, logind or direct
	Seat        string `mapstructure:"seat"`
	DRMPath     string `mapstructure:"drm_path"`
	Framebuffer string `mapstructure:"framebuffer"`
	InputGlob   string `mapstructure:"input_glob"`
	RefreshMHz  int    `mapstructure:"refresh_mhz"`
}

// IPCConfig contains control socket settings
type IPCConfig struct {
	SocketPath string `mapstructure:"socket_path"` // empty means $XDG_RUNTIME_DIR/anvil/anvil.sock
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	FileLogging bool   `mapstructure:"file_logging"` // Enable/disable file logging
	LogLevel    string `mapstructure:"log_level"`    // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Backend: BackendHost,
		XWayland: XWaylandConfig{
			Enabled: false,
			Binary:  "Xwayland",
		},
		Debug: DebugConfig{
			Overlay: false,
		},
		Output: OutputConfig{
			MinRedrawIntervalMs: 250,
			Background:          "#cccce6",
		},
		Keyboard: KeyboardConfig{
			Layout:      "us",
			RepeatRate:  25,
			RepeatDelay: 600,
		},
		Host: HostConfig{
			Width:  1280,
			Height: 800,
			Title:  "anvil",
		},
		X11: X11Config{
			Width:  1280,
			Height: 800,
			Title:  "anvil",
		},
		Native: NativeConfig{
			Session:     "auto",
			Seat:        "seat0",
			DRMPath:     "/sys/class/drm",
			Framebuffer: "/dev/fb0",
			InputGlob:   "/dev/input/event*",
			RefreshMHz:  60000,
		},
		Logging: LoggingConfig{
			FileLogging: false,
			LogLevel:    "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("anvil")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath(filepath.Join(xdg.ConfigHome, "anvil"))
		viper.AddConfigPath("/etc/anvil")
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	return nil
}

// setDefaults registers one default per key so partial files merge cleanly.
func setDefaults() {
	for key, value := range keyValues(&DefaultConfig) {
		viper.SetDefault(key, value)
	}
}

// keyValues flattens a config into its dotted viper keys.
func keyValues(c *Config) map[string]any {
	return map[string]any{
		"backend": c.Backend,

		"xwayland.enabled":         c.XWayland.Enabled,
		"xwayland.binary":          c.XWayland.Binary,
		"xwayland.wayland_display": c.XWayland.WaylandDisplay,

		"debug.overlay": c.Debug.Overlay,

		"output.min_redraw_interval_ms": c.Output.MinRedrawIntervalMs,
		"output.background":             c.Output.Background,

		"keyboard.layout":          c.Keyboard.Layout,
		"keyboard.repeat_rate":     c.Keyboard.RepeatRate,
		"keyboard.repeat_delay_ms": c.Keyboard.RepeatDelay,

		"host.display": c.Host.Display,
		"host.width":   c.Host.Width,
		"host.height":  c.Host.Height,
		"host.title":   c.Host.Title,

		"x11.display": c.X11.Display,
		"x11.width":   c.X11.Width,
		"x11.height":  c.X11.Height,
		"x11.title":   c.X11.Title,

		"native.session":     c.Native.Session,
		"native.seat":        c.Native.Seat,
		"native.drm_path":    c.Native.DRMPath,
		"native.framebuffer": c.Native.Framebuffer,
		"native.input_glob":  c.Native.InputGlob,
		"native.refresh_mhz": c.Native.RefreshMHz,

		"ipc.socket_path": c.IPC.SocketPath,

		"logging.file_logging": c.Logging.FileLogging,
		"logging.log_level":    c.Logging.LogLevel,
	}
}

// Validate rejects values the compositor cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHost, BackendNative, BackendNestedX11:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendHost, BackendNative, BackendNestedX11)
	}

	switch c.Native.Session {
	case "auto", "logind", "direct":
	default:
		return fmt.Errorf("unknown native session type %q", c.Native.Session)
	}

	if c.Output.MinRedrawIntervalMs < 0 {
		return fmt.Errorf("output.min_redraw_interval_ms must not be negative")
	}
	if !slices.Contains(input.Layouts(), c.Keyboard.Layout) {
		return fmt.Errorf("unknown keyboard layout %q (want one of %s)", c.Keyboard.Layout, strings.Join(input.Layouts(), ", "))
	}
	if c.Keyboard.RepeatRate < 0 || c.Keyboard.RepeatDelay < 0 {
		return fmt.Errorf("keyboard repeat settings must not be negative")
	}
	if _, err := c.BackgroundColor(); err != nil {
		return err
	}
	return nil
}

// BackgroundColor parses output.background ("#rrggbb" or "#rgb").
func (c *Config) BackgroundColor() (color.Color, error) {
	col, err := colorful.Hex(c.Output.Background)
	if err != nil {
		return nil, fmt.Errorf("invalid output.background %q: %w", c.Output.Background, err)
	}
	return col, nil
}

// MinRedrawInterval returns the animation redraw interval as a duration.
func (c *Config) MinRedrawInterval() time.Duration {
	return time.Duration(c.Output.MinRedrawIntervalMs) * time.Millisecond
}

// SocketPath returns the control socket location.
func (c *Config) SocketPath() (string, error) {
	if c.IPC.SocketPath != "" {
		return c.IPC.SocketPath, nil
	}
	path, err := xdg.RuntimeFile(filepath.Join("anvil", "anvil.sock"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve socket path: %w", err)
	}
	return path, nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		d := DefaultConfig
		return &d
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save writes the given configuration to the config file.
func Save(c *Config) error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.HasPrefix(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	for key, value := range keyValues(c) {
		viper.Set(key, value)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	cfg = c

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/anvil/anvil.toml"
	}

	return filepath.Join(xdg.ConfigHome, "anvil", "anvil.toml")
}
