package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/bnema/anvil/internal/config"
	"github.com/bnema/anvil/internal/ui"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage anvil configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout(), config.Get())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

var configInitDefaults bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a config file. Unless --defaults is given a short form asks for the
backend, keyboard layout and debug options first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitDefaults {
			overwrite := false
			confirm := huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists", path)).
				Description("Overwrite it?").
				Value(&overwrite)
			if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
				return fmt.Errorf("config init cancelled: %w", err)
			}
			if !overwrite {
				return nil
			}
		}

		c := config.DefaultConfig
		if !configInitDefaults {
			if err := configForm(&c).Run(); err != nil {
				return fmt.Errorf("config init cancelled: %w", err)
			}
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := config.Save(&c); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatResult(true, "wrote "+path))
		return nil
	},
}

func configForm(c *config.Config) *huh.Form {
	refresh := strconv.Itoa(c.Output.MinRedrawIntervalMs)
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Backend").
				Description("Where anvil presents frames and reads input from").
				Options(
					huh.NewOption("Window on the current Wayland session", config.BackendHost),
					huh.NewOption("Window on an X11 server", config.BackendNestedX11),
					huh.NewOption("Display hardware (from a VT)", config.BackendNative),
				).
				Value(&c.Backend),
			huh.NewSelect[string]().
				Title("Keyboard layout").
				Options(huh.NewOption("US", "us"), huh.NewOption("French (AZERTY)", "fr")).
				Value(&c.Keyboard.Layout),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Start XWayland").
				Description("Run X11 applications through an XWayland bridge").
				Value(&c.XWayland.Enabled),
			huh.NewConfirm().
				Title("FPS overlay").
				Value(&c.Debug.Overlay),
			huh.NewInput().
				Title("Background colour").
				Value(&c.Output.Background).
				Validate(func(s string) error {
					probe := *c
					probe.Output.Background = s
					_, err := probe.BackgroundColor()
					return err
				}),
			huh.NewInput().
				Title("Minimum redraw interval (ms)").
				Value(&refresh).
				Validate(func(s string) error {
					v, err := strconv.Atoi(s)
					if err != nil || v < 0 {
						return fmt.Errorf("want a non-negative number")
					}
					c.Output.MinRedrawIntervalMs = v
					return nil
				}),
		),
	)
}

func writeConfig(out io.Writer, c *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	section := func(name string) {
		fmt.Fprintf(w, "\n%s\n", ui.HeaderStyle.Render(name))
	}
	kv := func(k string, v any) {
		fmt.Fprintf(w, "  %s\t%v\n", k, v)
	}

	fmt.Fprintf(w, "Config file: %s\n", config.GetConfigPath())
	kv("backend", c.Backend)

	section("[output]")
	kv("min_redraw_interval_ms", c.Output.MinRedrawIntervalMs)
	kv("background", c.Output.Background)

	section("[keyboard]")
	kv("layout", c.Keyboard.Layout)
	kv("repeat_rate", c.Keyboard.RepeatRate)
	kv("repeat_delay_ms", c.Keyboard.RepeatDelay)

	section("[xwayland]")
	kv("enabled", c.XWayland.Enabled)
	kv("binary", c.XWayland.Binary)

	section("[debug]")
	kv("overlay", c.Debug.Overlay)

	switch c.Backend {
	case config.BackendHost:
		section("[host]")
		kv("display", orDefault(c.Host.Display, "$WAYLAND_DISPLAY"))
		kv("size", fmt.Sprintf("%dx%d", c.Host.Width, c.Host.Height))
		kv("title", c.Host.Title)
	case config.BackendNestedX11:
		section("[x11]")
		kv("display", orDefault(c.X11.Display, "$DISPLAY"))
		kv("size", fmt.Sprintf("%dx%d", c.X11.Width, c.X11.Height))
		kv("title", c.X11.Title)
	case config.BackendNative:
		section("[native]")
		kv("session", c.Native.Session)
		kv("seat", c.Native.Seat)
		kv("drm_path", c.Native.DRMPath)
		kv("framebuffer", c.Native.Framebuffer)
		kv("input_glob", c.Native.InputGlob)
		kv("refresh_mhz", c.Native.RefreshMHz)
	}

	section("[ipc]")
	socket, err := c.SocketPath()
	if err != nil {
		socket = "unavailable: " + err.Error()
	}
	kv("socket_path", socket)

	section("[logging]")
	kv("file_logging", c.Logging.FileLogging)
	kv("log_level", orDefault(c.Logging.LogLevel, "$LOG_LEVEL"))

	return w.Flush()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitDefaults, "defaults", false, "write defaults without asking")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
