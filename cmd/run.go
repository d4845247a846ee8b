package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/backend/host"
	"github.com/bnema/anvil/internal/backend/native"
	"github.com/bnema/anvil/internal/backend/x11"
	"github.com/bnema/anvil/internal/compositor"
	"github.com/bnema/anvil/internal/config"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/ipc"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/xwayland"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the compositor",
	Long: `Run the compositor on the configured backend until it is asked to quit,
its last output disappears or it receives SIGINT/SIGTERM.`,
	RunE: runCompositor,
}

func init() {
	runCmd.Flags().StringP("backend", "b", "", "backend: host, native or nested-x11")
	runCmd.Flags().Bool("overlay", false, "show the FPS overlay")
	runCmd.Flags().Bool("xwayland", false, "start XWayland for X11 clients")
	runCmd.Flags().String("socket", "", "control socket path")

	_ = viper.BindPFlag("backend", runCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("debug.overlay", runCmd.Flags().Lookup("overlay"))
	_ = viper.BindPFlag("xwayland.enabled", runCmd.Flags().Lookup("xwayland"))
	_ = viper.BindPFlag("ipc.socket_path", runCmd.Flags().Lookup("socket"))

	rootCmd.AddCommand(runCmd)
}

func runCompositor(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := newCompositor(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Warn("shutdown incomplete", "err", err)
		}
	}()

	if err := comp.Start(ctx); err != nil {
		if errors.Is(err, compositor.ErrNoOutputs) || errors.Is(err, compositor.ErrNoDevices) {
			return fmt.Errorf("%s backend is unusable: %w", cfg.Backend, err)
		}
		return err
	}

	socketPath, err := cfg.SocketPath()
	if err != nil {
		return err
	}
	server := ipc.NewSocketServer(socketPath, comp)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}
	defer server.Stop()
	logger.Info("control socket listening", "path", socketPath)

	if err := comp.Run(ctx); err != nil {
		return err
	}
	logger.Info("compositor stopped")
	return nil
}

func newCompositor(cfg *config.Config) (*compositor.Compositor, error) {
	background, err := cfg.BackgroundColor()
	if err != nil {
		return nil, err
	}
	be, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	opts := compositor.Options{
		Backend:           be,
		Background:        background,
		Overlay:           cfg.Debug.Overlay,
		MinRedrawInterval: cfg.MinRedrawInterval(),
		Seat: input.SeatConfig{
			Name:           cfg.Native.Seat,
			KeyboardLayout: cfg.Keyboard.Layout,
			Repeat: input.RepeatInfo{
				Rate:  cfg.Keyboard.RepeatRate,
				Delay: time.Duration(cfg.Keyboard.RepeatDelay) * time.Millisecond,
			},
		},
	}

	if cfg.XWayland.Enabled {
		var env []string
		if cfg.XWayland.WaylandDisplay != "" {
			env = append(env, "WAYLAND_DISPLAY="+cfg.XWayland.WaylandDisplay)
		}
		bridge, err := xwayland.New(xwayland.Options{Binary: cfg.XWayland.Binary, Env: env})
		if err != nil {
			_ = be.Close()
			return nil, err
		}
		opts.Bridge = bridge
	}

	comp, err := compositor.New(opts)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return comp, nil
}

func newBackend(cfg *config.Config) (backend.Backend, error) {
	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	switch kind {
	case backend.KindHost:
		return host.New(host.Options{
			Display: cfg.Host.Display,
			Width:   cfg.Host.Width,
			Height:  cfg.Host.Height,
			Title:   cfg.Host.Title,
		})
	case backend.KindNestedX11:
		return x11.New(x11.Options{
			Display: cfg.X11.Display,
			Width:   cfg.X11.Width,
			Height:  cfg.X11.Height,
			Title:   cfg.X11.Title,
		})
	default:
		return native.New(native.Options{
			SessionKind: cfg.Native.Session,
			Seat:        cfg.Native.Seat,
			DRMPath:     cfg.Native.DRMPath,
			Framebuffer: cfg.Native.Framebuffer,
			InputGlob:   cfg.Native.InputGlob,
			RefreshMHz:  cfg.Native.RefreshMHz,
		})
	}
}

func controlClient() (*ipc.Client, error) {
	path, err := config.Get().SocketPath()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(path), nil
}
