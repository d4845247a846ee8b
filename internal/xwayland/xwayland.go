// Package xwayland runs an Xwayland server for legacy X11 clients and acts
// as its window manager. Each top-level X window is reported so the
// compositor can keep a surface proxy for it.
package xwayland

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgbutil"
	"github.com/bnema/anvil/internal/eventloop"
	"github.com/bnema/anvil/internal/logger"
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// ProcessError reports that the X server exited on its own. The bridge is
// unusable afterwards and is not restarted.
type ProcessError struct {
	Display string
	Err     error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("xwayland %s exited: %v", e.Display, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ExitCode returns the server's exit status, or -1 if it was signalled or
// the status is unknown.
func (e *ProcessError) ExitCode() int {
	var exit *exec.ExitError
	if errors.As(e.Err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

// Event is something the bridge reports to the compositor.
type Event interface {
	xwaylandEvent()
}

type (
	// Ready is sent once the server accepts clients.
	Ready struct {
		Display string
	}
	WindowMapped struct {
		Window   uint32
		Title    string
		Class    string
		Geometry image.Rectangle
		Override bool
	}
	WindowConfigured struct {
		Window   uint32
		Geometry image.Rectangle
	}
	WindowTitle struct {
		Window uint32
		Title  string
	}
	// WindowAssociated links a window to the wl_surface it renders into.
	WindowAssociated struct {
		Window    uint32
		SurfaceID uint32
	}
	WindowUnmapped struct {
		Window uint32
	}
	// Exited is sent when the server dies unexpectedly. Err is a *ProcessError.
	Exited struct {
		Err error
	}
)

func (Ready) xwaylandEvent()            {}
func (WindowMapped) xwaylandEvent()     {}
func (WindowConfigured) xwaylandEvent() {}
func (WindowTitle) xwaylandEvent()      {}
func (WindowAssociated) xwaylandEvent() {}
func (WindowUnmapped) xwaylandEvent()   {}
func (Exited) xwaylandEvent()           {}

// Options configures the bridge.
type Options struct {
	Binary    string // default "Xwayland"
	LockDir   string // default /tmp
	SocketDir string // default /tmp/.X11-unix
	// Env is appended to the server environment, e.g. the socket of the
	// Wayland display it should connect to.
	Env          []string
	ReadyTimeout time.Duration
}

// Bridge supervises one Xwayland process.
type Bridge struct {
	opts   Options
	log    *log.Logger
	events *eventloop.Queue[Event]

	disp *display
	cmd  *exec.Cmd
	xu   *xgbutil.XUtil
	wm   *wm

	mu      sync.Mutex
	closing bool
	exited  chan struct{}

	wg conc.WaitGroup
}

// New returns an unstarted bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Binary == "" {
		opts.Binary = "Xwayland"
	}
	if opts.LockDir == "" {
		opts.LockDir = "/tmp"
	}
	if opts.SocketDir == "" {
		opts.SocketDir = "/tmp/.X11-unix"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	events, err := eventloop.NewQueue[Event]()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		opts:   opts,
		log:    logger.With("xwayland"),
		events: events,
		exited: make(chan struct{}),
	}, nil
}

// Fd becomes readable while events are pending.
func (b *Bridge) Fd() int { return b.events.Fd() }

// Poll yields pending events.
func (b *Bridge) Poll() iter.Seq[Event] { return b.events.All() }

// Display returns the X display name, e.g. ":1", once started.
func (b *Bridge) Display() string {
	if b.disp == nil {
		return ""
	}
	return b.disp.Name()
}

// serverArgs builds the Xwayland command line. Listening sockets occupy
// fds 3.., followed by the window manager socket and the readiness pipe.
func serverArgs(name string, listeners int) []string {
	args := []string{name, "-rootless", "-terminate"}
	fd := 3
	for range listeners {
		args = append(args, "-listenfd", strconv.Itoa(fd))
		fd++
	}
	return append(args, "-wm", strconv.Itoa(fd), "-displayfd", strconv.Itoa(fd+1))
}

// Start reserves a display, spawns the server and connects to it as the
// window manager.
func (b *Bridge) Start(ctx context.Context) error {
	disp, err := reserveDisplay(b.opts.LockDir, b.opts.SocketDir, true)
	if err != nil {
		return err
	}
	b.disp = disp

	if err := b.spawn(ctx); err != nil {
		return multierr.Append(err, b.Close())
	}
	return nil
}

func (b *Bridge) spawn(ctx context.Context) error {
	listenFiles, err := b.disp.files()
	if err != nil {
		return fmt.Errorf("failed to dup listening sockets: %w", err)
	}
	defer closeFiles(listenFiles)

	pair, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to create wm socket pair: %w", err)
	}
	wmLocal := os.NewFile(uintptr(pair[0]), "xwm")
	wmRemote := os.NewFile(uintptr(pair[1]), "xwm-server")
	defer wmRemote.Close()

	readyR, readyW, err := os.Pipe()
	if err != nil {
		wmLocal.Close()
		return fmt.Errorf("failed to create display pipe: %w", err)
	}
	defer readyR.Close()

	cmd := exec.Command(b.opts.Binary, serverArgs(b.disp.Name(), len(listenFiles))...)
	cmd.Env = append(os.Environ(), b.opts.Env...)
	cmd.ExtraFiles = append(append(listenFiles, wmRemote), readyW)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		wmLocal.Close()
		readyW.Close()
		return fmt.Errorf("failed to start %s: %w", b.opts.Binary, err)
	}
	readyW.Close()
	b.cmd = cmd
	b.log.Info("Xwayland started", "display", b.disp.Name(), "pid", cmd.Process.Pid)

	b.wg.Go(b.supervise)

	if err := b.waitReady(ctx, readyR); err != nil {
		wmLocal.Close()
		return err
	}
	if err := b.connectWM(wmLocal); err != nil {
		return err
	}
	b.events.Push(Ready{Display: b.disp.Name()})
	return nil
}

// waitReady blocks until the server writes its display number.
func (b *Bridge) waitReady(ctx context.Context, r *os.File) error {
	line := make(chan error, 1)
	go func() {
		s, err := bufio.NewReader(r).ReadString('\n')
		if err == nil && strings.TrimSpace(s) != strconv.Itoa(b.disp.Number) {
			err = fmt.Errorf("server reported display %q", strings.TrimSpace(s))
		}
		line <- err
	}()

	timer := time.NewTimer(b.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case err := <-line:
		if err != nil {
			return fmt.Errorf("xwayland did not become ready: %w", err)
		}
		return nil
	case <-b.exited:
		return fmt.Errorf("xwayland exited during startup")
	case <-timer.C:
		return fmt.Errorf("xwayland not ready after %s", b.opts.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) connectWM(f *os.File) error {
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to wrap wm socket: %w", err)
	}
	xc, err := xgb.NewConnNet(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to connect window manager: %w", err)
	}
	xu, err := xgbutil.NewConnXgb(xc)
	if err != nil {
		xc.Close()
		return fmt.Errorf("failed to set up window manager connection: %w", err)
	}
	atoms, err := becomeWM(xu)
	if err != nil {
		xc.Close()
		return err
	}
	b.xu = xu
	b.wm = newWM(xops{xu: xu}, atoms, b.events.Push, b.log)
	b.wg.Go(b.readWM)
	return nil
}

// readWM handles X events on a reader goroutine. The window manager state
// is only touched here.
func (b *Bridge) readWM() {
	conn := b.xu.Conn()
	for {
		ev, xerr := conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			b.log.Debug("X error", "err", xerr)
			continue
		}
		b.wm.handle(ev)
	}
}

func (b *Bridge) supervise() {
	err := b.cmd.Wait()
	close(b.exited)

	b.mu.Lock()
	closing := b.closing
	b.mu.Unlock()
	if closing {
		return
	}
	if err == nil {
		err = errors.New("exit status 0")
	}
	perr := &ProcessError{Display: b.disp.Name(), Err: err}
	b.log.Error("Xwayland died", "err", perr)
	b.events.Push(Exited{Err: perr})
}

// Close stops the server and releases the display. It is also used to
// unwind a failed Start.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	b.mu.Unlock()

	var err error
	if b.xu != nil {
		b.xu.Conn().Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		select {
		case <-b.exited:
		default:
			_ = b.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-b.exited:
			case <-time.After(2 * time.Second):
				_ = b.cmd.Process.Kill()
			}
		}
	}
	b.wg.Wait()
	if b.disp != nil {
		err = multierr.Append(err, b.disp.release())
	}
	return multierr.Append(err, b.events.Close())
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
