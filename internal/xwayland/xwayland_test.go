package xwayland

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/bnema/anvil/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerArgs(t *testing.T) {
	assert.Equal(t,
		[]string{":2", "-rootless", "-terminate", "-listenfd", "3", "-listenfd", "4", "-wm", "5", "-displayfd", "6"},
		serverArgs(":2", 2))
	assert.Equal(t,
		[]string{":0", "-rootless", "-terminate", "-wm", "3", "-displayfd", "4"},
		serverArgs(":0", 0))
}

func TestReserveDisplaySkipsLiveLocks(t *testing.T) {
	lockDir, sockDir := t.TempDir(), filepath.Join(t.TempDir(), ".X11-unix")
	// Display 0 belongs to a running process: us.
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, ".X0-lock"), []byte(fmt.Sprintf("%10d\n", os.Getpid())), 0o444))

	d, err := reserveDisplay(lockDir, sockDir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Number)
	assert.Equal(t, ":1", d.Name())
	assert.FileExists(t, filepath.Join(lockDir, ".X1-lock"))
	assert.FileExists(t, filepath.Join(sockDir, "X1"))

	second, err := reserveDisplay(lockDir, sockDir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)

	require.NoError(t, d.release())
	require.NoError(t, second.release())
	assert.NoFileExists(t, filepath.Join(lockDir, ".X1-lock"))
	assert.NoFileExists(t, filepath.Join(sockDir, "X1"))
}

func TestReserveDisplayTakesOverStaleLock(t *testing.T) {
	lockDir, sockDir := t.TempDir(), t.TempDir()
	lock := filepath.Join(lockDir, ".X0-lock")
	// No process runs with the maximum pid value.
	require.NoError(t, os.WriteFile(lock, []byte("4194304\n"), 0o644))

	d, err := reserveDisplay(lockDir, sockDir, false)
	require.NoError(t, err)
	defer d.release()

	assert.Equal(t, 0, d.Number)
	data, err := os.ReadFile(lock)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%10d\n", os.Getpid()), string(data))
}

func TestGarbageLockIsStale(t *testing.T) {
	lock := filepath.Join(t.TempDir(), ".X5-lock")
	require.NoError(t, os.WriteFile(lock, []byte("not a pid"), 0o644))
	assert.True(t, staleLock(lock))
	assert.False(t, staleLock(filepath.Join(t.TempDir(), "missing")))
}

func TestProcessError(t *testing.T) {
	err := &ProcessError{Display: ":3", Err: errors.New("signal: killed")}
	assert.Equal(t, "xwayland :3 exited: signal: killed", err.Error())
	assert.Equal(t, -1, err.ExitCode())

	cmd := exec.Command("sh", "-c", "exit 7")
	if runErr := cmd.Run(); runErr != nil {
		err = &ProcessError{Display: ":3", Err: runErr}
		assert.Equal(t, 7, err.ExitCode())
		var exit *exec.ExitError
		assert.ErrorAs(t, err, &exit)
	}
}

func TestStartFailsWhenServerExits(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false(1) not available")
	}
	lockDir, sockDir := t.TempDir(), t.TempDir()
	b, err := New(Options{Binary: bin, LockDir: lockDir, SocketDir: sockDir})
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)

	entries, err := os.ReadDir(lockDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "lock file must be released")
	assert.NoError(t, b.Close())
}

type fakeOps struct {
	titles  map[xproto.Window]string
	mapped  []xproto.Window
	configs []xproto.ConfigureRequestEvent
}

func (f *fakeOps) MapWindow(win xproto.Window) error {
	f.mapped = append(f.mapped, win)
	return nil
}

func (f *fakeOps) Configure(ev xproto.ConfigureRequestEvent) error {
	f.configs = append(f.configs, ev)
	return nil
}

func (f *fakeOps) Title(win xproto.Window) string { return f.titles[win] }
func (f *fakeOps) Class(xproto.Window) string     { return "XTerm" }

func newTestWM() (*wm, *fakeOps, *[]Event) {
	ops := &fakeOps{titles: map[xproto.Window]string{}}
	var got []Event
	m := newWM(ops, wmAtoms{wlSurfaceID: 100, wmName: 39, netWmName: 101},
		func(evs ...Event) { got = append(got, evs...) }, logger.With("test"))
	return m, ops, &got
}

func TestWMMapsTopLevels(t *testing.T) {
	m, ops, got := newTestWM()
	ops.titles[7] = "xterm"

	m.handle(xproto.CreateNotifyEvent{Window: 7, X: 10, Y: 20, Width: 300, Height: 200})
	m.handle(xproto.MapRequestEvent{Window: 7})
	assert.Equal(t, []xproto.Window{7}, ops.mapped)
	assert.Empty(t, *got)

	m.handle(xproto.MapNotifyEvent{Window: 7})
	assert.Equal(t, []Event{WindowMapped{
		Window:   7,
		Title:    "xterm",
		Class:    "XTerm",
		Geometry: image.Rect(10, 20, 310, 220),
	}}, *got)
}

func TestWMAssociatesSurface(t *testing.T) {
	m, _, got := newTestWM()
	msg := xproto.ClientMessageEvent{
		Format: 32,
		Window: 9,
		Type:   100,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{42, 0, 0, 0, 0}),
	}

	// The id may arrive before the window is mapped.
	m.handle(msg)
	assert.Empty(t, *got)
	m.handle(xproto.MapNotifyEvent{Window: 9})
	require.Len(t, *got, 2)
	assert.Equal(t, WindowAssociated{Window: 9, SurfaceID: 42}, (*got)[1])

	*got = nil
	msg.Type = 55
	m.handle(msg)
	assert.Empty(t, *got)
}

func TestWMTitleAndGeometryChanges(t *testing.T) {
	m, ops, got := newTestWM()
	ops.titles[3] = "one"
	m.handle(xproto.CreateNotifyEvent{Window: 3, Width: 10, Height: 10})
	m.handle(xproto.MapNotifyEvent{Window: 3})
	*got = nil

	ops.titles[3] = "two"
	m.handle(xproto.PropertyNotifyEvent{Window: 3, Atom: 101})
	m.handle(xproto.PropertyNotifyEvent{Window: 3, Atom: 101})
	m.handle(xproto.PropertyNotifyEvent{Window: 3, Atom: 5})
	m.handle(xproto.ConfigureNotifyEvent{Window: 3, Width: 10, Height: 10})
	m.handle(xproto.ConfigureNotifyEvent{Window: 3, X: 5, Width: 10, Height: 10})

	assert.Equal(t, []Event{
		WindowTitle{Window: 3, Title: "two"},
		WindowConfigured{Window: 3, Geometry: image.Rect(5, 0, 15, 10)},
	}, *got)
}

func TestWMUnmapAndDestroy(t *testing.T) {
	m, _, got := newTestWM()
	m.handle(xproto.MapNotifyEvent{Window: 4})
	m.handle(xproto.MapNotifyEvent{Window: 5})
	*got = nil

	m.handle(xproto.UnmapNotifyEvent{Window: 4})
	m.handle(xproto.DestroyNotifyEvent{Window: 4})
	m.handle(xproto.DestroyNotifyEvent{Window: 5})
	m.handle(xproto.DestroyNotifyEvent{Window: 6})

	assert.Equal(t, []Event{WindowUnmapped{Window: 4}, WindowUnmapped{Window: 5}}, *got)
	assert.Empty(t, m.windows)
}

func TestWMForwardsConfigureRequests(t *testing.T) {
	m, ops, _ := newTestWM()
	req := xproto.ConfigureRequestEvent{Window: 2, Width: 640, Height: 480,
		ValueMask: xproto.ConfigWindowWidth | xproto.ConfigWindowHeight}
	m.handle(req)
	assert.Equal(t, []xproto.ConfigureRequestEvent{req}, ops.configs)
}
