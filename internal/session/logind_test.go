package session

import (
	"fmt"
	"os"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeBus struct {
	calls []string
	reply map[string][]interface{}
}

func (f *fakeBus) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, fmt.Sprint(method, args))
	return &dbus.Call{Body: f.reply[method]}
}

const testPath = dbus.ObjectPath("/org/freedesktop/login1/session/_31")

func newTestLogind(t *testing.T, bus *fakeBus) *Logind {
	t.Helper()
	l := newLogind(bus, testPath, "seat0", true)
	t.Cleanup(func() {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	})
	return l
}

func nextEvent(t *testing.T, l *Logind) Event {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	default:
		t.Fatal("no event emitted")
		return Event{}
	}
}

func TestLogindActiveProperty(t *testing.T) {
	bus := &fakeBus{}
	l := newTestLogind(t, bus)

	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{sessionIface, map[string]dbus.Variant{"Active": dbus.MakeVariant(false)}, []string{}},
	})
	assert.Equal(t, Paused, nextEvent(t, l).Kind)
	assert.False(t, l.Guard().Active())

	// Repeated state is not re-announced.
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{sessionIface, map[string]dbus.Variant{"Active": dbus.MakeVariant(false)}, []string{}},
	})
	assert.Empty(t, l.events)

	bus.reply = map[string][]interface{}{propsIface + ".Get": {dbus.MakeVariant(true)}}
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{sessionIface, map[string]dbus.Variant{}, []string{"Active"}},
	})
	assert.Equal(t, Resumed, nextEvent(t, l).Kind)
	assert.True(t, l.Guard().Active())
}

func TestLogindIgnoresOtherSessions(t *testing.T) {
	l := newTestLogind(t, &fakeBus{})
	l.handleSignal(&dbus.Signal{
		Path: "/org/freedesktop/login1/session/_32",
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{sessionIface, map[string]dbus.Variant{"Active": dbus.MakeVariant(false)}, []string{}},
	})
	assert.Empty(t, l.events)
	assert.True(t, l.Guard().Active())
}

func TestLogindPauseAndResumeDevice(t *testing.T) {
	bus := &fakeBus{}
	l := newTestLogind(t, bus)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	dev := &Device{Path: "/dev/input/event3", Major: 13, Minor: 67, file: r}
	l.devices[devKey(13, 67)] = dev

	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: sessionIface + ".PauseDevice",
		Body: []interface{}{uint32(13), uint32(67), "pause"},
	})
	ev := nextEvent(t, l)
	assert.Equal(t, DevicePaused, ev.Kind)
	assert.Same(t, dev, ev.Device)
	assert.Equal(t, []string{sessionIface + ".PauseDeviceComplete[13 67]"}, bus.calls)
	_, ok := dev.File()
	assert.False(t, ok)

	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: sessionIface + ".ResumeDevice",
		Body: []interface{}{uint32(13), uint32(67), dbus.UnixFD(fd)},
	})
	ev = nextEvent(t, l)
	assert.Equal(t, DeviceResumed, ev.Kind)
	f, ok := dev.File()
	require.True(t, ok)
	assert.Equal(t, uintptr(fd), f.Fd())

	// Forced pauses need no acknowledgement.
	bus.calls = nil
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: sessionIface + ".PauseDevice",
		Body: []interface{}{uint32(13), uint32(67), "force"},
	})
	assert.Equal(t, DevicePaused, nextEvent(t, l).Kind)
	assert.Empty(t, bus.calls)

	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: sessionIface + ".PauseDevice",
		Body: []interface{}{uint32(13), uint32(67), "gone"},
	})
	assert.Equal(t, DeviceGone, nextEvent(t, l).Kind)
	require.NoError(t, dev.close())
}

func TestLogindUnknownDeviceSignal(t *testing.T) {
	bus := &fakeBus{}
	l := newTestLogind(t, bus)
	l.handleSignal(&dbus.Signal{
		Path: testPath,
		Name: sessionIface + ".PauseDevice",
		Body: []interface{}{uint32(226), uint32(0), "pause"},
	})
	assert.Empty(t, l.events)
	assert.Empty(t, bus.calls)
}

func TestLogindSwitchVTWithoutSeat(t *testing.T) {
	l := newTestLogind(t, &fakeBus{})
	assert.Error(t, l.SwitchVT(2))
}
