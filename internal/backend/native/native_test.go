package native

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/session"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	guard  *session.Guard
	events chan session.Event

	mu       sync.Mutex
	opened   []string
	released []string
	switched []int
}

func newFakeSession() *fakeSession {
	return &fakeSession{guard: session.NewGuard(true), events: make(chan session.Event, 8)}
}

func (s *fakeSession) Kind() string                 { return "fake" }
func (s *fakeSession) Seat() string                 { return "seat0" }
func (s *fakeSession) Guard() *session.Guard        { return s.guard }
func (s *fakeSession) Events() <-chan session.Event { return s.events }
func (s *fakeSession) Close() error                 { return nil }

func (s *fakeSession) Open(path string) (*session.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, path)
	return &session.Device{Path: path}, nil
}

func (s *fakeSession) Release(d *session.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, d.Path)
	return nil
}

func (s *fakeSession) SwitchVT(vt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switched = append(s.switched, vt)
	return nil
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

// newTestBackend builds a started-looking backend on a memory framebuffer.
func newTestBackend(t *testing.T) (*Backend, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	b, err := New(Options{Session: sess, InputSysfs: t.TempDir(), InputGlob: "/dev/input/event*"})
	require.NoError(t, err)
	b.sess = sess
	b.fb = &fbdev{
		mem:    make([]byte, 8*4*4),
		size:   image.Pt(8, 4),
		stride: 8 * 4,
		format: pixelFormat{r: 2, g: 1, b: 0},
	}
	b.mode.Width, b.mode.Height, b.mode.Refresh = 8, 4, 60000
	b.frame = backend.NewFramebuffer(outputID, b.fb.size)
	b.epoch = time.Now()
	b.present = true
	t.Cleanup(func() { b.events.Close() })
	return b, sess
}

func formatHex(v uint64) string {
	return strconv.FormatUint(v, 16)
}

func drain(b *Backend) []backend.Event {
	return slices.Collect(b.Poll())
}

func TestParseModes(t *testing.T) {
	modes := parseModes("1920x1080\n1920x1080i\n1280x720\nbogus\n0x10\n")
	assert.Equal(t, []connectorMode{{1920, 1080}, {1280, 720}}, modes)
	assert.Equal(t, "1920x1080", modes[0].String())
}

func TestScanConnectors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "card0-HDMI-A-1", "status"), "disconnected\n")
	writeFile(t, filepath.Join(root, "card0-eDP-1", "status"), "connected\n")
	writeFile(t, filepath.Join(root, "card0-eDP-1", "modes"), "2560x1600\n1920x1200\n")
	edid := make([]byte, 128)
	edid[21], edid[22] = 30, 19
	writeFile(t, filepath.Join(root, "card0-eDP-1", "edid"), string(edid))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "card0"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "renderD128"), 0o755))

	conns, err := scanConnectors(root)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "HDMI-A-1", conns[0].Name)
	assert.False(t, conns[0].Connected)

	c, ok := firstConnected(conns)
	require.True(t, ok)
	assert.Equal(t, "eDP-1", c.Name)
	assert.Equal(t, "card0", c.Card)
	assert.Equal(t, [2]int{300, 190}, c.PhysMM)
	assert.Equal(t, connectorMode{2560, 1600}, c.Modes[0])

	_, err = scanConnectors(filepath.Join(root, "missing"))
	assert.Error(t, err)

	infos, err := Connectors(root)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, []string{"2560x1600", "1920x1200"}, infos[1].Modes)
	assert.True(t, infos[1].Connected)
}

func TestEdidTooShort(t *testing.T) {
	assert.Equal(t, [2]int{}, edidSize([]byte{1, 2, 3}))
}

func TestFbFormat(t *testing.T) {
	v := fbVarScreenInfo{
		BitsPerPixel: 32,
		Red:          fbBitfield{Offset: 16, Length: 8},
		Green:        fbBitfield{Offset: 8, Length: 8},
		Blue:         fbBitfield{Offset: 0, Length: 8},
	}
	f, err := fbFormat(&v)
	require.NoError(t, err)
	assert.Equal(t, pixelFormat{r: 2, g: 1, b: 0}, f)

	v.BitsPerPixel = 16
	_, err = fbFormat(&v)
	assert.Error(t, err)

	v.BitsPerPixel = 32
	v.Red.Length = 5
	_, err = fbFormat(&v)
	assert.Error(t, err)
}

func TestCopyPixels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.Set(1, 1, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xff})
	src.Set(3, 0, color.RGBA{R: 0x44, A: 0xff})

	// Destination rows are padded to 5 pixels.
	stride := 5 * 4
	dst := make([]byte, stride*2)
	copyPixels(dst, stride, pixelFormat{r: 2, g: 1, b: 0}, src,
		[]image.Rectangle{image.Rect(1, 1, 2, 2), image.Rect(-5, -5, 1, 1)})

	off := stride + 4
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0xff}, dst[off:off+4])
	// Pixel (3,0) was outside the copied rects.
	assert.Equal(t, []byte{0, 0, 0, 0}, dst[12:16])
	// (0,0) was copied from a transparent source pixel.
	assert.Equal(t, []byte{0, 0, 0, 0xff}, dst[0:4])
}

func TestParseCapBits(t *testing.T) {
	if strconv.IntSize != 64 {
		t.Skip("bitmap words are 64 bit on this platform only")
	}
	bits, err := parseCapBits("1 0\n")
	require.NoError(t, err)
	assert.True(t, bits.has(64))
	assert.False(t, bits.has(0))

	bits, err = parseCapBits("3")
	require.NoError(t, err)
	assert.True(t, bits.has(0))
	assert.True(t, bits.has(1))

	_, err = parseCapBits("zz")
	assert.Error(t, err)
	assert.False(t, capBits{}.has(3))
}

func TestClassify(t *testing.T) {
	bits := func(ns ...int) capBits {
		var c capBits
		words := make([]uint64, 12)
		for _, n := range ns {
			words[n/64] |= 1 << (n % 64)
		}
		var s []byte
		for i := len(words) - 1; i >= 0; i-- {
			s = append(s, []byte(formatHex(words[i]))...)
			s = append(s, ' ')
		}
		c, _ = parseCapBits(string(s))
		return c
	}

	tests := []struct {
		name string
		caps deviceCaps
		want input.Capability
	}{
		{"keyboard", deviceCaps{key: bits(evdev.KEY_A, evdev.KEY_SPACE, evdev.KEY_Q)}, input.CapKeyboard},
		{"mouse", deviceCaps{key: bits(evdev.BTN_LEFT), rel: bits(evdev.REL_X, evdev.REL_Y)}, input.CapPointer},
		{"vm tablet", deviceCaps{key: bits(evdev.BTN_LEFT), abs: bits(evdev.ABS_X, evdev.ABS_Y)}, input.CapPointer},
		{"touchscreen", deviceCaps{abs: bits(evdev.ABS_MT_POSITION_X), props: bits(propDirect)}, input.CapTouch},
		{"touchpad", deviceCaps{key: bits(evdev.BTN_LEFT, evdev.BTN_TOOL_FINGER), abs: bits(evdev.ABS_X, evdev.ABS_MT_POSITION_X)}, 0},
		{"pen", deviceCaps{key: bits(evdev.BTN_TOOL_PEN, evdev.BTN_LEFT), abs: bits(evdev.ABS_X)}, 0},
		{"power button", deviceCaps{key: bits(evdev.KEY_POWER)}, 0},
		{"keyboard with trackpoint", deviceCaps{key: bits(evdev.KEY_A, evdev.KEY_SPACE, evdev.BTN_LEFT), rel: bits(evdev.REL_X)}, input.CapKeyboard | input.CapPointer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.classify())
		})
	}
}

func TestProbeDevice(t *testing.T) {
	sysfs := t.TempDir()
	dir := filepath.Join(sysfs, "event3", "device")
	writeFile(t, filepath.Join(dir, "name"), "Test Mouse\n")
	writeFile(t, filepath.Join(dir, "capabilities", "rel"), "3\n")
	writeFile(t, filepath.Join(dir, "capabilities", "key"), formatHex(1<<(evdev.BTN_LEFT%64))+" 0 0 0 0\n")

	caps, err := probeDevice(sysfs, "/dev/input/event3")
	require.NoError(t, err)
	assert.Equal(t, "Test Mouse", caps.name)
	assert.Equal(t, input.CapPointer, caps.classify())

	_, err = probeDevice(sysfs, "/dev/input/event9")
	assert.Error(t, err)
}

func TestDecodeEvents(t *testing.T) {
	var buf bytes.Buffer
	in := []evdev.InputEvent{
		{Time: syscall.Timeval{Sec: 1}, Type: evdev.EV_REL, Code: evdev.REL_X, Value: 4},
		{Time: syscall.Timeval{Sec: 1}, Type: evdev.EV_SYN, Code: evdev.SYN_REPORT},
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, in))
	// A trailing partial event is ignored.
	buf.Write([]byte{1, 2, 3})

	out := decodeEvents(buf.Bytes())
	assert.Equal(t, in, out)
	assert.Nil(t, decodeEvents([]byte{1}))
}

func TestNextRefresh(t *testing.T) {
	epoch := time.Unix(100, 0)
	interval := 16 * time.Millisecond

	assert.Equal(t, 10*time.Millisecond, nextRefresh(epoch, epoch.Add(38*time.Millisecond), interval))
	assert.Equal(t, interval, nextRefresh(epoch, epoch.Add(32*time.Millisecond), interval))
	assert.Equal(t, time.Duration(0), nextRefresh(epoch, epoch, 0))
}

func TestSubmitFramePresentsOnTick(t *testing.T) {
	b, _ := newTestBackend(t)

	target, err := b.BeginFrame(outputID)
	require.NoError(t, err)
	target.Image.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})

	require.NoError(t, b.SubmitFrame(target, region.New(target.Image.Bounds())))
	assert.Equal(t, []byte{0, 0, 0xff, 0xff}, b.fb.mem[:4])

	require.Eventually(t, func() bool { return b.events.Len() == 1 }, time.Second, 5*time.Millisecond)
	evs := drain(b)
	assert.Equal(t, outputID, evs[0].(backend.FramePresented).Output)
}

func TestCloseCancelsPendingPresentation(t *testing.T) {
	b, _ := newTestBackend(t)

	target, err := b.BeginFrame(outputID)
	require.NoError(t, err)
	require.NoError(t, b.SubmitFrame(target, region.New(target.Image.Bounds())))

	// Not mapped from a device, nothing to unmap.
	b.fb = nil
	require.NoError(t, b.Close())
	assert.Empty(t, b.timers)

	b.after(time.Millisecond, func() { t.Error("timer armed after close ran") })
	time.Sleep(3 * b.mode.Interval())
	assert.Zero(t, b.events.Len())
}

func TestInactiveSessionDropsFrames(t *testing.T) {
	b, sess := newTestBackend(t)
	target, err := b.BeginFrame(outputID)
	require.NoError(t, err)

	sess.guard.Set(false)
	_, err = b.BeginFrame(outputID)
	assert.ErrorIs(t, err, backend.ErrDeviceLost)

	target.Image.Set(0, 0, color.RGBA{G: 0xff, A: 0xff})
	require.NoError(t, b.SubmitFrame(target, region.New(target.Image.Bounds())))
	assert.Equal(t, []byte{0, 0, 0, 0}, b.fb.mem[:4])

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, drain(b))
}

func TestSessionEvents(t *testing.T) {
	b, _ := newTestBackend(t)

	b.handleSessionEvent(session.Event{Kind: session.Paused})
	b.handleSessionEvent(session.Event{Kind: session.Resumed})
	b.handleSessionEvent(session.Event{Kind: session.DevicePaused, Device: &session.Device{Path: "/dev/input/event1"}})

	assert.Equal(t, []backend.Event{backend.SessionPaused{}, backend.SessionResumed{}}, drain(b))
}

func TestDeviceLifecycle(t *testing.T) {
	b, sess := newTestBackend(t)
	writeFile(t, filepath.Join(b.opts.InputSysfs, "event4", "device", "name"), "Keyboard\n")
	writeFile(t, filepath.Join(b.opts.InputSysfs, "event4", "device", "capabilities", "key"),
		formatHex(1<<evdev.KEY_A|1<<evdev.KEY_SPACE)+"\n")
	writeFile(t, filepath.Join(b.opts.InputSysfs, "event5", "device", "name"), "Lid Switch\n")

	b.addDevice("/dev/input/event4")
	b.addDevice("/dev/input/event4")
	b.addDevice("/dev/input/event5")

	evs := drain(b)
	require.Len(t, evs, 1)
	added := evs[0].(backend.InputDeviceAdded)
	assert.Equal(t, "Keyboard", added.Device.Name)
	assert.Equal(t, input.CapKeyboard, added.Device.Caps)
	assert.Equal(t, []string{"/dev/input/event4"}, sess.opened)

	// The device is gone from the session's point of view.
	b.mu.Lock()
	dev := b.devices["/dev/input/event4"].dev
	b.mu.Unlock()
	b.handleSessionEvent(session.Event{Kind: session.DeviceGone, Device: dev})

	assert.Equal(t, []backend.Event{backend.InputDeviceRemoved{ID: added.Device.ID}}, drain(b))
	assert.Equal(t, []string{"/dev/input/event4"}, sess.released)
}

func TestConnectorHotplug(t *testing.T) {
	b, _ := newTestBackend(t)
	b.connector = connector{Card: "card0", Name: "HDMI-A-1"}

	b.updateConnector([]connector{{Card: "card0", Name: "HDMI-A-1", Connected: true}})
	assert.Empty(t, drain(b))

	b.updateConnector([]connector{{Card: "card0", Name: "HDMI-A-1"}})
	assert.Equal(t, []backend.Event{backend.OutputRemoved{ID: outputID}}, drain(b))
	assert.Empty(t, b.Outputs())
	_, err := b.BeginFrame(outputID)
	assert.ErrorIs(t, err, backend.ErrUnknownOutput)

	b.updateConnector([]connector{{Card: "card0", Name: "HDMI-A-1", Connected: true}})
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, "HDMI-A-1", evs[0].(backend.OutputAdded).Info.Name)
	require.Len(t, b.Outputs(), 1)
}

func TestSwitchVT(t *testing.T) {
	b, sess := newTestBackend(t)
	var _ backend.VTSwitcher = b

	require.NoError(t, b.SwitchVT(3))
	assert.Equal(t, []int{3}, sess.switched)
}
