package input

import (
	"syscall"
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(typ, code uint16, value int32) *evdev.InputEvent {
	return &evdev.InputEvent{Time: syscall.Timeval{Sec: 1, Usec: 500000}, Type: typ, Code: code, Value: value}
}

func syn() *evdev.InputEvent {
	return raw(evdev.EV_SYN, evdev.SYN_REPORT, 0)
}

func TestDecoderFramesRelativeMotion(t *testing.T) {
	d := NewEvdevDecoder(3, AbsRange{}, AbsRange{})

	assert.Nil(t, d.Feed(raw(evdev.EV_REL, evdev.REL_X, 4)))
	assert.Nil(t, d.Feed(raw(evdev.EV_REL, evdev.REL_Y, -2)))
	assert.Nil(t, d.Feed(raw(evdev.EV_REL, evdev.REL_X, 1)))
	assert.Nil(t, d.Feed(raw(evdev.EV_KEY, evdev.BTN_LEFT, 1)))
	assert.Nil(t, d.Feed(raw(evdev.EV_REL, evdev.REL_WHEEL, 1)))

	events := d.Feed(syn())
	require.Len(t, events, 3)

	motion, ok := events[0].(PointerMotion)
	require.True(t, ok)
	assert.Equal(t, 5.0, motion.DX)
	assert.Equal(t, -2.0, motion.DY)
	assert.Equal(t, DeviceID(3), motion.Source())
	assert.Equal(t, uint32(1500), motion.Time())

	assert.Equal(t, PointerButton{Header: motion.Header, Button: evdev.BTN_LEFT, Pressed: true}, events[1])

	axis, ok := events[2].(PointerAxis)
	require.True(t, ok)
	assert.Equal(t, -15.0, axis.Vertical)

	// State resets between frames.
	assert.Empty(t, d.Feed(syn()))
}

func TestDecoderKeysIgnoreRepeat(t *testing.T) {
	d := NewEvdevDecoder(1, AbsRange{}, AbsRange{})
	d.Feed(raw(evdev.EV_KEY, evdev.KEY_A, 1))
	d.Feed(raw(evdev.EV_KEY, evdev.KEY_A, 2))
	d.Feed(raw(evdev.EV_KEY, evdev.BTN_TOUCH, 1))
	events := d.Feed(syn())

	require.Len(t, events, 1)
	key := events[0].(Key)
	assert.Equal(t, uint32(evdev.KEY_A), key.Code)
	assert.True(t, key.Pressed)
}

func TestDecoderDropsFrameAfterSynDropped(t *testing.T) {
	d := NewEvdevDecoder(1, AbsRange{}, AbsRange{})
	d.Feed(raw(evdev.EV_REL, evdev.REL_X, 10))
	d.Feed(raw(evdev.EV_SYN, evdev.SYN_DROPPED, 0))
	d.Feed(raw(evdev.EV_REL, evdev.REL_X, 3))
	assert.Nil(t, d.Feed(syn()))

	d.Feed(raw(evdev.EV_REL, evdev.REL_X, 2))
	events := d.Feed(syn())
	require.Len(t, events, 1)
	assert.Equal(t, 2.0, events[0].(PointerMotion).DX)
}

func TestDecoderMultitouch(t *testing.T) {
	d := NewEvdevDecoder(2, AbsRange{Min: 0, Max: 1000}, AbsRange{Min: 0, Max: 500})

	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_SLOT, 0))
	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, 7))
	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, 500))
	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, 250))
	events := d.Feed(syn())
	require.Len(t, events, 1)
	down := events[0].(TouchDown)
	assert.Equal(t, int32(0), down.Slot)
	assert.InDelta(t, 0.5, down.X, 1e-9)
	assert.InDelta(t, 0.5, down.Y, 1e-9)

	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, 1000))
	events = d.Feed(syn())
	require.Len(t, events, 1)
	assert.InDelta(t, 1.0, events[0].(TouchMotion).X, 1e-9)

	d.Feed(raw(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, -1))
	events = d.Feed(syn())
	require.Len(t, events, 1)
	assert.Equal(t, TouchUp{Header: events[0].(TouchUp).Header, Slot: 0}, events[0])
}

func TestDecoderAbsolutePointer(t *testing.T) {
	d := NewEvdevDecoder(4, AbsRange{Min: 0, Max: 100}, AbsRange{Min: 0, Max: 100})
	d.Feed(raw(evdev.EV_ABS, evdev.ABS_X, 25))
	d.Feed(raw(evdev.EV_ABS, evdev.ABS_Y, 200))
	events := d.Feed(syn())

	require.Len(t, events, 1)
	abs := events[0].(PointerMotionAbsolute)
	assert.InDelta(t, 0.25, abs.X, 1e-9)
	assert.InDelta(t, 1.0, abs.Y, 1e-9)
}

func TestX11Normalization(t *testing.T) {
	code, ok := FromX11Keycode(38)
	require.True(t, ok)
	assert.Equal(t, uint32(evdev.KEY_A), code)
	_, ok = FromX11Keycode(3)
	assert.False(t, ok)

	b, ok := FromX11Button(3)
	require.True(t, ok)
	assert.Equal(t, uint32(evdev.BTN_RIGHT), b.Button)
	assert.False(t, b.IsScroll())

	b, ok = FromX11Button(5)
	require.True(t, ok)
	assert.True(t, b.IsScroll())
	assert.Equal(t, 15.0, b.Vertical)

	_, ok = FromX11Button(12)
	assert.False(t, ok)

	x, y := Normalize(50, 300, 100, 200)
	assert.Equal(t, 0.5, x)
	assert.Equal(t, 1.0, y)
}
