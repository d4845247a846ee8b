package input

import (
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeymap(t *testing.T, layout string) *Keymap {
	t.Helper()
	km, err := NewKeymap(layout, RepeatInfo{Rate: 25})
	require.NoError(t, err)
	return km
}

func TestKeymapShiftAndCaps(t *testing.T) {
	km := newKeymap(t, "us")

	assert.Equal(t, Keysym('a'), km.Feed(evdev.KEY_A, true).Sym)
	km.Feed(evdev.KEY_A, false)

	res := km.Feed(evdev.KEY_LEFTSHIFT, true)
	assert.True(t, res.ModsChanged)
	assert.True(t, res.Mods.Shift)
	assert.Equal(t, ModShift, res.Mods.Depressed())

	assert.Equal(t, Keysym('A'), km.Lookup(evdev.KEY_A))
	assert.Equal(t, Keysym('!'), km.Lookup(evdev.KEY_1))
	km.Feed(evdev.KEY_LEFTSHIFT, false)

	km.Feed(evdev.KEY_CAPSLOCK, true)
	km.Feed(evdev.KEY_CAPSLOCK, false)
	assert.True(t, km.Modifiers().CapsLock)
	assert.Equal(t, ModLock, km.Modifiers().Locked())
	assert.Equal(t, Keysym('A'), km.Lookup(evdev.KEY_A))
	// Caps Lock leaves non-letters alone.
	assert.Equal(t, Keysym('1'), km.Lookup(evdev.KEY_1))

	km.Feed(evdev.KEY_RIGHTSHIFT, true)
	assert.Equal(t, Keysym('a'), km.Lookup(evdev.KEY_A))
}

func TestKeymapBothShiftKeys(t *testing.T) {
	km := newKeymap(t, "us")
	km.Feed(evdev.KEY_LEFTSHIFT, true)
	km.Feed(evdev.KEY_RIGHTSHIFT, true)
	km.Feed(evdev.KEY_LEFTSHIFT, false)
	assert.True(t, km.Modifiers().Shift)

	km.Feed(evdev.KEY_RIGHTSHIFT, false)
	assert.False(t, km.Modifiers().Shift)
}

func TestKeymapPressedTracking(t *testing.T) {
	km := newKeymap(t, "us")
	km.Feed(evdev.KEY_A, true)
	km.Feed(evdev.KEY_B, true)
	km.Feed(evdev.KEY_A, true) // duplicate press
	assert.Equal(t, []uint32{evdev.KEY_A, evdev.KEY_B}, km.Pressed())

	km.Feed(evdev.KEY_A, false)
	km.Feed(evdev.KEY_Z, false) // never pressed
	assert.Equal(t, []uint32{evdev.KEY_B}, km.Pressed())
}

func TestKeymapNumLockKeypad(t *testing.T) {
	km := newKeymap(t, "us")
	assert.Equal(t, KeyKPEnd, km.Lookup(evdev.KEY_KP1))

	km.Feed(evdev.KEY_NUMLOCK, true)
	assert.Equal(t, KeyKP0+1, km.Lookup(evdev.KEY_KP1))
	assert.Equal(t, ModNum, km.Modifiers().Locked())
}

func TestKeymapResetKeepsLocks(t *testing.T) {
	km := newKeymap(t, "us")
	km.Feed(evdev.KEY_CAPSLOCK, true)
	km.Feed(evdev.KEY_LEFTCTRL, true)
	km.Reset()

	assert.Empty(t, km.Pressed())
	assert.False(t, km.Modifiers().Ctrl)
	assert.True(t, km.Modifiers().CapsLock)

	// A release after reset does not underflow the held count.
	km.Feed(evdev.KEY_LEFTCTRL, false)
	km.Feed(evdev.KEY_LEFTCTRL, true)
	assert.True(t, km.Modifiers().Ctrl)
}

func TestFrenchLayout(t *testing.T) {
	km := newKeymap(t, "fr")
	assert.Equal(t, Keysym('a'), km.Lookup(evdev.KEY_Q))
	assert.Equal(t, Keysym('z'), km.Lookup(evdev.KEY_W))
	assert.Equal(t, Keysym('m'), km.Lookup(evdev.KEY_SEMICOLON))
	assert.Equal(t, Keysym('&'), km.Lookup(evdev.KEY_1))

	km.Feed(evdev.KEY_LEFTSHIFT, true)
	assert.Equal(t, Keysym('1'), km.Lookup(evdev.KEY_1))
	assert.Equal(t, Keysym('A'), km.Lookup(evdev.KEY_Q))
	// Unchanged keys fall through to the base layout.
	assert.Equal(t, KeyReturn, km.Lookup(evdev.KEY_ENTER))
}

func TestUnknownLayout(t *testing.T) {
	_, err := NewKeymap("dvorak-custom", RepeatInfo{})
	assert.Error(t, err)
	assert.Equal(t, []string{"fr", "us"}, Layouts())
}

func TestMatchBinding(t *testing.T) {
	ctrlAlt := Modifiers{Ctrl: true, Alt: true}
	tests := []struct {
		name string
		sym  Keysym
		mods Modifiers
		want Binding
		ok   bool
	}{
		{"quit", KeyBackSpace, ctrlAlt, Binding{Action: ActionQuit}, true},
		{"vt1", KeyF1, ctrlAlt, Binding{Action: ActionSwitchVT, VT: 1}, true},
		{"vt12", KeyF12, ctrlAlt, Binding{Action: ActionSwitchVT, VT: 12}, true},
		{"overlay", 'd', Modifiers{Logo: true}, Binding{Action: ActionToggleOverlay}, true},
		{"overlay shifted", 'D', Modifiers{Logo: true, Shift: true}, Binding{Action: ActionToggleOverlay}, true},
		{"backspace alone", KeyBackSpace, Modifiers{}, Binding{}, false},
		{"ctrl only", KeyF1, Modifiers{Ctrl: true}, Binding{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchBinding(tt.sym, tt.mods)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeysymString(t *testing.T) {
	assert.Equal(t, "F5", (KeyF1 + 4).String())
	assert.Equal(t, "a", Keysym('a').String())
	assert.Equal(t, "space", Keysym(' ').String())
	assert.Equal(t, "BackSpace", KeyBackSpace.String())
	assert.Equal(t, "KP_7", (KeyKP0 + 7).String())
}
