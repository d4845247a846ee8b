package input

import (
	evdev "github.com/gvalkov/golang-evdev"
)

// x11KeycodeOffset is the distance between X11 keycodes and evdev codes.
const x11KeycodeOffset = 8

// FromX11Keycode converts an X11 keycode to an evdev code.
func FromX11Keycode(keycode uint8) (uint32, bool) {
	if keycode < x11KeycodeOffset {
		return 0, false
	}
	return uint32(keycode) - x11KeycodeOffset, true
}

// X11Button is a normalized core X11 pointer button. Buttons 4 to 7 are
// scroll steps and become axis values instead of button codes.
type X11Button struct {
	Button     uint32
	Horizontal float64
	Vertical   float64
}

// IsScroll reports whether the button was a scroll step.
func (b X11Button) IsScroll() bool {
	return b.Button == 0
}

// FromX11Button maps a core button number.
func FromX11Button(detail uint8) (X11Button, bool) {
	switch detail {
	case 1:
		return X11Button{Button: evdev.BTN_LEFT}, true
	case 2:
		return X11Button{Button: evdev.BTN_MIDDLE}, true
	case 3:
		return X11Button{Button: evdev.BTN_RIGHT}, true
	case 4:
		return X11Button{Vertical: -scrollStep}, true
	case 5:
		return X11Button{Vertical: scrollStep}, true
	case 6:
		return X11Button{Horizontal: -scrollStep}, true
	case 7:
		return X11Button{Horizontal: scrollStep}, true
	case 8:
		return X11Button{Button: evdev.BTN_SIDE}, true
	case 9:
		return X11Button{Button: evdev.BTN_EXTRA}, true
	}
	return X11Button{}, false
}

// Normalize maps a position inside a w by h area to [0,1].
func Normalize(x, y, w, h float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	return min(max(x/w, 0), 1), min(max(y/h, 0), 1)
}
