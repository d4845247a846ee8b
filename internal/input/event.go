// Package input normalizes raw backend input, applies the keymap and routes
// events to the focused surfaces.
package input

import (
	"fmt"
	"strings"

	"github.com/bnema/anvil/internal/output"
)

// DeviceID identifies an input device for the lifetime of a backend.
type DeviceID uint32

// Capability is a set of device capabilities.
type Capability uint8

const (
	CapPointer Capability = 1 << iota
	CapKeyboard
	CapTouch
	CapTablet
)

func (c Capability) String() string {
	var parts []string
	for _, n := range []struct {
		c    Capability
		name string
	}{{CapPointer, "pointer"}, {CapKeyboard, "keyboard"}, {CapTouch, "touch"}, {CapTablet, "tablet"}} {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// DeviceInfo describes a device as reported by a backend.
type DeviceInfo struct {
	ID   DeviceID
	Name string
	Path string
	Caps Capability
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Caps)
}

// Event is a normalized input event.
type Event interface {
	Source() DeviceID
	Time() uint32
}

// Header carries the originating device and a millisecond timestamp.
type Header struct {
	Device DeviceID
	Msec   uint32
}

func (h Header) Source() DeviceID { return h.Device }
func (h Header) Time() uint32     { return h.Msec }

// PointerMotion is relative motion in pixels.
type PointerMotion struct {
	Header
	DX, DY float64
}

// PointerMotionAbsolute is a position normalized to [0,1] over an output.
// A zero Output means the whole layout.
type PointerMotionAbsolute struct {
	Header
	Output output.ID
	X, Y   float64
}

// PointerButton uses evdev button codes (BTN_LEFT...).
type PointerButton struct {
	Header
	Button  uint32
	Pressed bool
}

// PointerAxis is scroll distance, positive down and right.
type PointerAxis struct {
	Header
	Horizontal float64
	Vertical   float64
}

// Key uses evdev key codes.
type Key struct {
	Header
	Code    uint32
	Pressed bool
}

// TouchDown starts a touch point, normalized like PointerMotionAbsolute.
type TouchDown struct {
	Header
	Output output.ID
	Slot   int32
	X, Y   float64
}

// TouchMotion moves a touch point.
type TouchMotion struct {
	Header
	Output output.ID
	Slot   int32
	X, Y   float64
}

// TouchUp ends a touch point.
type TouchUp struct {
	Header
	Slot int32
}
