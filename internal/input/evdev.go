package input

import (
	"maps"
	"slices"

	evdev "github.com/gvalkov/golang-evdev"
)

// scrollStep is the axis distance of one wheel detent.
const scrollStep = 15.0

// AbsRange is the value range of an absolute axis.
type AbsRange struct {
	Min, Max int32
}

func (r AbsRange) normalize(v int32) float64 {
	if r.Max <= r.Min {
		return 0
	}
	f := float64(v-r.Min) / float64(r.Max-r.Min)
	return min(max(f, 0), 1)
}

type touchSlot struct {
	active  bool
	changed bool
	down    bool
	up      bool
	x, y    int32
}

// EvdevDecoder turns the raw kernel event stream of one device into
// normalized events, one batch per SYN_REPORT frame.
type EvdevDecoder struct {
	dev        DeviceID
	absX, absY AbsRange

	dx, dy        int32
	wheel, hwheel int32
	absPointer    bool
	ax, ay        int32
	absMoved      bool

	slot  int32
	slots map[int32]*touchSlot

	pending []Event
	dropped bool
}

// NewEvdevDecoder creates a decoder. absX and absY are the device's
// absolute axis ranges, used for touch and tablet positions.
func NewEvdevDecoder(dev DeviceID, absX, absY AbsRange) *EvdevDecoder {
	return &EvdevDecoder{
		dev:   dev,
		absX:  absX,
		absY:  absY,
		slots: make(map[int32]*touchSlot),
	}
}

func msec(ev *evdev.InputEvent) uint32 {
	return uint32(ev.Time.Sec*1000 + ev.Time.Usec/1000)
}

// Feed consumes one kernel event and returns the events of a completed
// frame, or nil while a frame is still being assembled.
func (d *EvdevDecoder) Feed(ev *evdev.InputEvent) []Event {
	h := Header{Device: d.dev, Msec: msec(ev)}

	switch ev.Type {
	case evdev.EV_SYN:
		switch ev.Code {
		case evdev.SYN_REPORT:
			if d.dropped {
				// Resynchronized: the frame after SYN_DROPPED is discarded.
				d.dropped = false
				d.reset()
				return nil
			}
			return d.flush(h)
		case evdev.SYN_DROPPED:
			d.dropped = true
			d.reset()
		}

	case evdev.EV_KEY:
		if ev.Value == 2 {
			return nil // autorepeat, clients repeat on their own
		}
		pressed := ev.Value == 1
		code := uint32(ev.Code)
		switch {
		case code >= evdev.BTN_LEFT && code <= evdev.BTN_TASK:
			d.pending = append(d.pending, PointerButton{Header: h, Button: code, Pressed: pressed})
		case code >= evdev.BTN_MISC && code < evdev.KEY_OK:
			// Joystick, digitizer tool and touch buttons carry no key meaning.
		default:
			d.pending = append(d.pending, Key{Header: h, Code: code, Pressed: pressed})
		}

	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X:
			d.dx += ev.Value
		case evdev.REL_Y:
			d.dy += ev.Value
		case evdev.REL_WHEEL:
			d.wheel += ev.Value
		case evdev.REL_HWHEEL:
			d.hwheel += ev.Value
		}

	case evdev.EV_ABS:
		d.abs(ev)
	}
	return nil
}

func (d *EvdevDecoder) abs(ev *evdev.InputEvent) {
	switch ev.Code {
	case evdev.ABS_X:
		d.absPointer, d.absMoved, d.ax = true, true, ev.Value
	case evdev.ABS_Y:
		d.absPointer, d.absMoved, d.ay = true, true, ev.Value
	case evdev.ABS_MT_SLOT:
		d.slot = ev.Value
	case evdev.ABS_MT_TRACKING_ID:
		s := d.current()
		if ev.Value < 0 {
			if s.active {
				s.up = true
			}
			return
		}
		s.active, s.down, s.up = true, true, false
	case evdev.ABS_MT_POSITION_X:
		s := d.current()
		s.x, s.changed = ev.Value, true
	case evdev.ABS_MT_POSITION_Y:
		s := d.current()
		s.y, s.changed = ev.Value, true
	}
}

func (d *EvdevDecoder) current() *touchSlot {
	s, ok := d.slots[d.slot]
	if !ok {
		s = &touchSlot{}
		d.slots[d.slot] = s
	}
	return s
}

func (d *EvdevDecoder) flush(h Header) []Event {
	var out []Event

	if d.dx != 0 || d.dy != 0 {
		out = append(out, PointerMotion{Header: h, DX: float64(d.dx), DY: float64(d.dy)})
	}
	// Touchscreens also report ABS_X/ABS_Y for the first contact.
	if d.absMoved && len(d.slots) == 0 {
		out = append(out, PointerMotionAbsolute{Header: h, X: d.absX.normalize(d.ax), Y: d.absY.normalize(d.ay)})
	}
	out = append(out, d.pending...)
	if d.wheel != 0 || d.hwheel != 0 {
		out = append(out, PointerAxis{
			Header:     h,
			Vertical:   -float64(d.wheel) * scrollStep,
			Horizontal: float64(d.hwheel) * scrollStep,
		})
	}

	for _, slot := range slices.Sorted(maps.Keys(d.slots)) {
		s := d.slots[slot]
		x, y := d.absX.normalize(s.x), d.absY.normalize(s.y)
		switch {
		case s.down:
			out = append(out, TouchDown{Header: h, Slot: slot, X: x, Y: y})
		case s.changed && !s.up:
			out = append(out, TouchMotion{Header: h, Slot: slot, X: x, Y: y})
		}
		if s.up {
			out = append(out, TouchUp{Header: h, Slot: slot})
			delete(d.slots, slot)
			continue
		}
		s.down, s.changed = false, false
	}

	d.dx, d.dy, d.wheel, d.hwheel = 0, 0, 0, 0
	d.absMoved = false
	d.pending = nil
	return out
}

func (d *EvdevDecoder) reset() {
	d.dx, d.dy, d.wheel, d.hwheel = 0, 0, 0, 0
	d.absMoved = false
	d.pending = nil
}
