package input

import (
	"image"
	"maps"
	"math"
	"slices"

	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/surface"
	"github.com/charmbracelet/log"
)

// Sink receives input routed to client surfaces. Coordinates are surface
// local.
type Sink interface {
	PointerEnter(h surface.Handle, x, y float64)
	PointerLeave(h surface.Handle)
	PointerMotion(h surface.Handle, time uint32, x, y float64)
	PointerButton(h surface.Handle, time uint32, button uint32, pressed bool)
	PointerAxis(h surface.Handle, time uint32, horizontal, vertical float64)
	KeyboardEnter(h surface.Handle, pressed []uint32, mods Modifiers)
	KeyboardLeave(h surface.Handle)
	Key(h surface.Handle, time uint32, code uint32, pressed bool)
	Modifiers(h surface.Handle, mods Modifiers)
	TouchDown(h surface.Handle, time uint32, slot int32, x, y float64)
	TouchMotion(h surface.Handle, time uint32, slot int32, x, y float64)
	TouchUp(h surface.Handle, time uint32, slot int32)
}

// Layout resolves output geometry for pointer clamping and absolute input.
type Layout interface {
	Bounds() image.Rectangle
	OutputBounds(id output.ID) (image.Rectangle, bool)
}

// Hooks notify the compositor about seat-level changes. Any may be nil.
type Hooks struct {
	CursorMoved func(from, to image.Point)
	CursorImage func(from, to surface.Handle)
	Activated   func(h surface.Handle)
	Binding     func(b Binding)
}

// SeatConfig configures keyboards added to the seat.
type SeatConfig struct {
	Name           string
	KeyboardLayout string
	Repeat         RepeatInfo
}

type device struct {
	info      DeviceInfo
	keymap    *Keymap
	buttons   []uint32
	swallowed []uint32
}

type touchKey struct {
	dev  DeviceID
	slot int32
}

type touchPoint struct {
	h      surface.Handle
	origin image.Point
}

// Seat owns pointer, keyboard and touch focus.
type Seat struct {
	cfg    SeatConfig
	store  *surface.Store
	layout Layout
	sink   Sink
	hooks  Hooks
	log    *log.Logger

	devices map[DeviceID]*device
	x, y    float64

	pointerFocus  surface.Handle
	pointerDev    DeviceID
	grab          surface.Handle
	cursorSurface surface.Handle

	keyboardFocus surface.Handle
	keyboardDev   DeviceID
	lastKeyboard  DeviceID

	touches map[touchKey]touchPoint
}

// NewSeat validates the keyboard layout and returns an empty seat.
func NewSeat(cfg SeatConfig, store *surface.Store, layout Layout, sink Sink, hooks Hooks) (*Seat, error) {
	if _, err := NewKeymap(cfg.KeyboardLayout, cfg.Repeat); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "seat0"
	}
	return &Seat{
		cfg:     cfg,
		store:   store,
		layout:  layout,
		sink:    sink,
		hooks:   hooks,
		log:     logger.With("seat"),
		devices: make(map[DeviceID]*device),
		touches: make(map[touchKey]touchPoint),
	}, nil
}

func (s *Seat) Name() string { return s.cfg.Name }

// AddDevice starts accepting events from a device.
func (s *Seat) AddDevice(info DeviceInfo) {
	if _, ok := s.devices[info.ID]; ok {
		return
	}
	d := &device{info: info}
	if info.Caps&CapKeyboard != 0 {
		d.keymap = s.newKeymap()
	}
	s.devices[info.ID] = d
	s.log.Debug("device added", "id", info.ID, "name", info.Name, "caps", info.Caps)
}

func (s *Seat) newKeymap() *Keymap {
	km, _ := NewKeymap(s.cfg.KeyboardLayout, s.cfg.Repeat) // layout validated in NewSeat
	return km
}

// RemoveDevice drops a device. Focus held through it is cleared before
// this returns.
func (s *Seat) RemoveDevice(id DeviceID) bool {
	if _, ok := s.devices[id]; !ok {
		return false
	}
	removed := s.devices[id]
	delete(s.devices, id)

	if s.pointerDev == id {
		s.clearPointerFocus()
		s.pointerDev = 0
	}
	noKeyboards := removed.info.Caps&CapKeyboard != 0 && !s.hasKeyboard()
	if s.keyboardDev == id || noKeyboards {
		s.clearKeyboardFocus()
		s.keyboardDev = 0
	}
	if s.lastKeyboard == id {
		s.lastKeyboard = 0
	}
	for key, tp := range s.touches {
		if key.dev != id {
			continue
		}
		if s.valid(tp.h) {
			s.sink.TouchUp(tp.h, 0, key.slot)
		}
		delete(s.touches, key)
	}
	s.log.Debug("device removed", "id", id)
	return true
}

// Devices returns the known devices ordered by ID.
func (s *Seat) Devices() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(s.devices))
	for _, id := range slices.Sorted(maps.Keys(s.devices)) {
		out = append(out, s.devices[id].info)
	}
	return out
}

// PointerFocus returns the surface under the pointer, zero if none.
func (s *Seat) PointerFocus() surface.Handle {
	if !s.valid(s.pointerFocus) {
		return surface.Handle{}
	}
	return s.pointerFocus
}

// KeyboardFocus returns the surface receiving keys, zero if none.
func (s *Seat) KeyboardFocus() surface.Handle {
	if !s.valid(s.keyboardFocus) {
		return surface.Handle{}
	}
	return s.keyboardFocus
}

// Cursor returns the pointer position in global coordinates.
func (s *Seat) Cursor() image.Point {
	return image.Pt(int(math.Floor(s.x)), int(math.Floor(s.y)))
}

// CursorSurface returns the client cursor image, zero for the default.
func (s *Seat) CursorSurface() surface.Handle {
	if !s.valid(s.cursorSurface) {
		return surface.Handle{}
	}
	return s.cursorSurface
}

// SetCursorSurface is called by the focused client to set its cursor.
func (s *Seat) SetCursorSurface(h surface.Handle) {
	s.setCursor(h)
}

func (s *Seat) setCursor(h surface.Handle) {
	from := s.cursorSurface
	if from == h {
		return
	}
	s.cursorSurface = h
	if s.hooks.CursorImage != nil {
		s.hooks.CursorImage(from, h)
	}
}

// Handle routes one normalized event.
func (s *Seat) Handle(ev Event) {
	dev, ok := s.devices[ev.Source()]
	if !ok {
		s.log.Debug("event from unknown device", "id", ev.Source())
		return
	}

	switch e := ev.(type) {
	case PointerMotion:
		s.motionTo(dev, e.Time(), s.x+e.DX, s.y+e.DY)
	case PointerMotionAbsolute:
		x, y := s.locate(e.Output, e.X, e.Y)
		s.motionTo(dev, e.Time(), x, y)
	case PointerButton:
		s.button(dev, e)
	case PointerAxis:
		s.pointerDev = dev.info.ID
		if h := s.PointerFocus(); !h.IsZero() {
			s.sink.PointerAxis(h, e.Time(), e.Horizontal, e.Vertical)
		}
	case Key:
		s.key(dev, e)
	case TouchDown:
		s.touchDown(dev, e)
	case TouchMotion:
		key := touchKey{dev.info.ID, e.Slot}
		tp, ok := s.touches[key]
		if !ok || !s.valid(tp.h) {
			return
		}
		x, y := s.locate(e.Output, e.X, e.Y)
		s.sink.TouchMotion(tp.h, e.Time(), e.Slot, x-float64(tp.origin.X), y-float64(tp.origin.Y))
	case TouchUp:
		key := touchKey{dev.info.ID, e.Slot}
		if tp, ok := s.touches[key]; ok {
			if s.valid(tp.h) {
				s.sink.TouchUp(tp.h, e.Time(), e.Slot)
			}
			delete(s.touches, key)
		}
	}
}

func (s *Seat) area(id output.ID) image.Rectangle {
	if id != 0 {
		if b, ok := s.layout.OutputBounds(id); ok {
			return b
		}
	}
	return s.layout.Bounds()
}

func (s *Seat) motionTo(dev *device, t uint32, x, y float64) {
	if b := s.layout.Bounds(); !b.Empty() {
		x = min(max(x, float64(b.Min.X)), float64(b.Max.X-1))
		y = min(max(y, float64(b.Min.Y)), float64(b.Max.Y-1))
	}
	from := s.Cursor()
	s.x, s.y = x, y
	s.pointerDev = dev.info.ID

	if to := s.Cursor(); to != from && s.hooks.CursorMoved != nil {
		s.hooks.CursorMoved(from, to)
	}
	s.updatePointerFocus(t, true)
}

// RefreshPointerFocus re-evaluates the surface under the pointer after the
// stacking order or surface geometry changed.
func (s *Seat) RefreshPointerFocus() {
	s.updatePointerFocus(0, false)
}

func (s *Seat) updatePointerFocus(t uint32, motion bool) {
	var target surface.Handle
	var lx, ly float64

	if s.valid(s.grab) {
		target = s.grab
		origin, _ := s.store.Origin(target)
		lx, ly = s.x-float64(origin.X), s.y-float64(origin.Y)
	} else if h, _, ok := s.store.SurfaceAt(s.Cursor()); ok {
		target = h
		origin, _ := s.store.Origin(h)
		lx, ly = s.x-float64(origin.X), s.y-float64(origin.Y)
	}

	if target != s.pointerFocus {
		if s.valid(s.pointerFocus) {
			s.sink.PointerLeave(s.pointerFocus)
		}
		s.pointerFocus = target
		s.setCursor(surface.Handle{})
		if !target.IsZero() {
			s.sink.PointerEnter(target, lx, ly)
		}
		return
	}
	if motion && !target.IsZero() {
		s.sink.PointerMotion(target, t, lx, ly)
	}
}

func (s *Seat) held() int {
	n := 0
	for _, d := range s.devices {
		n += len(d.buttons)
	}
	return n
}

func (s *Seat) button(dev *device, e PointerButton) {
	s.pointerDev = dev.info.ID
	focus := s.PointerFocus()

	if e.Pressed {
		if slices.Contains(dev.buttons, e.Button) {
			return
		}
		if s.held() == 0 {
			s.grab = focus
		}
		dev.buttons = append(dev.buttons, e.Button)
		if !focus.IsZero() {
			s.SetKeyboardFocus(focus, dev.info.ID)
			if s.hooks.Activated != nil {
				s.hooks.Activated(focus)
			}
			s.sink.PointerButton(focus, e.Time(), e.Button, true)
		}
		return
	}

	i := slices.Index(dev.buttons, e.Button)
	if i < 0 {
		return
	}
	dev.buttons = slices.Delete(dev.buttons, i, i+1)
	if !focus.IsZero() {
		s.sink.PointerButton(focus, e.Time(), e.Button, false)
	}
	if s.held() == 0 {
		s.grab = surface.Handle{}
		s.updatePointerFocus(e.Time(), false)
	}
}

func (s *Seat) key(dev *device, e Key) {
	if dev.keymap == nil {
		dev.keymap = s.newKeymap()
	}
	res := dev.keymap.Feed(e.Code, e.Pressed)
	s.lastKeyboard = dev.info.ID

	if e.Pressed {
		if b, ok := MatchBinding(res.Sym, res.Mods); ok {
			dev.swallowed = append(dev.swallowed, e.Code)
			s.log.Debug("binding", "action", b.Action, "key", res.Sym)
			if s.hooks.Binding != nil {
				s.hooks.Binding(b)
			}
			return
		}
	} else if i := slices.Index(dev.swallowed, e.Code); i >= 0 {
		dev.swallowed = slices.Delete(dev.swallowed, i, i+1)
		return
	}

	focus := s.KeyboardFocus()
	if focus.IsZero() {
		return
	}
	s.keyboardDev = dev.info.ID
	s.sink.Key(focus, e.Time(), e.Code, e.Pressed)
	if res.ModsChanged {
		s.sink.Modifiers(focus, res.Mods)
	}
}

func (s *Seat) locate(id output.ID, nx, ny float64) (float64, float64) {
	b := s.area(id)
	return float64(b.Min.X) + nx*float64(b.Dx()), float64(b.Min.Y) + ny*float64(b.Dy())
}

func (s *Seat) touchDown(dev *device, e TouchDown) {
	x, y := s.locate(e.Output, e.X, e.Y)
	h, _, ok := s.store.SurfaceAt(image.Pt(int(math.Floor(x)), int(math.Floor(y))))
	if !ok {
		return
	}
	origin, _ := s.store.Origin(h)
	s.touches[touchKey{dev.info.ID, e.Slot}] = touchPoint{h: h, origin: origin}
	s.sink.TouchDown(h, e.Time(), e.Slot, x-float64(origin.X), y-float64(origin.Y))
}

// SetKeyboardFocus moves keyboard focus to h on behalf of device dev.
// Only keyboard-capable devices are recorded as the focus owner.
func (s *Seat) SetKeyboardFocus(h surface.Handle, dev DeviceID) {
	if d, ok := s.devices[dev]; !ok || d.info.Caps&CapKeyboard == 0 {
		dev = 0
	}
	if h == s.keyboardFocus && s.valid(h) {
		if dev != 0 {
			s.keyboardDev = dev
		}
		return
	}
	if s.valid(s.keyboardFocus) {
		s.sink.KeyboardLeave(s.keyboardFocus)
	}
	s.keyboardFocus = h
	s.keyboardDev = dev
	if s.valid(h) {
		pressed, mods := s.keyState()
		s.sink.KeyboardEnter(h, pressed, mods)
	}
}

func (s *Seat) keyState() ([]uint32, Modifiers) {
	var pressed []uint32
	for _, id := range slices.Sorted(maps.Keys(s.devices)) {
		if km := s.devices[id].keymap; km != nil {
			pressed = append(pressed, km.Pressed()...)
		}
	}
	var mods Modifiers
	if d, ok := s.devices[s.lastKeyboard]; ok && d.keymap != nil {
		mods = d.keymap.Modifiers()
	}
	return pressed, mods
}

// SurfaceGone forgets every reference to a destroyed surface.
func (s *Seat) SurfaceGone(h surface.Handle) {
	if s.pointerFocus == h {
		s.pointerFocus = surface.Handle{}
	}
	if s.grab == h {
		s.grab = surface.Handle{}
	}
	if s.cursorSurface == h {
		s.cursorSurface = surface.Handle{}
	}
	if s.keyboardFocus == h {
		s.keyboardFocus = surface.Handle{}
		s.keyboardDev = 0
	}
	for key, tp := range s.touches {
		if tp.h == h {
			delete(s.touches, key)
		}
	}
}

// ReleaseAll forgets held keys and buttons, used when the session is paused
// and the devices stop reporting releases.
func (s *Seat) ReleaseAll() {
	for _, d := range s.devices {
		d.buttons = nil
		d.swallowed = nil
		if d.keymap != nil {
			d.keymap.Reset()
		}
	}
	s.grab = surface.Handle{}
	for key, tp := range s.touches {
		if s.valid(tp.h) {
			s.sink.TouchUp(tp.h, 0, key.slot)
		}
		delete(s.touches, key)
	}
}

func (s *Seat) clearPointerFocus() {
	if s.valid(s.pointerFocus) {
		s.sink.PointerLeave(s.pointerFocus)
	}
	s.pointerFocus = surface.Handle{}
	s.grab = surface.Handle{}
	s.setCursor(surface.Handle{})
}

func (s *Seat) hasKeyboard() bool {
	for _, d := range s.devices {
		if d.info.Caps&CapKeyboard != 0 {
			return true
		}
	}
	return false
}

func (s *Seat) clearKeyboardFocus() {
	if s.valid(s.keyboardFocus) {
		s.sink.KeyboardLeave(s.keyboardFocus)
	}
	s.keyboardFocus = surface.Handle{}
}

func (s *Seat) valid(h surface.Handle) bool {
	if h.IsZero() {
		return false
	}
	_, ok := s.store.Get(h)
	return ok
}
