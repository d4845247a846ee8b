// Package output tracks display outputs and their frame scheduling state.
package output

import (
	"fmt"
	"image"
	"time"

	"github.com/bnema/anvil/internal/region"
)

// ID identifies an output for the lifetime of a backend.
type ID uint32

// Mode is a display mode. Refresh is in millihertz.
type Mode struct {
	Width   int32
	Height  int32
	Refresh int32
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.3f", m.Width, m.Height, float64(m.Refresh)/1000)
}

// Size returns the mode size in pixels.
func (m Mode) Size() image.Point {
	return image.Pt(int(m.Width), int(m.Height))
}

// Interval returns the refresh period, defaulting to 60Hz.
func (m Mode) Interval() time.Duration {
	if m.Refresh <= 0 {
		return time.Second / 60
	}
	return time.Duration(int64(time.Second) * 1000 / int64(m.Refresh))
}

// Info describes an output as reported by a backend.
type Info struct {
	ID       ID
	Name     string
	Make     string
	Model    string
	PhysMM   image.Point
	Mode     Mode
	Position image.Point // top-left in the global layout
}

// State is a frame scheduling state.
type State int

const (
	Idle State = iota
	Requested
	Rendering
	Presenting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Rendering:
		return "rendering"
	case Presenting:
		return "presenting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats counts frames through the scheduler.
type Stats struct {
	Rendered    uint64
	Presented   uint64
	Dropped     uint64
	LastPresent time.Time
}

// Output is one display surface with a single-flight frame scheduler:
// Idle -> Requested -> Rendering -> Presenting -> Idle.
type Output struct {
	info  Info
	state State

	pending  region.Region // damage waiting for the next frame, output-local
	inflight region.Region // damage of the frame being rendered or presented

	suspended bool
	removed   bool
	stats     Stats
}

// New returns an Idle output.
func New(info Info) *Output {
	return &Output{info: info}
}

func (o *Output) Info() Info   { return o.info }
func (o *Output) ID() ID       { return o.info.ID }
func (o *Output) Name() string { return o.info.Name }
func (o *Output) Mode() Mode   { return o.info.Mode }
func (o *Output) State() State { return o.state }
func (o *Output) Stats() Stats { return o.stats }

// Bounds returns the output area in global coordinates.
func (o *Output) Bounds() image.Rectangle {
	return image.Rectangle{Min: o.info.Position, Max: o.info.Position.Add(o.info.Mode.Size())}
}

// LocalBounds returns the output area in its own pixel coordinates.
func (o *Output) LocalBounds() image.Rectangle {
	return image.Rectangle{Max: o.info.Mode.Size()}
}

// Pending returns the damage accumulated for the next frame.
func (o *Output) Pending() region.Region {
	return o.pending
}

// SetMode changes the mode and damages the whole output.
func (o *Output) SetMode(m Mode) {
	o.info.Mode = m
	o.pending.Clear()
	o.DamageAll()
}

// SetPosition moves the output in the global layout.
func (o *Output) SetPosition(p image.Point) {
	o.info.Position = p
}

// DamageAll requests a full redraw.
func (o *Output) DamageAll() bool {
	return o.Damage(region.New(o.LocalBounds()))
}

// Damage merges output-local damage and requests a frame. It returns true
// when the output moved from Idle to Requested. While a frame is already
// requested or in flight the damage is coalesced into the next frame.
func (o *Output) Damage(r region.Region) bool {
	if o.removed {
		return false
	}
	r = r.Clip(o.LocalBounds())
	if r.Empty() {
		return false
	}
	o.pending.Union(r)
	return o.request()
}

func (o *Output) request() bool {
	if o.state != Idle || o.suspended {
		return false
	}
	o.state = Requested
	return true
}

// BeginRender moves Requested to Rendering and returns the frame's damage.
func (o *Output) BeginRender() (region.Region, bool) {
	if o.state != Requested || o.suspended || o.removed {
		return region.Region{}, false
	}
	o.state = Rendering
	o.inflight = o.pending.Take()
	return o.inflight, true
}

// Submitted moves Rendering to Presenting once the backend accepted the frame.
func (o *Output) Submitted() bool {
	if o.state != Rendering {
		return false
	}
	o.state = Presenting
	o.stats.Rendered++
	return true
}

// Presented completes the frame in flight. In any state other than
// Presenting it is a no-op and returns false. When damage arrived during
// the frame the output immediately requests the next one.
func (o *Output) Presented(at time.Time) bool {
	if o.state != Presenting {
		return false
	}
	o.state = Idle
	o.inflight.Clear()
	o.stats.Presented++
	o.stats.LastPresent = at
	if !o.pending.Empty() {
		o.request()
	}
	return true
}

// Abort drops the frame being rendered or presented and returns to Idle.
// Its damage is kept for the next frame.
func (o *Output) Abort() {
	switch o.state {
	case Rendering, Presenting:
		o.stats.Dropped++
		o.pending.Union(o.inflight.Take())
	case Requested:
	default:
		return
	}
	o.state = Idle
}

// Suspend stops scheduling while device access is lost. An in-flight frame
// is dropped; damage keeps accumulating without requesting frames.
func (o *Output) Suspend() {
	o.Abort()
	o.suspended = true
}

// Resume re-enables scheduling. The caller damages the output to start a
// fresh frame from Idle.
func (o *Output) Resume() {
	o.suspended = false
}

// Suspended reports whether scheduling is stopped.
func (o *Output) Suspended() bool {
	return o.suspended
}

// Discard drops all scheduling state when the output goes away.
func (o *Output) Discard() {
	if o.state == Rendering || o.state == Presenting {
		o.stats.Dropped++
	}
	o.state = Idle
	o.pending.Clear()
	o.inflight.Clear()
	o.removed = true
}

// Removed reports whether Discard was called.
func (o *Output) Removed() bool {
	return o.removed
}
