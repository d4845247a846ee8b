// Package backend defines the contract between the compositor core and the
// environments it can run in.
package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"time"

	"github.com/bnema/anvil/internal/eventloop"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
)

// ErrDeviceLost means the device behind an output is unavailable right now,
// typically while the session is switched away. It is never fatal: the
// caller retries once the session resumes.
var ErrDeviceLost = errors.New("device lost")

// ErrUnknownOutput is returned for an output the backend does not drive.
var ErrUnknownOutput = errors.New("unknown output")

// Kind names a backend variant.
type Kind string

const (
	KindHost      Kind = "host"
	KindNative    Kind = "native"
	KindNestedX11 Kind = "nested-x11"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindHost, KindNative, KindNestedX11:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend %q (want host, native or nested-x11)", s)
}

// Event is something the backend reports to the core.
type Event interface {
	backendEvent()
}

type (
	OutputAdded struct {
		Info output.Info
	}
	OutputRemoved struct {
		ID output.ID
	}
	// OutputModeChanged reports a new mode, e.g. after a host window resize.
	OutputModeChanged struct {
		ID   output.ID
		Mode output.Mode
	}
	// OutputDamaged asks for a full repaint, e.g. after an X expose.
	OutputDamaged struct {
		ID output.ID
	}
	InputDeviceAdded struct {
		Device input.DeviceInfo
	}
	InputDeviceRemoved struct {
		ID input.DeviceID
	}
	Input struct {
		Event input.Event
	}
	SessionPaused  struct{}
	SessionResumed struct{}
	FramePresented struct {
		Output output.ID
		Time   time.Time
	}
	// CloseRequested is sent when the user closes the host window.
	CloseRequested struct{}
)

func (OutputAdded) backendEvent()        {}
func (OutputRemoved) backendEvent()      {}
func (OutputModeChanged) backendEvent()  {}
func (OutputDamaged) backendEvent()      {}
func (InputDeviceAdded) backendEvent()   {}
func (InputDeviceRemoved) backendEvent() {}
func (Input) backendEvent()              {}
func (SessionPaused) backendEvent()      {}
func (SessionResumed) backendEvent()     {}
func (FramePresented) backendEvent()     {}
func (CloseRequested) backendEvent()     {}

// Backend supplies outputs, input and presentation for one environment.
//
// Outputs and input devices present at Start are reported by Outputs and
// by InputDeviceAdded events; later changes arrive through Poll. Poll
// yields only the events pending at the time of the call and never blocks;
// Fd becomes readable when more are pending.
type Backend interface {
	Kind() Kind
	Start(ctx context.Context) error
	Outputs() []output.Info
	Poll() iter.Seq[Event]
	Fd() int
	// BeginFrame returns a target to render the output into, or
	// ErrDeviceLost while the output cannot be drawn to.
	BeginFrame(id output.ID) (*render.Target, error)
	// SubmitFrame presents a rendered target. Completion is reported by a
	// FramePresented event.
	SubmitFrame(t *render.Target, damage region.Region) error
	// PartialDamage reports whether SubmitFrame honours sub-regions. When
	// false every frame is a full redraw.
	PartialDamage() bool
	Close() error
}

// VTSwitcher is implemented by backends that own a virtual terminal.
type VTSwitcher interface {
	SwitchVT(vt int) error
}

// Queue is the event queue shared by the adapters. Reader goroutines push
// and the loop drains it through Poll.
type Queue struct {
	q *eventloop.Queue[Event]
}

// NewQueue creates an empty queue.
func NewQueue() (*Queue, error) {
	q, err := eventloop.NewQueue[Event]()
	if err != nil {
		return nil, fmt.Errorf("failed to create backend event queue: %w", err)
	}
	return &Queue{q: q}, nil
}

// Push appends events and wakes the loop.
func (q *Queue) Push(evs ...Event) { q.q.Push(evs...) }

// Poll yields the events pending when the iteration starts.
func (q *Queue) Poll() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for n := q.q.Len(); n > 0; n-- {
			ev, ok := q.q.Pop()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return q.q.Len() }

// Fd returns the readiness descriptor.
func (q *Queue) Fd() int { return q.q.Fd() }

// Close releases the descriptor.
func (q *Queue) Close() error { return q.q.Close() }

// Framebuffer is the RGBA frame an adapter renders into before copying it
// to its own presentation buffer. It keeps its contents between frames so
// partial redraws only touch damage.
type Framebuffer struct {
	ID   output.ID
	back *image.RGBA
}

// NewFramebuffer allocates a frame of the given size.
func NewFramebuffer(id output.ID, size image.Point) *Framebuffer {
	return &Framebuffer{ID: id, back: image.NewRGBA(image.Rectangle{Max: size})}
}

// Resize reallocates the frame when the size changed.
func (f *Framebuffer) Resize(size image.Point) {
	if f.back.Bounds().Size() != size {
		f.back = image.NewRGBA(image.Rectangle{Max: size})
	}
}

// Size returns the frame size.
func (f *Framebuffer) Size() image.Point { return f.back.Bounds().Size() }

// Target returns the render target for the frame.
func (f *Framebuffer) Target() *render.Target {
	return &render.Target{Output: f.ID, Image: f.back}
}
