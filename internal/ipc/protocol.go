// Package ipc is the control socket of a running compositor. Messages are
// protobuf wire encoded and framed with a big-endian length prefix.
package ipc

import (
	"fmt"
	"image"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Op is a request type.
type Op int32

const (
	OpStatus Op = iota + 1
	OpAddSurface
	OpRemoveSurface
	OpToggleOverlay
	OpQuit
)

func (o Op) String() string {
	switch o {
	case OpStatus:
		return "status"
	case OpAddSurface:
		return "add-surface"
	case OpRemoveSurface:
		return "remove-surface"
	case OpToggleOverlay:
		return "toggle-overlay"
	case OpQuit:
		return "quit"
	default:
		return fmt.Sprintf("Op(%d)", int32(o))
	}
}

// Request is a control command. Only the fields of its Op are set.
type Request struct {
	Op Op

	// OpAddSurface
	Title  string
	X, Y   int32
	Width  int32
	Height int32
	Color  uint32 // 0xRRGGBBAA

	// OpRemoveSurface
	Handle uint64
}

// MaxSurfaceSide bounds the width and height of an OpAddSurface request.
const MaxSurfaceSide = 8192

// SurfaceRect returns the global rectangle an OpAddSurface request covers.
func (r *Request) SurfaceRect() (image.Rectangle, error) {
	if r.Width <= 0 || r.Height <= 0 || r.Width > MaxSurfaceSide || r.Height > MaxSurfaceSide {
		return image.Rectangle{}, fmt.Errorf("invalid surface size %dx%d, each side must be in 1..%d", r.Width, r.Height, MaxSurfaceSide)
	}
	if int64(r.X)+int64(r.Width) > math.MaxInt32 || int64(r.Y)+int64(r.Height) > math.MaxInt32 {
		return image.Rectangle{}, fmt.Errorf("surface at %d,%d overflows the coordinate space", r.X, r.Y)
	}
	x, y := int(r.X), int(r.Y)
	return image.Rect(x, y, x+int(r.Width), y+int(r.Height)), nil
}

// OutputStatus describes one output.
type OutputStatus struct {
	ID         uint32
	Name       string
	Mode       string
	X, Y       int32
	State      string
	Rendered   uint64
	Presented  uint64
	Dropped    uint64
	FPS        float64
	PhysWidth  int32
	PhysHeight int32
}

// SurfaceStatus describes one surface.
type SurfaceStatus struct {
	Handle        uint64
	Title         string
	Role          string
	X, Y          int32
	Width, Height int32
	Mapped        bool
	Debug         bool
}

// DeviceStatus describes one input device.
type DeviceStatus struct {
	ID   uint32
	Name string
	Caps string
}

// Status is the reply to OpStatus.
type Status struct {
	Backend       string
	UptimeSeconds int64
	Paused        bool
	Overlay       bool
	XWayland      string // X display, empty when the bridge is off
	PointerFocus  uint64
	KeyboardFocus uint64
	Outputs       []OutputStatus
	Surfaces      []SurfaceStatus
	Devices       []DeviceStatus
}

// Response answers a request. Error is set when it failed.
type Response struct {
	Error  string
	Status *Status
	Handle uint64 // OpAddSurface
}

// Field numbers.
const (
	fReqOp     protowire.Number = 1
	fReqTitle  protowire.Number = 2
	fReqX      protowire.Number = 3
	fReqY      protowire.Number = 4
	fReqWidth  protowire.Number = 5
	fReqHeight protowire.Number = 6
	fReqColor  protowire.Number = 7
	fReqHandle protowire.Number = 8

	fRespError  protowire.Number = 1
	fRespStatus protowire.Number = 2
	fRespHandle protowire.Number = 3

	fStBackend  protowire.Number = 1
	fStUptime   protowire.Number = 2
	fStPaused   protowire.Number = 3
	fStOverlay  protowire.Number = 4
	fStXWayland protowire.Number = 5
	fStPointer  protowire.Number = 6
	fStKeyboard protowire.Number = 7
	fStOutput   protowire.Number = 8
	fStSurface  protowire.Number = 9
	fStDevice   protowire.Number = 10
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// field is one decoded field. Only the member matching typ is set.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u     uint64
	bytes []byte
}

func (f field) sint() int32  { return int32(protowire.DecodeZigZag(f.u)) }
func (f field) flag() bool   { return protowire.DecodeBool(f.u) }
func (f field) str() string  { return string(f.bytes) }
func (f field) dbl() float64 { return math.Float64frombits(f.u) }

// walk calls fn for every field of an encoded message.
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes a request.
func (r *Request) Marshal() []byte {
	var b []byte
	b = appendVarint(b, fReqOp, uint64(r.Op))
	b = appendString(b, fReqTitle, r.Title)
	b = appendSint(b, fReqX, r.X)
	b = appendSint(b, fReqY, r.Y)
	b = appendSint(b, fReqWidth, r.Width)
	b = appendSint(b, fReqHeight, r.Height)
	b = appendVarint(b, fReqColor, uint64(r.Color))
	b = appendVarint(b, fReqHandle, r.Handle)
	return b
}

// UnmarshalRequest decodes a request. Unknown fields are skipped.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fReqOp:
			r.Op = Op(f.u)
		case fReqTitle:
			r.Title = f.str()
		case fReqX:
			r.X = f.sint()
		case fReqY:
			r.Y = f.sint()
		case fReqWidth:
			r.Width = f.sint()
		case fReqHeight:
			r.Height = f.sint()
		case fReqColor:
			r.Color = uint32(f.u)
		case fReqHandle:
			r.Handle = f.u
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if r.Op == 0 {
		return nil, fmt.Errorf("request without op")
	}
	return r, nil
}

// Marshal encodes a response.
func (r *Response) Marshal() []byte {
	var b []byte
	b = appendString(b, fRespError, r.Error)
	if r.Status != nil {
		b = appendMessage(b, fRespStatus, r.Status.marshal())
	}
	b = appendVarint(b, fRespHandle, r.Handle)
	return b
}

// UnmarshalResponse decodes a response.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fRespError:
			r.Error = f.str()
		case fRespStatus:
			st, err := unmarshalStatus(f.bytes)
			if err != nil {
				return err
			}
			r.Status = st
		case fRespHandle:
			r.Handle = f.u
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return r, nil
}

func (s *Status) marshal() []byte {
	var b []byte
	b = appendString(b, fStBackend, s.Backend)
	b = appendVarint(b, fStUptime, uint64(s.UptimeSeconds))
	b = appendBool(b, fStPaused, s.Paused)
	b = appendBool(b, fStOverlay, s.Overlay)
	b = appendString(b, fStXWayland, s.XWayland)
	b = appendVarint(b, fStPointer, s.PointerFocus)
	b = appendVarint(b, fStKeyboard, s.KeyboardFocus)
	for i := range s.Outputs {
		b = appendMessage(b, fStOutput, s.Outputs[i].marshal())
	}
	for i := range s.Surfaces {
		b = appendMessage(b, fStSurface, s.Surfaces[i].marshal())
	}
	for i := range s.Devices {
		b = appendMessage(b, fStDevice, s.Devices[i].marshal())
	}
	return b
}

func unmarshalStatus(b []byte) (*Status, error) {
	s := &Status{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fStBackend:
			s.Backend = f.str()
		case fStUptime:
			s.UptimeSeconds = int64(f.u)
		case fStPaused:
			s.Paused = f.flag()
		case fStOverlay:
			s.Overlay = f.flag()
		case fStXWayland:
			s.XWayland = f.str()
		case fStPointer:
			s.PointerFocus = f.u
		case fStKeyboard:
			s.KeyboardFocus = f.u
		case fStOutput:
			o, err := unmarshalOutput(f.bytes)
			if err != nil {
				return err
			}
			s.Outputs = append(s.Outputs, o)
		case fStSurface:
			sf, err := unmarshalSurface(f.bytes)
			if err != nil {
				return err
			}
			s.Surfaces = append(s.Surfaces, sf)
		case fStDevice:
			d, err := unmarshalDevice(f.bytes)
			if err != nil {
				return err
			}
			s.Devices = append(s.Devices, d)
		}
		return nil
	})
	return s, err
}

func (o *OutputStatus) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(o.ID))
	b = appendString(b, 2, o.Name)
	b = appendString(b, 3, o.Mode)
	b = appendSint(b, 4, o.X)
	b = appendSint(b, 5, o.Y)
	b = appendString(b, 6, o.State)
	b = appendVarint(b, 7, o.Rendered)
	b = appendVarint(b, 8, o.Presented)
	b = appendVarint(b, 9, o.Dropped)
	b = appendDouble(b, 10, o.FPS)
	b = appendSint(b, 11, o.PhysWidth)
	b = appendSint(b, 12, o.PhysHeight)
	return b
}

func unmarshalOutput(b []byte) (OutputStatus, error) {
	var o OutputStatus
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			o.ID = uint32(f.u)
		case 2:
			o.Name = f.str()
		case 3:
			o.Mode = f.str()
		case 4:
			o.X = f.sint()
		case 5:
			o.Y = f.sint()
		case 6:
			o.State = f.str()
		case 7:
			o.Rendered = f.u
		case 8:
			o.Presented = f.u
		case 9:
			o.Dropped = f.u
		case 10:
			o.FPS = f.dbl()
		case 11:
			o.PhysWidth = f.sint()
		case 12:
			o.PhysHeight = f.sint()
		}
		return nil
	})
	return o, err
}

func (s *SurfaceStatus) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, s.Handle)
	b = appendString(b, 2, s.Title)
	b = appendString(b, 3, s.Role)
	b = appendSint(b, 4, s.X)
	b = appendSint(b, 5, s.Y)
	b = appendSint(b, 6, s.Width)
	b = appendSint(b, 7, s.Height)
	b = appendBool(b, 8, s.Mapped)
	b = appendBool(b, 9, s.Debug)
	return b
}

func unmarshalSurface(b []byte) (SurfaceStatus, error) {
	var s SurfaceStatus
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			s.Handle = f.u
		case 2:
			s.Title = f.str()
		case 3:
			s.Role = f.str()
		case 4:
			s.X = f.sint()
		case 5:
			s.Y = f.sint()
		case 6:
			s.Width = f.sint()
		case 7:
			s.Height = f.sint()
		case 8:
			s.Mapped = f.flag()
		case 9:
			s.Debug = f.flag()
		}
		return nil
	})
	return s, err
}

func (d *DeviceStatus) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(d.ID))
	b = appendString(b, 2, d.Name)
	b = appendString(b, 3, d.Caps)
	return b
}

func unmarshalDevice(b []byte) (DeviceStatus, error) {
	var d DeviceStatus
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			d.ID = uint32(f.u)
		case 2:
			d.Name = f.str()
		case 3:
			d.Caps = f.str()
		}
		return nil
	})
	return d, err
}
