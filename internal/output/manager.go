package output

import (
	"image"
	"slices"

	"github.com/bnema/anvil/internal/region"
)

// Manager keeps the outputs of the global layout. Outputs are placed left to
// right in the order they were added.
type Manager struct {
	outputs map[ID]*Output
	order   []ID
}

// NewManager returns an empty layout.
func NewManager() *Manager {
	return &Manager{outputs: make(map[ID]*Output)}
}

// Add places a new output to the right of the existing ones. Adding an ID
// that is already present returns the existing output and false.
func (m *Manager) Add(info Info) (*Output, bool) {
	if o, ok := m.outputs[info.ID]; ok {
		return o, false
	}
	info.Position = image.Pt(m.Bounds().Max.X, 0)
	o := New(info)
	m.outputs[info.ID] = o
	m.order = append(m.order, info.ID)
	return o, true
}

// Remove discards an output and closes the gap it leaves in the layout.
func (m *Manager) Remove(id ID) (*Output, bool) {
	o, ok := m.outputs[id]
	if !ok {
		return nil, false
	}
	o.Discard()
	delete(m.outputs, id)
	m.order = slices.DeleteFunc(m.order, func(v ID) bool { return v == id })
	m.relayout()
	return o, true
}

// SetMode changes an output mode and re-flows the layout.
func (m *Manager) SetMode(id ID, mode Mode) bool {
	o, ok := m.outputs[id]
	if !ok {
		return false
	}
	o.SetMode(mode)
	m.relayout()
	return true
}

func (m *Manager) relayout() {
	x := 0
	for _, id := range m.order {
		o := m.outputs[id]
		o.SetPosition(image.Pt(x, 0))
		x += int(o.Mode().Width)
	}
}

// Get returns an output by ID.
func (m *Manager) Get(id ID) (*Output, bool) {
	o, ok := m.outputs[id]
	return o, ok
}

// All returns the outputs in layout order.
func (m *Manager) All() []*Output {
	out := make([]*Output, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.outputs[id])
	}
	return out
}

// Len returns the number of outputs.
func (m *Manager) Len() int {
	return len(m.order)
}

// Bounds returns the union of all outputs in global coordinates.
func (m *Manager) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, o := range m.outputs {
		b = b.Union(o.Bounds())
	}
	return b
}

// OutputBounds returns one output's area in global coordinates.
func (m *Manager) OutputBounds(id ID) (image.Rectangle, bool) {
	o, ok := m.outputs[id]
	if !ok {
		return image.Rectangle{}, false
	}
	return o.Bounds(), true
}

// At returns the output containing a global point.
func (m *Manager) At(p image.Point) (*Output, bool) {
	for _, id := range m.order {
		if o := m.outputs[id]; p.In(o.Bounds()) {
			return o, true
		}
	}
	return nil, false
}

// Damage spreads global damage over the outputs it touches and returns those
// that moved to Requested.
func (m *Manager) Damage(global region.Region) []*Output {
	var requested []*Output
	for _, id := range m.order {
		o := m.outputs[id]
		b := o.Bounds()
		local := global.Clip(b).Translate(b.Min.Mul(-1))
		if o.Damage(local) {
			requested = append(requested, o)
		}
	}
	return requested
}

// DamageAll requests a full redraw of every output.
func (m *Manager) DamageAll() {
	for _, o := range m.outputs {
		o.DamageAll()
	}
}

// Requested returns outputs waiting to render, in layout order.
func (m *Manager) Requested() []*Output {
	var out []*Output
	for _, id := range m.order {
		if o := m.outputs[id]; o.State() == Requested {
			out = append(out, o)
		}
	}
	return out
}
