package output

import (
	"image"
	"testing"

	"github.com/bnema/anvil/internal/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLayout(t *testing.T) {
	m := NewManager()
	a, added := m.Add(Info{ID: 1, Name: "a", Mode: Mode{Width: 800, Height: 600}})
	require.True(t, added)
	b, _ := m.Add(Info{ID: 2, Name: "b", Mode: Mode{Width: 1024, Height: 768}})

	assert.Equal(t, image.Rect(0, 0, 800, 600), a.Bounds())
	assert.Equal(t, image.Rect(800, 0, 1824, 768), b.Bounds())
	assert.Equal(t, image.Rect(0, 0, 1824, 768), m.Bounds())

	_, added = m.Add(Info{ID: 1, Name: "dup"})
	assert.False(t, added)
	assert.Equal(t, 2, m.Len())

	got, ok := m.At(image.Pt(900, 10))
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())

	m.Remove(1)
	assert.Equal(t, image.Rect(0, 0, 1024, 768), b.Bounds())
	assert.True(t, a.Removed())
}

func TestManagerSpreadsDamage(t *testing.T) {
	m := NewManager()
	m.Add(Info{ID: 1, Mode: Mode{Width: 100, Height: 100}})
	m.Add(Info{ID: 2, Mode: Mode{Width: 100, Height: 100}})

	requested := m.Damage(region.New(image.Rect(90, 0, 110, 10)))
	require.Len(t, requested, 2)

	second, _ := m.Get(2)
	assert.True(t, second.Pending().Equal(region.New(image.Rect(0, 0, 10, 10))))
	assert.Len(t, m.Requested(), 2)
}

func TestManagerSetModeRelayouts(t *testing.T) {
	m := NewManager()
	m.Add(Info{ID: 1, Mode: Mode{Width: 100, Height: 100}})
	b, _ := m.Add(Info{ID: 2, Mode: Mode{Width: 100, Height: 100}})

	require.True(t, m.SetMode(1, Mode{Width: 300, Height: 100}))
	assert.Equal(t, image.Pt(300, 0), b.Bounds().Min)
	assert.False(t, m.SetMode(9, Mode{}))
}
