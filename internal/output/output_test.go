package output

import (
	"image"
	"testing"
	"time"

	"github.com/bnema/anvil/internal/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hd() Info {
	return Info{ID: 1, Name: "host", Mode: Mode{Width: 1920, Height: 1080, Refresh: 60000}}
}

func TestModeFormatting(t *testing.T) {
	m := Mode{Width: 1920, Height: 1080, Refresh: 60000}
	assert.Equal(t, "1920x1080@60.000", m.String())
	assert.Equal(t, time.Second/60, m.Interval())
	assert.Equal(t, time.Second/60, Mode{}.Interval())
}

func TestFullCycle(t *testing.T) {
	o := New(hd())
	assert.Equal(t, Idle, o.State())

	assert.True(t, o.DamageAll())
	assert.Equal(t, Requested, o.State())

	dmg, ok := o.BeginRender()
	require.True(t, ok)
	assert.Equal(t, Rendering, o.State())
	assert.Equal(t, 1920*1080, dmg.Area())
	assert.True(t, o.Pending().Empty())

	assert.True(t, o.Submitted())
	assert.Equal(t, Presenting, o.State())

	now := time.Now()
	assert.True(t, o.Presented(now))
	assert.Equal(t, Idle, o.State())

	st := o.Stats()
	assert.Equal(t, uint64(1), st.Rendered)
	assert.Equal(t, uint64(1), st.Presented)
	assert.Equal(t, now, st.LastPresent)
}

func TestRequestsBeforeIdleCoalesce(t *testing.T) {
	o := New(hd())

	assert.True(t, o.Damage(region.New(image.Rect(0, 0, 10, 10))))
	assert.False(t, o.Damage(region.New(image.Rect(100, 100, 110, 110))))

	dmg, ok := o.BeginRender()
	require.True(t, ok)
	assert.True(t, dmg.Equal(region.New(image.Rect(0, 0, 10, 10), image.Rect(100, 100, 110, 110))))

	// Only one render pass is possible until the frame completes.
	_, ok = o.BeginRender()
	assert.False(t, ok)
}

func TestDamageDuringFlightStartsNextFrame(t *testing.T) {
	o := New(hd())
	o.DamageAll()
	_, _ = o.BeginRender()
	o.Submitted()

	assert.False(t, o.Damage(region.New(image.Rect(0, 0, 5, 5))))
	assert.False(t, o.Damage(region.New(image.Rect(5, 0, 10, 5))))
	assert.Equal(t, Presenting, o.State())

	assert.True(t, o.Presented(time.Now()))
	assert.Equal(t, Requested, o.State())

	dmg, ok := o.BeginRender()
	require.True(t, ok)
	assert.True(t, dmg.Equal(region.New(image.Rect(0, 0, 10, 5))))
}

func TestPresentedOutsidePresentingIsNoop(t *testing.T) {
	o := New(hd())
	assert.False(t, o.Presented(time.Now()))
	assert.Equal(t, Idle, o.State())

	o.DamageAll()
	assert.False(t, o.Presented(time.Now()))
	assert.Equal(t, Requested, o.State())

	_, _ = o.BeginRender()
	assert.False(t, o.Presented(time.Now()))
	assert.Equal(t, Rendering, o.State())

	o.Submitted()
	assert.True(t, o.Presented(time.Now()))
	// A duplicate completion changes nothing.
	assert.False(t, o.Presented(time.Now()))
	assert.Equal(t, uint64(1), o.Stats().Presented)
}

func TestSuspendDropsFrameAndResumeNeedsDamage(t *testing.T) {
	o := New(hd())
	o.DamageAll()
	_, _ = o.BeginRender()
	require.Equal(t, Rendering, o.State())

	o.Suspend()
	assert.Equal(t, Idle, o.State())
	assert.Equal(t, uint64(1), o.Stats().Dropped)
	assert.Equal(t, uint64(0), o.Stats().Rendered)

	// Damage while suspended is kept but does not request.
	assert.False(t, o.Damage(region.New(image.Rect(0, 0, 1, 1))))
	_, ok := o.BeginRender()
	assert.False(t, ok)

	o.Resume()
	assert.Equal(t, Idle, o.State())
	assert.True(t, o.Damage(region.New(image.Rect(1, 1, 2, 2))))
	dmg, ok := o.BeginRender()
	require.True(t, ok)
	assert.Equal(t, 1920*1080, dmg.Area())
}

func TestDiscard(t *testing.T) {
	o := New(hd())
	o.DamageAll()
	_, _ = o.BeginRender()
	o.Submitted()

	o.Discard()
	assert.True(t, o.Removed())
	assert.Equal(t, Idle, o.State())
	assert.False(t, o.Presented(time.Now()))
	assert.False(t, o.DamageAll())
}

func TestDamageClippedToOutput(t *testing.T) {
	o := New(Info{ID: 2, Mode: Mode{Width: 100, Height: 100}})
	assert.False(t, o.Damage(region.New(image.Rect(200, 200, 300, 300))))
	assert.Equal(t, Idle, o.State())

	assert.True(t, o.Damage(region.New(image.Rect(50, 50, 150, 150))))
	assert.Equal(t, 2500, o.Pending().Area())
}
