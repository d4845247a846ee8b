package backend

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, name := range []string{"host", "native", "nested-x11"} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(name), k)
	}
	_, err := ParseKind("drm")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestPollYieldsPendingOnly(t *testing.T) {
	q, err := NewQueue()
	require.NoError(t, err)
	defer q.Close()

	q.Push(OutputDamaged{ID: 1}, OutputDamaged{ID: 2})

	var seen []Event
	for ev := range q.Poll() {
		seen = append(seen, ev)
		if len(seen) == 1 {
			// Events pushed while draining wait for the next poll.
			q.Push(CloseRequested{})
		}
	}
	assert.Equal(t, []Event{OutputDamaged{ID: 1}, OutputDamaged{ID: 2}}, seen)
	assert.Equal(t, 1, q.Len())
}

func TestPollStopsEarly(t *testing.T) {
	q, err := NewQueue()
	require.NoError(t, err)
	defer q.Close()

	q.Push(SessionPaused{}, SessionResumed{})
	for range q.Poll() {
		break
	}
	assert.Equal(t, 1, q.Len())
}

func TestFramebufferResize(t *testing.T) {
	fb := NewFramebuffer(3, image.Pt(4, 2))
	first := fb.Target()
	assert.Equal(t, image.Pt(4, 2), fb.Size())

	fb.Resize(image.Pt(4, 2))
	assert.Same(t, first.Image, fb.Target().Image)

	fb.Resize(image.Pt(8, 8))
	assert.Equal(t, image.Pt(8, 8), fb.Size())
	assert.NotSame(t, first.Image, fb.Target().Image)
	assert.EqualValues(t, 3, fb.Target().Output)
}
