package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newQueue[T any](t *testing.T) *Queue[T] {
	t.Helper()
	q, err := NewQueue[T]()
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestDispatchRunsReadySourcesInOrder(t *testing.T) {
	l := newLoop(t)
	a := newQueue[int](t)
	b := newQueue[int](t)

	var order []string
	l.Add("a", a.Fd(), func() error {
		for range a.All() {
			order = append(order, "a")
		}
		return nil
	})
	l.Add("b", b.Fd(), func() error {
		for range b.All() {
			order = append(order, "b")
		}
		return nil
	})

	b.Push(1)
	a.Push(1, 2)

	require.NoError(t, l.Dispatch(time.Second))
	assert.Equal(t, []string{"a", "a", "b"}, order)

	// Drained queues are no longer readable.
	require.NoError(t, l.Dispatch(0))
	assert.Len(t, order, 3)
}

func TestRemovedSourceIsNotDispatched(t *testing.T) {
	l := newLoop(t)
	a := newQueue[int](t)
	b := newQueue[int](t)

	var bCalled bool
	var tokB Token
	l.Add("a", a.Fd(), func() error {
		for range a.All() {
		}
		l.Remove(tokB)
		return nil
	})
	tokB = l.Add("b", b.Fd(), func() error {
		bCalled = true
		return nil
	})

	a.Push(1)
	b.Push(1)
	require.NoError(t, l.Dispatch(time.Second))
	assert.False(t, bCalled)
	assert.Equal(t, 2, l.Len())
}

func TestDispatchPropagatesCallbackError(t *testing.T) {
	l := newLoop(t)
	q := newQueue[int](t)
	boom := errors.New("boom")
	l.Add("q", q.Fd(), func() error { return boom })

	q.Push(1)
	err := l.Dispatch(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := newLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.True(t, l.Stopped())
}

func TestQueueEarlyStopKeepsRemainder(t *testing.T) {
	q := newQueue[string](t)
	q.Push("x", "y", "z")

	for v := range q.All() {
		assert.Equal(t, "x", v)
		break
	}
	assert.Equal(t, 2, q.Len())

	var rest []string
	for v := range q.All() {
		rest = append(rest, v)
	}
	assert.Equal(t, []string{"y", "z"}, rest)
}

func TestQueuePushAfterClose(t *testing.T) {
	q, err := NewQueue[string]()
	require.NoError(t, err)
	fd := q.Fd()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	// The kernel hands out the lowest free descriptor, usually the one
	// just released.
	other, err := NewNotifier()
	require.NoError(t, err)
	defer other.Close()
	t.Logf("queue fd %d, new notifier fd %d", fd, other.Fd())

	q.Push("late")
	assert.Zero(t, q.Len())

	var buf [8]byte
	_, err = unix.Read(other.Fd(), buf[:])
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestTimerFires(t *testing.T) {
	l := newLoop(t)
	timer, err := NewTimer()
	require.NoError(t, err)
	defer timer.Close()

	var fired uint64
	l.Add("timer", timer.Fd(), func() error {
		fired += timer.Expirations()
		return nil
	})

	require.NoError(t, timer.Arm(5*time.Millisecond))
	require.NoError(t, l.Dispatch(time.Second))
	assert.Equal(t, uint64(1), fired)

	require.NoError(t, timer.Disarm())
	require.NoError(t, l.Dispatch(20*time.Millisecond))
	assert.Equal(t, uint64(1), fired)
}
