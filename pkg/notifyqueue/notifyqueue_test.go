package notifyqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name      string
	failTimes int32
	calls     atomic.Int32
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, n Notification) error {
	n2 := f.calls.Add(1)
	if n2 <= f.failTimes {
		return errors.New("transient failure")
	}
	return nil
}

func TestQueue_EnqueueRespectsCapacity(t *testing.T) {
	q := NewQueue(1, 1000, slog.Default())
	assert.True(t, q.Enqueue(Notification{Band: BandLow}))
	assert.False(t, q.Enqueue(Notification{Band: BandLow}))
}

func TestQueue_DispatchOrderIsCriticalFirst(t *testing.T) {
	q := NewQueue(10, 1000, slog.Default())
	ch := &fakeChannel{name: "test"}
	q.RegisterChannel(ch)

	q.Enqueue(Notification{ID: "low", Band: BandLow, Channels: []string{"test"}})
	q.Enqueue(Notification{ID: "critical", Band: BandCritical, Channels: []string{"test"}})
	q.Enqueue(Notification{ID: "high", Band: BandHigh, Channels: []string{"test"}})

	first, ok := q.dequeue()
	require.True(t, ok)
	assert.Equal(t, "critical", first.ID)

	second, ok := q.dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", second.ID)

	third, ok := q.dequeue()
	require.True(t, ok)
	assert.Equal(t, "low", third.ID)
}

func TestQueue_DispatchOne_DeliversToAllChannels(t *testing.T) {
	q := NewQueue(10, 1000, slog.Default())
	chA := &fakeChannel{name: "a"}
	chB := &fakeChannel{name: "b"}
	q.RegisterChannel(chA)
	q.RegisterChannel(chB)

	q.Enqueue(Notification{ID: "n1", Band: BandHigh, Source: "sla-breach", Channels: []string{"a", "b"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, q.DispatchOne(ctx))

	assert.Equal(t, int32(1), chA.calls.Load())
	assert.Equal(t, int32(1), chB.calls.Load())
}

func TestQueue_DeliverWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	q := NewQueue(10, 1000, slog.Default())
	ch := &fakeChannel{name: "flaky", failTimes: 2}

	q.deliverWithRetry(context.Background(), ch, Notification{ID: "n1", Source: "test"})

	assert.Empty(t, q.DeadLetters())
	assert.GreaterOrEqual(t, ch.calls.Load(), int32(3))
}

func TestQueue_DeliverWithRetry_ExhaustsIntoDeadLetter(t *testing.T) {
	q := NewQueue(10, 1000, slog.Default())
	ch := &fakeChannel{name: "always-fails", failTimes: 1000}

	q.deliverWithRetry(context.Background(), ch, Notification{ID: "n1", Source: "test"})

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "n1", dead[0].ID)
}

func TestQueue_Depth(t *testing.T) {
	q := NewQueue(10, 1000, slog.Default())
	q.Enqueue(Notification{Band: BandCritical})
	q.Enqueue(Notification{Band: BandLow})
	q.Enqueue(Notification{Band: BandLow})

	depths := q.Depth()
	assert.Equal(t, 1, depths[BandCritical])
	assert.Equal(t, 2, depths[BandLow])
	assert.Equal(t, 0, depths[BandMedium])
}
