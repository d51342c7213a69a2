package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewBus(rdb), mr
}

func TestBus_PublishAndReadThroughGroup(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "incident", "hybrid-cache"))

	ev := Event{
		Table:     "incident",
		SysID:     "abc123",
		Action:    ChangeUpdated,
		Data:      `{"state":"2"}`,
		Timestamp: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, bus.Publish(ctx, ev))

	deliveries, err := bus.Read(ctx, "incident", "hybrid-cache", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, ev.SysID, deliveries[0].Event.SysID)
	require.Equal(t, ev.Action, deliveries[0].Event.Action)
	require.Equal(t, ev.Data, deliveries[0].Event.Data)

	pending, err := bus.Pending(ctx, "incident", "hybrid-cache")
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	require.NoError(t, bus.Ack(ctx, "incident", "hybrid-cache", deliveries[0].ID))

	pending, err = bus.Pending(ctx, "incident", "hybrid-cache")
	require.NoError(t, err)
	require.Equal(t, int64(0), pending)
}

func TestBus_EnsureGroupIsIdempotent(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "change_task", "sla-engine"))
	require.NoError(t, bus.EnsureGroup(ctx, "change_task", "sla-engine"))
}

func TestBus_ReadWithNoMessagesReturnsEmpty(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "sc_task", "socket-fanout"))
	deliveries, err := bus.Read(ctx, "sc_task", "socket-fanout", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Empty(t, deliveries)
}
