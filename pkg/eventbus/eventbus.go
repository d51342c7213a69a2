// Package eventbus is the real-time notification fabric's durable backbone
// (spec §4.10): one Redis stream per ticket table, with consumer groups
// giving at-least-once delivery to the socket and notification subsystems.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/snowlink/pkg/corerr"
)

// ChangeType enumerates the document change kinds an event carries.
type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeleted     ChangeType = "deleted"
	ChangeSLABreached ChangeType = "sla_breached"
	ChangeSLAResolved ChangeType = "sla_resolved"
)

// Event is one change notification published to the bus.
type Event struct {
	Table     string
	SysID     string
	Action    ChangeType
	Data      string // JSON-encoded payload
	Timestamp time.Time
}

func streamKey(table string) string {
	return "snowlink:events:" + table
}

// Bus publishes and consumes change events over Redis Streams.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus backed by the given Redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish appends an event to its table's stream via XADD. Streams are
// capped with MAXLEN ~ to bound memory for tables with high churn.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	_, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ev.Table),
		MaxLen: 100_000,
		Approx: true,
		Values: map[string]any{
			"sys_id":    ev.SysID,
			"action":    string(ev.Action),
			"data":      ev.Data,
			"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return corerr.Wrap(corerr.KindFatal, "publishing event", err)
	}
	return nil
}

// EnsureGroup creates a consumer group for a table's stream, starting from
// the beginning of the stream if it doesn't already exist. Idempotent.
func (b *Bus) EnsureGroup(ctx context.Context, table, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, streamKey(table), group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return corerr.Wrap(corerr.KindFatal, "creating consumer group", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Delivery is one message read off a consumer group, pending
// acknowledgement.
type Delivery struct {
	ID    string
	Event Event
}

// Read pulls up to count pending messages for consumer within group,
// blocking up to block for new entries when none are immediately available
// (spec §4.10 consumer group semantics).
func (b *Bus) Read(ctx context.Context, table, group, consumer string, count int64, block time.Duration) ([]Delivery, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey(table), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, corerr.Wrap(corerr.KindTransientUpstream, "reading consumer group", err)
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ev, parseErr := parseEvent(table, msg.Values)
			if parseErr != nil {
				// malformed entry; ack it here so it never reaches the caller
				// and cannot loop as a poison pill
				_ = b.rdb.XAck(ctx, streamKey(table), group, msg.ID).Err()
				continue
			}
			deliveries = append(deliveries, Delivery{ID: msg.ID, Event: ev})
		}
	}
	return deliveries, nil
}

// Ack acknowledges successful processing of a delivery, removing it from
// the consumer group's pending entries list.
func (b *Bus) Ack(ctx context.Context, table, group, id string) error {
	if err := b.rdb.XAck(ctx, streamKey(table), group, id).Err(); err != nil {
		return corerr.Wrap(corerr.KindFatal, "acking event", err)
	}
	return nil
}

// Pending returns the count of undelivered-or-unacked entries for a
// consumer group, used for health reporting.
func (b *Bus) Pending(ctx context.Context, table, group string) (int64, error) {
	summary, err := b.rdb.XPending(ctx, streamKey(table), group).Result()
	if err != nil {
		return 0, corerr.Wrap(corerr.KindFatal, "checking pending entries", err)
	}
	return summary.Count, nil
}

func parseEvent(table string, values map[string]any) (Event, error) {
	sysID, _ := values["sys_id"].(string)
	action, _ := values["action"].(string)
	data, _ := values["data"].(string)
	tsRaw, _ := values["timestamp"].(string)

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return Event{}, fmt.Errorf("parsing event timestamp: %w", err)
	}

	return Event{
		Table:     table,
		SysID:     sysID,
		Action:    ChangeType(action),
		Data:      data,
		Timestamp: ts,
	}, nil
}
