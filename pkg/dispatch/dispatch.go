// Package dispatch is the Real-time Notification Fabric's bridge (spec
// §4.10): it consumes change events off the Event Bus through a consumer
// group, runs each affected ticket through the Business Rules Engine, and
// turns matched rule actions into upstream field updates or queued
// notifications.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wisbric/snowlink/pkg/eventbus"
	"github.com/wisbric/snowlink/pkg/notifyqueue"
	"github.com/wisbric/snowlink/pkg/rules"
	"github.com/wisbric/snowlink/pkg/ticket"
	"github.com/wisbric/snowlink/pkg/upstream"
)

const consumerGroup = "notification-fabric"

// Executor performs rule actions: set_field/add_work_note against the
// upstream client, notify against the notification queue.
type Executor struct {
	upstream *upstream.Client
	queue    *notifyqueue.Queue
}

// NewExecutor creates a rules.Executor backed by the given upstream client
// and notification queue.
func NewExecutor(up *upstream.Client, queue *notifyqueue.Queue) *Executor {
	return &Executor{upstream: up, queue: queue}
}

// Execute implements rules.Executor.
func (e *Executor) Execute(ctx context.Context, t *ticket.Ticket, a rules.Action) error {
	switch a.Type {
	case rules.ActionSetField:
		_, err := e.upstream.Update(ctx, string(t.Table), t.SysID, map[string]any{a.Field: a.Value})
		return err
	case rules.ActionAddWorkNote:
		_, err := e.upstream.Update(ctx, string(t.Table), t.SysID, map[string]any{"work_notes": a.Target})
		return err
	case rules.ActionNotify:
		accepted := e.queue.Enqueue(notifyqueue.Notification{
			ID:         uuid.New().String(),
			Source:     "rules",
			Band:       bandForPriority(t.Priority),
			Subject:    fmt.Sprintf("%s %s", t.Table, t.Number),
			Body:       fmt.Sprintf("%v", a.Value),
			Channels:   []string{a.Target},
			EnqueuedAt: time.Now(),
		})
		if !accepted {
			return fmt.Errorf("notification queue rejected enqueue for %s/%s", t.Table, t.SysID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported rule action type: %s", a.Type)
	}
}

func bandForPriority(priority int) notifyqueue.Band {
	switch priority {
	case 1:
		return notifyqueue.BandCritical
	case 2:
		return notifyqueue.BandHigh
	case 3:
		return notifyqueue.BandMedium
	default:
		return notifyqueue.BandLow
	}
}

// Consumer reads change events for one table off the event bus and runs
// them through the rules engine.
type Consumer struct {
	bus      *eventbus.Bus
	engine   *rules.Engine
	table    ticket.Table
	consumer string
	logger   *slog.Logger
}

// NewConsumer creates a Consumer for one table. consumerName should be
// unique per process replica so Redis Streams can track per-consumer
// pending entries independently.
func NewConsumer(bus *eventbus.Bus, engine *rules.Engine, table ticket.Table, consumerName string, logger *slog.Logger) *Consumer {
	return &Consumer{bus: bus, engine: engine, table: table, consumer: consumerName, logger: logger}
}

// Run blocks, polling the table's stream until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.bus.EnsureGroup(ctx, string(c.table), consumerGroup); err != nil {
		return fmt.Errorf("ensuring consumer group for %s: %w", c.table, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deliveries, err := c.bus.Read(ctx, string(c.table), consumerGroup, c.consumer, 20, 5*time.Second)
		if err != nil {
			c.logger.Warn("event bus read failed", "table", c.table, "error", err)
			continue
		}

		for _, d := range deliveries {
			if procErr := c.process(ctx, d.Event); procErr != nil {
				c.logger.Warn("processing change event failed", "table", c.table, "sys_id", d.Event.SysID, "error", procErr)
			}
			if ackErr := c.bus.Ack(ctx, string(c.table), consumerGroup, d.ID); ackErr != nil {
				c.logger.Error("acking change event failed", "table", c.table, "id", d.ID, "error", ackErr)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, ev eventbus.Event) error {
	t, err := ticketFromRaw(c.table, ev.Data)
	if err != nil {
		return fmt.Errorf("parsing raw ticket data: %w", err)
	}

	_, err = c.engine.Evaluate(ctx, &t)
	return err
}

func ticketFromRaw(table ticket.Table, raw string) (ticket.Ticket, error) {
	rec := upstream.Record{Raw: gjson.Parse(raw)}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ticket.Ticket{}, err
	}

	t := ticket.Ticket{
		SysID:           rec.SysID(),
		Number:          rec.Field("number"),
		Table:           table,
		State:           rec.Field("state"),
		Priority:        ticket.PriorityFromLabel(rec.Field("priority")),
		AssignmentGroup: upstream.ReferenceValue(rec.Raw, "assignment_group"),
		Payload:         payload,
	}
	if v, ok := payload["short_description"].(string); ok {
		t.ShortDescription = v
	}
	return t, nil
}
