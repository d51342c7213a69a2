// Package sla is the SLA Compliance Engine (spec §4.6): instantiates an SLA
// Instance per ticket/metric pair against the contractual target frozen at
// creation time, recomputes elapsed business and calendar hours on a
// periodic check, performs the one-way breach transition, and closes the
// instance out when its ticket resolves.
package sla

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wisbric/snowlink/pkg/contract"
	"github.com/wisbric/snowlink/pkg/corerr"
	"github.com/wisbric/snowlink/pkg/eventbus"
	"github.com/wisbric/snowlink/pkg/store"
	"github.com/wisbric/snowlink/pkg/ticket"
)

// businessStartHour and businessEndHour bound the business day, read in the
// location of the timestamps passed in (spec §4.6); outside this window no
// SLA time elapses.
const (
	businessStartHour = 9
	businessEndHour   = 17
)

// resolvedStates mark a ticket as no longer accruing SLA time.
var resolvedStates = map[string]bool{"6": true, "7": true}

// BusinessHoursElapsed walks from start to end hour by hour, counting only
// hours that fall within the Mon-Fri business window. Partial hours at
// either end (a start or end that is not on the hour) are prorated.
func BusinessHoursElapsed(start, end time.Time) time.Duration {
	if !end.After(start) {
		return 0
	}

	var elapsed time.Duration
	cursor := start

	for cursor.Before(end) {
		hourEnd := cursor.Truncate(time.Hour).Add(time.Hour)
		if hourEnd.After(end) {
			hourEnd = end
		}
		if isBusinessHour(cursor) {
			elapsed += hourEnd.Sub(cursor)
		}
		cursor = hourEnd
	}
	return elapsed
}

func isBusinessHour(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= businessStartHour && h < businessEndHour
}

// Engine creates, recomputes, and transitions SLA Instances.
type Engine struct {
	contracts *contract.Store
	instances *Store
	store     *store.Store
	bus       *eventbus.Bus
	logger    *slog.Logger
}

// NewEngine creates an SLA Engine.
func NewEngine(contracts *contract.Store, instances *Store, st *store.Store, bus *eventbus.Bus, logger *slog.Logger) *Engine {
	return &Engine{contracts: contracts, instances: instances, store: st, bus: bus, logger: logger}
}

// metricsTracked is every metric the engine instantiates an SLA Instance
// for, provided a contractual target exists for the ticket's table/priority.
var metricsTracked = []contract.MetricType{contract.MetricResponse, contract.MetricResolution}

// EnsureInstances instantiates an SLA Instance for each tracked metric on
// ticket-create (spec §4.6), freezing the contractual target hours at the
// ticket's current priority. It is safe to call on every sync of a ticket,
// not just its first: Store.Create is idempotent, so a ticket already
// carrying instances is left untouched — target_hours stays frozen even if
// the contract or the ticket's priority changes later. A table/priority
// combination with no configured contractual SLA for a metric is skipped,
// not an error.
func (e *Engine) EnsureInstances(ctx context.Context, table ticket.Table, sysID string, priority int) ([]Instance, error) {
	var created []Instance
	for _, metric := range metricsTracked {
		target, err := e.contracts.Lookup(ctx, table, priority, metric)
		if err != nil {
			if corerr.IsNotFound(err) {
				continue
			}
			return created, err
		}
		inst, err := e.instances.Create(ctx, table, sysID, metric, priority, target.SLAHours)
		if err != nil {
			return created, err
		}
		created = append(created, inst)
	}
	return created, nil
}

// Check recomputes business and calendar hours elapsed for an open
// instance against its ticket's current timestamps, persists the new
// elapsed snapshot, and performs the monotonic breach transition — plus a
// breach event publish — the first time elapsed exceeds target_hours (spec
// §4.6 periodic check, invariant: breached never un-sets). The returned
// bool is true only on the call that actually performs the transition, so
// callers counting breach occurrences don't recount an instance that was
// already breached on a prior check.
func (e *Engine) Check(ctx context.Context, inst Instance, doc store.Document) (Instance, bool, error) {
	target, err := e.contracts.Lookup(ctx, inst.Table, inst.Priority, inst.MetricType)
	if err != nil {
		return inst, false, err
	}

	now := time.Now()
	business := BusinessHoursElapsed(doc.CreatedAt, now).Hours()
	calendar := now.Sub(doc.CreatedAt).Hours()

	if err := e.instances.UpdateElapsed(ctx, inst.ID, business, calendar); err != nil {
		return inst, false, err
	}
	inst.BusinessHoursElapsed = business
	inst.CalendarHoursElapsed = calendar

	elapsed := calendar
	if target.BusinessHoursOnly {
		elapsed = business
	}
	if elapsed <= inst.TargetHours {
		return inst, false, nil
	}

	transitioned, err := e.instances.MarkBreached(ctx, inst.ID, now)
	if err != nil {
		return inst, false, err
	}
	inst.Breached = true
	inst.Status = StatusBreached
	if !transitioned {
		return inst, false, nil
	}
	inst.BreachTime = &now

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"metric_type":   inst.MetricType,
			"priority":      inst.Priority,
			"target_hours":  inst.TargetHours,
			"elapsed_hours": elapsed,
		})
		if pubErr := e.bus.Publish(ctx, eventbus.Event{
			Table:     string(inst.Table),
			SysID:     inst.SysID,
			Action:    eventbus.ChangeSLABreached,
			Data:      string(payload),
			Timestamp: now,
		}); pubErr != nil {
			e.logger.Warn("publishing sla breach event failed", "sys_id", inst.SysID, "error", pubErr)
		}
	}
	return inst, true, nil
}

// OnResolved transitions an instance to resolved once its ticket has left
// the open states, computing its final resolution_time_hours from the
// configured elapsed measure. breached is never cleared here: a ticket that
// breached before resolving is still a breach on the record. The returned
// bool is false if the instance was already resolved (a no-op revisit).
func (e *Engine) OnResolved(ctx context.Context, inst Instance, doc store.Document) (bool, error) {
	if inst.Status == StatusResolved {
		return false, nil
	}
	target, err := e.contracts.Lookup(ctx, inst.Table, inst.Priority, inst.MetricType)
	if err != nil {
		return false, err
	}

	var elapsed time.Duration
	if target.BusinessHoursOnly {
		elapsed = BusinessHoursElapsed(doc.CreatedAt, doc.UpdatedAt)
	} else {
		elapsed = doc.UpdatedAt.Sub(doc.CreatedAt)
	}

	if err := e.instances.MarkResolved(ctx, inst.ID, elapsed.Hours()); err != nil {
		return false, err
	}

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"metric_type":           inst.MetricType,
			"priority":              inst.Priority,
			"resolution_time_hours": elapsed.Hours(),
			"breached":              inst.Breached,
		})
		if pubErr := e.bus.Publish(ctx, eventbus.Event{
			Table:     string(inst.Table),
			SysID:     inst.SysID,
			Action:    eventbus.ChangeSLAResolved,
			Data:      string(payload),
			Timestamp: time.Now(),
		}); pubErr != nil {
			e.logger.Warn("publishing sla resolved event failed", "sys_id", inst.SysID, "error", pubErr)
		}
	}
	return true, nil
}

// Breakdown summarizes SLA Instance outcomes for a table, grouped by the
// priority frozen at instance creation, used by the health/metrics surface.
type Breakdown struct {
	Priority   int
	Total      int
	Resolved   int
	Breached   int
	BreachRate float64
}

// Transitions counts the instances that actually changed status during one
// CheckTable pass, by priority. Unlike Breakdown — a cumulative snapshot of
// every instance ever created — this is a per-run delta, the right shape
// for a caller incrementing a monotonic counter metric.
type Transitions struct {
	Priority int
	Breached int
	Resolved int
}

// CheckTable runs the periodic check over every open instance in a table —
// recomputing elapsed time and transitioning breaches for tickets still in
// flight, closing out instances whose ticket has resolved — then returns a
// per-priority breach breakdown, the transitions this pass performed, and
// the overall average resolution hours across every instance that has
// resolved (spec §4.6).
func (e *Engine) CheckTable(ctx context.Context, table ticket.Table, pageSize int) ([]Breakdown, []Transitions, float64, error) {
	transitionsByPriority := map[int]*Transitions{}

	offset := 0
	for {
		instances, err := e.instances.ListOpen(ctx, table, pageSize, offset)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(instances) == 0 {
			break
		}

		// Instances resolved on this page drop out of ListOpen, so the next
		// page starts that many rows earlier.
		resolvedThisPage := 0
		for _, inst := range instances {
			doc, docErr := e.store.GetBySysID(ctx, table, inst.SysID)
			if docErr != nil {
				e.logger.Warn("sla check: ticket document not found, skipping instance", "table", table, "sys_id", inst.SysID, "error", docErr)
				continue
			}

			t, ok := transitionsByPriority[inst.Priority]
			if !ok {
				t = &Transitions{Priority: inst.Priority}
				transitionsByPriority[inst.Priority] = t
			}

			if resolvedStates[doc.State] {
				resolved, err := e.OnResolved(ctx, inst, doc)
				if err != nil {
					e.logger.Warn("sla resolve transition failed", "sys_id", inst.SysID, "error", err)
					continue
				}
				if resolved {
					t.Resolved++
					resolvedThisPage++
				}
				continue
			}
			_, breached, err := e.Check(ctx, inst, doc)
			if err != nil {
				e.logger.Warn("sla breach check failed", "sys_id", inst.SysID, "error", err)
				continue
			}
			if breached {
				t.Breached++
			}
		}

		if len(instances) < pageSize {
			break
		}
		offset += pageSize - resolvedThisPage
	}

	breakdown, avgResolutionHours, err := e.breakdown(ctx, table, pageSize)
	if err != nil {
		return nil, nil, 0, err
	}

	transitions := make([]Transitions, 0, len(transitionsByPriority))
	for _, t := range transitionsByPriority {
		transitions = append(transitions, *t)
	}
	return breakdown, transitions, avgResolutionHours, nil
}

func (e *Engine) breakdown(ctx context.Context, table ticket.Table, pageSize int) ([]Breakdown, float64, error) {
	byPriority := map[int]*Breakdown{}
	var resolutionSum float64
	var resolutionCount int

	offset := 0
	for {
		instances, err := e.instances.ListByTable(ctx, table, pageSize, offset)
		if err != nil {
			return nil, 0, err
		}
		if len(instances) == 0 {
			break
		}

		for _, inst := range instances {
			b, ok := byPriority[inst.Priority]
			if !ok {
				b = &Breakdown{Priority: inst.Priority}
				byPriority[inst.Priority] = b
			}
			b.Total++
			if inst.Status == StatusResolved {
				b.Resolved++
			}
			if inst.Breached {
				b.Breached++
			}
			if inst.ResolutionTimeHours != nil {
				resolutionSum += *inst.ResolutionTimeHours
				resolutionCount++
			}
		}

		if len(instances) < pageSize {
			break
		}
		offset += pageSize
	}

	result := make([]Breakdown, 0, len(byPriority))
	for _, b := range byPriority {
		if b.Total > 0 {
			b.BreachRate = float64(b.Breached) / float64(b.Total)
		}
		result = append(result, *b)
	}

	avgResolutionHours := 0.0
	if resolutionCount > 0 {
		avgResolutionHours = resolutionSum / float64(resolutionCount)
	}
	return result, avgResolutionHours, nil
}
