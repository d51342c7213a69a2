package sla

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/snowlink/pkg/contract"
	"github.com/wisbric/snowlink/pkg/corerr"
	"github.com/wisbric/snowlink/pkg/ticket"
)

// InstanceStatus is the lifecycle state of one SLA Instance (spec §3).
type InstanceStatus string

const (
	StatusActive   InstanceStatus = "active"
	StatusResolved InstanceStatus = "resolved"
	StatusBreached InstanceStatus = "breached"
)

// Instance is one SLA Instance: the contractual target frozen at creation
// time, tracked separately from the ticket's current state so a later
// contract change never rewrites history for tickets already in flight
// (spec §3, §4.6).
type Instance struct {
	ID                   int64
	Table                ticket.Table
	SysID                string
	MetricType           contract.MetricType
	Priority             int
	TargetHours          float64
	Status               InstanceStatus
	Breached             bool
	BreachTime           *time.Time
	BusinessHoursElapsed float64
	CalendarHoursElapsed float64
	ResolutionTimeHours  *float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Store persists SLA Instances, keyed uniquely by (table, sys_id, metric).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an SLA instance Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const instanceColumns = `id, table_name, sys_id, metric_type, priority, target_hours,
	status, breached, breach_time, business_hours_elapsed, calendar_hours_elapsed,
	resolution_time_hours, created_at, updated_at`

func scanInstance(row pgx.Row) (Instance, error) {
	var inst Instance
	var table, metric, status string
	err := row.Scan(
		&inst.ID, &table, &inst.SysID, &metric, &inst.Priority, &inst.TargetHours,
		&status, &inst.Breached, &inst.BreachTime, &inst.BusinessHoursElapsed, &inst.CalendarHoursElapsed,
		&inst.ResolutionTimeHours, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return Instance{}, err
	}
	inst.Table = ticket.Table(table)
	inst.MetricType = contract.MetricType(metric)
	inst.Status = InstanceStatus(status)
	return inst, nil
}

// Get returns the instance for (table, sys_id, metric), KindNotFound if none
// has been created yet.
func (s *Store) Get(ctx context.Context, table ticket.Table, sysID string, metric contract.MetricType) (Instance, error) {
	const q = `SELECT ` + instanceColumns + ` FROM sla_instances
		WHERE table_name = $1 AND sys_id = $2 AND metric_type = $3`
	row := s.pool.QueryRow(ctx, q, string(table), sysID, string(metric))
	inst, err := scanInstance(row)
	if err != nil {
		return Instance{}, corerr.Wrap(corerr.KindNotFound, "sla instance not found", err)
	}
	return inst, nil
}

// Create instantiates an SLA Instance with its contractual target frozen,
// status active (spec §4.6 "create an SLA Instance with frozen target
// hours, status=active"). If an instance for this (table, sys_id, metric)
// already exists — a ticket re-synced through full sync, say — the existing
// row is returned unchanged rather than overwritten, since target_hours is
// frozen at first creation.
func (s *Store) Create(ctx context.Context, table ticket.Table, sysID string, metric contract.MetricType, priority int, targetHours float64) (Instance, error) {
	const q = `
		INSERT INTO sla_instances (table_name, sys_id, metric_type, priority, target_hours, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, sys_id, metric_type) DO NOTHING
		RETURNING ` + instanceColumns
	row := s.pool.QueryRow(ctx, q, string(table), sysID, string(metric), priority, targetHours, string(StatusActive))
	inst, err := scanInstance(row)
	if err == nil {
		return inst, nil
	}
	if err != pgx.ErrNoRows {
		return Instance{}, corerr.Wrap(corerr.KindFatal, "creating sla instance", err)
	}
	return s.Get(ctx, table, sysID, metric)
}

// UpdateElapsed persists a recomputed elapsed-time snapshot for an instance
// (spec §4.6 periodic check), without touching its status or breach flag.
func (s *Store) UpdateElapsed(ctx context.Context, id int64, businessHours, calendarHours float64) error {
	const q = `UPDATE sla_instances SET business_hours_elapsed = $2, calendar_hours_elapsed = $3, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, businessHours, calendarHours)
	if err != nil {
		return corerr.Wrap(corerr.KindFatal, "updating sla instance elapsed time", err)
	}
	return nil
}

// MarkBreached transitions an instance to breached, recording breach_time,
// but only if it has not already breached (invariant: breached never
// un-sets). It reports whether this call performed the transition, so the
// caller publishes exactly one breach event per instance.
func (s *Store) MarkBreached(ctx context.Context, id int64, breachTime time.Time) (bool, error) {
	const q = `UPDATE sla_instances
		SET status = $2, breached = TRUE, breach_time = $3, updated_at = now()
		WHERE id = $1 AND breached = FALSE`
	tag, err := s.pool.Exec(ctx, q, id, string(StatusBreached), breachTime)
	if err != nil {
		return false, corerr.Wrap(corerr.KindFatal, "marking sla instance breached", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkResolved transitions an instance to resolved on ticket close, storing
// its final resolution_time_hours. It deliberately does not clear breached:
// a ticket resolved after breaching is still a breach on the record (spec
// §4.6 on-resolve transition).
func (s *Store) MarkResolved(ctx context.Context, id int64, resolutionHours float64) error {
	const q = `UPDATE sla_instances
		SET status = $2, resolution_time_hours = $3, updated_at = now()
		WHERE id = $1 AND status != $2`
	_, err := s.pool.Exec(ctx, q, id, string(StatusResolved), resolutionHours)
	if err != nil {
		return corerr.Wrap(corerr.KindFatal, "marking sla instance resolved", err)
	}
	return nil
}

// ListOpen returns instances not yet resolved for a table, the working set
// the periodic check recomputes elapsed time and breach status for.
func (s *Store) ListOpen(ctx context.Context, table ticket.Table, limit, offset int) ([]Instance, error) {
	const q = `SELECT ` + instanceColumns + ` FROM sla_instances
		WHERE table_name = $1 AND status != $2
		ORDER BY id
		LIMIT $3 OFFSET $4`
	return s.query(ctx, q, string(table), string(StatusResolved), limit, offset)
}

// ListByTable returns every instance for a table regardless of status, used
// by the breach-rate/resolution-hours metrics rollup.
func (s *Store) ListByTable(ctx context.Context, table ticket.Table, limit, offset int) ([]Instance, error) {
	const q = `SELECT ` + instanceColumns + ` FROM sla_instances
		WHERE table_name = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`
	return s.query(ctx, q, string(table), limit, offset)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Instance, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindFatal, "querying sla instances", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, corerr.Wrap(corerr.KindFatal, "scanning sla instance row", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
