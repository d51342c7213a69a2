// Package contract models the Contractual SLA declarative target table
// (spec §3). Rows are created out-of-band and treated as read-only
// configuration by the core.
package contract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/snowlink/pkg/corerr"
	"github.com/wisbric/snowlink/pkg/ticket"
)

// MetricType enumerates the SLA metrics the engine tracks per ticket.
type MetricType string

const (
	MetricResponse   MetricType = "response"
	MetricResolution MetricType = "resolution"
)

// SLA is one contractual target row, keyed by (ticket_type, priority, metric_type).
type SLA struct {
	TicketType        ticket.Table
	Priority          int
	MetricType        MetricType
	SLAHours          float64
	BusinessHoursOnly bool
	PenaltyPercentage float64
}

// Store provides read-only lookups over the contractual_slas table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a contract Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Lookup returns the contractual SLA row matching the unique key, or a
// KindNotFound error if none is configured.
func (s *Store) Lookup(ctx context.Context, table ticket.Table, priority int, metric MetricType) (*SLA, error) {
	const q = `
		SELECT sla_hours, business_hours_only, penalty_percentage
		FROM contractual_slas
		WHERE ticket_type = $1 AND priority = $2 AND metric_type = $3`

	row := s.pool.QueryRow(ctx, q, string(table), priority, string(metric))

	var sla SLA
	sla.TicketType = table
	sla.Priority = priority
	sla.MetricType = metric
	if err := row.Scan(&sla.SLAHours, &sla.BusinessHoursOnly, &sla.PenaltyPercentage); err != nil {
		return nil, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("no contractual SLA for %s/%d/%s", table, priority, metric), err)
	}
	return &sla, nil
}
