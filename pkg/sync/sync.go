// Package sync is the Background Synchronization Engine (spec §4.3): full
// and incremental passes per ticket table, run on bounded worker pools and
// serialized across tables so one table's pass never contends with
// another's against the upstream rate limiter.
package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/snowlink/pkg/eventbus"
	"github.com/wisbric/snowlink/pkg/journal"
	"github.com/wisbric/snowlink/pkg/sla"
	"github.com/wisbric/snowlink/pkg/store"
	"github.com/wisbric/snowlink/pkg/ticket"
	"github.com/wisbric/snowlink/pkg/upstream"
)

// slaInstanceFetchLimit bounds how many task_sla rows a single ticket's
// full-sync pulls; ServiceNow tracks at most a handful of SLA definitions
// per task in practice.
const slaInstanceFetchLimit = 20

// Mode distinguishes a full resync from an incremental catch-up pass.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// fullWindow and incrementalWindow bound how far back each pass looks,
// per spec §4.3.
const (
	fullWindow        = 30 * 24 * time.Hour
	incrementalWindow = 2 * time.Hour
	workersPerTable   = 4
	pageSize          = 200
)

// Stats is the rolling health snapshot for one table's sync activity,
// exposed for readiness/health reporting.
type Stats struct {
	LastFullSync        time.Time
	LastIncrementalSync time.Time
	SyncedCount         int64
	ErrorCount          int64
}

// Engine runs sync passes for every supported table.
type Engine struct {
	store                  *store.Store
	upstream               *upstream.Client
	bus                    *eventbus.Bus
	sla                    *sla.Engine
	logger                 *slog.Logger
	backfillJournalsOnIncr bool

	stats map[ticket.Table]*tableStats
}

type tableStats struct {
	lastFull        atomic.Int64 // unix seconds
	lastIncremental atomic.Int64
	synced          atomic.Int64
	errors          atomic.Int64
}

// NewEngine creates a sync Engine. backfillJournalsOnIncremental controls
// whether incremental passes also pull sys_journal_field rows, a deliberate
// config toggle (default false) since journal volume is high relative to
// an incremental window's ticket count. slaEngine may be nil, in which case
// synced tickets never get SLA Instances created for them.
func NewEngine(st *store.Store, up *upstream.Client, bus *eventbus.Bus, slaEngine *sla.Engine, logger *slog.Logger, backfillJournalsOnIncremental bool) *Engine {
	stats := make(map[ticket.Table]*tableStats, len(ticket.Tables))
	for _, t := range ticket.Tables {
		stats[t] = &tableStats{}
	}
	return &Engine{
		store:                  st,
		upstream:               up,
		bus:                    bus,
		sla:                    slaEngine,
		logger:                 logger,
		backfillJournalsOnIncr: backfillJournalsOnIncremental,
		stats:                  stats,
	}
}

// Stats returns the current health snapshot for a table.
func (e *Engine) Stats(table ticket.Table) Stats {
	s, ok := e.stats[table]
	if !ok {
		return Stats{}
	}
	return Stats{
		LastFullSync:        unixToTime(s.lastFull.Load()),
		LastIncrementalSync: unixToTime(s.lastIncremental.Load()),
		SyncedCount:         s.synced.Load(),
		ErrorCount:          s.errors.Load(),
	}
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// RunFull runs a full sync pass across every table, serialized: one table
// completes before the next starts, so the upstream rate limiter is never
// shared across tables concurrently.
func (e *Engine) RunFull(ctx context.Context) error {
	for _, table := range ticket.Tables {
		if err := e.syncTable(ctx, table, ModeFull); err != nil {
			e.logger.Error("full sync failed for table", "table", table, "error", err)
		}
	}
	return nil
}

// RunIncremental runs an incremental pass across every table.
func (e *Engine) RunIncremental(ctx context.Context) error {
	for _, table := range ticket.Tables {
		if err := e.syncTable(ctx, table, ModeIncremental); err != nil {
			e.logger.Error("incremental sync failed for table", "table", table, "error", err)
		}
	}
	return nil
}

func (e *Engine) syncTable(ctx context.Context, table ticket.Table, mode Mode) error {
	window := incrementalWindow
	if mode == ModeFull {
		window = fullWindow
	}
	since := time.Now().Add(-window)

	query := upstream.NewQuery().
		And("sys_updated_on", upstream.OpGreaterOrEqual, since.UTC().Format("2006-01-02 15:04:05")).
		OrderBy("sys_id").
		Encode()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workersPerTable)

	offset := 0
	for {
		records, err := e.upstream.Query(gctx, string(table), query, pageSize, offset)
		if err != nil {
			e.stats[table].errors.Add(1)
			return err
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			rec := rec
			g.Go(func() error {
				return e.syncOne(gctx, table, rec, mode)
			})
		}

		if len(records) < pageSize {
			break
		}
		offset += pageSize
	}

	if err := g.Wait(); err != nil {
		e.logger.Warn("sync table pass completed with errors", "table", table, "mode", mode, "error", err)
	}

	now := time.Now().Unix()
	if mode == ModeFull {
		e.stats[table].lastFull.Store(now)
	} else {
		e.stats[table].lastIncremental.Store(now)
	}
	return nil
}

// syncOne persists a single ticket. A failure here is this ticket's problem
// alone: it is logged and counted against the table's error stat, never
// returned, so it can't cancel the page-query loop or sibling goroutines
// sharing syncTable's errgroup context.
func (e *Engine) syncOne(ctx context.Context, table ticket.Table, rec upstream.Record, mode Mode) error {
	doc, err := recordToStoreDocument(table, rec, mode)
	if err != nil {
		e.logger.Warn("building document from record failed, skipping ticket", "table", table, "sys_id", rec.SysID(), "error", err)
		e.stats[table].errors.Add(1)
		return nil
	}

	if mode == ModeFull || e.backfillJournalsOnIncr {
		entries, jErr := journal.Fetch(ctx, e.upstream, rec.SysID(), 500)
		if jErr != nil {
			e.logger.Warn("journal fetch failed, continuing with partial results", "sys_id", rec.SysID(), "error", jErr)
		}
		doc.NotesData = make([]json.RawMessage, len(entries))
		for i, entry := range entries {
			doc.NotesData[i] = json.RawMessage(entry.Raw)
		}
	}

	if e.sla != nil {
		if _, err := e.sla.EnsureInstances(ctx, table, doc.SysID, doc.Priority); err != nil {
			e.logger.Warn("ensuring sla instances failed", "table", table, "sys_id", doc.SysID, "error", err)
		}
	}

	if mode == ModeFull {
		slaRecs, sErr := e.upstream.TaskSLAQuery(ctx, rec.SysID(), slaInstanceFetchLimit)
		if sErr != nil {
			e.logger.Warn("task_sla fetch failed, continuing without it", "sys_id", rec.SysID(), "error", sErr)
		} else {
			doc.SLMData = make([]json.RawMessage, len(slaRecs))
			for i, s := range slaRecs {
				doc.SLMData[i] = json.RawMessage(s.JSON())
			}
		}
	}

	if err := e.store.UpsertDocument(ctx, doc); err != nil {
		e.logger.Warn("upserting document failed, skipping ticket", "table", table, "sys_id", rec.SysID(), "error", err)
		e.stats[table].errors.Add(1)
		return nil
	}
	e.stats[table].synced.Add(1)

	if e.bus != nil {
		_ = e.bus.Publish(ctx, eventbus.Event{
			Table:     string(table),
			SysID:     doc.SysID,
			Action:    eventbus.ChangeUpdated,
			Data:      string(doc.RawData),
			Timestamp: time.Now(),
		})
	}
	return nil
}

func recordToStoreDocument(table ticket.Table, rec upstream.Record, mode Mode) (store.Document, error) {
	now := time.Now()
	sysID := rec.SysID()
	prefix := sysID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	extraction := "incremental"
	if mode == ModeFull {
		extraction = "full"
	}
	return store.Document{
		SysID:     sysID,
		Number:    rec.Field("number"),
		Table:     table,
		RawData:   json.RawMessage(rec.JSON()),
		State:     rec.Field("state"),
		Priority:  ticket.PriorityFromLabel(rec.Field("priority")),
		UpdatedAt: now,
		CreatedAt: now,
		Metadata: store.Metadata{
			SyncTimestamp:     now,
			ExtractionType:    extraction,
			SysIDPrefix:       prefix,
			LastUpdate:        now,
			CollectionVersion: 1,
		},
	}, nil
}
