// Package hybrid is the Hybrid Data Access Layer (spec §4.2): reads prefer
// the document store, fall through to the upstream client on a cache miss
// or staleness, and degrade to serving stale data when upstream is
// unreachable rather than failing the caller outright.
package hybrid

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/wisbric/snowlink/pkg/corerr"
	"github.com/wisbric/snowlink/pkg/eventbus"
	"github.com/wisbric/snowlink/pkg/freshness"
	"github.com/wisbric/snowlink/pkg/store"
	"github.com/wisbric/snowlink/pkg/ticket"
	"github.com/wisbric/snowlink/pkg/upstream"
)

// maxConcurrentFetches bounds the number of simultaneous upstream fetches a
// single GetMany call may issue, so a large batch can't overrun the
// upstream's own rate limiter all at once.
const maxConcurrentFetches = 8

// Service is the hybrid read/write data service.
type Service struct {
	store    *store.Store
	upstream *upstream.Client
	bus      *eventbus.Bus
	logger   *slog.Logger
}

// NewService creates a hybrid Service.
func NewService(st *store.Store, up *upstream.Client, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{store: st, upstream: up, bus: bus, logger: logger}
}

// GetTicketResult is what GetTicket returns: the ticket, its document, and
// whether a stale cached copy was served.
type GetTicketResult struct {
	Ticket           ticket.Ticket
	Document         store.Document
	Stale            bool
	StalenessWarning string
}

// Options controls a GetTicket/GetMany call, per spec §4.2's
// get_ticket(sys_id, table, options) signature.
type Options struct {
	// ForceUpstream skips the document-store read entirely and queries
	// upstream directly (spec §4.2 step 1). There is then no stale document
	// to fall back on if the upstream call fails.
	ForceUpstream bool
}

// GetTicket returns a ticket, serving the cached copy when fresh, fetching
// from upstream on a miss or staleness, and falling back to a stale cached
// copy (with StalenessWarning set) when upstream is unreachable (spec §4.2
// degraded-mode requirement).
func (s *Service) GetTicket(ctx context.Context, table ticket.Table, sysID string, opts Options) (GetTicketResult, error) {
	var doc store.Document
	var cached bool

	if !opts.ForceUpstream {
		var cacheErr error
		doc, cacheErr = s.store.GetBySysID(ctx, table, sysID)
		cached = cacheErr == nil

		if cached && !freshness.ShouldRefresh(doc.State, doc.Priority, doc.Metadata.LastUpdate, time.Now()) {
			t, err := documentToTicket(doc)
			if err != nil {
				return GetTicketResult{}, err
			}
			return GetTicketResult{Ticket: t, Document: doc}, nil
		}
	}

	rec, found, upErr := s.upstream.Read(ctx, string(table), sysID)
	if upErr != nil {
		if cached {
			s.logger.Warn("serving stale document after upstream failure",
				"table", table, "sys_id", sysID, "error", upErr)
			t, convErr := documentToTicket(doc)
			if convErr != nil {
				return GetTicketResult{}, convErr
			}
			return GetTicketResult{
				Ticket:           t,
				Document:         doc,
				Stale:            true,
				StalenessWarning: "upstream unreachable, serving cached copy",
			}, nil
		}
		return GetTicketResult{}, upErr
	}
	if !found {
		if cached {
			// Upstream no longer has the record; the cached copy is the best
			// available answer but is flagged stale rather than deleted, since
			// deletion is a sync-engine decision, not a read-path one.
			t, convErr := documentToTicket(doc)
			if convErr != nil {
				return GetTicketResult{}, convErr
			}
			return GetTicketResult{Ticket: t, Document: doc, Stale: true, StalenessWarning: "not found upstream"}, nil
		}
		return GetTicketResult{}, corerr.New(corerr.KindNotFound, "ticket not found")
	}

	newDoc, err := recordToDocument(table, rec, "incremental")
	if err != nil {
		return GetTicketResult{}, err
	}
	if err := s.store.UpsertDocument(ctx, newDoc); err != nil {
		s.logger.Error("failed to cache fetched document", "error", err)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, eventbus.Event{
			Table: string(table), SysID: sysID, Action: eventbus.ChangeUpdated,
			Data: string(newDoc.RawData), Timestamp: time.Now(),
		})
	}

	t, err := documentToTicket(newDoc)
	if err != nil {
		return GetTicketResult{}, err
	}
	return GetTicketResult{Ticket: t, Document: newDoc}, nil
}

// GetMany fetches a batch of tickets concurrently, bounded by
// maxConcurrentFetches, and returns results in input order. A single
// ticket's failure does not fail the whole batch; its slot is the zero
// value and err is nil — callers that need per-item errors should call
// GetTicket directly.
func (s *Service) GetMany(ctx context.Context, table ticket.Table, sysIDs []string, opts Options) ([]GetTicketResult, error) {
	results := make([]GetTicketResult, len(sysIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for i, sysID := range sysIDs {
		i, sysID := i, sysID
		g.Go(func() error {
			res, err := s.GetTicket(ctx, table, sysID, opts)
			if err != nil {
				s.logger.Warn("batch fetch failed for ticket", "sys_id", sysID, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate evicts a cached document, forcing the next GetTicket to treat
// it as a miss.
func (s *Service) Invalidate(ctx context.Context, table ticket.Table, sysID string) error {
	return s.store.Delete(ctx, table, sysID)
}

func documentToTicket(doc store.Document) (ticket.Ticket, error) {
	var payload map[string]any
	if err := json.Unmarshal(doc.RawData, &payload); err != nil {
		return ticket.Ticket{}, corerr.Wrap(corerr.KindValidation, "unmarshaling raw_data", err)
	}

	t := ticket.Ticket{
		SysID:           doc.SysID,
		Number:          doc.Number,
		Table:           doc.Table,
		State:           doc.State,
		Priority:        doc.Priority,
		AssignmentGroup: upstream.ReferenceValue(gjson.ParseBytes(doc.RawData), "assignment_group"),
		Payload:         payload,
	}
	if v, ok := payload["short_description"].(string); ok {
		t.ShortDescription = v
	}
	return t, nil
}

func recordToDocument(table ticket.Table, rec upstream.Record, extractionType string) (store.Document, error) {
	now := time.Now()
	sysID := rec.SysID()
	prefix := sysID
	if len(prefix) > 2 {
		prefix = prefix[:2]
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
			ExtractionType:    extractionType,
			SysIDPrefix:       prefix,
			LastUpdate:        now,
			CollectionVersion: 1,
		},
	}, nil
}
