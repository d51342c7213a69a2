// Package store is the document store adapter (spec §3, §6): tickets from
// every ServiceNow table are persisted as JSON documents in one Postgres
// table, keyed by table name, rather than a normalized relational schema,
// following the raw_data + canonical projection shape spec.md describes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/snowlink/pkg/corerr"
	"github.com/wisbric/snowlink/pkg/ticket"
)

// Metadata is the per-document sync bookkeeping block (spec §3, §6).
type Metadata struct {
	SyncTimestamp    time.Time `json:"sync_timestamp"`
	ExtractionType   string    `json:"extraction_type"` // "full" or "incremental"
	SysIDPrefix      string    `json:"sys_id_prefix"`
	LastUpdate       time.Time `json:"last_update"`
	CollectionVersion int      `json:"collection_version"`
}

// Document is one persisted ticket: the verbatim upstream payload plus the
// canonical fields the rest of the system indexes on, plus raw SLA
// (task_sla) rows and journal entries, plus sync metadata.
type Document struct {
	SysID      string
	Number     string
	Table      ticket.Table
	RawData    json.RawMessage
	State      string
	Priority   int
	UpdatedAt  time.Time
	CreatedAt  time.Time
	SLMData    []json.RawMessage
	NotesData  []json.RawMessage
	Metadata   Metadata
}

// Store is the pgx-backed document collection. One Store instance serves
// every table: the table name itself is a column, per spec §6's unique
// (table, sys_id) / (table, number) constraints, so this is a single
// physical collection rather than one table per ServiceNow table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const docColumns = `sys_id, number, table_name, raw_data, state, priority,
	updated_at, created_at, slm_data, notes_data, metadata`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var slm, notes, meta []byte
	err := row.Scan(
		&d.SysID, &d.Number, &d.Table, &d.RawData, &d.State, &d.Priority,
		&d.UpdatedAt, &d.CreatedAt, &slm, &notes, &meta,
	)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(meta, &d.Metadata); err != nil {
		return Document{}, fmt.Errorf("unmarshaling document metadata: %w", err)
	}
	if len(slm) > 0 {
		if err := json.Unmarshal(slm, &d.SLMData); err != nil {
			return Document{}, fmt.Errorf("unmarshaling slm_data: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &d.NotesData); err != nil {
			return Document{}, fmt.Errorf("unmarshaling notes_data: %w", err)
		}
	}
	return d, nil
}

// GetBySysID returns a document by (table, sys_id), KindNotFound if absent.
func (s *Store) GetBySysID(ctx context.Context, table ticket.Table, sysID string) (Document, error) {
	const q = `SELECT ` + docColumns + ` FROM tickets WHERE table_name = $1 AND sys_id = $2`
	row := s.pool.QueryRow(ctx, q, string(table), sysID)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("document %s/%s", table, sysID), err)
	}
	return doc, nil
}

// GetByNumber returns a document by (table, number), e.g. "INC0012345".
func (s *Store) GetByNumber(ctx context.Context, table ticket.Table, number string) (Document, error) {
	const q = `SELECT ` + docColumns + ` FROM tickets WHERE table_name = $1 AND number = $2`
	row := s.pool.QueryRow(ctx, q, string(table), number)
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, corerr.Wrap(corerr.KindNotFound, fmt.Sprintf("document %s/%s", table, number), err)
	}
	return doc, nil
}

// UpsertDocument inserts or replaces a document, keyed by (table, sys_id).
func (s *Store) UpsertDocument(ctx context.Context, d Document) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling document metadata: %w", err)
	}
	slm, err := json.Marshal(d.SLMData)
	if err != nil {
		return fmt.Errorf("marshaling slm_data: %w", err)
	}
	notes, err := json.Marshal(d.NotesData)
	if err != nil {
		return fmt.Errorf("marshaling notes_data: %w", err)
	}

	const q = `
		INSERT INTO tickets (sys_id, number, table_name, raw_data, state, priority, updated_at, created_at, slm_data, notes_data, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (table_name, sys_id) DO UPDATE SET
			number = EXCLUDED.number,
			raw_data = EXCLUDED.raw_data,
			state = EXCLUDED.state,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at,
			slm_data = EXCLUDED.slm_data,
			notes_data = EXCLUDED.notes_data,
			metadata = EXCLUDED.metadata`

	_, err = s.pool.Exec(ctx, q,
		d.SysID, d.Number, string(d.Table), d.RawData, d.State, d.Priority,
		d.UpdatedAt, d.CreatedAt, slm, notes, meta,
	)
	if err != nil {
		return corerr.Wrap(corerr.KindFatal, "upserting document", err)
	}
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, table ticket.Table, sysID string) error {
	const q = `DELETE FROM tickets WHERE table_name = $1 AND sys_id = $2`
	_, err := s.pool.Exec(ctx, q, string(table), sysID)
	if err != nil {
		return corerr.Wrap(corerr.KindFatal, "deleting document", err)
	}
	return nil
}

// StaleBefore returns sys_ids for a table whose metadata.last_update is
// older than cutoff, oldest first (spec §4.3 refresh candidates). Nothing in
// this module calls it.
func (s *Store) StaleBefore(ctx context.Context, table ticket.Table, cutoff time.Time, limit int) ([]string, error) {
	const q = `
		SELECT sys_id FROM tickets
		WHERE table_name = $1 AND (metadata->>'last_update')::timestamptz < $2
		ORDER BY (metadata->>'last_update')::timestamptz ASC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, string(table), cutoff, limit)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindFatal, "querying stale documents", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stale sys_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ByPrefix returns documents in a table whose sys_id starts with prefix,
// ordered by sys_id. The sync engine does not call it: its workers take
// records from upstream query pages instead.
func (s *Store) ByPrefix(ctx context.Context, table ticket.Table, prefix string, limit, offset int) ([]Document, error) {
	const q = `SELECT ` + docColumns + ` FROM tickets
		WHERE table_name = $1 AND sys_id LIKE $2
		ORDER BY sys_id
		LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, q, string(table), prefix+"%", limit, offset)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindFatal, "querying documents by prefix", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountByTable returns the number of documents persisted for a table. The
// health/readiness handlers do not call it.
func (s *Store) CountByTable(ctx context.Context, table ticket.Table) (int64, error) {
	const q = `SELECT count(*) FROM tickets WHERE table_name = $1`
	var n int64
	if err := s.pool.QueryRow(ctx, q, string(table)).Scan(&n); err != nil {
		return 0, corerr.Wrap(corerr.KindFatal, "counting documents", err)
	}
	return n, nil
}
