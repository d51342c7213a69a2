// Package journal models append-only ticket annotations (spec §3) and the
// upstream fetch helper the Sync Engine's full-sync path calls for them
// (spec §4.4 step b).
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/wisbric/snowlink/pkg/upstream"
)

// Element enumerates the sys_journal_field rows the core tracks.
type Element string

const (
	ElementWorkNotes Element = "work_notes"
	ElementComments  Element = "comments"
)

// Entry is one Journal Entry (spec §3): an append-only comment or work-note
// attached to a ticket, ordered within (ElementID, Element) by CreatedAt.
type Entry struct {
	ElementID string
	Element   Element
	Value     string
	CreatedAt time.Time
	CreatedBy string
	Raw       string // verbatim sys_journal_field JSON, for notes_data storage
}

func fromRecord(rec upstream.Record, element Element) Entry {
	return Entry{
		ElementID: rec.Field("element_id"),
		Element:   element,
		Value:     rec.Field("value"),
		CreatedAt: parseTimestamp(rec.Field("sys_created_on")),
		CreatedBy: rec.Field("sys_created_by"),
		Raw:       rec.JSON(),
	}
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Fetch pulls both journal elements (work_notes and comments) for a ticket,
// ordered by created_at, per spec §4.4 step b's "both element=work_notes
// and element=comments". Each element is fetched independently so a failure
// on one doesn't lose the other.
func Fetch(ctx context.Context, up *upstream.Client, ticketSysID string, limitPerElement int) ([]Entry, error) {
	var entries []Entry
	var errs []error

	for _, el := range []Element{ElementWorkNotes, ElementComments} {
		recs, err := up.JournalQuery(ctx, ticketSysID, string(el), limitPerElement)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, rec := range recs {
			entries = append(entries, fromRecord(rec, el))
		}
	}
	return entries, errors.Join(errs...)
}
