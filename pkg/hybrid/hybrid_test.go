package hybrid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wisbric/snowlink/pkg/store"
	"github.com/wisbric/snowlink/pkg/ticket"
	"github.com/wisbric/snowlink/pkg/upstream"
)

func TestDocumentToTicket_ResolvesAssignmentGroupByID(t *testing.T) {
	raw := `{"sys_id":"abc123","short_description":"disk full","assignment_group":{"display_value":"Network Ops","value":"grp1"}}`
	doc := store.Document{
		SysID:    "abc123",
		Number:   "INC0001",
		Table:    ticket.TableIncident,
		RawData:  json.RawMessage(raw),
		State:    "1",
		Priority: 1,
	}

	tk, err := documentToTicket(doc)
	require.NoError(t, err)
	assert.Equal(t, "grp1", tk.AssignmentGroup, "stores the group's sys_id, not its display value, per the cyclic-reference id-only rule")
	assert.Equal(t, "disk full", tk.ShortDescription)
}

func TestRecordToDocument_SetsIncrementalExtractionType(t *testing.T) {
	rec := upstream.Record{Raw: gjson.Parse(`{"sys_id":"abc123","number":"INC0001","state":"1","priority":"1 - Critical"}`)}

	doc, err := recordToDocument(ticket.TableIncident, rec, "incremental")
	require.NoError(t, err)
	assert.Equal(t, "incremental", doc.Metadata.ExtractionType)
	assert.Equal(t, 1, doc.Priority)
	assert.Equal(t, "ab", doc.Metadata.SysIDPrefix)
}
