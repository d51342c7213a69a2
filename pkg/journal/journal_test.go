package journal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/snowlink/pkg/upstream"
)

func TestFetch_BothElements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("sysparm_query") {
		case "element_id=tkt1^element=work_notes^ORDERBYsys_created_on":
			w.Write([]byte(`{"result":[{"element_id":"tkt1","element":"work_notes","value":"investigating","sys_created_on":"2026-07-29 10:00:00","sys_created_by":"agent1"}]}`))
		case "element_id=tkt1^element=comments^ORDERBYsys_created_on":
			w.Write([]byte(`{"result":[{"element_id":"tkt1","element":"comments","value":"customer replied","sys_created_on":"2026-07-29 11:00:00","sys_created_by":"caller1"}]}`))
		default:
			w.Write([]byte(`{"result":[]}`))
		}
	}))
	defer srv.Close()

	up := upstream.NewClient(upstream.Config{BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 1000}, nil, nil)

	entries, err := Fetch(context.Background(), up, "tkt1", 500)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ElementWorkNotes, entries[0].Element)
	assert.Equal(t, "investigating", entries[0].Value)
	assert.Equal(t, time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC), entries[0].CreatedAt)

	assert.Equal(t, ElementComments, entries[1].Element)
	assert.Equal(t, "customer replied", entries[1].Value)
}
