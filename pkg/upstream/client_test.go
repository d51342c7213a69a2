package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/snowlink/pkg/corerr"
)

func testClient(t *testing.T, srv *httptest.Server, cred *Credential) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxRetries:        2,
		HTTPTimeout:       5 * time.Second,
	}, cred, nil)
}

func TestClient_Query_ReturnsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[{"sys_id":"abc123","short_description":"disk full"}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	records, err := c.Query(context.Background(), "incident", "priority=1", 100, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "abc123", records[0].SysID())
}

func TestClient_Read_NotFoundReturnsNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	rec, found, err := c.Read(context.Background(), "incident", "missing-id")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Record{}, rec)
}

func TestClient_Read_RefreshesCredentialOn401(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"result":{"sys_id":"abc123"}}`))
	}))
	defer srv.Close()

	var refreshed bool
	cred := NewBearerCredential("stale-token", func(ctx context.Context) (string, error) {
		refreshed = true
		return "Bearer fresh-token", nil
	})

	c := testClient(t, srv, cred)
	rec, found, err := c.Read(context.Background(), "incident", "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, refreshed)
	assert.Equal(t, "abc123", rec.SysID())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Read_SecondConsecutive401SurfacesAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cred := NewBearerCredential("stale-token", func(ctx context.Context) (string, error) {
		return "Bearer still-stale", nil
	})

	c := testClient(t, srv, cred)
	_, _, err := c.Read(context.Background(), "incident", "abc123")
	require.Error(t, err)
	kind, ok := corerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, corerr.KindAuthExpired, kind)
}

func TestClient_Query_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	records, err := c.Query(context.Background(), "incident", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Query_ExhaustsRetriesAndSurfacesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	_, err := c.Query(context.Background(), "incident", "", 10, 0)
	require.Error(t, err)
	kind, ok := corerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, corerr.KindTransientUpstream, kind)
}

func TestClient_Query_HonorsRetryAfterOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	_, err := c.Query(context.Background(), "incident", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Delete_NotFoundIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	err := c.Delete(context.Background(), "incident", "missing-id")
	assert.NoError(t, err)
}

func TestClient_Create_SendsPayloadAndParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"result":{"sys_id":"new-id"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv, nil)
	rec, err := c.Create(context.Background(), "incident", map[string]any{"short_description": "vpn down"})
	require.NoError(t, err)
	assert.Equal(t, "new-id", rec.SysID())
}
