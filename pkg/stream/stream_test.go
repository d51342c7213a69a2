package stream

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/snowlink/pkg/corerr"
)

func TestHub_AcquireEnforcesPerIPCap(t *testing.T) {
	h := NewHub(1, 3000, slog.Default())

	c1, err := h.acquire("1.2.3.4")
	require.NoError(t, err)

	_, err = h.acquire("1.2.3.4")
	require.Error(t, err)
	kind, ok := corerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, corerr.KindRateLimited, kind)

	h.release(c1)
	_, err = h.acquire("1.2.3.4")
	assert.NoError(t, err)
}

func TestHub_DifferentIPsAreIndependent(t *testing.T) {
	h := NewHub(1, 3000, slog.Default())
	_, err := h.acquire("1.1.1.1")
	require.NoError(t, err)
	_, err = h.acquire("2.2.2.2")
	assert.NoError(t, err)
}

func TestHub_ServeWritesRetryHintAndEvent(t *testing.T) {
	h := NewHub(5, 2500, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)

	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx, rec, req, "9.9.9.9")
		close(done)
	}()

	// Give Serve a moment to register and write the retry hint, then
	// broadcast an event and cancel to end the stream.
	time.Sleep(50 * time.Millisecond)
	h.Broadcast(Event{ID: "1", Name: "ticket.updated", Data: `{"sys_id":"abc"}`})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	reader := bufio.NewReader(strings.NewReader(body))
	line, _ := reader.ReadString('\n')
	assert.Equal(t, "retry: 2500\n", line)
	assert.Contains(t, body, "event: ticket.updated")
	assert.Contains(t, body, `data: {"sys_id":"abc"}`)
}

func TestHub_ConnectionCount(t *testing.T) {
	h := NewHub(5, 3000, slog.Default())
	assert.Equal(t, 0, h.ConnectionCount())
	c, _ := h.acquire("1.1.1.1")
	assert.Equal(t, 1, h.ConnectionCount())
	h.release(c)
	assert.Equal(t, 0, h.ConnectionCount())
}
