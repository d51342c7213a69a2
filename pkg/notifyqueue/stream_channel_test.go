package notifyqueue

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wisbric/snowlink/pkg/stream"
)

func TestStreamChannel_Name(t *testing.T) {
	ch := NewStreamChannel(stream.NewHub(10, 3000, slog.Default()))
	assert.Equal(t, "event-stream", ch.Name())
}

func TestStreamChannel_Deliver_DoesNotErrorWithNoConnections(t *testing.T) {
	ch := NewStreamChannel(stream.NewHub(10, 3000, slog.Default()))
	err := ch.Deliver(context.Background(), Notification{
		ID: "n1", Source: "sync", Band: BandLow, Subject: "synced", Body: "ticket synced",
	})
	assert.NoError(t, err)
}
