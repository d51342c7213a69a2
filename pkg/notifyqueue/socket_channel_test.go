package notifyqueue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wisbric/snowlink/pkg/socket"
)

func TestSocketChannel_Name(t *testing.T) {
	ch := NewSocketChannel(socket.NewHub(slog.Default()))
	assert.Equal(t, "socket-subscription", ch.Name())
}

func TestSocketChannel_Deliver_DoesNotErrorWithNoClients(t *testing.T) {
	ch := NewSocketChannel(socket.NewHub(slog.Default()))
	err := ch.Deliver(context.Background(), Notification{
		ID: "n1", Source: "sla", Band: BandCritical, Subject: "breach", Body: "ticket breached",
		EnqueuedAt: time.Now(),
	})
	assert.NoError(t, err)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "notifications.critical.sla", topicFor(Notification{Band: BandCritical, Source: "sla"}))
	assert.Equal(t, "notifications.low.sync", topicFor(Notification{Band: BandLow, Source: "sync"}))
}
