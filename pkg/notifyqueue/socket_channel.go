package notifyqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wisbric/snowlink/pkg/socket"
)

// SocketChannel delivers notifications to the Socket Transport's subscribed
// clients (spec §4.7's "socket-subscription" channel). A notification maps
// to a topic of "notifications.<band>.<source>" so clients can subscribe at
// whatever granularity they need.
type SocketChannel struct {
	hub *socket.Hub
}

// NewSocketChannel creates a SocketChannel backed by hub.
func NewSocketChannel(hub *socket.Hub) *SocketChannel {
	return &SocketChannel{hub: hub}
}

func (c *SocketChannel) Name() string { return "socket-subscription" }

func (c *SocketChannel) Deliver(_ context.Context, n Notification) error {
	payload, err := json.Marshal(struct {
		ID      string `json:"id"`
		Source  string `json:"source"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{n.ID, n.Source, n.Subject, n.Body})
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	c.hub.Broadcast(socket.Message{
		Topic:     topicFor(n),
		Event:     "notification",
		Data:      payload,
		Timestamp: time.Now(),
	})
	return nil
}

func topicFor(n Notification) string {
	return fmt.Sprintf("notifications.%s.%s", bandName(n.Band), n.Source)
}

func bandName(b Band) string {
	switch b {
	case BandCritical:
		return "critical"
	case BandHigh:
		return "high"
	case BandMedium:
		return "medium"
	default:
		return "low"
	}
}
