package notifyqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisbric/snowlink/pkg/stream"
)

// StreamChannel delivers notifications to the Event Stream Transport's
// connected SSE clients (spec §4.7's "event-stream" channel).
type StreamChannel struct {
	hub *stream.Hub
}

// NewStreamChannel creates a StreamChannel backed by hub.
func NewStreamChannel(hub *stream.Hub) *StreamChannel {
	return &StreamChannel{hub: hub}
}

func (c *StreamChannel) Name() string { return "event-stream" }

func (c *StreamChannel) Deliver(_ context.Context, n Notification) error {
	payload, err := json.Marshal(struct {
		ID      string `json:"id"`
		Source  string `json:"source"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}{n.ID, n.Source, n.Subject, n.Body})
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	c.hub.Broadcast(stream.Event{
		ID:   n.ID,
		Name: topicFor(n),
		Data: string(payload),
	})
	return nil
}
