package socket

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_Wants_NoSubscriptionRejects(t *testing.T) {
	c := newClient("c1", nil, slog.Default())
	m := Message{Topic: "incident"}
	assert.False(t, c.wants(m))
}

func TestClient_Wants_SubscribedNilFilterAccepts(t *testing.T) {
	c := newClient("c1", nil, slog.Default())
	c.Subscribe("incident", nil)
	assert.True(t, c.wants(Message{Topic: "incident"}))
}

func TestClient_Wants_FilterNarrowsDelivery(t *testing.T) {
	c := newClient("c1", nil, slog.Default())
	highPriorityOnly := func(m Message) bool {
		var payload struct {
			Priority int `json:"priority"`
		}
		_ = json.Unmarshal(m.Data, &payload)
		return payload.Priority == 1
	}
	c.Subscribe("incident", highPriorityOnly)

	assert.True(t, c.wants(Message{Topic: "incident", Data: []byte(`{"priority":1}`)}))
	assert.False(t, c.wants(Message{Topic: "incident", Data: []byte(`{"priority":3}`)}))
}

func TestClient_Unsubscribe(t *testing.T) {
	c := newClient("c1", nil, slog.Default())
	c.Subscribe("incident", nil)
	c.Unsubscribe("incident")
	assert.False(t, c.wants(Message{Topic: "incident"}))
}

func TestHub_ClientCount(t *testing.T) {
	h := NewHub(slog.Default())
	assert.Equal(t, 0, h.ClientCount())

	c1 := newClient("c1", nil, slog.Default())
	h.register(c1)
	assert.Equal(t, 1, h.ClientCount())

	h.unregister(c1)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_BroadcastDeliversOnlyToSubscribedWantingClients(t *testing.T) {
	h := NewHub(slog.Default())
	subscribed := newClient("subscribed", nil, slog.Default())
	subscribed.Subscribe("incident", nil)
	unsubscribed := newClient("unsubscribed", nil, slog.Default())
	h.register(subscribed)
	h.register(unsubscribed)

	h.Broadcast(Message{Topic: "incident", Data: []byte(`{}`)})

	assert.Len(t, subscribed.send, 1)
	assert.Len(t, unsubscribed.send, 0)
}
