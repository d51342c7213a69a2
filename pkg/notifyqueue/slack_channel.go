package notifyqueue

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SlackChannel delivers notifications to a single Slack channel via a bot
// token, one of the six delivery channels spec §4.9 names.
type SlackChannel struct {
	client      *goslack.Client
	channelID   string
}

// NewSlackChannel creates a SlackChannel. If botToken is empty the channel
// is inert: Deliver returns nil without calling out, mirroring the
// teacher's "disabled when unconfigured" notifier pattern.
func NewSlackChannel(botToken, channelID string) *SlackChannel {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackChannel{client: client, channelID: channelID}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Deliver(ctx context.Context, n Notification) error {
	if c.client == nil {
		return nil
	}
	text := fmt.Sprintf("*%s*\n%s", n.Subject, n.Body)
	_, _, err := c.client.PostMessageContext(ctx, c.channelID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting slack message: %w", err)
	}
	return nil
}
