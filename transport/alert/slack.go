package alert

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackAlerter posts cluster-health events to a single Slack channel via a
// bot token.
type SlackAlerter struct {
	client  *slack.Client
	channel string
}

// NewSlackAlerter builds a SlackAlerter that posts to channel using token
// (a bot token, "xoxb-...").
func NewSlackAlerter(token, channel string) *SlackAlerter {
	return &SlackAlerter{client: slack.New(token), channel: channel}
}

func (s *SlackAlerter) Alert(ctx context.Context, ev Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(formatMessage(ev), false))
	return err
}
