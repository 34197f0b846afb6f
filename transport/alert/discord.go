package alert

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// DiscordAlerter posts cluster-health events to a single Discord channel.
// The session is opened once at construction and reused for every Alert
// call, the same connection-reuse shape as SlackAlerter's client.
type DiscordAlerter struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordAlerter builds a DiscordAlerter from a bot token and opens the
// underlying gateway session.
func NewDiscordAlerter(botToken, channelID string) (*DiscordAlerter, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, err
	}
	if err := session.Open(); err != nil {
		return nil, err
	}
	return &DiscordAlerter{session: session, channelID: channelID}, nil
}

func (d *DiscordAlerter) Alert(ctx context.Context, ev Event) error {
	_, err := d.session.ChannelMessageSend(d.channelID, formatMessage(ev), discordgo.WithContext(ctx))
	return err
}

// Close releases the gateway session.
func (d *DiscordAlerter) Close() error {
	return d.session.Close()
}
