package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const discordContentLimit = 2000

// DiscordOptions configures the status notifier.
type DiscordOptions struct {
	Token     string
	ChannelID string
}

type discordClient interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts status messages to a channel with a bot account.
type Discord struct {
	channel string
	client  discordClient
	log     logrus.FieldLogger
}

// NewDiscord creates a REST only session.
func NewDiscord(opts DiscordOptions, logger logrus.FieldLogger) (*Discord, error) {
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &Discord{
		channel: opts.ChannelID,
		client:  s,
		log:     logger.WithField("component", "discord"),
	}, nil
}

func (d *Discord) Notify(ctx context.Context, msg Message) error {
	content := msg.Text
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit])
	}
	send := &discordgo.MessageSend{Content: content}
	for _, a := range msg.Attachments {
		send.Files = append(send.Files, &discordgo.File{
			Name:   a.Name,
			Reader: bytes.NewReader(a.Data),
		})
	}
	if _, err := d.client.ChannelMessageSendComplex(d.channel, send, discordgo.WithContext(ctx)); err != nil {
		d.log.WithError(err).Error("Failed to send discord message")
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}
