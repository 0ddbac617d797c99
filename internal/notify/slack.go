package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"snowballrss/internal/domain"
)

// SlackOptions configures the Slack channel.
type SlackOptions struct {
	Token string
	// NotifyChannel receives posts.
	NotifyChannel string
	// StatusChannel receives service status. Defaults to NotifyChannel.
	StatusChannel string
}

type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// Slack posts to a workspace through the Web API.
type Slack struct {
	opts   SlackOptions
	client slackClient
	log    logrus.FieldLogger
}

// NewSlack creates a Slack channel.
func NewSlack(opts SlackOptions, logger logrus.FieldLogger, options ...slack.Option) *Slack {
	if opts.StatusChannel == "" {
		opts.StatusChannel = opts.NotifyChannel
	}
	return &Slack{
		opts:   opts,
		client: slack.New(opts.Token, options...),
		log:    logger.WithField("component", "slack"),
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, post domain.Post, screenshot []byte) error {
	log := s.log.WithFields(logrus.Fields{"link": post.Link, "channel": s.opts.NotifyChannel})

	title := slack.NewTextBlockObject(slack.MarkdownType, "*"+post.Title+"*", false, false)
	body := slack.NewTextBlockObject(slack.PlainTextType, orDash(post.Content), false, false)
	link := slack.NewTextBlockObject(slack.MarkdownType, "<"+post.Link+">", false, false)
	_, _, err := s.client.PostMessageContext(ctx, s.opts.NotifyChannel,
		slack.MsgOptionText(post.Title, false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(title, nil, nil),
			slack.NewSectionBlock(body, nil, nil),
			slack.NewContextBlock("", link),
		),
	)
	if err != nil {
		log.WithError(err).Error("Failed to post slack message")
		return fmt.Errorf("failed to post slack message: %w", err)
	}

	if err := s.upload(ctx, s.opts.NotifyChannel, Attachment{Name: ScreenshotName, Data: screenshot}); err != nil {
		log.WithError(err).Error("Failed to upload screenshot to slack")
		return err
	}
	log.Info("Slack message posted")
	return nil
}

// Notify posts msg to the status channel and uploads its attachments.
func (s *Slack) Notify(ctx context.Context, msg Message) error {
	if _, _, err := s.client.PostMessageContext(ctx, s.opts.StatusChannel, slack.MsgOptionText(msg.Text, false)); err != nil {
		return fmt.Errorf("failed to post slack status: %w", err)
	}
	for _, a := range msg.Attachments {
		if err := s.upload(ctx, s.opts.StatusChannel, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slack) upload(ctx context.Context, channel string, a Attachment) error {
	_, err := s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:   bytes.NewReader(a.Data),
		FileSize: len(a.Data),
		Filename: a.Name,
		Title:    a.Name,
		Channel:  channel,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to slack: %w", a.Name, err)
	}
	return nil
}

// Slack rejects empty text objects.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
