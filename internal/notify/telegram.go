package notify

import (
	"bytes"
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
)

// Telegram limits photo captions to 1024 characters.
const telegramCaptionLimit = 1024

// TelegramOptions configures the Telegram channel.
type TelegramOptions struct {
	Token       string
	ChatID      int64
	AdminChatID int64
}

type telegramClient interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *tgbot.SendPhotoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *tgbot.SendDocumentParams) (*models.Message, error)
}

// Telegram posts screenshots to a chat through the Bot API.
type Telegram struct {
	opts   TelegramOptions
	client telegramClient
	log    logrus.FieldLogger
}

// NewTelegram creates the bot client. The token is checked against the Bot
// API unless options say otherwise.
func NewTelegram(opts TelegramOptions, logger logrus.FieldLogger, options ...tgbot.Option) (*Telegram, error) {
	log := logger.WithField("component", "telegram")

	b, err := tgbot.New(opts.Token, options...)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info("Telegram bot initialized")
	return &Telegram{opts: opts, client: b, log: log}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// TelegramCaption is the photo caption for a post.
func TelegramCaption(post domain.Post) string {
	caption := post.Title + "\n" + post.Link
	if r := []rune(caption); len(r) > telegramCaptionLimit {
		// Keep the link intact.
		title := []rune(post.Title)
		keep := telegramCaptionLimit - len([]rune(post.Link)) - 2
		if keep < 0 {
			keep = 0
		}
		caption = string(title[:keep]) + "…\n" + post.Link
	}
	return caption
}

func (t *Telegram) Send(ctx context.Context, post domain.Post, screenshot []byte) error {
	log := t.log.WithFields(logrus.Fields{"link": post.Link, "chat_id": t.opts.ChatID})

	_, err := t.client.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:  t.opts.ChatID,
		Photo:   &models.InputFileUpload{Filename: ScreenshotName, Data: bytes.NewReader(screenshot)},
		Caption: TelegramCaption(post),
	})
	if err != nil {
		log.WithError(err).Error("Failed to send telegram photo")
		return fmt.Errorf("failed to send telegram photo: %w", err)
	}
	log.Info("Telegram photo sent")
	return nil
}

// Notify messages the admin chat. Attachments go out as documents.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if t.opts.AdminChatID == 0 {
		return fmt.Errorf("telegram: no admin chat: %w", ErrNotConfigured)
	}
	_, err := t.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: t.opts.AdminChatID,
		Text:   msg.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	for _, a := range msg.Attachments {
		_, err := t.client.SendDocument(ctx, &tgbot.SendDocumentParams{
			ChatID:   t.opts.AdminChatID,
			Document: &models.InputFileUpload{Filename: a.Name, Data: bytes.NewReader(a.Data)},
		})
		if err != nil {
			return fmt.Errorf("failed to send telegram document %s: %w", a.Name, err)
		}
	}
	return nil
}
