package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snowballrss/internal/config"
	"snowballrss/internal/notify"
)

var sendTestEmail bool

var emailCmd = &cobra.Command{
	Use:   "by-email",
	Short: "Forward posts to mail subscribers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd, config.Config.ValidateMail, buildMail)
	},
}

var slackCmd = &cobra.Command{
	Use:   "by-slack",
	Short: "Forward posts to a Slack channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd, config.Config.ValidateSlack, buildSlack)
	},
}

var qqCmd = &cobra.Command{
	Use:   "by-qq",
	Short: "Forward posts to a QQ group through a OneBot endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd, config.Config.ValidateQQ, buildQQ)
	},
}

var telegramCmd = &cobra.Command{
	Use:   "by-telegram",
	Short: "Forward posts to a Telegram chat",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd, config.Config.ValidateTelegram, buildTelegram)
	},
}

func init() {
	emailCmd.Flags().BoolVar(&sendTestEmail, "send-test-email", false, "mail the admin once at start up to check SMTP credentials")
	rootCmd.AddCommand(emailCmd, slackCmd, qqCmd, telegramCmd)
}

func buildMail(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (channel, error) {
	m := notify.NewMail(notify.MailOptions{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		From:        cfg.Mail.From,
		Subscribers: cfg.Mail.Subscribers,
		Admin:       cfg.Mail.Admin,
	}, logger)
	if sendTestEmail {
		if err := m.SendTest(ctx); err != nil {
			return channel{}, fmt.Errorf("test email: %w", err)
		}
	}
	return channel{sender: m, notifier: m, label: cfg.Mail.Username}, nil
}

func buildSlack(_ context.Context, cfg config.Config, logger logrus.FieldLogger) (channel, error) {
	s := notify.NewSlack(notify.SlackOptions{
		Token:         cfg.Slack.Token,
		NotifyChannel: cfg.Slack.NotifyChannel,
		StatusChannel: cfg.Slack.StatusChannel,
	}, logger)
	return channel{sender: s, notifier: s}, nil
}

func buildQQ(_ context.Context, cfg config.Config, logger logrus.FieldLogger) (channel, error) {
	q := notify.NewQQ(notify.QQOptions{
		Endpoint:    cfg.QQ.Endpoint,
		AccessToken: cfg.QQ.AccessToken,
		GroupID:     cfg.QQ.GroupID,
		AdminID:     cfg.QQ.AdminID,
	}, logger)
	ch := channel{
		sender:    q,
		label:     cfg.QQ.Account,
		watermark: fmt.Sprintf("QQ Qun: %d", cfg.QQ.GroupID),
	}
	if cfg.QQ.AdminID != 0 {
		ch.notifier = q
	}
	return ch, nil
}

func buildTelegram(_ context.Context, cfg config.Config, logger logrus.FieldLogger) (channel, error) {
	tg, err := notify.NewTelegram(notify.TelegramOptions{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		AdminChatID: cfg.Telegram.AdminChatID,
	}, logger)
	if err != nil {
		return channel{}, err
	}
	ch := channel{sender: tg}
	if cfg.Telegram.AdminChatID != 0 {
		ch.notifier = tg
	}
	return ch, nil
}
