package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"snowballrss/internal/domain"
)

const MailSubject = "Subscribed message from snowball-rss"

// MailOptions configures the SMTP channel.
type MailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From        string
	Subscribers []string
	Admin       string
}

// mailDialer is satisfied by *gomail.Dialer.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mail sends posts to subscribers and status messages to the admin.
type Mail struct {
	opts   MailOptions
	dialer mailDialer
	log    logrus.FieldLogger
}

// NewMail creates a mail channel backed by an SMTP server.
func NewMail(opts MailOptions, logger logrus.FieldLogger) *Mail {
	if opts.From == "" {
		opts.From = opts.Username
	}
	return &Mail{
		opts:   opts,
		dialer: gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password),
		log:    logger.WithField("component", "mail"),
	}
}

func (m *Mail) Name() string { return "email" }

// MailBody renders the plain text body for a post.
func MailBody(post domain.Post) string {
	lines := []string{
		"Title:",
		post.Title,
		"",
		"",
		"Body:",
		post.Content,
		"",
		"",
		"Published at: " + post.PublishedTime.Format(time.RFC1123Z),
		"link: " + post.Link,
		"",
		"",
	}
	return strings.Join(lines, "\n")
}

func (m *Mail) Send(ctx context.Context, post domain.Post, screenshot []byte) error {
	if len(m.opts.Subscribers) == 0 {
		return fmt.Errorf("mail: no subscribers: %w", ErrNotConfigured)
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.opts.From)
	msg.SetHeader("To", m.opts.Subscribers...)
	msg.SetHeader("Subject", MailSubject)
	msg.SetBody("text/plain", MailBody(post))
	attach(msg, Attachment{Name: ScreenshotName, Data: screenshot}, "image/png")

	return m.send(msg, m.log.WithFields(logrus.Fields{
		"link":        post.Link,
		"subscribers": len(m.opts.Subscribers),
	}))
}

// SendTest mails the admin so SMTP credentials are checked before the
// first post arrives.
func (m *Mail) SendTest(ctx context.Context) error {
	if m.opts.Admin == "" {
		return fmt.Errorf("mail: no admin address: %w", ErrNotConfigured)
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.opts.From)
	msg.SetHeader("To", m.opts.Admin)
	msg.SetHeader("Subject", "testing email service")
	msg.SetBody("text/plain", "This email may go to junk mail, remember to have a check there as well.")
	return m.send(msg, m.log.WithField("to", m.opts.Admin))
}

// Notify mails msg to the admin address.
func (m *Mail) Notify(ctx context.Context, n Message) error {
	if m.opts.Admin == "" {
		return fmt.Errorf("mail: no admin address: %w", ErrNotConfigured)
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.opts.From)
	msg.SetHeader("To", m.opts.Admin)
	msg.SetHeader("Subject", "snowball-rss status")
	msg.SetBody("text/plain", n.Text)
	for _, a := range n.Attachments {
		attach(msg, a, "text/plain")
	}
	return m.send(msg, m.log.WithField("to", m.opts.Admin))
}

func (m *Mail) send(msg *gomail.Message, log logrus.FieldLogger) error {
	if err := m.dialer.DialAndSend(msg); err != nil {
		log.WithError(err).Error("Failed to send mail")
		return fmt.Errorf("failed to send mail: %w", err)
	}
	log.Info("Mail sent")
	return nil
}

func attach(msg *gomail.Message, a Attachment, contentType string) {
	data := a.Data
	msg.Attach(a.Name,
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}),
		gomail.SetHeader(map[string][]string{"Content-Type": {contentType}}),
	)
}
