// Package crash reports process exits to the service admin.
package crash

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/notify"
)

const DefaultNotifyTimeout = 30 * time.Second

// Options configures a Helper.
type Options struct {
	// LogFile is attached to crash reports when it exists.
	LogFile string
	// Label identifies the instance, e.g. the bot account.
	Label string
	// Shutdown runs after the admin is notified and before Exit. It releases
	// what deferred calls would have, since Exit skips them.
	Shutdown func()
	// Exit defaults to os.Exit.
	Exit          func(code int)
	NotifyTimeout time.Duration
}

// Helper notifies the admin and then exits the process. Only the first
// exit request is honoured.
type Helper struct {
	notifier notify.Notifier
	log      logrus.FieldLogger
	opts     Options
	once     sync.Once
}

// New creates a Helper.
func New(notifier notify.Notifier, logger logrus.FieldLogger, opts Options) *Helper {
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	return &Helper{
		notifier: notifier,
		log:      logger.WithField("component", "crash"),
		opts:     opts,
	}
}

// OnUnexpectedExit sends a crash report with the log file and exits with 1.
func (h *Helper) OnUnexpectedExit(ctx context.Context, reason string) {
	h.once.Do(func() {
		h.log.WithField("reason", reason).Error("Service crashed")
		msg := notify.Message{Text: h.text("[fatal] service down\n" + reason)}
		if a, ok := h.logAttachment(); ok {
			msg.Attachments = append(msg.Attachments, a)
		}
		h.notify(ctx, msg)
		h.exit()
	})
}

// OnExpectedExit tells the admin why the service stopped and exits with 1.
func (h *Helper) OnExpectedExit(ctx context.Context, reason string) {
	h.once.Do(func() {
		h.log.WithField("reason", reason).Warn("Service going down")
		h.notify(ctx, notify.Message{Text: h.text("Service down, due to " + reason)})
		h.exit()
	})
}

func (h *Helper) exit() {
	if h.opts.Shutdown != nil {
		h.opts.Shutdown()
	}
	h.opts.Exit(1)
}

func (h *Helper) text(s string) string {
	if h.opts.Label == "" {
		return s
	}
	return s + "\naccount: " + h.opts.Label
}

func (h *Helper) logAttachment() (notify.Attachment, bool) {
	if h.opts.LogFile == "" {
		return notify.Attachment{}, false
	}
	data, err := os.ReadFile(h.opts.LogFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.log.WithField("path", h.opts.LogFile).Error("Can not attach log file in crash report")
		} else {
			h.log.WithError(err).Error("Failed to read log file")
		}
		return notify.Attachment{}, false
	}
	return notify.Attachment{Name: filepath.Base(h.opts.LogFile), Data: data}, true
}

// notify outlives a cancelled ctx so shutdown reports still go out.
func (h *Helper) notify(ctx context.Context, msg notify.Message) {
	if h.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.NotifyTimeout)
	defer cancel()
	if err := h.notifier.Notify(ctx, msg); err != nil {
		h.log.WithError(err).Error("Failed to notify admin")
		return
	}
	h.log.Info("Admin has been notified")
}
