package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/notify"
)

// RunOptions configures Run.
type RunOptions struct {
	// Notifier receives the start up notice. Optional.
	Notifier notify.Notifier
	Exiter   Exiter
	// Signals ends the service with an expected exit.
	Signals <-chan os.Signal
	// Label is added to the start up notice.
	Label string
}

// Run starts p and blocks. A signal stops the pipeline and hands over to
// the Exiter. Cancelling ctx stops the pipeline and returns once every
// scheduler has stopped.
func Run(ctx context.Context, p *Pipeline, opts RunOptions, logger logrus.FieldLogger) error {
	log := logger.WithField("component", "app")

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	if opts.Notifier != nil {
		text := "Service up"
		if opts.Label != "" {
			text += "\naccount: " + opts.Label
		}
		if err := opts.Notifier.Notify(ctx, notify.Message{Text: text}); err != nil {
			log.WithError(err).Warn("Failed to announce service up")
		}
	}
	log.Info("Service is running")

	select {
	case sig := <-opts.Signals:
		log.WithField("signal", sig.String()).Info("Service down from signal")
		p.Stop()
		opts.Exiter.OnExpectedExit(ctx, "receiving "+sig.String())
		return nil
	case <-ctx.Done():
		p.Stop()
		<-p.Done()
		log.Info("Service stopped")
		return nil
	case <-p.Done():
		log.Warn("Every scheduler stopped")
		return nil
	}
}
