package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snowballrss/internal/app"
	"snowballrss/internal/config"
	"snowballrss/internal/consumer"
	"snowballrss/internal/crash"
	"snowballrss/internal/feed"
	"snowballrss/internal/logging"
	"snowballrss/internal/notify"
	"snowballrss/internal/screenshot"
	"snowballrss/internal/storage"
)

// channel is what a by-* command contributes to the service.
type channel struct {
	sender   consumer.Sender
	notifier notify.Notifier
	// label identifies the account in status messages.
	label string
	// watermark is stamped on screenshots when set.
	watermark string
}

type channelBuilder func(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (channel, error)

// runService loads config and runs the pipeline until a signal arrives.
func runService(cmd *cobra.Command, validate func(config.Config) error, build channelBuilder) error {
	cfg, err := config.LoadConfig(configDir, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
	if err != nil {
		return err
	}
	release := &cleanup{log: logger}
	release.add(logger.Close)
	defer release.run()
	logger.WithFields(logrus.Fields{
		"feed_id":  cfg.FeedID,
		"command":  cmd.Name(),
		"log_file": logger.FilePath(),
	}).Info("Configuration loaded successfully")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ch, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	notifier, err := withDiscord(ch.notifier, cfg, logger)
	if err != nil {
		return err
	}
	exiter := crash.New(notifier, logger, crash.Options{
		LogFile:  logger.FilePath(),
		Label:    ch.label,
		Shutdown: release.run,
	})

	capturer, err := buildCapturer(ctx, cfg, ch.watermark, logger)
	if err != nil {
		return err
	}

	deps := app.Deps{
		Fetcher: feed.NewRSSHubFetcher(feed.Options{
			BaseURL:     cfg.Feed.BaseURL,
			TitleSuffix: cfg.Feed.TitleSuffix,
			Timeout:     cfg.Feed.Timeout,
		}, logger),
		Capturer: capturer,
		Sender:   ch.sender,
		Exiter:   exiter,
	}
	if cfg.Storage.Path != "" {
		repo, err := storage.NewBadgerRepository(cfg.Storage.Path, logger)
		if err != nil {
			return err
		}
		release.add(repo.Close)
		deps.Recorder = repo
	}

	pipeline, err := app.NewPipeline(deps, app.Options{
		FeedID:             cfg.FeedID,
		MaxKept:            cfg.Producer.MaxKept,
		ProducerInterval:   cfg.Intervals.Producer,
		ScreenshotInterval: cfg.Intervals.Screenshot,
		DeliveryInterval:   cfg.Intervals.Delivery,
	}, logger)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(signals)

	return app.Run(ctx, pipeline, app.RunOptions{
		Notifier: notifier,
		Exiter:   exiter,
		Signals:  signals,
		Label:    ch.label,
	}, logger)
}

// cleanup releases resources once, most recent first. The crash helper
// exits with os.Exit, which skips deferred calls, so it runs cleanup itself.
type cleanup struct {
	once  sync.Once
	mu    sync.Mutex
	funcs []func() error
	log   logrus.FieldLogger
}

func (c *cleanup) add(f func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
}

func (c *cleanup) run() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := len(c.funcs) - 1; i >= 0; i-- {
			if err := c.funcs[i](); err != nil {
				c.log.WithError(err).Warn("Failed to release resource")
			}
		}
	})
}

// withDiscord adds the Discord status channel when it is configured.
func withDiscord(n notify.Notifier, cfg config.Config, logger logrus.FieldLogger) (notify.Notifier, error) {
	if cfg.Discord.Token == "" {
		return n, nil
	}
	d, err := notify.NewDiscord(notify.DiscordOptions{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID}, logger)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return d, nil
	}
	return notify.Multi{n, d}, nil
}

func buildCapturer(ctx context.Context, cfg config.Config, watermark string, logger logrus.FieldLogger) (screenshot.Capturer, error) {
	var c screenshot.Capturer = screenshot.NewRodCapturer(screenshot.RodOptions{
		BrowserBin:  cfg.Screenshot.BrowserBin,
		PageTimeout: cfg.Screenshot.PageTimeout,
		SettleDelay: cfg.Screenshot.SettleDelay,
	}, logger)

	if sc := cfg.Screenshot; sc.S3Bucket != "" {
		var opts []func(*awsconfig.LoadOptions) error
		if sc.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(sc.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		c = screenshot.NewArchiveCapturer(c, screenshot.NewS3Uploader(awsCfg, sc.S3Endpoint), sc.S3Bucket, sc.S3Prefix, logger)
	}

	if watermark != "" {
		c = screenshot.NewWatermarkCapturer(c, watermark, screenshot.DefaultWatermarkPosition, logger)
	}
	return c, nil
}
