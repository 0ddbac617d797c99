// Package app wires the producer, both consumers and their schedulers
// around one shared queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/consumer"
	"snowballrss/internal/feed"
	"snowballrss/internal/producer"
	"snowballrss/internal/queue"
	"snowballrss/internal/scheduler"
	"snowballrss/internal/screenshot"
)

// Exiter ends the process after telling the admin why.
type Exiter interface {
	OnUnexpectedExit(ctx context.Context, reason string)
	OnExpectedExit(ctx context.Context, reason string)
}

// Deps are the external collaborators of a Pipeline.
type Deps struct {
	Fetcher  feed.Fetcher
	Capturer screenshot.Capturer
	Sender   consumer.Sender
	Exiter   Exiter
	// Recorder is optional.
	Recorder consumer.Recorder
}

// Options configures a Pipeline.
type Options struct {
	FeedID             string
	MaxKept            int
	ProducerInterval   time.Duration
	ScreenshotInterval time.Duration
	DeliveryInterval   time.Duration
}

// Pipeline runs the three recurring jobs of the service.
type Pipeline struct {
	queue      *queue.Queue
	producer   *producer.Producer
	shots      *consumer.ScreenshotConsumer
	delivery   *consumer.DeliveryConsumer
	exiter     Exiter
	feedID     string
	schedulers []*scheduler.Scheduler
	done       chan struct{}
	log        logrus.FieldLogger
}

// NewPipeline builds the queue, the components and their schedulers.
func NewPipeline(deps Deps, opts Options, logger logrus.FieldLogger) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Capturer == nil || deps.Sender == nil || deps.Exiter == nil {
		return nil, errors.New("app: fetcher, capturer, sender and exiter are required")
	}
	if opts.FeedID == "" {
		return nil, errors.New("app: feed id is required")
	}
	q := queue.New()
	p := &Pipeline{
		queue:    q,
		producer: producer.New(deps.Fetcher, deps.Exiter, logger, producer.Options{MaxKept: opts.MaxKept}),
		shots:    consumer.NewScreenshotConsumer(deps.Capturer, q, logger),
		delivery: consumer.NewDeliveryConsumer(deps.Sender, q, logger, deps.Recorder),
		exiter:   deps.Exiter,
		feedID:   opts.FeedID,
		done:     make(chan struct{}),
		log:      logger.WithField("component", "pipeline"),
	}

	jobs := []struct {
		name     string
		interval time.Duration
		work     scheduler.Work
	}{
		{"producer", opts.ProducerInterval, p.produce},
		{"screenshot", opts.ScreenshotInterval, p.capture},
		{"delivery", opts.DeliveryInterval, p.deliver},
	}
	for _, job := range jobs {
		name := job.name
		s, err := scheduler.New(scheduler.Options{
			Name:      name,
			Interval:  job.interval,
			Immediate: true,
			Work:      job.work,
			OnStop:    func(reason scheduler.StopReason) { p.onStop(name, reason) },
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s scheduler: %w", name, err)
		}
		p.schedulers = append(p.schedulers, s)
	}
	return p, nil
}

// Queue exposes the shared queue for inspection.
func (p *Pipeline) Queue() *queue.Queue {
	return p.queue
}

// Start launches every scheduler. ctx bounds the whole pipeline.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, s := range p.schedulers {
		if err := s.Start(ctx); err != nil {
			p.Stop()
			return err
		}
	}
	go func() {
		for _, s := range p.schedulers {
			<-s.Done()
		}
		close(p.done)
	}()
	p.log.WithField("feed_id", p.feedID).Info("Pipeline started")
	return nil
}

// Stop prevents future runs. Runs in flight finish on their own.
func (p *Pipeline) Stop() {
	for _, s := range p.schedulers {
		s.Stop()
	}
}

// Done is closed once every scheduler has stopped.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) produce(ctx context.Context, runCount int) (scheduler.WorkResult, error) {
	posts := p.producer.ProduceNew(ctx, p.feedID, producer.ProduceOptions{IsFirstRun: runCount == 0})
	p.queue.Push(posts...)
	p.log.WithFields(logrus.Fields{
		"new_posts": len(posts),
		"queued":    p.queue.Len(),
		"run":       runCount,
	}).Debug("Producer cycle done")
	return scheduler.WorkResult{ShouldContinue: true}, nil
}

func (p *Pipeline) capture(ctx context.Context, _ int) (scheduler.WorkResult, error) {
	p.shots.Consume(ctx)
	return scheduler.WorkResult{ShouldContinue: true}, nil
}

func (p *Pipeline) deliver(ctx context.Context, _ int) (scheduler.WorkResult, error) {
	p.delivery.ConsumeOne(ctx)
	return scheduler.WorkResult{ShouldContinue: true}, nil
}

// A job that dies leaves the service half working, so it takes the
// process down.
func (p *Pipeline) onStop(name string, reason scheduler.StopReason) {
	log := p.log.WithFields(logrus.Fields{"scheduler": name, "reason": reason})
	if reason != scheduler.StopReasonFailed {
		log.Info("Scheduler stopped")
		return
	}
	log.Error("Scheduler failed")
	p.exiter.OnUnexpectedExit(context.Background(), fmt.Sprintf("%s scheduler stopped: %s", name, reason))
}
