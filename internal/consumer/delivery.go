package consumer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
	"snowballrss/internal/queue"
)

// Sender delivers one post to a channel.
type Sender interface {
	Send(ctx context.Context, post domain.Post, screenshot []byte) error
	Name() string
}

// Recorder keeps a history of delivered posts.
type Recorder interface {
	SaveDelivery(ctx context.Context, d domain.Delivery) error
}

// DeliveryConsumer sends at most one ready post per call.
type DeliveryConsumer struct {
	sender   Sender
	queue    *queue.Queue
	recorder Recorder
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewDeliveryConsumer creates a consumer working on q. recorder may be nil.
func NewDeliveryConsumer(sender Sender, q *queue.Queue, logger logrus.FieldLogger, recorder Recorder) *DeliveryConsumer {
	return &DeliveryConsumer{
		sender:   sender,
		queue:    q,
		recorder: recorder,
		log: logger.WithFields(logrus.Fields{
			"component": "delivery_consumer",
			"channel":   sender.Name(),
		}),
		now: time.Now,
	}
}

// ConsumeOne takes the first post with a screenshot and sends it. A failed
// post goes back to the end of the queue. It reports whether a post was
// delivered.
func (c *DeliveryConsumer) ConsumeOne(ctx context.Context) bool {
	p, ok := c.queue.TakeFirstReady()
	if !ok {
		c.log.Debug("No posts with screenshot found")
		return false
	}
	// p is out of the queue, so no other consumer can see it until Requeue.
	p.Attempts++
	log := c.log.WithFields(logrus.Fields{"link": p.Link, "attempts": p.Attempts})

	if err := c.sender.Send(ctx, p.Post, p.Screenshot.Content); err != nil {
		log.WithError(err).Error("Failed to deliver post, requeueing")
		c.queue.Requeue(p)
		return false
	}
	log.Info("Post delivered")
	c.record(ctx, p, log)
	return true
}

func (c *DeliveryConsumer) record(ctx context.Context, p *domain.EnrichedPost, log logrus.FieldLogger) {
	if c.recorder == nil {
		return
	}
	d := domain.Delivery{
		ID:            uuid.NewString(),
		Channel:       c.sender.Name(),
		Link:          p.Link,
		Title:         p.Title,
		Author:        p.Author,
		PublishedTime: p.PublishedTime,
		DeliveredAt:   c.now(),
		Attempts:      p.Attempts,
	}
	if err := c.recorder.SaveDelivery(ctx, d); err != nil {
		log.WithError(err).Warn("Failed to record delivery")
	}
}
