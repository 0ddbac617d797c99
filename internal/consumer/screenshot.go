package consumer

import (
	"context"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/queue"
	"snowballrss/internal/screenshot"
)

// ScreenshotConsumer captures screenshots for queued posts. It never removes
// posts from the queue; a failed capture is retried on the next pass.
type ScreenshotConsumer struct {
	capturer screenshot.Capturer
	queue    *queue.Queue
	log      logrus.FieldLogger
}

// NewScreenshotConsumer creates a consumer working on q.
func NewScreenshotConsumer(capturer screenshot.Capturer, q *queue.Queue, logger logrus.FieldLogger) *ScreenshotConsumer {
	return &ScreenshotConsumer{
		capturer: capturer,
		queue:    q,
		log:      logger.WithField("component", "screenshot_consumer"),
	}
}

// Consume makes one capture attempt for every post still lacking a
// screenshot, in queue order.
func (c *ScreenshotConsumer) Consume(ctx context.Context) {
	for _, p := range c.queue.PendingScreenshots() {
		if ctx.Err() != nil {
			return
		}
		tried := c.queue.RecordAttempt(p)
		log := c.log.WithFields(logrus.Fields{
			"link":        p.Link,
			"tried_times": tried,
		})

		img, err := c.capturer.CapturePage(ctx, p.Link)
		if err != nil {
			log.WithError(err).Error("Failed to take screenshot")
			continue
		}
		c.queue.AttachScreenshot(p, img)
		log.Debug("Screenshot attached")
	}
}
