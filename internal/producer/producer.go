package producer

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"snowballrss/internal/domain"
	"snowballrss/internal/feed"
)

// Crasher is told about failures the process must not survive.
type Crasher interface {
	OnUnexpectedExit(ctx context.Context, reason string)
}

// Options configures a Producer.
type Options struct {
	// SeenSet seeds the dedup memory. The producer takes ownership of it.
	SeenSet SeenSet
	// MaxKept bounds the SeenSet. Defaults to DefaultMaxKept.
	MaxKept int
}

// ProduceOptions tunes a single ProduceNew call.
type ProduceOptions struct {
	// IsFirstRun only fills the SeenSet and returns no posts.
	IsFirstRun bool
}

// Producer fetches a feed and returns the posts it has not seen before.
// ProduceNew must not be called concurrently; the scheduler never overlaps runs.
type Producer struct {
	fetcher feed.Fetcher
	crasher Crasher
	log     logrus.FieldLogger

	seen    SeenSet
	floor   time.Time
	maxKept int
}

// New creates a producer. The floor starts at the oldest seeded entry.
func New(fetcher feed.Fetcher, crasher Crasher, logger logrus.FieldLogger, opts Options) *Producer {
	seen := opts.SeenSet
	if seen == nil {
		seen = SeenSet{}
	}
	maxKept := opts.MaxKept
	if maxKept <= 0 {
		maxKept = DefaultMaxKept
	}
	return &Producer{
		fetcher: fetcher,
		crasher: crasher,
		log:     logger.WithField("component", "producer"),
		seen:    seen,
		floor:   seen.oldest(),
		maxKept: maxKept,
	}
}

// ProduceNew fetches feedID and returns its new posts, oldest first.
// Parse failures go to the Crasher; network failures yield no posts and are
// retried by the next cycle.
func (p *Producer) ProduceNew(ctx context.Context, feedID string, opts ProduceOptions) []*domain.EnrichedPost {
	log := p.log.WithField("feed_id", feedID)

	snapshot, err := p.fetcher.Fetch(ctx, feedID)
	if err != nil {
		if cause := feed.ParseCause(err); cause != nil {
			p.crasher.OnUnexpectedExit(ctx, "parsing error: "+cause.Error())
			return nil
		}
		log.WithError(err).Error("Fetch error")
		return nil
	}
	log.WithFields(logrus.Fields{
		"update_time": snapshot.UpdateTime,
		"post_count":  len(snapshot.Posts),
	}).Debug("Fetch success")

	newPosts := p.findNewPosts(snapshot.Posts)
	for _, post := range newPosts {
		p.seen[post.Link] = post.PublishedTime
		if !opts.IsFirstRun {
			log.WithFields(logrus.Fields{
				"link":      post.Link,
				"title":     post.Title,
				"published": post.PublishedTime,
			}).Info("Found new post, push to queue")
		}
	}
	if removed := p.seen.evict(p.maxKept); removed > 0 {
		log.WithFields(logrus.Fields{
			"removed": removed,
			"kept":    len(p.seen),
		}).Debug("Evicted old post links")
	}
	if oldest := p.seen.oldest(); oldest.After(p.floor) {
		p.floor = oldest
	}

	if opts.IsFirstRun {
		log.WithField("seen_count", len(p.seen)).Info("First run, seen posts recorded without notifying")
		return nil
	}

	out := make([]*domain.EnrichedPost, 0, len(newPosts))
	for _, post := range newPosts {
		post.Author = snapshot.Author
		out = append(out, domain.NewEnrichedPost(post))
	}
	return out
}

// findNewPosts returns, oldest first, the posts whose link is unknown and
// which are not older than the floor.
func (p *Producer) findNewPosts(posts []domain.Post) []domain.Post {
	candidates := append([]domain.Post(nil), posts...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PublishedTime.Before(candidates[j].PublishedTime)
	})

	inSnapshot := make(map[string]bool, len(candidates))
	var newPosts []domain.Post
	for _, post := range candidates {
		if _, ok := p.seen[post.Link]; ok || inSnapshot[post.Link] {
			continue
		}
		if post.PublishedTime.Before(p.floor) {
			continue
		}
		inSnapshot[post.Link] = true
		newPosts = append(newPosts, post)
	}
	return newPosts
}

// SeenCount returns the number of links currently remembered.
func (p *Producer) SeenCount() int {
	return len(p.seen)
}

// Floor returns the oldest published time still remembered.
func (p *Producer) Floor() time.Time {
	return p.floor
}
