package queue

import (
	"sync"

	"snowballrss/internal/domain"
)

// Queue is the in-memory post queue shared by the producer and both consumers.
// Every read-then-mutate sequence is a single locked method, so callers never
// hold the lock across capture or delivery I/O.
type Queue struct {
	mu    sync.Mutex
	posts []*domain.EnrichedPost
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends posts to the end of the queue.
func (q *Queue) Push(posts ...*domain.EnrichedPost) {
	if len(posts) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.posts = append(q.posts, posts...)
}

// Len returns the number of queued posts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.posts)
}

// PendingScreenshots returns, in queue order, the posts still lacking a
// captured screenshot.
func (q *Queue) PendingScreenshots() []*domain.EnrichedPost {
	q.mu.Lock()
	defer q.mu.Unlock()
	var pending []*domain.EnrichedPost
	for _, p := range q.posts {
		if !p.Ready() {
			pending = append(pending, p)
		}
	}
	return pending
}

// RecordAttempt counts one capture attempt for p and returns the new total.
func (q *Queue) RecordAttempt(p *domain.EnrichedPost) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.Screenshot == nil {
		p.Screenshot = &domain.Screenshot{}
	}
	p.Screenshot.TriedTimes++
	return p.Screenshot.TriedTimes
}

// AttachScreenshot stores a captured image on p.
func (q *Queue) AttachScreenshot(p *domain.EnrichedPost, content []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.Screenshot == nil {
		p.Screenshot = &domain.Screenshot{TriedTimes: 1}
	}
	p.Screenshot.Content = content
}

// TakeFirstReady removes and returns the first post with a captured
// screenshot. The relative order of the remaining posts is preserved.
func (q *Queue) TakeFirstReady() (*domain.EnrichedPost, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for idx, p := range q.posts {
		if !p.Ready() {
			continue
		}
		q.posts = append(q.posts[:idx], q.posts[idx+1:]...)
		return p, true
	}
	return nil, false
}

// Requeue puts a post whose delivery failed back at the end of the queue.
func (q *Queue) Requeue(p *domain.EnrichedPost) {
	q.Push(p)
}

// Snapshot returns copies of the queued posts for inspection.
func (q *Queue) Snapshot() []domain.EnrichedPost {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.EnrichedPost, 0, len(q.posts))
	for _, p := range q.posts {
		c := *p
		if p.Screenshot != nil {
			s := *p.Screenshot
			c.Screenshot = &s
		}
		out = append(out, c)
	}
	return out
}
