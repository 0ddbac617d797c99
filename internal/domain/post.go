package domain

import "time"

// Post represents one entry of a fetched feed. It is never mutated after parsing.
type Post struct {
	// Title of the post as reported by the feed.
	Title string `json:"title"`

	// Content is the post body with HTML stripped.
	Content string `json:"content"`

	// PublishedTime is when the author published the post.
	PublishedTime time.Time `json:"published_time"`

	// Link is the unique identifier of the post within a feed snapshot.
	Link string `json:"link"`

	// Author is the display name extracted from the feed title.
	Author string `json:"author"`
}

// Feed is one fetched snapshot of a user's timeline.
type Feed struct {
	UpdateTime time.Time `json:"update_time"`
	Author     string    `json:"author"`
	Posts      []Post    `json:"posts"`
}

// Screenshot tracks capture attempts for a queued post.
// Content stays nil until a capture succeeds.
type Screenshot struct {
	Content    []byte
	TriedTimes int
}

// EnrichedPost is a Post waiting in the delivery queue.
type EnrichedPost struct {
	Post
	Screenshot *Screenshot
	// Attempts counts delivery attempts.
	Attempts int
}

// NewEnrichedPost wraps a post with no screenshot attached yet.
func NewEnrichedPost(p Post) *EnrichedPost {
	return &EnrichedPost{Post: p}
}

// Ready reports whether the post has a captured screenshot and can be delivered.
func (p *EnrichedPost) Ready() bool {
	return p.Screenshot != nil && p.Screenshot.Content != nil
}

// Delivery records one successfully delivered post.
type Delivery struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	Link          string    `json:"link"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	PublishedTime time.Time `json:"published_time"`
	DeliveredAt   time.Time `json:"delivered_at"`
	Attempts      int       `json:"attempts"`
}
