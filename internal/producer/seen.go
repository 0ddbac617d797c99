package producer

import (
	"sort"
	"time"
)

// DefaultMaxKept is the SeenSet capacity used when none is configured.
const DefaultMaxKept = 255

// SeenSet maps a post link to its published time.
type SeenSet map[string]time.Time

type seenEntry struct {
	link      string
	published time.Time
}

// oldest returns the oldest published time in the set, or the zero time
// for an empty set.
func (s SeenSet) oldest() time.Time {
	var floor time.Time
	first := true
	for _, t := range s {
		if first || t.Before(floor) {
			floor = t
			first = false
		}
	}
	return floor
}

// evict removes the oldest entries once the set holds more than max links,
// leaving about max/2 of the most recent ones and never fewer than one.
// Links sharing a published time are kept or removed together, so every
// removed link is strictly older than the oldest survivor. It returns how
// many were removed.
func (s SeenSet) evict(max int) int {
	if len(s) <= max {
		return 0
	}
	entries := make([]seenEntry, 0, len(s))
	for link, t := range s {
		entries = append(entries, seenEntry{link: link, published: t})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].published.Equal(entries[j].published) {
			return entries[i].link < entries[j].link
		}
		return entries[i].published.Before(entries[j].published)
	})
	keep := max / 2
	if keep < 1 {
		keep = 1
	}
	remove := len(entries) - keep
	boundary := entries[remove].published
	for remove > 0 && entries[remove-1].published.Equal(boundary) {
		remove--
	}
	for _, e := range entries[:remove] {
		delete(s, e.link)
	}
	return remove
}
