// Package cip implements the in-memory cip log: append-only,
// timestamped short messages with hashtag extraction and time-windowed
// queries.
package cip

import (
	"sort"
	"sync"
	"time"
)

// MaxTextLen is the longest accepted cip text, in bytes.
const MaxTextLen = 280

// Tag locates one hashtag inside a cip's text, excluding the leading
// '#'. Offsets refer to the Text field.
type Tag struct {
	Off int
	Len int
}

// Cip is one published message. Cips are immutable after insertion.
type Cip struct {
	TS     int64
	Author string
	Text   string
	Tags   []Tag
}

// Hashtags returns the tag strings of c, in text order.
func (c *Cip) Hashtags() []string {
	out := make([]string, len(c.Tags))
	for i, t := range c.Tags {
		out[i] = c.Text[t.Off : t.Off+t.Len]
	}
	return out
}

// TagCount is one entry of a hashtag tally.
type TagCount struct {
	Tag   string
	Count int
}

// Log is the process-wide cip log. Writers are serialized by the log
// mutex; readers always observe a prefix of fully constructed cips.
type Log struct {
	mu   sync.RWMutex
	cips []*Cip

	// now is stubbed in tests
	now func() time.Time
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Len returns the number of cips appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cips)
}

// Append publishes a cip, stamping it under the append lock so
// timestamps are non-decreasing in log order even across clock steps.
func (l *Log) Append(author, text string) *Cip {
	c := &Cip{
		Author: author,
		Text:   text,
		Tags:   extractTags(text),
	}
	l.mu.Lock()
	c.TS = l.now().Unix()
	if n := len(l.cips); n > 0 && l.cips[n-1].TS > c.TS {
		c.TS = l.cips[n-1].TS
	}
	l.cips = append(l.cips, c)
	l.mu.Unlock()
	return c
}

// extractTags scans text for hashtags: each '#' followed by one or
// more alphanumeric bytes yields a tag; a bare '#' is ignored, and
// several '#' inside one token yield separate tags.
func extractTags(text string) []Tag {
	var tags []Tag
	for i := 0; i < len(text); {
		if text[i] != '#' {
			i++
			continue
		}
		j := i + 1
		for j < len(text) && isAlnum(text[j]) {
			j++
		}
		if j > i+1 {
			tags = append(tags, Tag{Off: i + 1, Len: j - i - 1})
		}
		i = j
	}
	return tags
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// window returns the index of the first cip with TS > since. Caller
// holds at least a read lock.
func (l *Log) window(since int64) int {
	i := len(l.cips)
	for i > 0 && l.cips[i-1].TS > since {
		i--
	}
	return i
}

// Since returns, oldest first, the cips newer than since whose author
// is in authors. An empty or nil filter set selects nothing.
func (l *Log) Since(since int64, authors map[string]bool) []*Cip {
	if len(authors) == 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Cip
	for _, c := range l.cips[l.window(since):] {
		if authors[c.Author] {
			out = append(out, c)
		}
	}
	return out
}

// HashtagsSince tallies hashtag occurrences over all cips newer than
// since, with no author filter. Entries come back sorted by tag so
// replies are deterministic.
func (l *Log) HashtagsSince(since int64) []TagCount {
	l.mu.RLock()
	counts := make(map[string]int)
	for _, c := range l.cips[l.window(since):] {
		for _, tag := range c.Hashtags() {
			counts[tag]++
		}
	}
	l.mu.RUnlock()

	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
