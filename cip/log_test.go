package cip

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTags(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"hello #world", []string{"world"}},
		{"#a#b#c glued", []string{"a", "b", "c"}},
		{"bare # is ignored", nil},
		{"#", nil},
		{"trailing #", nil},
		{"#123 numbers #ok2", []string{"123", "ok2"}},
		{"punct #tag! stops", []string{"tag"}},
		{"no tags at all", nil},
		{"##double", []string{"double"}},
		{"case #Tag #tag", []string{"Tag", "tag"}},
	}
	for _, c := range cases {
		cip := &Cip{Text: c.text, Tags: extractTags(c.text)}
		assert.Equal(t, c.want, nilIfEmpty(cip.Hashtags()), "text=%q", c.text)
	}
}

func nilIfEmpty(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	return ss
}

func TestAppendMonotoneAcrossClockStep(t *testing.T) {
	l := NewLog()
	ts := time.Unix(1000, 0)
	l.now = func() time.Time { return ts }

	l.Append("a@x", "one")
	ts = time.Unix(990, 0) // clock stepped backwards
	c := l.Append("a@x", "two")
	assert.Equal(t, int64(1000), c.TS, "timestamp pinned to predecessor")

	got := l.Since(0, map[string]bool{"a@x": true})
	require.Len(t, got, 2)
	assert.LessOrEqual(t, got[0].TS, got[1].TS)
}

func TestSinceFilters(t *testing.T) {
	l := NewLog()
	ts := int64(100)
	l.now = func() time.Time { return time.Unix(ts, 0) }

	l.Append("bob@x", "hello #world")
	ts = 200
	l.Append("carol@x", "hi")
	ts = 300
	l.Append("dave@x", "not followed")

	follows := map[string]bool{"bob@x": true, "carol@x": true}

	got := l.Since(0, follows)
	require.Len(t, got, 2)
	assert.Equal(t, "bob@x", got[0].Author, "oldest first")
	assert.Equal(t, "carol@x", got[1].Author)

	// strict ts > since
	got = l.Since(100, follows)
	require.Len(t, got, 1)
	assert.Equal(t, "carol@x", got[0].Author)

	assert.Empty(t, l.Since(300, follows))
	assert.Empty(t, l.Since(0, nil), "empty filter set selects nothing")
	assert.Empty(t, l.Since(0, map[string]bool{}))
}

func TestHashtagsSince(t *testing.T) {
	l := NewLog()
	ts := int64(100)
	l.now = func() time.Time { return time.Unix(ts, 0) }

	l.Append("a@x", "#go #go #fast")
	ts = 200
	l.Append("b@x", "more #go")

	got := l.HashtagsSince(0)
	assert.Equal(t, []TagCount{{"fast", 1}, {"go", 3}}, got)

	// hashtags are global, no author filter, strict window
	got = l.HashtagsSince(100)
	assert.Equal(t, []TagCount{{"go", 1}}, got)

	assert.Empty(t, l.HashtagsSince(200))
}

func TestConcurrentAppend(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	const writers, per = 8, 50
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			author := fmt.Sprintf("w%d@x", w)
			for i := 0; i < per; i++ {
				l.Append(author, "tick #load")
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, writers*per, l.Len())
	authors := make(map[string]bool)
	for w := 0; w < writers; w++ {
		authors[fmt.Sprintf("w%d@x", w)] = true
	}
	got := l.Since(0, authors)
	require.Len(t, got, writers*per)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].TS, got[i].TS)
	}
	tally := l.HashtagsSince(0)
	require.Len(t, tally, 1)
	assert.Equal(t, TagCount{"load", writers * per}, tally[0])
}
