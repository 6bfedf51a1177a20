package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

const twoItemFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Changelog</title>
<item><guid>old-1</guid><title>Old post</title><description>first</description>
<pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate></item>
<item><guid>new-2</guid><title>New post</title><description>&lt;p&gt;second &lt;b&gt;entry&lt;/b&gt;&lt;/p&gt;</description>
<pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate></item>
</channel></rss>`

func TestRSSReturnsNewestUnseenEntry(t *testing.T) {
	t.Parallel()

	ff := &fakeFetcher{resp: ok("application/rss+xml", twoItemFeed)}
	a := NewRSS(ff, nil)
	src := monitor.Source{ID: "s1", URL: "https://example.com/feed.xml", Kind: monitor.KindRSS}

	res, err := a.Fetch(context.Background(), src, &monitor.Snapshot{ItemID: "old-1"})
	require.NoError(t, err)
	require.Equal(t, "new-2", res.ItemID)
	require.Equal(t, "New post", res.Title)
	require.Equal(t, "New post\nsecond entry", res.Text)
	require.Equal(t, monitor.IdentityItem, res.Identity)
	require.NotNil(t, res.ItemPublishedAt)
	require.Equal(t, 2, res.ItemPublishedAt.Day())
	require.Equal(t, sha256.Sum([]byte(twoItemFeed)), res.RawBytesHash)

	// Unchanged feed on the next call.
	res, err = a.Fetch(context.Background(), src, &monitor.Snapshot{ItemID: "new-2", ContentHash: "c2"})
	require.NoError(t, err)
	require.Equal(t, "new-2", res.ItemID)
	require.Empty(t, res.Text)
	require.Equal(t, "c2", res.ContentHash)
}

func TestRSSFirstRunPicksNewest(t *testing.T) {
	t.Parallel()

	a := NewRSS(&fakeFetcher{resp: ok("application/xml", twoItemFeed)}, nil)
	res, err := a.Fetch(context.Background(), monitor.Source{URL: "https://example.com/feed.xml"}, nil)
	require.NoError(t, err)
	require.Equal(t, "new-2", res.ItemID)
}

func TestRSSAtomAndIDFallbacks(t *testing.T) {
	t.Parallel()

	feed := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>
<entry><title>Linked</title><link href="https://example.com/a"/><updated>2024-03-01T00:00:00Z</updated></entry>
</feed>`
	a := NewRSS(&fakeFetcher{resp: ok("application/atom+xml", feed)}, nil)
	res, err := a.Fetch(context.Background(), monitor.Source{URL: "https://example.com/atom"}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", res.ItemID)
	require.Equal(t, "Linked", res.Title)
}

func TestRSSParseFailureDegrades(t *testing.T) {
	t.Parallel()

	a := NewRSS(&fakeFetcher{resp: ok("application/rss+xml", "not a feed")}, nil)
	res, err := a.Fetch(context.Background(), monitor.Source{URL: "https://example.com/feed"}, &monitor.Snapshot{ItemID: "old-1"})
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Equal(t, "old-1", res.ItemID)
	require.Equal(t, sha256.Sum([]byte("not a feed")), res.RawBytesHash)
}

func TestRSSNotModifiedCarriesItemID(t *testing.T) {
	t.Parallel()

	a := NewRSS(&fakeFetcher{resp: notModifiedResp()}, nil)
	res, err := a.Fetch(context.Background(), monitor.Source{URL: "https://example.com/feed", ETag: "e"}, &monitor.Snapshot{ItemID: "new-2", Text: "kept"})
	require.NoError(t, err)
	require.True(t, res.NotModified)
	require.Equal(t, "new-2", res.ItemID)
	require.Empty(t, res.Text)
}

func TestItemIDFallbacks(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "g", itemID(&gofeed.Item{GUID: " g ", Link: "l"}, nil))
	require.Equal(t, "l", itemID(&gofeed.Item{Link: "l"}, nil))
	require.Equal(t,
		sha256.SumFields("|", "Title", "2024-01-02T10:00:00Z"),
		itemID(&gofeed.Item{Title: "Title"}, &published))

	require.Empty(t, sortedEntries(nil))
	require.Nil(t, selectEntry(nil, ""))
}

func TestSortedEntriesUndatedLast(t *testing.T) {
	t.Parallel()

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	entries := sortedEntries([]*gofeed.Item{
		{GUID: "undated"},
		{GUID: "older", PublishedParsed: &older},
		{GUID: "newer", UpdatedParsed: &newer},
	})
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	require.Equal(t, []string{"newer", "older", "undated"}, ids)
}
