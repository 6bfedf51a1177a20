package adapter

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/normalize"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"

// RSS monitors RSS, Atom and JSON feeds by item identity.
type RSS struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewRSS builds the rss adapter.
func NewRSS(fetcher Fetcher, logger *zap.Logger) *RSS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RSS{fetcher: fetcher, logger: logger}
}

// Kind implements Adapter.
func (a *RSS) Kind() monitor.SourceKind { return monitor.KindRSS }

// Fetch implements Adapter. It returns the newest entry not yet seen, or
// empty text with the previous item id when nothing new was published.
func (a *RSS) Fetch(ctx context.Context, src monitor.Source, prev *monitor.Snapshot) (monitor.AdapterResult, error) {
	resp, err := a.fetcher.Fetch(ctx, conditionalRequest(src, prev, feedAccept))
	if err != nil {
		return monitor.AdapterResult{}, err
	}
	if resp.NotModified {
		return notModified(resp, prev, monitor.IdentityItem, false), nil
	}

	prevID := previousItemID(prev)
	res := monitor.AdapterResult{
		ItemID:       prevID,
		Meta:         responseMeta(resp),
		RawBytesHash: sha256.Sum(resp.Body),
		Identity:     monitor.IdentityItem,
		Raw:          resp.Body,
	}
	if prev != nil {
		res.ContentHash = prev.ContentHash
		res.ItemPublishedAt = prev.ItemPublishedAt
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		a.logger.Debug("feed parse failed", zap.String("source_id", src.ID), zap.Error(err))
		return res, nil
	}

	entry := selectEntry(sortedEntries(feed.Items), prevID)
	if entry == nil {
		return res, nil
	}
	res.ItemID = entry.id
	res.ItemPublishedAt = entry.published
	res.Title = entry.title
	res.Text = entry.text
	res.ContentHash = sha256.SumFields("\n", entry.id, entry.text)
	return res, nil
}

type feedEntry struct {
	id        string
	title     string
	text      string
	published *time.Time
}

// sortedEntries orders items newest first by published, falling back to
// updated. Undated items keep feed order after dated ones.
func sortedEntries(items []*gofeed.Item) []feedEntry {
	entries := make([]feedEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		entries = append(entries, feedEntry{
			id:        itemID(item, published),
			title:     strings.TrimSpace(item.Title),
			text:      entryText(item),
			published: published,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].published, entries[j].published
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.After(*pj)
		}
	})
	return entries
}

// selectEntry returns the newest entry unless it is the one already seen.
// Entries older than prevID are never reported.
func selectEntry(entries []feedEntry, prevID string) *feedEntry {
	if len(entries) == 0 {
		return nil
	}
	if prevID != "" && entries[0].id == prevID {
		return nil
	}
	return &entries[0]
}

// itemID resolves the item identity: id/guid, then link, then a digest of
// title and publication time.
func itemID(item *gofeed.Item, published *time.Time) string {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return id
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	stamp := ""
	if published != nil {
		stamp = published.UTC().Format(time.RFC3339)
	} else {
		stamp = item.Published
	}
	return sha256.SumFields("|", item.Title, stamp)
}

func entryText(item *gofeed.Item) string {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	parts := []string{strings.TrimSpace(item.Title)}
	if body != "" {
		parts = append(parts, normalize.VisibleText([]byte(body)))
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		parts = append(parts, link)
	}
	return strings.TrimSpace(strings.Join(nonEmpty(parts), "\n"))
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
