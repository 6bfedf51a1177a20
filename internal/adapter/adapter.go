// Package adapter extracts a canonical title, text and item identity from each
// supported kind of monitored document.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/JakeFAU/source-monitor/internal/fetcher/safe"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// Fetcher is the subset of safe.Fetcher used by adapters.
type Fetcher interface {
	Fetch(ctx context.Context, req safe.Request) (safe.Response, error)
}

// Adapter fetches one source and extracts its canonical content.
type Adapter interface {
	Kind() monitor.SourceKind
	// Fetch returns the current content of src. prev is the latest snapshot
	// for the source, or nil before the first run.
	Fetch(ctx context.Context, src monitor.Source, prev *monitor.Snapshot) (monitor.AdapterResult, error)
}

var knownKinds = map[monitor.SourceKind]bool{
	monitor.KindHTML:           true,
	monitor.KindRSS:            true,
	monitor.KindPDF:            true,
	monitor.KindGitHubReleases: true,
}

// Registry resolves adapters by source kind.
type Registry struct {
	adapters map[monitor.SourceKind]Adapter
}

// NewRegistry builds a registry. Duplicate or unsupported kinds are rejected.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[monitor.SourceKind]Adapter, len(adapters))}
	for _, a := range adapters {
		kind := a.Kind()
		if !knownKinds[kind] {
			return nil, fmt.Errorf("%w: %q", monitor.ErrUnknownAdapter, kind)
		}
		if _, dup := r.adapters[kind]; dup {
			return nil, fmt.Errorf("adapter %q registered twice", kind)
		}
		r.adapters[kind] = a
	}
	return r, nil
}

// Lookup returns the adapter for kind. An empty kind selects html.
func (r *Registry) Lookup(kind monitor.SourceKind) (Adapter, error) {
	a, ok := r.adapters[kind.Normalize()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", monitor.ErrUnknownAdapter, kind)
	}
	return a, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []monitor.SourceKind {
	out := make([]monitor.SourceKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// conditionalRequest carries the source's validators only when a previous
// snapshot exists, so a 304 always has something to reuse.
func conditionalRequest(src monitor.Source, prev *monitor.Snapshot, accept string) safe.Request {
	req := safe.Request{URL: src.URL}
	if accept != "" {
		req.Headers = http.Header{"Accept": {accept}}
	}
	if prev != nil {
		req.ETag = firstNonEmpty(src.ETag, prev.ETag)
		req.LastModified = firstNonEmpty(src.LastModified, prev.LastModified)
	}
	return req
}

func responseMeta(resp safe.Response) monitor.ResponseMeta {
	return monitor.ResponseMeta{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.ContentType,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		ByteLength:   len(resp.Body),
		FetchedURL:   resp.FetchedURL,
	}
}

// notModified builds the result for a 304. Text and hashes are reused from
// prev when reuseText is set; feed-like adapters only carry the item id.
func notModified(resp safe.Response, prev *monitor.Snapshot, identity monitor.Identity, reuseText bool) monitor.AdapterResult {
	res := monitor.AdapterResult{
		Meta:        responseMeta(resp),
		Identity:    identity,
		NotModified: true,
	}
	if prev == nil {
		return res
	}
	res.ItemID = prev.ItemID
	res.ItemPublishedAt = prev.ItemPublishedAt
	res.ContentHash = prev.ContentHash
	res.RawBytesHash = prev.RawBytesHash
	if reuseText {
		res.Title = prev.Title
		res.Text = prev.Text
	}
	return res
}

func previousItemID(prev *monitor.Snapshot) string {
	if prev == nil {
		return ""
	}
	return prev.ItemID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
