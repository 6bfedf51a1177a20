package adapter

import (
	"context"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/normalize"
)

const htmlAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

// HTML monitors the visible text of a web page.
type HTML struct {
	fetcher    Fetcher
	normalizer *normalize.Normalizer
}

// NewHTML builds the html adapter.
func NewHTML(fetcher Fetcher, normalizer *normalize.Normalizer) *HTML {
	return &HTML{fetcher: fetcher, normalizer: normalizer}
}

// Kind implements Adapter.
func (a *HTML) Kind() monitor.SourceKind { return monitor.KindHTML }

// Fetch implements Adapter.
func (a *HTML) Fetch(ctx context.Context, src monitor.Source, prev *monitor.Snapshot) (monitor.AdapterResult, error) {
	resp, err := a.fetcher.Fetch(ctx, conditionalRequest(src, prev, htmlAccept))
	if err != nil {
		return monitor.AdapterResult{}, err
	}
	if resp.NotModified {
		return notModified(resp, prev, monitor.IdentityHash, true), nil
	}
	norm, err := a.normalizer.Normalize(resp.ContentType, resp.Body)
	if err != nil {
		return monitor.AdapterResult{}, err
	}
	return monitor.AdapterResult{
		Title:        normalize.Title(resp.Body),
		Text:         norm.Text,
		Meta:         responseMeta(resp),
		RawBytesHash: sha256.Sum(resp.Body),
		ContentHash:  norm.Fingerprint,
		Identity:     monitor.IdentityHash,
		Raw:          resp.Body,
	}, nil
}
