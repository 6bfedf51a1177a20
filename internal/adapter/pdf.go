package adapter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// PDF extraction bounds.
const (
	DefaultPDFMaxPages = 50
	DefaultPDFMaxChars = 200_000
)

// PDFOptions bounds text extraction.
type PDFOptions struct {
	MaxPages int
	MaxChars int
}

// PDF monitors PDF documents by raw bytes hash.
type PDF struct {
	fetcher Fetcher
	opts    PDFOptions
	logger  *zap.Logger
}

// NewPDF builds the pdf adapter.
func NewPDF(fetcher Fetcher, opts PDFOptions, logger *zap.Logger) *PDF {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultPDFMaxPages
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultPDFMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDF{fetcher: fetcher, opts: opts, logger: logger}
}

// Kind implements Adapter.
func (a *PDF) Kind() monitor.SourceKind { return monitor.KindPDF }

// Fetch implements Adapter. Parse failures yield empty text; the raw bytes
// hash still identifies the document.
func (a *PDF) Fetch(ctx context.Context, src monitor.Source, prev *monitor.Snapshot) (monitor.AdapterResult, error) {
	resp, err := a.fetcher.Fetch(ctx, conditionalRequest(src, prev, "application/pdf,*/*;q=0.8"))
	if err != nil {
		return monitor.AdapterResult{}, err
	}
	if resp.NotModified {
		return notModified(resp, prev, monitor.IdentityHash, true), nil
	}

	rawHash := sha256.Sum(resp.Body)
	res := monitor.AdapterResult{
		Meta:         responseMeta(resp),
		RawBytesHash: rawHash,
		ContentHash:  rawHash,
		Identity:     monitor.IdentityHash,
		Raw:          resp.Body,
	}
	title, text, err := a.extract(resp.Body)
	if err != nil {
		a.logger.Debug("pdf extraction failed", zap.String("source_id", src.ID), zap.Error(err))
		return res, nil
	}
	res.Title = title
	res.Text = text
	return res, nil
}

func (a *PDF) extract(data []byte) (title, text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			title, text, err = "", "", fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}
	title = strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())

	var b strings.Builder
	pages := min(reader.NumPage(), a.opts.MaxPages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
		if utf8.RuneCountInString(b.String()) >= a.opts.MaxChars {
			break
		}
	}
	return title, truncateRunes(b.String(), a.opts.MaxChars), nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
