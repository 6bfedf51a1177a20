// Package normalize reduces fetched bytes to comparable visible text.
package normalize

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// DefaultPreviewChars bounds Result.Preview, in runes.
const DefaultPreviewChars = 500

// Result is the normalized form of one document.
type Result struct {
	Text        string
	Preview     string
	Fingerprint string
}

// Normalizer converts raw content into canonical text and a fingerprint.
type Normalizer struct {
	hasher       monitor.Hasher
	previewChars int
}

// New builds a Normalizer. previewChars <= 0 selects DefaultPreviewChars.
func New(hasher monitor.Hasher, previewChars int) *Normalizer {
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	return &Normalizer{hasher: hasher, previewChars: previewChars}
}

// Normalize extracts the canonical text for contentType. The fingerprint
// hashes the text, or the raw bytes when no text could be extracted.
func (n *Normalizer) Normalize(contentType string, body []byte) (Result, error) {
	text := Text(contentType, body)
	digestInput := []byte(text)
	if text == "" {
		digestInput = body
	}
	fp, err := n.hasher.Hash(digestInput)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:        text,
		Preview:     Preview(text, n.previewChars),
		Fingerprint: fp,
	}, nil
}

// Text returns the canonical text for body without hashing it.
func Text(contentType string, body []byte) string {
	switch mediaType(contentType, body) {
	case "html":
		return VisibleText(body)
	case "json":
		if canon, ok := CanonicalJSON(body); ok {
			return canon
		}
		return plainText(body)
	case "text":
		return plainText(body)
	default:
		return ""
	}
}

func mediaType(contentType string, body []byte) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		return "html"
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return "json"
	case strings.HasPrefix(mt, "text/") || mt == "application/xml" || strings.HasSuffix(mt, "+xml"):
		return "text"
	case mt == "" || mt == "application/octet-stream":
		return sniff(body)
	default:
		return ""
	}
}

func sniff(body []byte) string {
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	switch {
	case bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")):
		return "html"
	case (bytes.HasPrefix(head, []byte("{")) || bytes.HasPrefix(head, []byte("["))) && json.Valid(body):
		return "json"
	default:
		return ""
	}
}

// CanonicalJSON re-encodes body with sorted keys and two-space indentation.
func CanonicalJSON(body []byte) (string, bool) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	// encoding/json sorts map keys on output.
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}

func plainText(body []byte) string {
	s := string(bytes.ToValidUTF8(body, []byte("�")))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// Preview returns the first limit runes of text.
func Preview(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"title":    true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "pre": true, "section": true, "table": true, "td": true, "th": true,
	"tr": true, "ul": true,
}

// VisibleText extracts the human-visible text of an HTML document. Block
// elements start new lines; all other whitespace collapses to single spaces.
func VisibleText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseLines(b.String())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] && tt != html.SelfClosingTagToken {
				if tt == html.StartTagToken {
					skipDepth++
				} else if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(strings.Join(strings.Fields(string(z.Text())), " "))
				b.WriteByte(' ')
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Title returns the first <title> text of an HTML document.
func Title(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			inTitle = false
		case html.TextToken:
			if inTitle {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		}
	}
}
