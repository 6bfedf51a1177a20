package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>  Pricing   Policy </title>
<style>body { color: red }</style>
<script>var secret = "hidden";</script></head>
<body>
  <h1>Fees</h1>
  <p>Standard   plan costs
     $10.</p>
  <noscript>enable js</noscript>
  <ul><li>One</li><li>Two</li></ul>
</body></html>`

func TestVisibleTextSkipsNonVisibleElements(t *testing.T) {
	t.Parallel()

	got := VisibleText([]byte(samplePage))
	require.Equal(t, "Fees\nStandard plan costs $10.\nOne\nTwo", got)
	require.NotContains(t, got, "secret")
	require.NotContains(t, got, "color")
	require.NotContains(t, got, "enable js")
}

func TestTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Pricing Policy", Title([]byte(samplePage)))
	require.Empty(t, Title([]byte("<p>no title</p>")))
}

func TestNormalizeHTMLFingerprintIgnoresMarkupNoise(t *testing.T) {
	t.Parallel()

	n := New(sha256.New(), 0)
	a, err := n.Normalize("text/html; charset=utf-8", []byte(`<p>Hello   world</p><script>x=1</script>`))
	require.NoError(t, err)
	b, err := n.Normalize("text/html", []byte("<div>\n<p>Hello world</p><script>x=2</script></div>"))
	require.NoError(t, err)

	require.Equal(t, "Hello world", a.Text)
	require.Equal(t, a.Fingerprint, b.Fingerprint)
	require.Equal(t, sha256.Sum([]byte("Hello world")), a.Fingerprint)
}

func TestNormalizeJSONIsCanonical(t *testing.T) {
	t.Parallel()

	n := New(sha256.New(), 0)
	a, err := n.Normalize("application/json", []byte(`{"b":1,"a":{"d":2.50,"c":[1,2]}}`))
	require.NoError(t, err)
	b, err := n.Normalize("application/problem+json", []byte(`{ "a": {"c":[1,2], "d":2.50}, "b": 1 }`))
	require.NoError(t, err)

	require.Equal(t, "{\n  \"a\": {\n    \"c\": [\n      1,\n      2\n    ],\n    \"d\": 2.50\n  },\n  \"b\": 1\n}", a.Text)
	require.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestNormalizeInvalidJSONFallsBackToText(t *testing.T) {
	t.Parallel()

	n := New(sha256.New(), 0)
	res, err := n.Normalize("application/json", []byte("{not json"))
	require.NoError(t, err)
	require.Equal(t, "{not json", res.Text)
}

func TestNormalizePlainTextLineEndings(t *testing.T) {
	t.Parallel()

	n := New(sha256.New(), 0)
	res, err := n.Normalize("text/plain", []byte("a\r\nb\rc\n"))
	require.NoError(t, err)
	require.Equal(t, "a\nb\nc", res.Text)
}

func TestNormalizeBinaryUsesRawBytes(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x01, 0xff, 0x10}
	n := New(sha256.New(), 0)
	res, err := n.Normalize("image/png", raw)
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Empty(t, res.Preview)
	require.Equal(t, sha256.Sum(raw), res.Fingerprint)
}

func TestNormalizeSniffsMissingContentType(t *testing.T) {
	t.Parallel()

	n := New(sha256.New(), 0)
	res, err := n.Normalize("", []byte("  <html><body><p>sniffed</p></body></html>"))
	require.NoError(t, err)
	require.Equal(t, "sniffed", res.Text)

	res, err = n.Normalize("application/octet-stream", []byte(`[3,1]`))
	require.NoError(t, err)
	require.Equal(t, "[\n  3,\n  1\n]", res.Text)
}

func TestPreviewCountsRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 600)
	n := New(sha256.New(), 0)
	res, err := n.Normalize("text/plain", []byte(text))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", DefaultPreviewChars), res.Preview)

	require.Equal(t, "abc", Preview("abc", 10))
	require.Equal(t, "ab", Preview("abc", 2))
}
