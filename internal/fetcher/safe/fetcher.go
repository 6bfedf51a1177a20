// Package safe implements an SSRF-hardened HTTP fetcher for monitored sources.
package safe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/metrics"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 10 << 20
	defaultUserAgent = "source-monitor/1.0"
)

// DialFunc opens a connection to an already validated ip:port address.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config controls Fetcher behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
	// Dial defaults to a net.Dialer. It only ever receives validated IPs.
	Dial DialFunc
}

// Request describes one conditional fetch.
type Request struct {
	URL          string
	ETag         string
	LastModified string
	Timeout      time.Duration
	MaxBytes     int64
	AllowedHosts []string
	Headers      http.Header
}

// Response is the result of a successful or not-modified fetch.
type Response struct {
	StatusCode   int
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	FetchedURL   string
	NotModified  bool
	Duration     time.Duration
}

// StatusError reports a non-success HTTP status. It is retryable.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Fetcher performs bounded, non-redirecting GETs against public addresses only.
type Fetcher struct {
	cfg      Config
	resolver Resolver
	client   *http.Client
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	dial := cfg.Dial
	if dial == nil {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		dial = dialer.DialContext
	}
	f := &Fetcher{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
	}
	transport := &http.Transport{
		DialContext:           f.safeDialContext(dial),
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	f.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

// safeDialContext re-resolves and re-validates at connect time so a DNS answer
// that changed after ValidateURL cannot steer the connection to an internal
// address.
func (f *Fetcher) safeDialContext(dial DialFunc) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		addrs, err := resolvePublic(ctx, f.resolver, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range addrs {
			conn, err := dial(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("connect %s: %w", host, lastErr)
	}
}

// Fetch validates req.URL and performs the GET.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := f.fetch(ctx, req)
	resp.Duration = time.Since(start)
	metrics.ObserveFetch(req.URL, fetchOutcome(resp, err), len(resp.Body), resp.Duration)
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", req.URL), zap.Error(err))
		return Response{}, err
	}
	return resp, nil
}

func (f *Fetcher) fetch(ctx context.Context, req Request) (Response, error) {
	parsed, err := ValidateURL(req.URL, req.AllowedHosts)
	if err != nil {
		return Response{}, err
	}
	if _, err := resolvePublic(ctx, f.resolver, strings.TrimSuffix(parsed.Hostname(), ".")); err != nil {
		return Response{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.cfg.MaxBytes
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "*/*")
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", parsed.Redacted(), err)
	}
	defer func() {
		if cerr := httpResp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	out := Response{
		StatusCode:   httpResp.StatusCode,
		ContentType:  httpResp.Header.Get("Content-Type"),
		ETag:         httpResp.Header.Get("ETag"),
		LastModified: httpResp.Header.Get("Last-Modified"),
		FetchedURL:   parsed.String(),
	}

	switch {
	case httpResp.StatusCode == http.StatusNotModified:
		out.NotModified = true
		if out.ETag == "" {
			out.ETag = req.ETag
		}
		if out.LastModified == "" {
			out.LastModified = req.LastModified
		}
		return out, nil
	case httpResp.StatusCode >= 300 && httpResp.StatusCode < 400:
		return Response{}, unsafeErr("redirect %d to %q is not followed", httpResp.StatusCode, httpResp.Header.Get("Location"))
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		return Response{}, &StatusError{StatusCode: httpResp.StatusCode, URL: parsed.Redacted()}
	}

	if httpResp.ContentLength > maxBytes {
		return Response{}, unsafeErr("declared content length %d exceeds %d bytes", httpResp.ContentLength, maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return Response{}, unsafeErr("response body exceeds %d bytes", maxBytes)
	}
	out.Body = body
	return out, nil
}

func fetchOutcome(resp Response, err error) string {
	var statusErr *StatusError
	switch {
	case err == nil && resp.NotModified:
		return "not_modified"
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return "http_error"
	case isUnsafe(err):
		return "blocked"
	default:
		return "transport_error"
	}
}
