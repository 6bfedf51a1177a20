package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// GitHubAPIHost is the only host the releases adapter fetches from.
const GitHubAPIHost = "api.github.com"

const defaultGitHubPerPage = 10

// GitHubOptions configures the github_releases adapter.
type GitHubOptions struct {
	Token   string
	PerPage int
}

// GitHubReleases monitors the latest published release of a repository.
type GitHubReleases struct {
	fetcher Fetcher
	base    *url.URL
	token   string
	perPage int
	logger  *zap.Logger
}

// NewGitHubReleases builds the github_releases adapter.
func NewGitHubReleases(fetcher Fetcher, opts GitHubOptions, logger *zap.Logger) *GitHubReleases {
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = defaultGitHubPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubReleases{
		fetcher: fetcher,
		base:    &url.URL{Scheme: "https", Host: GitHubAPIHost},
		token:   opts.Token,
		perPage: opts.PerPage,
		logger:  logger,
	}
}

// Kind implements Adapter.
func (a *GitHubReleases) Kind() monitor.SourceKind { return monitor.KindGitHubReleases }

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})/[A-Za-z0-9._-]{1,100}$`)

type release struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	Draft       bool       `json:"draft"`
	HTMLURL     string     `json:"html_url"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   *time.Time `json:"created_at"`
}

func (r release) timestamp() *time.Time {
	if r.PublishedAt != nil {
		return r.PublishedAt
	}
	return r.CreatedAt
}

// Fetch implements Adapter.
func (a *GitHubReleases) Fetch(ctx context.Context, src monitor.Source, prev *monitor.Snapshot) (monitor.AdapterResult, error) {
	repo := strings.Trim(strings.TrimSpace(src.Config["repo"]), "/")
	if !repoPattern.MatchString(repo) || strings.Contains(repo, "..") {
		return monitor.AdapterResult{}, fmt.Errorf("%w: repo %q must be owner/name", monitor.ErrInvalidConfig, repo)
	}

	req := conditionalRequest(src, prev, "application/vnd.github+json")
	req.URL = a.releasesURL(repo)
	req.AllowedHosts = []string{a.base.Hostname()}
	req.Headers.Set("X-GitHub-Api-Version", "2022-11-28")
	if a.token != "" {
		req.Headers.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return monitor.AdapterResult{}, err
	}
	if resp.NotModified {
		return notModified(resp, prev, monitor.IdentityHash, false), nil
	}

	res := monitor.AdapterResult{
		ItemID:       previousItemID(prev),
		Meta:         responseMeta(resp),
		RawBytesHash: sha256.Sum(resp.Body),
		Identity:     monitor.IdentityHash,
		Raw:          resp.Body,
	}
	if prev != nil {
		res.ContentHash = prev.ContentHash
	}

	var releases []release
	if err := json.Unmarshal(resp.Body, &releases); err != nil {
		a.logger.Debug("release list parse failed", zap.String("source_id", src.ID), zap.Error(err))
		return res, nil
	}
	latest := latestRelease(releases)
	if latest == nil {
		return res, nil
	}

	body := StripMarkdown(latest.Body)
	res.Title = firstNonEmpty(strings.TrimSpace(latest.Name), latest.TagName)
	res.ItemID = firstNonEmpty(latest.TagName, strconv.FormatInt(latest.ID, 10))
	res.ItemPublishedAt = latest.timestamp()
	res.Text = strings.TrimSpace(strings.Join(nonEmpty([]string{res.Title, body}), "\n"))
	res.ContentHash = sha256.SumFields("\n", latest.TagName, latest.Name, body)
	return res, nil
}

func (a *GitHubReleases) releasesURL(repo string) string {
	u := *a.base
	u.Path = strings.TrimRight(u.Path, "/") + "/repos/" + repo + "/releases"
	u.RawQuery = url.Values{"per_page": {strconv.Itoa(a.perPage)}}.Encode()
	return u.String()
}

// latestRelease picks the newest non-draft release by published_at, falling
// back to created_at.
func latestRelease(releases []release) *release {
	var best *release
	for i := range releases {
		r := &releases[i]
		if r.Draft {
			continue
		}
		ts := r.timestamp()
		if best == nil {
			best = r
			continue
		}
		bestTS := best.timestamp()
		if ts != nil && (bestTS == nil || ts.After(*bestTS)) {
			best = r
		}
	}
	return best
}

var (
	mdFence      = regexp.MustCompile("(?s)```[^\\n]*\\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]*)`")
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeader     = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	mdQuote      = regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`)
	mdBullet     = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+\.)[ \t]+`)
	mdRule       = regexp.MustCompile(`(?m)^[ \t]*(?:[-*_][ \t]*){3,}$`)
	mdBold       = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	mdItalic     = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`)
	mdStrike     = regexp.MustCompile(`~~(.+?)~~`)
)

// StripMarkdown reduces release notes to plain text for diffing.
func StripMarkdown(md string) string {
	s := strings.ReplaceAll(md, "\r\n", "\n")
	s = mdFence.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeader.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdBold.ReplaceAllString(s, "$2")
	s = mdStrike.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1$2")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			line = ""
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
