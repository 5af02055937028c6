// Package urlx canonicalises gazette PDF URLs. Redirects are walked
// manually with Location rewriting, a single meta-refresh jump is
// honoured, and loopback/private targets are rejected. The canonical URL
// is the registry deduplication key, so resolution must be deterministic.
package urlx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gazeta-aberta/gazeta/internal/backoff"
)

const (
	// DefaultMaxRedirects caps the total resolution chain, HTTP redirects
	// and meta-refresh jumps combined.
	DefaultMaxRedirects = 10

	// DefaultHopTimeout bounds each probe request including its body read.
	DefaultHopTimeout = 15 * time.Second

	// maxHeadBytes is how much of an HTML body is scanned for a meta refresh.
	maxHeadBytes = 50 << 10

	// hopAttempts is how often a transient hop failure is retried in-process.
	hopAttempts = 3
)

// BrowserUserAgent is sent on every outbound request. Several gazette
// hosts refuse clients that do not look like a browser.
const BrowserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Sentinel resolution errors.
var (
	// ErrEmptyURL rejects blank URLs or URLs without a host.
	ErrEmptyURL = errors.New("empty url")

	// ErrUnsupportedScheme rejects anything that is not http or https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrPrivateHost rejects loopback, private-network, and link-local targets.
	ErrPrivateHost = errors.New("private or loopback host")

	// ErrTooManyRedirects rejects chains longer than the configured cap.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// IsFatal reports whether err is a rejection no retry can cure: a blank
// target, a forbidden scheme or host, or a redirect chain past the cap.
// Transport trouble and timeouts are not fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrEmptyURL) ||
		errors.Is(err, ErrUnsupportedScheme) ||
		errors.Is(err, ErrPrivateHost) ||
		errors.Is(err, ErrTooManyRedirects)
}

// hopRetryPolicy spaces the in-process retries of a single failing hop.
var hopRetryPolicy = backoff.Policy{Initial: 500 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}

// Resolver canonicalises URLs by probing each hop of the redirect chain.
type Resolver struct {
	client       *http.Client
	logger       *slog.Logger
	maxRedirects int
	allowPrivate bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxRedirects overrides the chain cap.
func WithMaxRedirects(n int) Option {
	return func(r *Resolver) {
		r.maxRedirects = n
	}
}

// WithHopTimeout overrides the per-hop timeout.
func WithHopTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.client.Timeout = d
	}
}

// WithPrivateHosts permits loopback and private-network targets. Intended
// for local development and tests; never enable it in production.
func WithPrivateHosts(allow bool) Option {
	return func(r *Resolver) {
		r.allowPrivate = allow
	}
}

// NewResolver builds a Resolver. The underlying client never follows
// redirects on its own — every hop is rewritten and validated here.
func NewResolver(logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:       logger,
		maxRedirects: DefaultMaxRedirects,
		client: &http.Client{
			Timeout: DefaultHopTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve follows raw's redirect chain and returns the canonical URL.
// Every intermediate and final hop is validated against the private-host
// policy before it is fetched.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyURL
	}

	current, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	metaUsed := false

	for hops := 0; ; hops++ {
		if hops > r.maxRedirects {
			return "", fmt.Errorf("%w: more than %d hops resolving %s", ErrTooManyRedirects, r.maxRedirects, raw)
		}

		err = r.checkTarget(current)
		if err != nil {
			return "", err
		}

		resp, err := r.probe(ctx, current)
		if err != nil {
			return "", err
		}

		drain(resp)

		next, viaMeta, err := r.nextHop(ctx, current, resp, !metaUsed)
		if err != nil {
			return "", err
		}

		if next == nil {
			return current.String(), nil
		}

		if viaMeta {
			metaUsed = true
		}

		current = next
	}
}

// probe issues a HEAD request, falling back to a one-byte ranged GET when
// the host does not implement HEAD.
func (r *Resolver) probe(ctx context.Context, target *url.URL) (*http.Response, error) {
	resp, err := r.do(ctx, http.MethodHead, target, "")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		drain(resp)

		return r.do(ctx, http.MethodGet, target, "bytes=0-0")
	}

	return resp, nil
}

// do performs one request with bounded in-process retries on transport
// errors and 5xx responses.
func (r *Resolver) do(ctx context.Context, method string, target *url.URL, rangeHeader string) (*http.Response, error) {
	var resp *http.Response

	err := backoff.Retry(ctx, hopAttempts, hopRetryPolicy, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, method, target.String(), http.NoBody)
		if reqErr != nil {
			return fmt.Errorf("build request for %s: %w", target, reqErr)
		}

		req.Header.Set("User-Agent", BrowserUserAgent)

		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		var doErr error

		resp, doErr = r.client.Do(req)
		if doErr != nil {
			return fmt.Errorf("%s %s: %w", method, target, doErr)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			drain(resp)

			return fmt.Errorf("%s %s: status %d", method, target, resp.StatusCode)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// nextHop inspects a probe response and returns the next URL in the
// chain, or nil when current is final. viaMeta reports that the hop came
// from a meta-refresh directive rather than an HTTP redirect.
func (r *Resolver) nextHop(
	ctx context.Context, current *url.URL, resp *http.Response, allowMeta bool,
) (next *url.URL, viaMeta bool, err error) {
	if isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, false, fmt.Errorf("redirect %d from %s carries no location", resp.StatusCode, current)
		}

		ref, parseErr := url.Parse(location)
		if parseErr != nil {
			return nil, false, fmt.Errorf("parse location %q: %w", location, parseErr)
		}

		return current.ResolveReference(ref), false, nil
	}

	if !allowMeta || !htmlContent(resp.Header.Get("Content-Type")) {
		return nil, false, nil
	}

	target, err := r.metaRefreshTarget(ctx, current)
	if err != nil {
		return nil, false, err
	}

	if target == nil {
		return nil, false, nil
	}

	return target, true, nil
}

// metaRefreshTarget fetches at most maxHeadBytes of the page at current
// and extracts the target of a <meta http-equiv="refresh"> directive.
func (r *Resolver) metaRefreshTarget(ctx context.Context, current *url.URL) (*url.URL, error) {
	resp, err := r.do(ctx, http.MethodGet, current, "")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHeadBytes))
	if err != nil {
		r.logger.Debug("meta refresh scan failed", "url", current.String(), "error", err)

		return nil, nil
	}

	var target *url.URL

	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		equiv, _ := sel.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}

		content, _ := sel.Attr("content")

		ref := parseRefreshContent(content)
		if ref == "" {
			return true
		}

		parsed, parseErr := url.Parse(ref)
		if parseErr != nil {
			r.logger.Debug("unparseable meta refresh target", "url", current.String(), "target", ref)

			return true
		}

		target = current.ResolveReference(parsed)

		return false
	})

	return target, nil
}

// parseRefreshContent extracts the url= component of a refresh directive
// such as "5; url=/diario/2025-02-01.pdf".
func parseRefreshContent(content string) string {
	for part := range strings.SplitSeq(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return strings.Trim(strings.TrimSpace(part[4:]), `'"`)
		}
	}

	return ""
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func htmlContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxHeadBytes))
	_ = resp.Body.Close()
}
