// CLAUDE:SUMMARY Applies stored scraping rules to an HTML page with goquery: removal, Object/List, content and URL actions.
// Package extract applies scraping rules to an HTML document.
//
// Each rule selects elements with a CSS selector, strips the elements matched
// by its remove selectors, then turns every remaining match into an Item:
// text through the content action and, when the element carries one, a URL
// through the URL action resolved against the page address.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/botrule/horosafe"
)

// Content actions.
const (
	ActionText     = "text"
	ActionHTML     = "html"
	ActionMarkdown = "markdown"
)

// URLNone disables URL extraction for a rule.
const URLNone = "none"

const (
	defaultURLAttr   = "href"
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "botrule-preview/1.0"
	maxPageBytes     = 8 << 20
	maxRedirects     = 5
)

// ErrUnknownAction is returned for a content action other than text, html
// or markdown.
var ErrUnknownAction = errors.New("extract: unknown content action")

// Rule is the extraction view of a stored rule.
type Rule struct {
	Name           string
	Selector       string
	RemoveSelector []string
	List           bool   // all matches instead of the first one
	ContentAction  string // "", text, html, markdown
	URLAction      string // attribute holding the URL; "" = href, "none" = skip
}

// Item is one extracted value.
type Item struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Result is the outcome of one rule.
type Result struct {
	Rule  string `json:"rule"`
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// Extractor applies rules and optionally fetches pages. Safe for concurrent use.
type Extractor struct {
	client    *http.Client
	userAgent string
	checkURL  func(ctx context.Context, rawURL string) error
	policy    *bluemonday.Policy
	md        *converter.Converter
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the client used by Fetch.
func WithHTTPClient(c *http.Client) Option { return func(x *Extractor) { x.client = c } }

// WithTimeout sets the Fetch timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(x *Extractor) {
		if d > 0 {
			x.client = &http.Client{Timeout: d}
		}
	}
}

// WithURLCheck installs a check run on every URL before Fetch dials it,
// typically horosafe.ValidateURL.
func WithURLCheck(check func(ctx context.Context, rawURL string) error) Option {
	return func(x *Extractor) { x.checkURL = check }
}

// WithUserAgent sets the User-Agent sent by Fetch. Empty keeps the default.
func WithUserAgent(ua string) Option {
	return func(x *Extractor) {
		if ua != "" {
			x.userAgent = ua
		}
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		policy:    bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
	for _, o := range opts {
		o(x)
	}
	x.client = x.guardRedirects(x.client)
	return x
}

// guardRedirects returns a copy of c that caps redirects at maxRedirects and
// runs the URL check on every hop, not just the first URL.
func (x *Extractor) guardRedirects(c *http.Client) *http.Client {
	guarded := *c
	prev := c.CheckRedirect
	guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("extract: too many redirects (%d)", len(via))
		}
		if x.checkURL != nil {
			if err := x.checkURL(req.Context(), req.URL.String()); err != nil {
				return fmt.Errorf("extract: redirect blocked: %w", err)
			}
		}
		if prev != nil {
			return prev(req, via)
		}
		return nil
	}
	return &guarded
}

// Parse builds a document from HTML.
func (x *Extractor) Parse(r io.Reader) (*goquery.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// Fetch downloads pageURL and returns its body. Pages over 8 MiB fail.
func (x *Extractor) Fetch(ctx context.Context, pageURL string) (string, error) {
	if x.checkURL != nil {
		if err := x.checkURL(ctx, pageURL); err != nil {
			return "", fmt.Errorf("extract: fetch %s: %w", pageURL, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("User-Agent", x.userAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("extract: fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, maxPageBytes)
	if err != nil {
		return "", fmt.Errorf("extract: read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// Apply runs rules against doc in order. A failing rule reports its error in
// its Result and does not stop the others. doc is not modified.
func (x *Extractor) Apply(doc *goquery.Document, pageURL *url.URL, rules []Rule) []Result {
	out := make([]Result, 0, len(rules))
	for _, r := range rules {
		res := Result{Rule: r.Name, Items: []Item{}}
		items, err := x.applyOne(doc, pageURL, r)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Items = items
		}
		out = append(out, res)
	}
	return out
}

func (x *Extractor) applyOne(doc *goquery.Document, pageURL *url.URL, r Rule) ([]Item, error) {
	switch r.ContentAction {
	case "", ActionText, ActionHTML, ActionMarkdown:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, r.ContentAction)
	}

	matches := doc.Find(r.Selector)
	if !r.List {
		matches = matches.First()
	}

	var items []Item
	var firstErr error
	matches.Each(func(_ int, sel *goquery.Selection) {
		if firstErr != nil {
			return
		}
		c := sel.Clone()
		for _, rs := range r.RemoveSelector {
			if rs = strings.TrimSpace(rs); rs != "" {
				c.Find(rs).Remove()
			}
		}
		text, err := x.content(c, pageURL, r.ContentAction)
		if err != nil {
			firstErr = err
			return
		}
		items = append(items, Item{Text: text, URL: linkOf(c, pageURL, r.URLAction)})
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func (x *Extractor) content(sel *goquery.Selection, pageURL *url.URL, action string) (string, error) {
	switch action {
	case ActionHTML, ActionMarkdown:
		h, err := sel.Html()
		if err != nil {
			return "", fmt.Errorf("extract: render html: %w", err)
		}
		clean := x.policy.Sanitize(h)
		if action == ActionHTML {
			return strings.TrimSpace(clean), nil
		}
		domain := ""
		if pageURL != nil {
			domain = pageURL.Scheme + "://" + pageURL.Host
		}
		md, err := x.md.ConvertString(clean, converter.WithDomain(domain))
		if err != nil {
			return "", fmt.Errorf("extract: markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return collapseSpace(sel.Text()), nil
	}
}

// linkOf reads the URL attribute of the element itself, or of its first
// descendant carrying it, and resolves it against pageURL.
func linkOf(sel *goquery.Selection, pageURL *url.URL, action string) string {
	if action == URLNone {
		return ""
	}
	attr := action
	if attr == "" {
		attr = defaultURLAttr
	}
	v, ok := sel.Attr(attr)
	if !ok {
		v, ok = sel.Find("[" + attr + "]").First().Attr(attr)
	}
	if !ok || strings.TrimSpace(v) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return ""
	}
	if pageURL == nil {
		return ref.String()
	}
	return pageURL.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
