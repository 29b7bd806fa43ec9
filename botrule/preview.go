package botrule

import (
	"context"
	"net/url"
	"strings"

	"github.com/hazyhaar/botrule/extract"
)

// Preview codes carried in the response envelope.
const (
	CodeInvalidURL  = 40001
	CodeFetchFailed = 50002
)

// PreviewRequest asks for the host's rules to be applied to one page. When
// HTML is empty the page is fetched from URL.
type PreviewRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html,omitempty"`
}

// PreviewResult is what each stored rule extracts from the page.
type PreviewResult struct {
	Host    string           `json:"host"`
	URL     string           `json:"url"`
	Results []extract.Result `json:"results"`
}

// Preview applies the rules stored for the host of req.URL to the page.
// A host without rules yields an empty result list.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &DomainError{Code: CodeInvalidURL, Msg: "invalid url: " + req.URL}
	}

	rules, err := s.List(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	out := &PreviewResult{Host: u.Host, URL: u.String(), Results: []extract.Result{}}
	if len(rules) == 0 {
		return out, nil
	}

	page := req.HTML
	if page == "" {
		page, err = s.extractor.Fetch(ctx, u.String())
		if err != nil {
			return nil, &DomainError{Code: CodeFetchFailed, Msg: err.Error()}
		}
	}
	doc, err := s.extractor.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	xr := make([]extract.Rule, 0, len(rules))
	for _, r := range rules {
		xr = append(xr, toExtractRule(r))
	}
	out.Results = s.extractor.Apply(doc, u, xr)
	return out, nil
}

func toExtractRule(r Rule) extract.Rule {
	x := extract.Rule{
		Name:           string(r.RuleName),
		Selector:       r.Selector,
		RemoveSelector: r.RemoveSelector,
		List:           r.Type != nil && *r.Type == TypeList,
	}
	if r.GetContentAction != nil {
		x.ContentAction = *r.GetContentAction
	}
	if r.GetURLAction != nil {
		x.URLAction = *r.GetURLAction
	}
	return x
}
