// Package search is a client for Tavily-compatible web search and content extraction.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults for search tuning.
const (
	DefaultBaseURL     = "https://api.tavily.com"
	DefaultMaxResults  = 5
	DefaultThreshold   = 0.5
	DefaultConcurrency = 4
)

// Options configures the client.
type Options struct {
	BaseURL     string
	APIKey      string
	MaxResults  int     // results requested per query
	Threshold   float64 // only results scoring above this are extracted
	Concurrency int     // parallel queries in FetchAndExtract
	HTTPClient  *http.Client
}

// Client calls /search and /extract.
type Client struct {
	base        string
	key         string
	maxResults  int
	threshold   float64
	concurrency int
	http        *http.Client
}

// New returns a client. APIKey is required.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("search: API key is required")
	}
	c := &Client{
		base:        strings.TrimSuffix(opts.BaseURL, "/"),
		key:         opts.APIKey,
		maxResults:  opts.MaxResults,
		threshold:   opts.Threshold,
		concurrency: opts.Concurrency,
		http:        opts.HTTPClient,
	}
	if c.base == "" {
		c.base = DefaultBaseURL
	}
	if c.maxResults <= 0 {
		c.maxResults = DefaultMaxResults
	}
	if c.threshold <= 0 {
		c.threshold = DefaultThreshold
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: time.Minute}
	}
	return c, nil
}

// Result is one search hit.
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Article is the extracted raw content of one page.
type Article struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// Bundle groups the articles extracted for one query.
type Bundle struct {
	Query    string
	Articles []Article
}

// Text joins the article contents with a separator line.
func (b Bundle) Text() string {
	parts := make([]string, 0, len(b.Articles))
	for _, a := range b.Articles {
		parts = append(parts, a.RawContent)
	}
	return strings.Join(parts, "\n------\n")
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	Topic       string `json:"topic"`
	MaxResults  int    `json:"max_results"`
	Country     string `json:"country,omitempty"`
}

// Search runs one query. country, when set, boosts results from that country.
func (c *Client) Search(ctx context.Context, query, country string) ([]Result, error) {
	var out struct {
		Results []Result `json:"results"`
	}
	req := searchRequest{Query: query, SearchDepth: "advanced", Topic: "general", MaxResults: c.maxResults, Country: country}
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Extract fetches the raw content of urls.
func (c *Client) Extract(ctx context.Context, urls []string) ([]Article, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var out struct {
		Results []Article `json:"results"`
	}
	if err := c.post(ctx, "/extract", map[string]any{"urls": urls}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// FetchAndExtract searches every question, plus foreignQuery when non-empty, and extracts
// the pages scoring above the threshold. It returns one bundle per query in input order,
// with the foreign query last. country applies to the foreign query only.
func (c *Client) FetchAndExtract(ctx context.Context, questions []string, foreignQuery, country string) ([]Bundle, error) {
	type job struct{ query, country string }
	jobs := make([]job, 0, len(questions)+1)
	for _, q := range questions {
		jobs = append(jobs, job{query: q})
	}
	if strings.TrimSpace(foreignQuery) != "" {
		jobs = append(jobs, job{query: foreignQuery, country: country})
	}

	bundles := make([]Bundle, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			results, err := c.Search(ctx, j.query, j.country)
			if err != nil {
				return fmt.Errorf("search %q: %w", j.query, err)
			}
			articles, err := c.Extract(ctx, c.relevant(results))
			if err != nil {
				return fmt.Errorf("extract for %q: %w", j.query, err)
			}
			bundles[i] = Bundle{Query: j.query, Articles: articles}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundles, nil
}

func (c *Client) relevant(results []Result) []string {
	var urls []string
	for _, r := range results {
		if r.Score > c.threshold && r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// StatusError is a non-200 reply from the search API.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search: %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
