// Package ingest pulls learning content into the local index: fetch a
// page with a headless browser, extract the readable article, chunk it
// and index the chunks for retrieval.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxChars     = 20000
)

// Article is the readable content extracted from a fetched page.
type Article struct {
	URL      string
	Title    string
	Author   string
	SiteName string
	Excerpt  string
	Text     string
	HTMLHash string
	FetchMS  int
}

// Fetcher fetches a page and extracts its readable article.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Article, error)
}

// ChromeFetcher renders the page in headless Chrome and runs
// readability extraction on the resulting DOM.
type ChromeFetcher struct {
	timeout  time.Duration
	maxChars int
}

func NewChromeFetcher(cfg *config.Config) *ChromeFetcher {
	timeout := cfg.Ingest.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxChars := cfg.Ingest.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &ChromeFetcher{timeout: timeout, maxChars: maxChars}
}

func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (Article, error) {
	if strings.TrimSpace(pageURL) == "" {
		return Article{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	html, err := fetchHTML(ctx, pageURL)
	if err != nil {
		return Article{}, err
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err != nil {
		return Article{}, err
	}
	text := article.TextContent
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}

	sum := sha1.Sum([]byte(html))

	return Article{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Author:   strings.TrimSpace(article.Byline),
		SiteName: article.SiteName,
		Excerpt:  strings.TrimSpace(article.Excerpt),
		Text:     strings.TrimSpace(text),
		HTMLHash: hex.EncodeToString(sum[:]),
		FetchMS:  int(time.Since(t0) / time.Millisecond),
	}, nil
}

func fetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("CoachIngest/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
