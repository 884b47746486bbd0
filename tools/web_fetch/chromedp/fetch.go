package chromedp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/models"
)

// Fetch renders a page in headless Chrome and extracts the main article.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	page, err := fetchHTML(ctx, u.String())
	if err != nil {
		return models.Result{URL: u.String(), Status: 599, RenderMS: elapsedMS(t0)}, fmt.Errorf("render %s: %w", u, err)
	}

	article, err := readability.FromReader(strings.NewReader(page), u)
	if err != nil {
		return models.Result{URL: u.String(), Status: 200, RenderMS: elapsedMS(t0)}, fmt.Errorf("extract %s: %w", u, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		text = helpers.HTMLToText(page)
	}
	text = clip(text, f.MaxChars)

	sum := sha1.Sum([]byte(page))
	published := ""
	if article.PublishedTime != nil {
		published = article.PublishedTime.Format("2006-01-02")
	}

	return models.Result{
		URL:         u.String(),
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		PublishedAt: published,
		Text:        text,
		Links:       helpers.ExtractLinks(page, u.String()),
		HTMLHash:    hex.EncodeToString(sum[:]),
		Status:      200,
		RenderMS:    elapsedMS(t0),
	}, nil
}

func fetchHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("research-assistant/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func elapsedMS(t0 time.Time) int { return int(time.Since(t0) / time.Millisecond) }

// clip keeps at most n runes of s. n <= 0 keeps everything.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
