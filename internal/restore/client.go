// Package restore reads product pages of the re-store.ru catalog.
package restore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"restock-bot/internal/restock"
)

const (
	DefaultBaseURL = "https://re-store.ru"
	DefaultTimeout = 30 * time.Second

	// MaxPageSize caps how much of a page is read, the rest is ignored.
	MaxPageSize = 4 << 20

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.97 Safari/537.36"

	titleSelector = `h1[itemprop="name"]`
	buySelector   = `div[title="Купить"]`
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Rate limits requests per second, zero means unlimited.
	Rate float64
}

// Client fetches catalog items over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Rate), 1)
	}

	return &Client{
		http:    &http.Client{Timeout: config.Timeout},
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		limiter: limiter,
	}
}

// Link returns the product page address.
func (c *Client) Link(id string) string {
	return fmt.Sprintf("%s/catalog/%s/", c.baseURL, url.PathEscape(id))
}

// Fetch downloads the product page and reads its title and whether it can
// be bought right now. It returns restock.ErrUnknownItem for a missing page
// and restock.ErrUnreadableItem for a page without a product title.
func (c *Client) Fetch(ctx context.Context, id string) (restock.Snapshot, error) {
	var snapshot restock.Snapshot
	if err := c.limiter.Wait(ctx); err != nil {
		return snapshot, err
	}

	link := c.Link(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return snapshot, errors.Wrap(err, "create request")
	}

	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return snapshot, errors.Wrapf(err, "get %s", link)
	}

	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return snapshot, restock.ErrUnknownItem
	case resp.StatusCode != http.StatusOK:
		return snapshot, errors.Errorf("get %s: %s", link, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, MaxPageSize))
	if err != nil {
		return snapshot, errors.Wrapf(restock.ErrUnreadableItem, "parse %s: %v", link, err)
	}

	return parse(doc)
}

func parse(doc *goquery.Document) (restock.Snapshot, error) {
	title := strings.TrimSpace(doc.Find(titleSelector).First().Text())
	if title == "" {
		return restock.Snapshot{}, restock.ErrUnreadableItem
	}

	return restock.Snapshot{
		Title:       title,
		Purchasable: doc.Find(buySelector).Length() > 0,
	}, nil
}
