// Package news fetches market news headlines from Google News RSS and tags
// each item with a coarse impact classification.
package news

import (
	"context"
	"crypto/sha1"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Article is a single market news item.
type Article struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Headline string    `json:"headline"`
	Summary  string    `json:"summary"`
	Impact   string    `json:"impact"` // positive, negative or neutral
}

// Fetcher retrieves news over the Google News RSS endpoint. BaseURL is
// overridable for tests.
type Fetcher struct {
	BaseURL string
	http    *http.Client
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		BaseURL: "https://news.google.com",
		http:    &http.Client{Timeout: timeout},
	}
}

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

// Fetch returns up to limit recent articles matching the query.
func (f *Fetcher) Fetch(ctx context.Context, query string, limit int) ([]Article, error) {
	u := f.BaseURL + "/rss/search?q=" + url.QueryEscape(query) +
		"&hl=zh-CN&gl=CN&ceid=CN:zh-Hans"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed: status %d", resp.StatusCode)
	}

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, fmt.Errorf("news feed: %w", err)
	}

	var articles []Article
	for _, item := range rss.Channel.Items {
		t, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			t, err = time.Parse(time.RFC1123, item.PubDate)
			if err != nil {
				continue
			}
		}
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		articles = append(articles, Article{
			ID:       articleID(headline),
			Time:     t,
			Source:   "google",
			Headline: headline,
			Summary:  StripHTML(item.Desc),
			Impact:   ClassifyImpact(headline),
		})
		if limit > 0 && len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

// articleID derives a stable dedup key from the headline.
func articleID(headline string) string {
	sum := sha1.Sum([]byte(headline))
	return fmt.Sprintf("%x", sum[:6])
}

var (
	positiveWords = []string{"利好", "上涨", "大涨", "涨停", "增持", "回购", "分红", "突破", "创新高"}
	negativeWords = []string{"利空", "下跌", "大跌", "跌停", "减持", "退市", "亏损", "违规", "处罚"}
)

// ClassifyImpact buckets a headline as positive, negative or neutral by
// keyword match. Mixed headlines stay neutral.
func ClassifyImpact(headline string) string {
	var pos, neg bool
	for _, w := range positiveWords {
		if strings.Contains(headline, w) {
			pos = true
			break
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(headline, w) {
			neg = true
			break
		}
	}
	switch {
	case pos && !neg:
		return "positive"
	case neg && !pos:
		return "negative"
	default:
		return "neutral"
	}
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from an RSS description.
func StripHTML(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}
