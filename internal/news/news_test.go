package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <item>
      <title>贵州茅台宣布分红方案 - 证券时报</title>
      <pubDate>Tue, 10 Mar 2026 09:30:00 +0800</pubDate>
      <description>&lt;a href="x"&gt;白酒龙头&lt;/a&gt;拟每股派息</description>
    </item>
    <item>
      <title>某公司股东减持公告</title>
      <pubDate>Tue, 10 Mar 2026 09:00:00 +0800</pubDate>
      <description>减持不超过总股本的2%</description>
    </item>
    <item>
      <title>bad date entry</title>
      <pubDate>not-a-date</pubDate>
      <description>skipped</description>
    </item>
  </channel>
</rss>`

func TestFetchParsesFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss/search" {
			t.Errorf("path %s", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "A股" {
			t.Errorf("query %q", q)
		}
		w.Write([]byte(feed))
	}))
	defer ts.Close()

	f := NewFetcher(time.Second)
	f.BaseURL = ts.URL

	articles, err := f.Fetch(context.Background(), "A股", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 2 {
		t.Fatalf("articles = %d, want 2 (unparseable date skipped)", len(articles))
	}

	first := articles[0]
	if first.Headline != "贵州茅台宣布分红方案" {
		t.Errorf("source suffix not stripped: %q", first.Headline)
	}
	if first.Impact != "positive" {
		t.Errorf("impact %q, want positive", first.Impact)
	}
	if first.Summary != "白酒龙头拟每股派息" {
		t.Errorf("summary %q", first.Summary)
	}
	if first.ID == "" || first.ID == articles[1].ID {
		t.Error("article ids must be stable and distinct")
	}

	if articles[1].Impact != "negative" {
		t.Errorf("impact %q, want negative", articles[1].Impact)
	}
}

func TestFetchLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer ts.Close()

	f := NewFetcher(time.Second)
	f.BaseURL = ts.URL

	articles, err := f.Fetch(context.Background(), "A股", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 {
		t.Fatalf("articles = %d, want 1", len(articles))
	}
}

func TestFetchUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	f := NewFetcher(time.Second)
	f.BaseURL = ts.URL
	if _, err := f.Fetch(context.Background(), "A股", 10); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestClassifyImpact(t *testing.T) {
	cases := []struct {
		headline string
		want     string
	}{
		{"公司回购股份", "positive"},
		{"股价跌停", "negative"},
		{"董事会会议通知", "neutral"},
		{"利好出尽后大跌", "neutral"}, // mixed signals stay neutral
	}
	for _, c := range cases {
		if got := ClassifyImpact(c.headline); got != c.want {
			t.Errorf("ClassifyImpact(%q) = %q, want %q", c.headline, got, c.want)
		}
	}
}
