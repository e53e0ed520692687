package feedimport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/latework/internal/model"
)

// allowAllGuard はhttptestサーバー（ループバック）へ接続するためのテスト用URLGuard。
type allowAllGuard struct {
	validateErr error
	maxBytes    int64
}

func (g *allowAllGuard) Validate(rawURL string) error { return g.validateErr }
func (g *allowAllGuard) Client() *http.Client { return &http.Client{Timeout: 5 * time.Second} }
func (g *allowAllGuard) MaxBytes() int64 {
	if g.maxBytes == 0 {
		return 1 << 20
	}
	return g.maxBytes
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>講座</title>
<item>
  <title>第2回 コンポーネント</title>
  <link>https://example.com/2</link>
  <description>&lt;p&gt;二回目&lt;/p&gt;</description>
  <pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate>
</item>
<item>
  <title>第1回 はじめに</title>
  <link>https://example.com/1</link>
  <description>一回目</description>
  <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
</item>
<item>
  <title></title>
  <link>https://example.com/untitled</link>
</item>
</channel>
</rss>`

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

func TestImporter_FetchDirectFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testRSS))
	}))
	defer ts.Close()

	entries, err := NewImporter(&allowAllGuard{}, nil).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Title != "第1回 はじめに" || entries[1].Title != "第2回 コンポーネント" {
		t.Errorf("entries not in publication order: %q, %q", entries[0].Title, entries[1].Title)
	}
	if entries[1].Link != "https://example.com/2" {
		t.Errorf("Link = %q", entries[1].Link)
	}
}

func TestImporter_FetchViaAutodiscovery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blog", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><link rel="alternate" type="application/rss+xml" href="/feed.xml"></head><body></body></html>`))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(testRSS))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	entries, err := NewImporter(&allowAllGuard{}, nil).Fetch(context.Background(), ts.URL+"/blog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestImporter_Errors(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>no feed</title></head></html>`))
	}))
	defer html.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte("this is not a feed"))
	}))
	defer broken.Close()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()

	image := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer image.Close()

	tests := []struct {
		name  string
		guard *allowAllGuard
		url   string
		code  string
	}{
		{"空URL", &allowAllGuard{}, "", model.ErrCodeInvalidURL},
		{"ブロック対象", &allowAllGuard{validateErr: errors.New("blocked")}, "http://10.0.0.1/", model.ErrCodeSSRFBlocked},
		{"フィードなしHTML", &allowAllGuard{}, html.URL, model.ErrCodeFeedNotDetected},
		{"HTMLでもフィードでもない", &allowAllGuard{}, image.URL, model.ErrCodeFeedNotDetected},
		{"解析失敗", &allowAllGuard{}, broken.URL, model.ErrCodeParseFailed},
		{"404", &allowAllGuard{}, notFound.URL, model.ErrCodeFetchFailed},
		{"サイズ超過", &allowAllGuard{maxBytes: 10}, broken.URL, model.ErrCodeFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImporter(tt.guard, nil).Fetch(context.Background(), tt.url)
			assertCode(t, err, tt.code)
		})
	}
}

func TestToEntries(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	items := []*gofeed.Item{
		{Title: "undated"},
		{Title: "second", UpdatedParsed: &day2},
		nil,
		{Title: "  first  ", PublishedParsed: &day1, Content: "<p>body</p>"},
		{Title: "guid link", GUID: "https://example.com/g", PublishedParsed: &day2},
		{Title: "   "},
	}

	got := ToEntries(items)

	want := []string{"first", "second", "guid link", "undated"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("entries[%d].Title = %q, want %q", i, got[i].Title, title)
		}
	}
	if got[0].Summary != "<p>body</p>" {
		t.Errorf("Summary should fall back to content, got %q", got[0].Summary)
	}
	if got[2].Link != "https://example.com/g" {
		t.Errorf("Link should fall back to GUID, got %q", got[2].Link)
	}
}
