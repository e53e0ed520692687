package feedimport

import "testing"

func TestIsFeed(t *testing.T) {
	rss := []byte(`<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`)
	atom := []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	plainXML := []byte(`<?xml version="1.0"?><sitemap></sitemap>`)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        bool
	}{
		{"RSS専用Content-Type", "application/rss+xml; charset=utf-8", nil, true},
		{"Atom専用Content-Type", "application/atom+xml", nil, true},
		{"text/xmlのRSS", "text/xml", rss, true},
		{"application/xmlのAtom", "application/xml", atom, true},
		{"フィードでないXML", "application/xml", plainXML, false},
		{"HTML", "text/html; charset=utf-8", []byte("<html></html>"), false},
		{"空のXML", "text/xml", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFeed(tt.contentType, tt.body); got != tt.want {
				t.Errorf("IsFeed(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestFindFeedLinks(t *testing.T) {
	page := []byte(`<!DOCTYPE html>
<html><head>
<title>講座ブログ</title>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="RSS" href="/rss.xml">
<link rel="alternate" type="application/atom+xml" title="Atom" href="https://example.com/atom.xml">
<link rel="alternate" type="text/html" href="/en/">
</head><body>
<link rel="alternate" type="application/rss+xml" href="/ignored.xml">
</body></html>`)

	got := FindFeedLinks(page, "https://example.com/blog/")

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].URL != "https://example.com/rss.xml" || got[0].Kind != KindRSS || got[0].Title != "RSS" {
		t.Errorf("candidate[0] = %+v", got[0])
	}
	if got[1].URL != "https://example.com/atom.xml" || got[1].Kind != KindAtom {
		t.Errorf("candidate[1] = %+v", got[1])
	}
}

func TestFindFeedLinks_NoHead(t *testing.T) {
	if got := FindFeedLinks([]byte("<p>no head</p>"), "https://example.com/"); len(got) != 0 {
		t.Errorf("expected no candidates, got %+v", got)
	}
}

func TestBest(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		wantURL    string
	}{
		{
			name: "同一ホストを優先",
			candidates: []Candidate{
				{URL: "https://feeds.other.com/atom", Kind: KindAtom},
				{URL: "https://example.com/rss", Kind: KindRSS},
			},
			wantURL: "https://example.com/rss",
		},
		{
			name: "同一ホスト内ではAtomを優先",
			candidates: []Candidate{
				{URL: "https://example.com/rss", Kind: KindRSS},
				{URL: "https://example.com/atom", Kind: KindAtom},
			},
			wantURL: "https://example.com/atom",
		},
		{
			name: "同点なら先頭",
			candidates: []Candidate{
				{URL: "https://example.com/rss1", Kind: KindRSS},
				{URL: "https://example.com/rss2", Kind: KindRSS},
			},
			wantURL: "https://example.com/rss1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Best(tt.candidates, "https://example.com/blog")
			if !ok {
				t.Fatal("Best returned false")
			}
			if got.URL != tt.wantURL {
				t.Errorf("Best() = %q, want %q", got.URL, tt.wantURL)
			}
		})
	}

	if _, ok := Best(nil, "https://example.com"); ok {
		t.Error("Best(nil) should return false")
	}
}
