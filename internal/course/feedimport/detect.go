// Package feedimport はRSS/Atomフィードを検出・解析し、レッスンの取り込み元となるエントリを返す。
package feedimport

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Kind はフィードの種類を表す。
type Kind string

const (
	KindRSS  Kind = "rss"
	KindAtom Kind = "atom"
)

// Candidate はHTMLのlink要素から見つかったフィード候補。
type Candidate struct {
	URL   string
	Kind  Kind
	Title string
}

var feedMediaTypes = map[string]Kind{
	"application/rss+xml":  KindRSS,
	"application/atom+xml": KindAtom,
}

// IsFeed はContent-Typeとボディの先頭からRSS/Atomフィードかどうかを判定する。
// text/xml などの汎用XMLはルート要素まで確認する。
func IsFeed(contentType string, body []byte) bool {
	mediaType := normalizeMediaType(contentType)
	if _, ok := feedMediaTypes[mediaType]; ok {
		return true
	}
	if mediaType != "text/xml" && mediaType != "application/xml" {
		return false
	}
	return looksLikeFeedXML(body)
}

// IsHTML はContent-TypeがHTMLかどうかを返す。
func IsHTML(contentType string) bool {
	return strings.Contains(normalizeMediaType(contentType), "html")
}

func normalizeMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

func looksLikeFeedXML(body []byte) bool {
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	prefix := strings.ToLower(string(head))

	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// FindFeedLinks はHTMLのhead内にある rel="alternate" のRSS/Atomリンクを返す。
// 相対URLはpageURLを基準に解決する。
func FindFeedLinks(htmlBody []byte, pageURL string) []Candidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var found []Candidate
	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return found

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return found
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return found
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := readAttrs(z)
			if !hasRel(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			kind, ok := feedMediaTypes[strings.ToLower(attrs["type"])]
			if !ok {
				continue
			}
			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			found = append(found, Candidate{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: attrs["title"],
			})
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := map[string]string{}
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == want {
			return true
		}
	}
	return false
}

// Best は候補から1つを選ぶ。
// 入力ページと同じホストを優先し、次にAtom、同点なら先に現れたもの。
func Best(candidates []Candidate, pageURL string) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 2
		}
		if c.Kind == KindAtom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return candidates[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
