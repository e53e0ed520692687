package feedimport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/security"
)

const userAgent = "LateWork/1.0 (+lesson import)"

// Entry はフィードの1記事をレッスン化するための値。
type Entry struct {
	Title       string
	Summary     string // サニタイズ前のHTML
	Link        string
	PublishedAt *time.Time
}

// Importer はURLからフィードを検出・取得し、エントリを返す。
type Importer struct {
	guard  security.URLGuard
	logger *zap.Logger
}

// NewImporter はImporterを生成する。
func NewImporter(guard security.URLGuard, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{guard: guard, logger: logger}
}

// Fetch はURLのフィードを取得してエントリを古い順に返す。
// URLがHTMLページの場合はlink要素からフィードを自動検出して取り直す。
func (im *Importer) Fetch(ctx context.Context, rawURL string) ([]Entry, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}
	if err := im.guard.Validate(rawURL); err != nil {
		im.logger.Warn("blocked feed import url", zap.String("url", rawURL), zap.Error(err))
		return nil, model.NewSSRFBlockedError()
	}

	contentType, body, err := im.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feedURL := rawURL
	if !IsFeed(contentType, body) {
		if !IsHTML(contentType) {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		candidate, ok := Best(FindFeedLinks(body, rawURL), rawURL)
		if !ok {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		feedURL = candidate.URL
		if err := im.guard.Validate(feedURL); err != nil {
			return nil, model.NewSSRFBlockedError()
		}
		if _, body, err = im.get(ctx, feedURL); err != nil {
			return nil, err
		}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		im.logger.Warn("failed to parse feed", zap.String("feed_url", feedURL), zap.Error(err))
		return nil, model.NewParseFailedError()
	}

	entries := ToEntries(parsed.Items)
	im.logger.Info("feed fetched for lesson import",
		zap.String("feed_url", feedURL),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

func (im *Importer) get(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := im.guard.Client().Do(req)
	if err != nil {
		return "", nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := security.ReadLimited(resp.Body, im.guard.MaxBytes())
	if errors.Is(err, security.ErrResponseTooLarge) {
		return "", nil, model.NewFetchFailedError("レスポンスが大きすぎます")
	}
	if err != nil {
		return "", nil, model.NewFetchFailedError(err.Error())
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// ToEntries はgofeedの記事をEntryに変換し、公開日時の古い順に並べる。
// タイトルのない記事は取り込まない。日時のない記事はフィード内の順序を保って末尾に置く。
func ToEntries(items []*gofeed.Item) []Entry {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}

		e := Entry{
			Title:   strings.TrimSpace(item.Title),
			Summary: item.Description,
			Link:    item.Link,
		}
		if e.Summary == "" {
			e.Summary = item.Content
		}
		if e.Link == "" && isHTTPURL(item.GUID) {
			e.Link = item.GUID
		}
		switch {
		case item.PublishedParsed != nil:
			t := *item.PublishedParsed
			e.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := *item.UpdatedParsed
			e.PublishedAt = &t
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].PublishedAt, entries[j].PublishedAt
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.Before(*b)
	})
	return entries
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
