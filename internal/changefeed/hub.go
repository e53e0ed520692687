// Package changefeed はストアの変更通知をプロセス内の購読者へ配信する。
//
// 購読者は通知を受け取るたびにスナップショット全体を読み直す前提のため、
// 配信は合流（coalesce）され、購読者ごとに未処理の通知は最大1件となる。
package changefeed

import (
	"sync"

	"go.uber.org/zap"
)

// コレクション名。テーブルトリガーが通知するcollectionの値と一致する。
const (
	CollectionCourses  = "courses"
	CollectionLessons  = "lessons"
	CollectionProfiles = "profiles"
	CollectionSessions = "sessions"
)

// 操作種別。
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	// OpResync は通知の取りこぼしがありうることを示す。全購読者に配信される。
	OpResync = "resync"
)

// Event はドキュメント1件の変更通知。
type Event struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	ParentID   string `json:"parent_id"`
	Op         string `json:"op"`
}

// IsResync は再同期イベントかどうかを返す。
func (e Event) IsResync() bool {
	return e.Op == OpResync
}

// Hub は変更通知のファンアウトを行う。
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *zap.Logger
}

// NewHub は新しいHubを生成する。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.With(zap.String("component", "changefeed")),
	}
}

// Subscription はHubへの購読1件を表す。
type Subscription struct {
	// C は変更通知を受け取るチャネル。Close後にクローズされる。
	C <-chan Event

	ch    chan Event
	match func(Event) bool
	hub   *Hub
	once  sync.Once
}

// Subscribe はmatchがtrueを返すイベントを受け取る購読を開始する。
// matchがnilの場合は全イベントを受け取る。
func (h *Hub) Subscribe(match func(Event) bool) *Subscription {
	ch := make(chan Event, 1)
	sub := &Subscription{C: ch, ch: ch, match: match, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Close は購読を解除する。複数回呼び出しても安全。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Publish はイベントを該当する購読者へ配信する。ブロックしない。
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		if !e.IsResync() && sub.match != nil && !sub.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
			delivered++
		default:
			// 未処理の通知が残っている。購読者は次の読み直しで追いつく。
		}
	}

	h.logger.Debug("change event published",
		zap.String("collection", e.Collection),
		zap.String("op", e.Op),
		zap.Int("delivered", delivered),
	)
}

// Len は現在の購読数を返す。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publisher は変更イベントを発行する側のインターフェース。
// 書き込みを行うサービスはNOTIFYの往復を待たずにこれで通知する。
type Publisher interface {
	Publish(e Event)
}

// compile-time interface check
var _ Publisher = (*Hub)(nil)

// MatchCollection は指定コレクションのイベントに一致するマッチャーを返す。
func MatchCollection(collection string) func(Event) bool {
	return func(e Event) bool {
		return e.Collection == collection
	}
}

// MatchDocument は指定ドキュメントのイベントに一致するマッチャーを返す。
func MatchDocument(collection, id string) func(Event) bool {
	return func(e Event) bool {
		return e.Collection == collection && e.DocumentID == id
	}
}
