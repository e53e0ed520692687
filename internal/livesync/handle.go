// Package livesync はカタログと受講コースのライブ購読を提供する。
//
// 購読は呼び出し側が所有するHandleとして返され、Closeで確実に解放される。
// 読み取りに失敗した購読は自動で再開せず、Handleは停止する。
package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
)

// Snapshot は購読者へ配信する一覧。
type Snapshot struct {
	Courses []model.Course
	// Fallback はCoursesがサンプルコースに置き換えられている場合にtrue。
	Fallback bool
	// Generation はこのスナップショットを生んだ読み取りの世代。外側の読み取りごとに増え、減ることはない。
	Generation uint64
}

// Sink はスナップショットとエラーの配信先。
// 1つのHandleからの呼び出しは直列化される。
type Sink interface {
	Publish(Snapshot)
	Fail(error)
}

// Handle はライブ購読1件を表す。
type Handle struct {
	kind    string
	sink    Sink
	logger  *zap.Logger
	metrics metrics.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	// latest は発行済みの最新世代。これより古い結果は破棄する。
	latest atomic.Uint64

	subsMu sync.Mutex
	subs   []*changefeed.Subscription

	// mu はSinkへの呼び出しを直列化する。
	mu     sync.Mutex
	filter string
	base   *Snapshot

	refresh func(ctx context.Context) error
}

func newHandle(parent context.Context, kind string, sink Sink, logger *zap.Logger, m metrics.MetricsCollector) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		kind:    kind,
		sink:    sink,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.RecordListenerOpened(kind)
	return h
}

// SetFilter は検索クエリを変更し、キャッシュ済みの一覧から絞り込み結果を再配信する。
// ストアへの読み取りは行わない。
func (h *Handle) SetFilter(query string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.filter = query
	if h.base == nil || h.closed.Load() {
		return
	}
	h.publishLocked(*h.base)
}

// Refresh は購読とは別に1回だけ読み直して配信する。規則はライブ購読と同じ。
func (h *Handle) Refresh(ctx context.Context) error {
	if h.closed.Load() {
		return nil
	}
	if h.refresh == nil {
		return nil
	}
	return h.refresh(ctx)
}

// Done は購読が停止したときにクローズされるチャネルを返す。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close は購読を解除する。複数回・任意のgoroutineから呼び出しても安全。
// 配信中のスナップショットが1件だけ完了することがある。
func (h *Handle) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		h.cancel()

		h.subsMu.Lock()
		subs := h.subs
		h.subs = nil
		h.subsMu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}

		h.metrics.RecordListenerClosed(h.kind)
		close(h.done)
	})
}

func (h *Handle) addSubscription(sub *changefeed.Subscription) {
	h.subsMu.Lock()
	if h.closed.Load() {
		h.subsMu.Unlock()
		sub.Close()
		return
	}
	h.subs = append(h.subs, sub)
	h.subsMu.Unlock()
}

func (h *Handle) removeSubscription(sub *changefeed.Subscription) {
	h.subsMu.Lock()
	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	h.subsMu.Unlock()
	sub.Close()
}

// dispatch は新しい世代を発行する。
func (h *Handle) dispatch() uint64 {
	return h.latest.Add(1)
}

// deliver は世代が最新である場合のみスナップショットを配信する。
func (h *Handle) deliver(s Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return false
	}
	if s.Generation < h.latest.Load() {
		h.metrics.RecordStaleDiscard()
		h.logger.Debug("discarding stale snapshot",
			zap.String("kind", h.kind),
			zap.Uint64("generation", s.Generation),
			zap.Uint64("latest", h.latest.Load()),
		)
		return false
	}
	h.base = &s
	h.publishLocked(s)
	return true
}

func (h *Handle) publishLocked(s Snapshot) {
	view := s
	view.Courses = catalog.Filter(s.Courses, h.filter)
	h.sink.Publish(view)
	h.metrics.RecordSnapshot(h.kind)
}

// fail はエラーを通知し、許可されていればサンプルコースを配信してから停止する。
func (h *Handle) fail(err error, samples []model.Course, generation uint64) {
	h.mu.Lock()
	if !h.closed.Load() {
		h.sink.Fail(err)
		if samples != nil {
			s := Snapshot{Courses: samples, Fallback: true, Generation: generation}
			h.base = &s
			h.publishLocked(s)
		}
	}
	h.mu.Unlock()

	h.logger.Warn("live subscription stopped after read failure",
		zap.String("kind", h.kind),
		zap.Error(err),
	)
	h.Close()
}

// storeError はユーザー向けのエラーに変換する。
func storeError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewStoreAccessDeniedError()
}
