package livesync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/metrics"
)

// CatalogLoader はカタログ一覧を読み込む。
type CatalogLoader interface {
	Load(ctx context.Context) (*catalog.Listing, error)
}

// CatalogWatcher はコースコレクション全体のライブ購読を提供する。
type CatalogWatcher struct {
	loader  CatalogLoader
	hub     *changefeed.Hub
	logger  *zap.Logger
	metrics metrics.MetricsCollector
}

// NewCatalogWatcher はCatalogWatcherを生成する。
func NewCatalogWatcher(loader CatalogLoader, hub *changefeed.Hub, logger *zap.Logger, m metrics.MetricsCollector) *CatalogWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &CatalogWatcher{loader: loader, hub: hub, logger: logger, metrics: m}
}

// Watch は購読を開始する。初回のスナップショットと以後の変更ごとのスナップショットをsinkへ配信する。
func (w *CatalogWatcher) Watch(ctx context.Context, sink Sink) (*Handle, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	h := newHandle(ctx, metrics.KindCatalog, sink, w.logger, w.metrics)
	sub := w.hub.Subscribe(changefeed.MatchCollection(changefeed.CollectionCourses))
	h.addSubscription(sub)
	h.refresh = func(ctx context.Context) error {
		return w.load(ctx, h)
	}

	go w.run(h, sub)
	return h, nil
}

func (w *CatalogWatcher) run(h *Handle, sub *changefeed.Subscription) {
	if err := w.load(h.ctx, h); err != nil {
		return
	}
	for {
		select {
		case <-h.ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if err := w.load(h.ctx, h); err != nil {
				return
			}
		}
	}
}

// load は読み込んで配信する。エラーを返した場合Handleは停止している。
func (w *CatalogWatcher) load(ctx context.Context, h *Handle) error {
	generation := h.dispatch()

	listing, err := w.loader.Load(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		apiErr := storeError(err)
		h.fail(apiErr, nil, generation)
		return apiErr
	}
	if listing.Err != nil {
		var samples = listing.Courses
		if !listing.Fallback {
			samples = nil
		}
		h.fail(listing.Err, samples, generation)
		return listing.Err
	}

	h.deliver(Snapshot{
		Courses:    listing.Courses,
		Fallback:   listing.Fallback,
		Generation: generation,
	})
	return nil
}
