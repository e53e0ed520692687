package livesync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
)

// EnrolledLoader は受講コース一覧を読み込む。
type EnrolledLoader interface {
	LoadForUser(ctx context.Context, userID string) (*catalog.EnrolledView, error)
	LoadByIDs(ctx context.Context, ids []string) (*catalog.EnrolledView, error)
}

// EnrollmentWatcher はユーザーの受講コース一覧のライブ購読を提供する。
//
// プロフィール（外側）の変更ごとに受講コースIDを読み直し、そのIDに一致するコース（内側）の
// 変更も購読する。読み取りは外側の世代番号付きで非同期に発行され、最新の世代より古い結果は
// 配信せず破棄する。
type EnrollmentWatcher struct {
	loader   EnrolledLoader
	fallback *catalog.FallbackPolicy
	hub      *changefeed.Hub
	logger   *zap.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewEnrollmentWatcher はEnrollmentWatcherを生成する。
func NewEnrollmentWatcher(
	loader EnrolledLoader,
	fallback *catalog.FallbackPolicy,
	hub *changefeed.Hub,
	logger *zap.Logger,
	m metrics.MetricsCollector,
) *EnrollmentWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &EnrollmentWatcher{
		loader:   loader,
		fallback: fallback,
		hub:      hub,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

type enrollmentResult struct {
	generation uint64
	outer      bool
	// seq は内側の読み取りの発行順。同じ世代の中での前後関係に使う。
	seq  uint64
	view *catalog.EnrolledView
	err  error
}

// Watch は購読を開始する。userIDが空の場合は空の一覧を1回だけ配信し、購読は行わない。
// プロフィールとコースの購読は最初の読み取りより前に開始する。
func (w *EnrollmentWatcher) Watch(ctx context.Context, userID string, sink Sink) (*Handle, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	h := newHandle(ctx, metrics.KindEnrollment, sink, w.logger, w.metrics)
	if userID == "" {
		h.deliver(Snapshot{Courses: []model.Course{}, Generation: h.dispatch()})
		return h, nil
	}

	profileSub := w.hub.Subscribe(changefeed.MatchDocument(changefeed.CollectionProfiles, userID))
	h.addSubscription(profileSub)
	courseSub := w.hub.Subscribe(changefeed.MatchCollection(changefeed.CollectionCourses))
	h.addSubscription(courseSub)

	kick := make(chan struct{}, 1)
	h.refresh = func(ctx context.Context) error {
		select {
		case kick <- struct{}{}:
		default:
		}
		return nil
	}

	go w.run(h, userID, profileSub, courseSub, kick)
	return h, nil
}

// run は読み取りの発行と結果の配信を1つのgoroutineで直列に行う。
//
// 世代はプロフィールの読み取り（外側）ごとにだけ進める。内側の読み取りは発行時点の世代を
// 引き継ぐため、後から発行された外側の読み取りがあれば破棄される。外側の読み取りが
// 未完了の間はコースの変更を保留し、新しいIDが確定してから内側の読み取りを発行する。
func (w *EnrollmentWatcher) run(h *Handle, userID string, profileSub, courseSub *changefeed.Subscription, kick <-chan struct{}) {
	results := make(chan enrollmentResult, 1)

	current := map[string]struct{}{}
	var currentIDs []string

	awaitingOuter := false
	innerDirty := false
	var innerSeq, deliveredSeq uint64

	dispatchOuter := func() {
		generation := h.dispatch()
		awaitingOuter = true
		go func() {
			view, err := w.loader.LoadForUser(h.ctx, userID)
			w.send(h.ctx, results, enrollmentResult{generation: generation, outer: true, view: view, err: err})
		}()
	}
	dispatchInner := func() {
		innerDirty = false
		if len(currentIDs) == 0 {
			return
		}
		generation := h.latest.Load()
		innerSeq++
		seq := innerSeq
		ids := append([]string(nil), currentIDs...)
		go func() {
			view, err := w.loader.LoadByIDs(h.ctx, ids)
			w.send(h.ctx, results, enrollmentResult{generation: generation, seq: seq, view: view, err: err})
		}()
	}

	dispatchOuter()
	for {
		select {
		case <-h.ctx.Done():
			return

		case _, ok := <-profileSub.C:
			if !ok {
				return
			}
			dispatchOuter()

		case <-kick:
			dispatchOuter()

		case e, ok := <-courseSub.C:
			if !ok {
				return
			}
			if awaitingOuter {
				innerDirty = true
				continue
			}
			if _, enrolled := current[e.DocumentID]; enrolled || e.IsResync() {
				dispatchInner()
			}

		case res := <-results:
			if h.ctx.Err() != nil {
				return
			}
			if res.generation < h.latest.Load() || (!res.outer && res.seq < deliveredSeq) {
				h.metrics.RecordStaleDiscard()
				w.logger.Debug("discarding stale enrollment result",
					zap.Uint64("generation", res.generation),
					zap.Uint64("latest", h.latest.Load()),
					zap.Bool("outer", res.outer),
				)
				continue
			}
			if res.err != nil {
				w.logger.Error("failed to read enrolled courses", zap.String("user_id", userID), zap.Error(res.err))
				samples, _ := w.fallback.Substitute(metrics.KindEnrollment, catalog.ReasonReadFailed, w.now())
				h.fail(storeError(res.err), samples, res.generation)
				return
			}

			if res.outer {
				awaitingOuter = false
				currentIDs = res.view.IDs
				current = make(map[string]struct{}, len(currentIDs))
				for _, id := range currentIDs {
					current[id] = struct{}{}
				}
			} else {
				deliveredSeq = res.seq
			}

			h.deliver(Snapshot{
				Courses:    res.view.Courses,
				Fallback:   res.view.Fallback,
				Generation: res.generation,
			})

			// 外側の読み取り中に届いたコースの変更は、確定したIDで読み直す
			if res.outer && innerDirty {
				dispatchInner()
			}
		}
	}
}

func (w *EnrollmentWatcher) send(ctx context.Context, results chan<- enrollmentResult, res enrollmentResult) {
	select {
	case results <- res:
	case <-ctx.Done():
	}
}
