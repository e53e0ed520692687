package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/model"
)

type fakeEnrolledLoader struct {
	mu      sync.Mutex
	ids     []string
	courses map[string]model.Course
	err     error

	// blockCall 回目のLoadForUserはIDを読んだ後、releaseが閉じられるまで待つ
	blockCall int32
	release   chan struct{}

	forUserCalls atomic.Int32
	byIDsCalls   atomic.Int32
}

func newFakeEnrolledLoader(ids ...string) *fakeEnrolledLoader {
	f := &fakeEnrolledLoader{courses: map[string]model.Course{}}
	f.ids = ids
	for _, id := range ids {
		f.courses[id] = model.Course{ID: id, Name: "course-" + id}
	}
	return f
}

func (f *fakeEnrolledLoader) setIDs(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	for _, id := range ids {
		if _, ok := f.courses[id]; !ok {
			f.courses[id] = model.Course{ID: id, Name: "course-" + id}
		}
	}
}

func (f *fakeEnrolledLoader) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEnrolledLoader) LoadForUser(ctx context.Context, userID string) (*catalog.EnrolledView, error) {
	n := f.forUserCalls.Add(1)

	f.mu.Lock()
	ids := append([]string(nil), f.ids...)
	err := f.err
	f.mu.Unlock()

	if n == f.blockCall && f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.view(ids), nil
}

func (f *fakeEnrolledLoader) LoadByIDs(ctx context.Context, ids []string) (*catalog.EnrolledView, error) {
	f.byIDsCalls.Add(1)
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.view(ids), nil
}

func (f *fakeEnrolledLoader) view(ids []string) *catalog.EnrolledView {
	f.mu.Lock()
	defer f.mu.Unlock()
	courses := []model.Course{}
	for _, id := range ids {
		if c, ok := f.courses[id]; ok {
			courses = append(courses, c)
		}
	}
	return &catalog.EnrolledView{IDs: ids, Courses: courses}
}

func newTestEnrollmentWatcher(loader EnrolledLoader, hub *changefeed.Hub, m *countingMetrics) *EnrollmentWatcher {
	var fallback = catalog.NewFallbackPolicy(true, nil, nil)
	if m == nil {
		return NewEnrollmentWatcher(loader, fallback, hub, nil, nil)
	}
	return NewEnrollmentWatcher(loader, fallback, hub, nil, m)
}

func profileChanged(hub *changefeed.Hub, userID string) {
	hub.Publish(changefeed.Event{Collection: changefeed.CollectionProfiles, DocumentID: userID, Op: changefeed.OpUpdate})
}

func TestEnrollmentWatcher_EmptyUserIDPublishesEmptyWithoutSubscribing(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader()
	sink := newRecordingSink()

	h, err := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "", sink)
	assert.Equal(t, err, nil)
	defer h.Close()

	snap := sink.next(t)
	assert.Equal(t, len(snap.Courses), 0)
	assert.Equal(t, hub.Len(), 0)
	assert.Equal(t, loader.forUserCalls.Load(), int32(0))
}

func TestEnrollmentWatcher_RepublishesOnProfileChange(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	defer h.Close()

	first := sink.next(t)
	assert.Equal(t, courseIDs(first.Courses), []string{"a"})

	loader.setIDs("a", "b")
	profileChanged(hub, "u1")

	second := sink.next(t)
	assert.Equal(t, courseIDs(second.Courses), []string{"a", "b"})
	if second.Generation <= first.Generation {
		t.Errorf("generation should increase: %d -> %d", first.Generation, second.Generation)
	}
}

func TestEnrollmentWatcher_IgnoresOtherUsersProfiles(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	defer h.Close()
	sink.next(t)

	profileChanged(hub, "someone-else")

	sink.assertQuiet(t, 100*time.Millisecond)
}

func TestEnrollmentWatcher_InnerQueriesFollowEnrolledIDs(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader()
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	defer h.Close()

	// プロフィールとコースの購読は最初の読み取りより前に開始している
	assert.Equal(t, hub.Len(), 2)
	empty := sink.next(t)
	assert.Equal(t, len(empty.Courses), 0)

	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "a", Op: changefeed.OpUpdate})
	sink.assertQuiet(t, 100*time.Millisecond)
	assert.Equal(t, loader.byIDsCalls.Load(), int32(0))

	loader.setIDs("a")
	profileChanged(hub, "u1")
	assert.Equal(t, courseIDs(sink.next(t).Courses), []string{"a"})

	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "a", Op: changefeed.OpUpdate})
	assert.Equal(t, courseIDs(sink.next(t).Courses), []string{"a"})
	assert.Equal(t, loader.byIDsCalls.Load(), int32(1))

	loader.setIDs()
	profileChanged(hub, "u1")
	assert.Equal(t, len(sink.next(t).Courses), 0)

	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "a", Op: changefeed.OpUpdate})
	sink.assertQuiet(t, 100*time.Millisecond)
	assert.Equal(t, loader.byIDsCalls.Load(), int32(1))
}

func TestEnrollmentWatcher_CourseChangeTriggersInnerQuery(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	defer h.Close()
	sink.next(t)

	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "unrelated", Op: changefeed.OpUpdate})
	sink.assertQuiet(t, 100*time.Millisecond)
	assert.Equal(t, loader.byIDsCalls.Load(), int32(0))

	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "a", Op: changefeed.OpUpdate})
	snap := sink.next(t)
	assert.Equal(t, courseIDs(snap.Courses), []string{"a"})
	assert.Equal(t, loader.byIDsCalls.Load(), int32(1))
}

func TestEnrollmentWatcher_DiscardsStaleResult(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("old")
	loader.blockCall, loader.release = 1, make(chan struct{})
	sink := newRecordingSink()
	m := &countingMetrics{}

	h, _ := newTestEnrollmentWatcher(loader, hub, m).Watch(context.Background(), "u1", sink)
	defer h.Close()

	// 1回目の読み取りが完了する前に新しいプロフィールが届く
	for loader.forUserCalls.Load() < 1 {
		time.Sleep(time.Millisecond)
	}
	loader.setIDs("new")
	profileChanged(hub, "u1")

	fresh := sink.next(t)
	assert.Equal(t, courseIDs(fresh.Courses), []string{"new"})

	close(loader.release)

	deadline := time.Now().Add(waitTimeout)
	for m.stale.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("stale result was not discarded")
		}
		time.Sleep(time.Millisecond)
	}
	sink.assertQuiet(t, 50*time.Millisecond)
}

// プロフィールの読み取り中に受講中コースが更新されても、新しいプロフィールの結果が
// 古いIDによる読み取り結果に負けないことを検証する。
func TestEnrollmentWatcher_CourseChangeDuringProfileReadKeepsNewIDs(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	loader.blockCall, loader.release = 2, make(chan struct{})
	sink := newRecordingSink()
	m := &countingMetrics{}

	h, _ := newTestEnrollmentWatcher(loader, hub, m).Watch(context.Background(), "u1", sink)
	defer h.Close()

	initial := sink.next(t)
	assert.Equal(t, courseIDs(initial.Courses), []string{"a"})

	loader.setIDs("a", "b")
	profileChanged(hub, "u1")
	for loader.forUserCalls.Load() < 2 {
		time.Sleep(time.Millisecond)
	}

	// 読み取り中の受講中コースの更新は、古いID集合では読み直さない
	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "a", Op: changefeed.OpUpdate})
	sink.assertQuiet(t, 100*time.Millisecond)
	assert.Equal(t, loader.byIDsCalls.Load(), int32(0))

	close(loader.release)

	fresh := sink.next(t)
	assert.Equal(t, courseIDs(fresh.Courses), []string{"a", "b"})
	if fresh.Generation <= initial.Generation {
		t.Errorf("generation should increase: %d -> %d", initial.Generation, fresh.Generation)
	}

	// 保留したコースの変更は確定したIDで読み直される
	reread := sink.next(t)
	assert.Equal(t, courseIDs(reread.Courses), []string{"a", "b"})
	assert.Equal(t, loader.byIDsCalls.Load(), int32(1))

	// 新しく受講したコースの変更も追跡される
	hub.Publish(changefeed.Event{Collection: changefeed.CollectionCourses, DocumentID: "b", Op: changefeed.OpUpdate})
	assert.Equal(t, courseIDs(sink.next(t).Courses), []string{"a", "b"})
	assert.Equal(t, loader.byIDsCalls.Load(), int32(2))
	assert.Equal(t, m.stale.Load(), int32(0))
}

func TestEnrollmentWatcher_FailureReportsErrorThenSamplesAndStops(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	loader.setErr(errors.New("permission denied"))
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)

	err := sink.nextErr(t)
	var apiErr *model.APIError
	assert.Equal(t, asAPIError(err, &apiErr), true)
	assert.Equal(t, apiErr.Code, model.ErrCodeStoreAccessDenied)

	snap := sink.next(t)
	assert.Equal(t, snap.Fallback, true)
	assert.Equal(t, len(snap.Courses), 3)

	waitDone(t, h)
	assert.Equal(t, hub.Len(), 0)
}

func TestEnrollmentWatcher_CloseReleasesAllSubscriptions(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	sink.next(t)
	assert.Equal(t, hub.Len(), 2)

	h.Close()
	h.Close()

	waitDone(t, h)
	assert.Equal(t, hub.Len(), 0)

	profileChanged(hub, "u1")
	sink.assertQuiet(t, 50*time.Millisecond)
}

func TestEnrollmentWatcher_RefreshRereadsProfile(t *testing.T) {
	hub := changefeed.NewHub(nil)
	loader := newFakeEnrolledLoader("a")
	sink := newRecordingSink()

	h, _ := newTestEnrollmentWatcher(loader, hub, nil).Watch(context.Background(), "u1", sink)
	defer h.Close()
	sink.next(t)

	loader.setIDs("b")
	assert.Equal(t, h.Refresh(context.Background()), nil)

	snap := sink.next(t)
	assert.Equal(t, courseIDs(snap.Courses), []string{"b"})
}
