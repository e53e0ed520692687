package livesync

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/latework/internal/model"
)

const waitTimeout = 2 * time.Second

// --- テスト用Sink ---

type recordingSink struct {
	snapshots chan Snapshot
	errs      chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		snapshots: make(chan Snapshot, 32),
		errs:      make(chan error, 8),
	}
}

func (s *recordingSink) Publish(snap Snapshot) { s.snapshots <- snap }
func (s *recordingSink) Fail(err error) { s.errs <- err }

func (s *recordingSink) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case snap := <-s.snapshots:
		return snap
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func (s *recordingSink) nextErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errs:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func (s *recordingSink) assertQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case snap := <-s.snapshots:
		t.Fatalf("unexpected snapshot: %+v", snap)
	case err := <-s.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(d):
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		t.Fatal("handle did not stop")
	}
}

// --- テスト用メトリクス ---

type countingMetrics struct {
	opened, closed, snapshots, stale atomic.Int32
}

func (m *countingMetrics) RecordListenerOpened(string) { m.opened.Add(1) }
func (m *countingMetrics) RecordListenerClosed(string) { m.closed.Add(1) }
func (m *countingMetrics) RecordSnapshot(string) { m.snapshots.Add(1) }
func (m *countingMetrics) RecordFallback(string, string) {}
func (m *countingMetrics) RecordStaleDiscard() { m.stale.Add(1) }
func (m *countingMetrics) RecordMutation(string, error) {}
func (m *countingMetrics) RecordHTTPStatus(int) {}
func (m *countingMetrics) RecordImportLatency(time.Duration) {}

func courseIDs(courses []model.Course) []string {
	out := make([]string, len(courses))
	for i, c := range courses {
		out[i] = c.ID
	}
	return out
}

func asAPIError(err error, target **model.APIError) bool {
	return errors.As(err, target)
}
