package catalog

import (
	"time"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
)

// サンプルへ置き換えた理由。メトリクスのラベルにも使う。
const (
	ReasonEmpty      = "empty"
	ReasonReadFailed = "read_failed"
	ReasonPartial    = "partial"
)

// FallbackPolicy は一覧が空または読み取り不能な場合にサンプルコースへ置き換えるかを決める。
// 置き換えは必ずログとメトリクスに記録する。
type FallbackPolicy struct {
	Enabled bool

	logger  *zap.Logger
	metrics metrics.MetricsCollector
}

// NewFallbackPolicy はFallbackPolicyを生成する。
func NewFallbackPolicy(enabled bool, logger *zap.Logger, m metrics.MetricsCollector) *FallbackPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &FallbackPolicy{Enabled: enabled, logger: logger, metrics: m}
}

// Substitute はポリシーが許可する場合にサンプルコースを返す。
// 許可されない場合は (nil, false) を返す。
func (p *FallbackPolicy) Substitute(kind, reason string, now time.Time) ([]model.Course, bool) {
	if p == nil || !p.Enabled {
		return nil, false
	}
	p.logger.Info("substituting sample courses",
		zap.String("kind", kind),
		zap.String("reason", reason),
	)
	p.metrics.RecordFallback(kind, reason)
	return SampleCourses(now), true
}
