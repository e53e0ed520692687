package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
)

// PartialPolicy は受講コースの一部が見つからない場合の扱いを表す。
type PartialPolicy string

const (
	// PartialFallbackSamples は一部欠落時にサンプルコースへ置き換える（既定）。
	PartialFallbackSamples PartialPolicy = "samples"
	// PartialFallbackShowFound は見つかったコースのみを表示する。
	PartialFallbackShowFound PartialPolicy = "partial"
)

// ParsePartialPolicy は設定値をPartialPolicyに変換する。
func ParsePartialPolicy(s string) (PartialPolicy, error) {
	switch p := PartialPolicy(s); p {
	case PartialFallbackSamples, PartialFallbackShowFound:
		return p, nil
	default:
		return "", fmt.Errorf("unknown partial fallback policy: %q", s)
	}
}

// EnrolledResolver は受講コースID一覧とストアの取得結果から表示用の一覧を組み立てる。
// ライブ購読と1回限りの読み取りで同じ規則を使う。
type EnrolledResolver struct {
	partial  PartialPolicy
	fallback *FallbackPolicy
	logger   *zap.Logger
}

// NewEnrolledResolver はEnrolledResolverを生成する。
func NewEnrolledResolver(partial PartialPolicy, fallback *FallbackPolicy, logger *zap.Logger) *EnrolledResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrolledResolver{partial: partial, fallback: fallback, logger: logger}
}

// Resolve は取得したレコードを正規化して新しい順に返す。
// 要求したIDの一部しか見つからない場合、ポリシーに従いサンプルコースへ置き換える。
// 2番目の戻り値はサンプルへ置き換えた場合にtrue。
func (r *EnrolledResolver) Resolve(records []*model.CourseRecord, requested []string, now time.Time) ([]model.Course, bool) {
	wanted := DistinctIDs(requested)
	if len(wanted) == 0 {
		return []model.Course{}, false
	}

	wantedSet := make(map[string]struct{}, len(wanted))
	for _, id := range wanted {
		wantedSet[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(records))
	courses := make([]model.Course, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, ok := wantedSet[rec.ID]; !ok {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		courses = append(courses, Normalize(*rec, now))
	}

	if len(courses) < len(wanted) {
		r.logger.Warn("enrolled courses partially missing",
			zap.Int("requested", len(wanted)),
			zap.Int("found", len(courses)),
			zap.String("policy", string(r.partial)),
		)
		if r.partial == PartialFallbackSamples {
			if samples, ok := r.fallback.Substitute(metrics.KindEnrollment, ReasonPartial, now); ok {
				return samples, true
			}
		}
	}

	SortByNewest(courses)
	return courses, false
}

// DistinctIDs は空文字と重複を除いたID一覧を出現順に返す。
func DistinctIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// EnrolledView はユーザーの受講コース一覧の読み取り結果。
type EnrolledView struct {
	// IDs はプロフィールに記録された受講コースID（重複除去済み）。
	IDs      []string
	Courses  []model.Course
	Fallback bool
}

// EnrolledLoader はプロフィールと受講コースを読み込み、EnrolledResolverの規則で組み立てる。
type EnrolledLoader struct {
	profiles repository.ProfileRepository
	courses  repository.CourseRepository
	resolver *EnrolledResolver
	now      func() time.Time
}

// NewEnrolledLoader はEnrolledLoaderを生成する。
func NewEnrolledLoader(profiles repository.ProfileRepository, courses repository.CourseRepository, resolver *EnrolledResolver) *EnrolledLoader {
	return &EnrolledLoader{
		profiles: profiles,
		courses:  courses,
		resolver: resolver,
		now:      time.Now,
	}
}

// LoadForUser はプロフィールを読み、受講コースIDに一致するコースを返す。
// プロフィールが存在しない場合は空の一覧を返す。
func (l *EnrolledLoader) LoadForUser(ctx context.Context, userID string) (*EnrolledView, error) {
	profile, err := l.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return &EnrolledView{IDs: []string{}, Courses: []model.Course{}}, nil
	}
	return l.LoadByIDs(ctx, profile.EnrolledCourses)
}

// LoadByIDs は指定IDのコースを読み込む。
func (l *EnrolledLoader) LoadByIDs(ctx context.Context, ids []string) (*EnrolledView, error) {
	wanted := DistinctIDs(ids)
	if len(wanted) == 0 {
		return &EnrolledView{IDs: wanted, Courses: []model.Course{}}, nil
	}

	records, err := l.courses.ListByIDs(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("受講コースの取得に失敗しました: %w", err)
	}
	courses, fallback := l.resolver.Resolve(records, wanted, l.now())
	return &EnrolledView{IDs: wanted, Courses: courses, Fallback: fallback}, nil
}
