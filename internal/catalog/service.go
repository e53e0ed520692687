package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/database"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
)

// Listing はカタログ一覧の読み取り結果。
type Listing struct {
	Courses []model.Course
	// Fallback はCoursesがサンプルコースに置き換えられている場合にtrue。
	Fallback bool
	// Err は読み取りに失敗したがサンプルで置き換えた場合のユーザー向けエラー。
	Err *model.APIError
}

// Service はカタログの1回限りの読み取り経路を提供する。
// ライブ購読（livesync）も同じLoadを使い、正規化とフォールバックの規則を共有する。
type Service struct {
	courseRepo repository.CourseRepository
	lessonRepo repository.LessonRepository
	fallback   *FallbackPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	courseRepo repository.CourseRepository,
	lessonRepo repository.LessonRepository,
	fallback *FallbackPolicy,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		courseRepo: courseRepo,
		lessonRepo: lessonRepo,
		fallback:   fallback,
		logger:     logger,
		now:        time.Now,
	}
}

// Load は全コースを読み込み、正規化して新しい順に並べる。
// 0件の場合と読み取りに失敗した場合はポリシーに従ってサンプルコースへ置き換える。
// 読み取りに失敗し、置き換えも許可されない場合はエラーを返す。
func (s *Service) Load(ctx context.Context) (*Listing, error) {
	now := s.now()

	records, err := s.courseRepo.List(ctx)
	if err != nil {
		s.logger.Error("failed to read course catalog", zap.Error(err))
		apiErr := model.NewStoreAccessDeniedError()
		if samples, ok := s.fallback.Substitute(metrics.KindCatalog, ReasonReadFailed, now); ok {
			return &Listing{Courses: samples, Fallback: true, Err: apiErr}, nil
		}
		return nil, apiErr
	}

	courses := NormalizeAll(records, now)
	if len(courses) == 0 {
		if samples, ok := s.fallback.Substitute(metrics.KindCatalog, ReasonEmpty, now); ok {
			return &Listing{Courses: samples, Fallback: true}, nil
		}
		return &Listing{Courses: []model.Course{}}, nil
	}

	SortByNewest(courses)
	return &Listing{Courses: courses}, nil
}

// ListCourses は検索クエリで絞り込んだコース一覧を返す。
func (s *Service) ListCourses(ctx context.Context, query string) (*Listing, error) {
	listing, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Listing{
		Courses:  Filter(listing.Courses, query),
		Fallback: listing.Fallback,
		Err:      listing.Err,
	}, nil
}

// GetCourse は指定IDのコースを正規化して返す。
func (s *Service) GetCourse(ctx context.Context, courseID string) (*model.Course, error) {
	rec, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, s.readError("コースの取得に失敗しました", err)
	}
	if rec == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	course := Normalize(*rec, s.now())
	return &course, nil
}

// ListLessons はコースのレッスンをorder昇順で返す。
func (s *Service) ListLessons(ctx context.Context, courseID string) ([]*model.Lesson, error) {
	exists, err := s.courseRepo.Exists(ctx, courseID)
	if err != nil {
		return nil, s.readError("コースの確認に失敗しました", err)
	}
	if !exists {
		return nil, model.NewCourseNotFoundError(courseID)
	}

	lessons, err := s.lessonRepo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, s.readError("レッスン一覧の取得に失敗しました", err)
	}
	SortLessons(lessons)
	return lessons, nil
}

// GetLesson はレッスンと前後のレッスンを返す。
func (s *Service) GetLesson(ctx context.Context, courseID, lessonID string) (*model.LessonWithNeighbors, error) {
	lessons, err := s.ListLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}

	for i, lesson := range lessons {
		if lesson.ID != lessonID {
			continue
		}
		result := &model.LessonWithNeighbors{
			Lesson:   lesson,
			Position: i + 1,
			Total:    len(lessons),
		}
		if i > 0 {
			result.Previous = lessons[i-1]
		}
		if i < len(lessons)-1 {
			result.Next = lessons[i+1]
		}
		return result, nil
	}
	return nil, model.NewLessonNotFoundError(lessonID)
}

// readError は権限エラーをSTORE_ACCESS_DENIEDに変換し、それ以外はラップして返す。
func (s *Service) readError(msg string, err error) error {
	if database.IsPermissionDenied(err) {
		s.logger.Error(msg, zap.Error(err))
		return model.NewStoreAccessDeniedError()
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// SortLessons はorder昇順（同順位はID昇順）に並べ替える。
func SortLessons(lessons []*model.Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		if lessons[i].Order != lessons[j].Order {
			return lessons[i].Order < lessons[j].Order
		}
		return lessons[i].ID < lessons[j].ID
	})
}
