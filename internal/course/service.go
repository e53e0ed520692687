// Package course は管理者によるコース・レッスンの作成・更新・削除を提供する。
package course

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/course/feedimport"
	"github.com/hitoshi/latework/internal/database"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
	"github.com/hitoshi/latework/internal/security"
)

// CourseInput はコース作成の入力。
type CourseInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Level          string `json:"level"`
	Duration       string `json:"duration"`
	Pic            string `json:"pic"`
	Category       string `json:"category"`
	RecommendedFor string `json:"recommendedFor"`
}

// LessonInput はレッスン作成の入力。Orderを省略した場合は末尾に追加する。
type LessonInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	VideoURL    string       `json:"videoUrl"`
	DocumentURL string       `json:"documentUrl"`
	Order       *LessonOrder `json:"order"`
}

// LessonUpdate はレッスンのマージ更新の入力。
type LessonUpdate struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	VideoURL    *string      `json:"videoUrl"`
	DocumentURL *string      `json:"documentUrl"`
	Order       *LessonOrder `json:"order"`
}

// EntrySource はレッスン取り込み元のフィードを取得するインターフェース。
type EntrySource interface {
	Fetch(ctx context.Context, rawURL string) ([]feedimport.Entry, error)
}

// Service はコース管理のサービス層。
// 権限チェックは呼び出し側（管理者用ミドルウェア）で行う。
type Service struct {
	courseRepo repository.CourseRepository
	lessonRepo repository.LessonRepository
	sanitizer  security.HTMLSanitizer
	entries    EntrySource
	changes    changefeed.Publisher
	metrics    metrics.MetricsCollector
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	courseRepo repository.CourseRepository,
	lessonRepo repository.LessonRepository,
	sanitizer security.HTMLSanitizer,
	entries EntrySource,
	changes changefeed.Publisher,
	m metrics.MetricsCollector,
	logger *zap.Logger,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		courseRepo: courseRepo,
		lessonRepo: lessonRepo,
		sanitizer:  sanitizer,
		entries:    entries,
		changes:    changes,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// CreateCourse はコースを作成する。
// IDはサーバーで採番し、createdAtとupdatedAtに現在時刻を設定する。
func (s *Service) CreateCourse(ctx context.Context, in CourseInput) (_ *model.Course, err error) {
	defer func() { s.metrics.RecordMutation("create_course", err) }()

	if err := validateCourseInput(in); err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	c := &model.Course{
		ID:             s.newID(),
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Level:          strings.TrimSpace(in.Level),
		Duration:       strings.TrimSpace(in.Duration),
		Pic:            strings.TrimSpace(in.Pic),
		Category:       strings.TrimSpace(in.Category),
		RecommendedFor: strings.TrimSpace(in.RecommendedFor),
		CreatedAt:      nowMs,
		UpdatedAt:      nowMs,
	}
	if err := s.courseRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コースの作成に失敗しました: %w", err)
	}

	s.publish(changefeed.CollectionCourses, c.ID, "", changefeed.OpInsert)
	s.logger.Info("course created", zap.String("course_id", c.ID))

	out := catalog.Normalize(toRecord(c), s.now())
	return &out, nil
}

// UpdateCourse はnilでない項目のみをマージ更新する。
// updatedAtは既存値より小さくならない。
func (s *Service) UpdateCourse(ctx context.Context, courseID string, patch model.CoursePatch) (_ *model.Course, err error) {
	defer func() { s.metrics.RecordMutation("update_course", err) }()

	if patch.IsEmpty() {
		return nil, model.NewValidationError("course", "更新する項目がありません")
	}
	required := []struct {
		field string
		value *string
	}{
		{"name", patch.Name},
		{"description", patch.Description},
		{"level", patch.Level},
		{"duration", patch.Duration},
	}
	for _, r := range required {
		if r.value != nil && strings.TrimSpace(*r.value) == "" {
			return nil, model.NewValidationError(r.field, "空にすることはできません")
		}
	}

	found, err := s.courseRepo.Update(ctx, courseID, patch, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("コースの更新に失敗しました: %w", err)
	}
	if !found {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	s.publish(changefeed.CollectionCourses, courseID, "", changefeed.OpUpdate)

	rec, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("更新後のコースの取得に失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}
	out := catalog.Normalize(*rec, s.now())
	return &out, nil
}

// DeleteCourse はコースを削除する。レッスンは外部キーによりまとめて削除される。
// 受講者のプロフィールに残ったIDは掃除しない。
func (s *Service) DeleteCourse(ctx context.Context, courseID string) (err error) {
	defer func() { s.metrics.RecordMutation("delete_course", err) }()

	if err := s.courseRepo.Delete(ctx, courseID); err != nil {
		return fmt.Errorf("コースの削除に失敗しました: %w", err)
	}
	s.publish(changefeed.CollectionCourses, courseID, "", changefeed.OpDelete)
	s.logger.Info("course deleted", zap.String("course_id", courseID))
	return nil
}

// CreateLesson はレッスンを作成する。
// 順番を省略した場合は既存の最大値+1を使う。
func (s *Service) CreateLesson(ctx context.Context, courseID string, in LessonInput) (_ *model.Lesson, err error) {
	defer func() { s.metrics.RecordMutation("create_lesson", err) }()

	if strings.TrimSpace(in.Title) == "" {
		return nil, model.NewValidationError("title", "必須項目です")
	}

	var order int
	if in.Order != nil {
		if order, err = in.Order.Int(); err != nil {
			return nil, err
		}
	} else {
		maxOrder, err := s.lessonRepo.MaxOrder(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("レッスン順序の取得に失敗しました: %w", err)
		}
		order = maxOrder + 1
	}

	nowMs := s.now().UnixMilli()
	lesson := &model.Lesson{
		ID:          s.newID(),
		CourseID:    courseID,
		Title:       strings.TrimSpace(in.Title),
		Description: s.sanitizer.Sanitize(in.Description),
		VideoURL:    strings.TrimSpace(in.VideoURL),
		DocumentURL: strings.TrimSpace(in.DocumentURL),
		Order:       order,
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
	}
	if err := s.lessonRepo.Create(ctx, lesson); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, model.NewCourseNotFoundError(courseID)
		}
		return nil, fmt.Errorf("レッスンの作成に失敗しました: %w", err)
	}

	s.publish(changefeed.CollectionLessons, lesson.ID, courseID, changefeed.OpInsert)
	return lesson, nil
}

// UpdateLesson はnilでない項目のみをマージ更新する。
func (s *Service) UpdateLesson(ctx context.Context, courseID, lessonID string, in LessonUpdate) (_ *model.Lesson, err error) {
	defer func() { s.metrics.RecordMutation("update_lesson", err) }()

	patch := model.LessonPatch{
		VideoURL:    in.VideoURL,
		DocumentURL: in.DocumentURL,
	}
	if in.Order != nil {
		n, err := in.Order.Int()
		if err != nil {
			return nil, err
		}
		patch.Order = &n
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, model.NewValidationError("title", "空にすることはできません")
		}
		patch.Title = &title
	}
	if in.Description != nil {
		desc := s.sanitizer.Sanitize(*in.Description)
		patch.Description = &desc
	}
	if patch.IsEmpty() {
		return nil, model.NewValidationError("lesson", "更新する項目がありません")
	}

	found, err := s.lessonRepo.Update(ctx, courseID, lessonID, patch, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("レッスンの更新に失敗しました: %w", err)
	}
	if !found {
		return nil, model.NewLessonNotFoundError(lessonID)
	}
	s.publish(changefeed.CollectionLessons, lessonID, courseID, changefeed.OpUpdate)

	lesson, err := s.lessonRepo.FindByID(ctx, courseID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("更新後のレッスンの取得に失敗しました: %w", err)
	}
	if lesson == nil {
		return nil, model.NewLessonNotFoundError(lessonID)
	}
	return lesson, nil
}

// DeleteLesson はレッスンを削除する。
func (s *Service) DeleteLesson(ctx context.Context, courseID, lessonID string) (err error) {
	defer func() { s.metrics.RecordMutation("delete_lesson", err) }()

	if err := s.lessonRepo.Delete(ctx, courseID, lessonID); err != nil {
		return fmt.Errorf("レッスンの削除に失敗しました: %w", err)
	}
	s.publish(changefeed.CollectionLessons, lessonID, courseID, changefeed.OpDelete)
	return nil
}

// ImportLessonsFromFeed はRSS/Atomフィードの記事をレッスンとして末尾に追加する。
// タイトルは記事タイトル、説明はサニタイズ済みの要約、動画URLは記事のリンクになる。
func (s *Service) ImportLessonsFromFeed(ctx context.Context, courseID, feedURL string) (_ []*model.Lesson, err error) {
	defer func() { s.metrics.RecordMutation("import_lessons", err) }()
	start := s.now()

	exists, err := s.courseRepo.Exists(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("コースの確認に失敗しました: %w", err)
	}
	if !exists {
		return nil, model.NewCourseNotFoundError(courseID)
	}

	entries, err := s.entries.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	maxOrder, err := s.lessonRepo.MaxOrder(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("レッスン順序の取得に失敗しました: %w", err)
	}

	nowMs := s.now().UnixMilli()
	created := make([]*model.Lesson, 0, len(entries))
	for i, e := range entries {
		lesson := &model.Lesson{
			ID:          s.newID(),
			CourseID:    courseID,
			Title:       e.Title,
			Description: s.sanitizer.Sanitize(e.Summary),
			VideoURL:    e.Link,
			Order:       maxOrder + i + 1,
			CreatedAt:   nowMs,
			UpdatedAt:   nowMs,
		}
		if err := s.lessonRepo.Create(ctx, lesson); err != nil {
			if database.IsForeignKeyViolation(err) {
				return created, model.NewCourseNotFoundError(courseID)
			}
			return created, fmt.Errorf("取り込んだレッスンの保存に失敗しました: %w", err)
		}
		created = append(created, lesson)
		s.publish(changefeed.CollectionLessons, lesson.ID, courseID, changefeed.OpInsert)
	}

	s.metrics.RecordImportLatency(s.now().Sub(start))
	s.logger.Info("lessons imported from feed",
		zap.String("course_id", courseID),
		zap.String("feed_url", feedURL),
		zap.Int("lessons", len(created)),
	)
	return created, nil
}

func (s *Service) publish(collection, id, parentID, op string) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(changefeed.Event{
		Collection: collection,
		DocumentID: id,
		ParentID:   parentID,
		Op:         op,
	})
}

func validateCourseInput(in CourseInput) error {
	required := []struct {
		field string
		value string
	}{
		{"name", in.Name},
		{"description", in.Description},
		{"level", in.Level},
		{"duration", in.Duration},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return model.NewValidationError(r.field, "必須項目です")
		}
	}
	return nil
}

func toRecord(c *model.Course) model.CourseRecord {
	return model.CourseRecord{
		ID:             c.ID,
		Name:           &c.Name,
		Description:    &c.Description,
		Level:          &c.Level,
		Duration:       &c.Duration,
		Pic:            &c.Pic,
		Category:       &c.Category,
		RecommendedFor: &c.RecommendedFor,
		CreatedAt:      &c.CreatedAt,
		UpdatedAt:      &c.UpdatedAt,
	}
}
