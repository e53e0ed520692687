// Package enrollment は受講登録・受講解除など、ユーザー自身のプロフィールへの書き込みを提供する。
package enrollment

import (
	"context"
	"fmt"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
)

// EnrolledReader は受講コース一覧の読み取りインターフェース。
type EnrolledReader interface {
	LoadForUser(ctx context.Context, userID string) (*catalog.EnrolledView, error)
}

// Service は受講登録のサービス層。
type Service struct {
	profileRepo repository.ProfileRepository
	courseRepo  repository.CourseRepository
	lessonRepo  repository.LessonRepository
	enrolled    EnrolledReader
	changes     changefeed.Publisher
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// changesとmがnilの場合は通知・計測を行わない。
func NewService(
	profileRepo repository.ProfileRepository,
	courseRepo repository.CourseRepository,
	lessonRepo repository.LessonRepository,
	enrolled EnrolledReader,
	changes changefeed.Publisher,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		profileRepo: profileRepo,
		courseRepo:  courseRepo,
		lessonRepo:  lessonRepo,
		enrolled:    enrolled,
		changes:     changes,
		metrics:     m,
	}
}

// Enroll はコースを受講登録する。
// コースの存在を1回確認したうえで、重複しない形で受講コースIDを追加する。
// 既に登録済みの場合も成功として扱う。
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (err error) {
	defer func() { s.metrics.RecordMutation("enroll", err) }()

	if courseID == "" {
		return model.NewValidationError("courseId", "必須項目です")
	}

	exists, err := s.courseRepo.Exists(ctx, courseID)
	if err != nil {
		return fmt.Errorf("コースの確認に失敗しました: %w", err)
	}
	if !exists {
		// 空のカタログで表示されるサンプルコースはストアに存在しない
		if catalog.IsSampleCourseID(courseID) {
			return model.NewSampleCourseError(courseID)
		}
		return model.NewCourseNotFoundError(courseID)
	}

	updated, err := s.profileRepo.AddEnrolledCourse(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("受講登録に失敗しました: %w", err)
	}
	if !updated {
		return model.NewProfileNotFoundError()
	}

	s.notifyProfileChanged(userID)
	return nil
}

// Unenroll はコースの受講登録を解除する。
// プロフィールを読み直して登録済みであることを確認し、除外した一覧で全体を置き換える。
// 読み取りと書き込みの間に別の変更が入った場合は後勝ちになる。
func (s *Service) Unenroll(ctx context.Context, userID, courseID string) (err error) {
	defer func() { s.metrics.RecordMutation("unenroll", err) }()

	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return model.NewProfileNotFoundError()
	}
	if !profile.HasEnrolled(courseID) {
		return model.NewNotEnrolledError(courseID)
	}

	remaining := make([]string, 0, len(profile.EnrolledCourses))
	for _, id := range profile.EnrolledCourses {
		if id != courseID {
			remaining = append(remaining, id)
		}
	}

	updated, err := s.profileRepo.ReplaceEnrolledCourses(ctx, userID, remaining)
	if err != nil {
		return fmt.Errorf("受講解除に失敗しました: %w", err)
	}
	if !updated {
		return model.NewProfileNotFoundError()
	}

	s.notifyProfileChanged(userID)
	return nil
}

// IsEnrolled はコースを受講登録済みかどうかを返す。
// プロフィールが存在しない場合はfalseを返す。
func (s *Service) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return profile.HasEnrolled(courseID), nil
}

// ListEnrolledCourses は受講コース一覧を1回だけ読み取る。
// 正規化と部分取得時の代替表示はライブ購読と同じ規則に従う。
func (s *Service) ListEnrolledCourses(ctx context.Context, userID string) (*catalog.EnrolledView, error) {
	view, err := s.enrolled.LoadForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("受講コース一覧の取得に失敗しました: %w", err)
	}
	return view, nil
}

// RecordLessonAccess は最後に閲覧したレッスンをプロフィールに記録する。
func (s *Service) RecordLessonAccess(ctx context.Context, userID, courseID, lessonID string) (err error) {
	defer func() { s.metrics.RecordMutation("lesson_access", err) }()

	lesson, err := s.lessonRepo.FindByID(ctx, courseID, lessonID)
	if err != nil {
		return fmt.Errorf("レッスンの取得に失敗しました: %w", err)
	}
	if lesson == nil {
		return model.NewLessonNotFoundError(lessonID)
	}

	updated, err := s.profileRepo.UpdateLastAccessedLesson(ctx, userID, lessonID)
	if err != nil {
		return fmt.Errorf("閲覧履歴の記録に失敗しました: %w", err)
	}
	if !updated {
		return model.NewProfileNotFoundError()
	}

	s.notifyProfileChanged(userID)
	return nil
}

func (s *Service) notifyProfileChanged(userID string) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(changefeed.Event{
		Collection: changefeed.CollectionProfiles,
		DocumentID: userID,
		Op:         changefeed.OpUpdate,
	})
}
