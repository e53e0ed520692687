package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/latework/internal/model"
	"github.com/lib/pq"
)

const profileColumns = `id, email, display_name, photo_url, role, enrolled_courses, last_accessed_lesson_id, created_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, userID string) (*model.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`,
		userID,
	)

	var p model.UserProfile
	var displayName, photoURL, lastLesson sql.NullString
	var role string
	err := row.Scan(&p.ID, &p.Email, &displayName, &photoURL, &role,
		pq.Array(&p.EnrolledCourses), &lastLesson, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	p.DisplayName = displayName.String
	p.PhotoURL = photoURL.String
	p.LastAccessedLessonID = lastLesson.String
	p.Role = model.Role(role)
	if p.EnrolledCourses == nil {
		p.EnrolledCourses = []string{}
	}
	return &p, nil
}

// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
func (r *PostgresProfileRepo) CreateIfAbsent(ctx context.Context, profile *model.UserProfile) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO user_profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		profile.ID, profile.Email, nullIfEmpty(profile.DisplayName), nullIfEmpty(profile.PhotoURL),
		string(profile.Role), pq.Array(nonNilIDs(profile.EnrolledCourses)),
		nullIfEmpty(profile.LastAccessedLessonID), profile.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create profile: %w", err)
	}
	return affectedOne(result)
}

// AddEnrolledCourse は受講コースIDを重複なく追加する。
// 既に含まれている場合も対象行は更新扱いとなりtrueを返す。
func (r *PostgresProfileRepo) AddEnrolledCourse(ctx context.Context, userID, courseID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles
		 SET enrolled_courses = CASE
			WHEN $2 = ANY(enrolled_courses) THEN enrolled_courses
			ELSE array_append(enrolled_courses, $2)
		 END
		 WHERE id = $1`,
		userID, courseID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add enrolled course: %w", err)
	}
	return affectedOne(result)
}

// ReplaceEnrolledCourses は受講コースIDのリスト全体を置き換える。
func (r *PostgresProfileRepo) ReplaceEnrolledCourses(ctx context.Context, userID string, courseIDs []string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET enrolled_courses = $2 WHERE id = $1`,
		userID, pq.Array(nonNilIDs(courseIDs)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to replace enrolled courses: %w", err)
	}
	return affectedOne(result)
}

// UpdateLastAccessedLesson は最後に閲覧したレッスンIDを記録する。
func (r *PostgresProfileRepo) UpdateLastAccessedLesson(ctx context.Context, userID, lessonID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET last_accessed_lesson_id = $2 WHERE id = $1`,
		userID, lessonID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update last accessed lesson: %w", err)
	}
	return affectedOne(result)
}

// UpdateDetails は表示名と写真URLをマージ更新する。
func (r *PostgresProfileRepo) UpdateDetails(ctx context.Context, userID string, displayName, photoURL *string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET
			display_name = COALESCE($2, display_name),
			photo_url    = COALESCE($3, photo_url)
		 WHERE id = $1`,
		userID, displayName, photoURL,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update profile: %w", err)
	}
	return affectedOne(result)
}

// pq.Array(nil) はNULLになり NOT NULL 制約に違反するため空配列に置き換える。
func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
