package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/latework/internal/model"
)

const lessonColumns = `id, course_id, title, description, video_url, document_url, lesson_order, created_at, updated_at`

// PostgresLessonRepo はPostgreSQLを使用したレッスンリポジトリ。
type PostgresLessonRepo struct {
	db *sql.DB
}

// NewPostgresLessonRepo はPostgresLessonRepoを生成する。
func NewPostgresLessonRepo(db *sql.DB) *PostgresLessonRepo {
	return &PostgresLessonRepo{db: db}
}

// FindByID はコース内の指定レッスンを取得する。見つからない場合はnilを返す。
func (r *PostgresLessonRepo) FindByID(ctx context.Context, courseID, lessonID string) (*model.Lesson, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = $1 AND id = $2`,
		courseID, lessonID,
	)
	lesson, err := scanLesson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lesson: %w", err)
	}
	return lesson, nil
}

// ListByCourse はコースのレッスンをorder昇順で返す。
func (r *PostgresLessonRepo) ListByCourse(ctx context.Context, courseID string) ([]*model.Lesson, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons
		 WHERE course_id = $1
		 ORDER BY lesson_order ASC, id ASC`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	lessons := []*model.Lesson{}
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lessons: %w", err)
	}
	return lessons, nil
}

// MaxOrder はコース内の最大orderを返す。
func (r *PostgresLessonRepo) MaxOrder(ctx context.Context, courseID string) (int, error) {
	var maxOrder int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(lesson_order), 0) FROM lessons WHERE course_id = $1`,
		courseID,
	).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("failed to get max lesson order: %w", err)
	}
	return maxOrder, nil
}

// Create はレッスンを作成する。
func (r *PostgresLessonRepo) Create(ctx context.Context, lesson *model.Lesson) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lessons (`+lessonColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lesson.ID, lesson.CourseID, lesson.Title,
		nullIfEmpty(lesson.Description), nullIfEmpty(lesson.VideoURL), nullIfEmpty(lesson.DocumentURL),
		lesson.Order, lesson.CreatedAt, lesson.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lesson: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみをマージ更新する。
func (r *PostgresLessonRepo) Update(ctx context.Context, courseID, lessonID string, patch model.LessonPatch, updatedAt int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE lessons SET
			title        = COALESCE($3, title),
			description  = COALESCE($4, description),
			video_url    = COALESCE($5, video_url),
			document_url = COALESCE($6, document_url),
			lesson_order = COALESCE($7, lesson_order),
			updated_at   = GREATEST(updated_at, $8)
		 WHERE course_id = $1 AND id = $2`,
		courseID, lessonID, patch.Title, patch.Description, patch.VideoURL,
		patch.DocumentURL, patch.Order, updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update lesson: %w", err)
	}
	return affectedOne(result)
}

// Delete は指定レッスンを削除する。
func (r *PostgresLessonRepo) Delete(ctx context.Context, courseID, lessonID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM lessons WHERE course_id = $1 AND id = $2`,
		courseID, lessonID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete lesson: %w", err)
	}
	return nil
}

func scanLesson(row rowScanner) (*model.Lesson, error) {
	var lesson model.Lesson
	var desc, video, doc sql.NullString
	if err := row.Scan(
		&lesson.ID, &lesson.CourseID, &lesson.Title, &desc, &video, &doc,
		&lesson.Order, &lesson.CreatedAt, &lesson.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lesson.Description = desc.String
	lesson.VideoURL = video.String
	lesson.DocumentURL = doc.String
	return &lesson, nil
}

// compile-time interface check
var _ LessonRepository = (*PostgresLessonRepo)(nil)
