package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/latework/internal/model"
	"github.com/lib/pq"
)

const courseColumns = `id, name, description, level, duration, pic, category, recommended_for, created_at, updated_at`

// PostgresCourseRepo はPostgreSQLを使用したコースリポジトリ。
type PostgresCourseRepo struct {
	db *sql.DB
}

// NewPostgresCourseRepo はPostgresCourseRepoを生成する。
func NewPostgresCourseRepo(db *sql.DB) *PostgresCourseRepo {
	return &PostgresCourseRepo{db: db}
}

// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindByID(ctx context.Context, id string) (*model.CourseRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`,
		id,
	)
	rec, err := scanCourseRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course: %w", err)
	}
	return rec, nil
}

// List は全コースを取得する。
func (r *PostgresCourseRepo) List(ctx context.Context) ([]*model.CourseRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	return collectCourseRecords(rows)
}

// ListByIDs は指定IDのいずれかに一致するコースを取得する。
func (r *PostgresCourseRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.CourseRecord, error) {
	if len(ids) == 0 {
		return []*model.CourseRecord{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses by ids: %w", err)
	}
	defer rows.Close()

	return collectCourseRecords(rows)
}

// Exists は指定IDのコースが存在するかを返す。
func (r *PostgresCourseRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check course existence: %w", err)
	}
	return exists, nil
}

// Create はコースを作成する。
func (r *PostgresCourseRepo) Create(ctx context.Context, course *model.Course) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO courses (`+courseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		course.ID, course.Name, course.Description, course.Level, course.Duration,
		course.Pic, nullIfEmpty(course.Category), nullIfEmpty(course.RecommendedFor),
		course.CreatedAt, course.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// Update はnilでないフィールドのみをマージ更新する。
func (r *PostgresCourseRepo) Update(ctx context.Context, id string, patch model.CoursePatch, updatedAt int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE courses SET
			name            = COALESCE($2, name),
			description     = COALESCE($3, description),
			level           = COALESCE($4, level),
			duration        = COALESCE($5, duration),
			pic             = COALESCE($6, pic),
			category        = COALESCE($7, category),
			recommended_for = COALESCE($8, recommended_for),
			updated_at      = GREATEST(COALESCE(updated_at, 0), $9)
		 WHERE id = $1`,
		id, patch.Name, patch.Description, patch.Level, patch.Duration,
		patch.Pic, patch.Category, patch.RecommendedFor, updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update course: %w", err)
	}
	return affectedOne(result)
}

// Delete は指定IDのコースを削除する。
func (r *PostgresCourseRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete course: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCourseRecord(row rowScanner) (*model.CourseRecord, error) {
	var rec model.CourseRecord
	var name, desc, level, duration, pic, category, recommended sql.NullString
	var createdAt, updatedAt sql.NullInt64
	if err := row.Scan(&rec.ID, &name, &desc, &level, &duration, &pic, &category, &recommended, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Name = stringPtr(name)
	rec.Description = stringPtr(desc)
	rec.Level = stringPtr(level)
	rec.Duration = stringPtr(duration)
	rec.Pic = stringPtr(pic)
	rec.Category = stringPtr(category)
	rec.RecommendedFor = stringPtr(recommended)
	rec.CreatedAt = int64Ptr(createdAt)
	rec.UpdatedAt = int64Ptr(updatedAt)
	return &rec, nil
}

func collectCourseRecords(rows *sql.Rows) ([]*model.CourseRecord, error) {
	records := []*model.CourseRecord{}
	for rows.Next() {
		rec, err := scanCourseRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return records, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ CourseRepository = (*PostgresCourseRepo)(nil)
