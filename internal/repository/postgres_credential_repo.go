package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/latework/internal/model"
	"github.com/lib/pq"
)

// PostgresCredentialRepo はPostgreSQLを使用した認証情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByEmail はメールアドレスで認証情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	c := &model.Credential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, created_at, updated_at
		 FROM credentials
		 WHERE lower(email) = lower($1)`,
		email,
	).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return c, nil
}

// CreateWithProfile は認証情報とプロフィールを同一トランザクションで作成する。
func (r *PostgresCredentialRepo) CreateWithProfile(ctx context.Context, credential *model.Credential, profile *model.UserProfile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		credential.UserID, credential.Email, credential.PasswordHash,
		credential.CreatedAt, credential.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.Email, nullIfEmpty(profile.DisplayName), nullIfEmpty(profile.PhotoURL),
		string(profile.Role), pq.Array(nonNilIDs(profile.EnrolledCourses)),
		nullIfEmpty(profile.LastAccessedLessonID), profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdatePasswordHash はパスワードハッシュを更新する。
func (r *PostgresCredentialRepo) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = $2, updated_at = now() WHERE user_id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return nil
}

// DeleteByUserID は認証情報を削除する。
func (r *PostgresCredentialRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
