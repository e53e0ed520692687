// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/latework/internal/model"
)

// CourseRepository はコースデータの永続化インターフェース。
// 読み取り系は正規化前の生レコードを返す。
type CourseRepository interface {
	// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CourseRecord, error)

	// List は全コースを取得する。並び順は呼び出し側で決定する。
	List(ctx context.Context) ([]*model.CourseRecord, error)

	// ListByIDs は指定IDのいずれかに一致するコースを取得する。
	// 存在しないIDは単に結果に含まれない。
	ListByIDs(ctx context.Context, ids []string) ([]*model.CourseRecord, error)

	// Exists は指定IDのコースが存在するかを返す。
	Exists(ctx context.Context, id string) (bool, error)

	// Create はコースを作成する。
	Create(ctx context.Context, course *model.Course) error

	// Update はnilでないフィールドのみをマージ更新する。
	// updated_atは既存値より小さくならない。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, id string, patch model.CoursePatch, updatedAt int64) (bool, error)

	// Delete は指定IDのコースを削除する。存在しない場合もエラーにしない。
	// レッスンはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// LessonRepository はレッスンデータの永続化インターフェース。
type LessonRepository interface {
	// FindByID はコース内の指定レッスンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, courseID, lessonID string) (*model.Lesson, error)

	// ListByCourse はコースのレッスンをorder昇順（同順位はID順）で返す。
	ListByCourse(ctx context.Context, courseID string) ([]*model.Lesson, error)

	// MaxOrder はコース内の最大orderを返す。レッスンがない場合は0を返す。
	MaxOrder(ctx context.Context, courseID string) (int, error)

	// Create はレッスンを作成する。
	Create(ctx context.Context, lesson *model.Lesson) error

	// Update はnilでないフィールドのみをマージ更新する。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, courseID, lessonID string, patch model.LessonPatch, updatedAt int64) (bool, error)

	// Delete は指定レッスンを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, courseID, lessonID string) error
}

// ProfileRepository はユーザープロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID string) (*model.UserProfile, error)

	// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
	// 作成した場合はtrueを返す。
	CreateIfAbsent(ctx context.Context, profile *model.UserProfile) (bool, error)

	// AddEnrolledCourse は受講コースIDを重複なく追加する（冪等）。
	// プロフィールが存在しない場合はfalseを返す。
	AddEnrolledCourse(ctx context.Context, userID, courseID string) (bool, error)

	// ReplaceEnrolledCourses は受講コースIDのリスト全体を置き換える。
	// プロフィールが存在しない場合はfalseを返す。
	ReplaceEnrolledCourses(ctx context.Context, userID string, courseIDs []string) (bool, error)

	// UpdateLastAccessedLesson は最後に閲覧したレッスンIDを記録する。
	UpdateLastAccessedLesson(ctx context.Context, userID, lessonID string) (bool, error)

	// UpdateDetails は表示名と写真URLをマージ更新する。roleは更新しない。
	UpdateDetails(ctx context.Context, userID string, displayName, photoURL *string) (bool, error)
}

// CredentialRepository はメールアドレス・パスワード認証情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレス（大文字小文字を区別しない）で検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// CreateWithProfile は認証情報とプロフィールを同一トランザクションで作成する。
	// メールアドレスが重複する場合は一意制約違反のエラーを返す。
	CreateWithProfile(ctx context.Context, credential *model.Credential, profile *model.UserProfile) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error

	// DeleteByUserID は認証情報を削除する。
	// プロフィールとセッションはCASCADE削除される。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ResetTokenStore はパスワード再設定トークンの一時保存先。
type ResetTokenStore interface {
	// Save はトークンとユーザーIDの対応をTTL付きで保存する。
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	// Consume はトークンを取り出すと同時に削除し、対応するユーザーIDを返す。
	// 各トークンは1回だけ使える。存在しない・期限切れ・使用済みの場合は空文字を返す。
	Consume(ctx context.Context, token string) (string, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
