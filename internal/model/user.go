package model

import "time"

// Role はユーザーの権限種別を表す。
// プロフィール作成時に1回だけ設定され、本人による変更はできない。
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserProfile はユーザーごとのプロフィールドキュメントを表す。
// IDは認証ストアのユーザーIDと一致する。
type UserProfile struct {
	ID                   string   `json:"uid"`
	Email                string   `json:"email"`
	DisplayName          string   `json:"displayName"`
	PhotoURL             string   `json:"photoURL"`
	Role                 Role     `json:"role"`
	EnrolledCourses      []string `json:"enrolledCourses"` // 順不同。削除済みコースのIDが残りうる
	LastAccessedLessonID string   `json:"lastAccessedLessonId,omitempty"`
	CreatedAt            int64    `json:"createdAt"`
}

// IsAdmin は管理者権限を持つ場合にtrueを返す。
func (p *UserProfile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// HasEnrolled は指定コースを受講登録済みかどうかを返す。
func (p *UserProfile) HasEnrolled(courseID string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

// Credential はメールアドレスとパスワードによる認証情報を表す。
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
