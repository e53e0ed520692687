// Package auth はメールアドレスとパスワードによる認証、セッション管理、
// パスワード再設定を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/database"
	"github.com/hitoshi/latework/internal/mailer"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
	"github.com/hitoshi/latework/internal/security"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer はセッショントークンの発行と検証のインターフェース。
type TokenIssuer interface {
	Issue(userID, sessionID string, issuedAt, expiresAt time.Time) (string, error)
	Parse(token string) (userID, sessionID string, err error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	ResetTokenTTL time.Duration // パスワード再設定トークンの有効期間
	BaseURL       string        // 再設定リンクの生成に使う公開URL
}

// SignUpInput は新規登録の入力。
type SignUpInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName"`
}

// SignedIn はサインイン完了時の結果。
type SignedIn struct {
	Token   string             `json:"token"`
	Session *model.Session     `json:"-"`
	Profile *model.UserProfile `json:"user"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	credRepo    repository.CredentialRepository
	profileRepo repository.ProfileRepository
	sessionRepo repository.SessionRepository
	resetTokens repository.ResetTokenStore
	hasher      PasswordHasher
	tokens      TokenIssuer
	mailer      mailer.Mailer
	changes     changefeed.Publisher
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	logger      *zap.Logger

	now   func() time.Time
	newID func() string
}

// Deps は認証サービスの依存関係。
type Deps struct {
	Credentials repository.CredentialRepository
	Profiles    repository.ProfileRepository
	Sessions    repository.SessionRepository
	ResetTokens repository.ResetTokenStore
	Hasher      PasswordHasher
	Tokens      TokenIssuer
	Mailer      mailer.Mailer
	Changes     changefeed.Publisher
	Metrics     metrics.MetricsCollector
	Logger      *zap.Logger
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		credRepo:    deps.Credentials,
		profileRepo: deps.Profiles,
		sessionRepo: deps.Sessions,
		resetTokens: deps.ResetTokens,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		mailer:      deps.Mailer,
		changes:     deps.Changes,
		metrics:     m,
		config:      config,
		logger:      logger.With(zap.String("component", "auth")),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SignUp はアカウントを作成し、そのままセッションを開始する。
// 入力検証はストアへのアクセスより前にすべて行う。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (_ *SignedIn, err error) {
	defer func() { s.metrics.RecordMutation("sign_up", err) }()

	email := strings.TrimSpace(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)
	if email == "" || in.Password == "" || in.ConfirmPassword == "" || displayName == "" {
		return nil, model.NewValidationError("form", "すべての項目を入力してください")
	}
	if in.Password != in.ConfirmPassword {
		return nil, model.NewPasswordMismatchError()
	}
	if len(in.Password) < MinPasswordLength {
		return nil, model.NewWeakPasswordError(MinPasswordLength)
	}
	if !validEmail(email) {
		return nil, model.NewInvalidEmailError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now()
	userID := s.newID()
	credential := &model.Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.UserProfile{
		ID:              userID,
		Email:           email,
		DisplayName:     displayName,
		Role:            model.RoleUser,
		EnrolledCourses: []string{},
		CreatedAt:       now.UnixMilli(),
	}

	if err := s.credRepo.CreateWithProfile(ctx, credential, profile); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, model.NewEmailAlreadyInUseError()
		}
		return nil, fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	s.publish(changefeed.Event{Collection: changefeed.CollectionProfiles, DocumentID: userID, Op: changefeed.OpInsert})

	s.logger.Info("user signed up", zap.String("user_id", userID))

	return s.openSession(ctx, profile)
}

// SignIn はメールアドレスとパスワードを検証し、セッションを開始する。
// プロフィールが存在しない場合は初回のみ作成する。
func (s *Service) SignIn(ctx context.Context, email, password string) (_ *SignedIn, err error) {
	defer func() { s.metrics.RecordMutation("sign_in", err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	credential, err := s.credRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if credential == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := s.hasher.Compare(credential.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("パスワードの照合に失敗しました: %w", err)
	}

	created, err := s.profileRepo.CreateIfAbsent(ctx, &model.UserProfile{
		ID:              credential.UserID,
		Email:           credential.Email,
		Role:            model.RoleUser,
		EnrolledCourses: []string{},
		CreatedAt:       s.now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	if created {
		s.publish(changefeed.Event{Collection: changefeed.CollectionProfiles, DocumentID: credential.UserID, Op: changefeed.OpInsert})
	}

	profile, err := s.profileRepo.FindByID(ctx, credential.UserID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}

	return s.openSession(ctx, profile)
}

// SignOut はセッションを破棄する。存在しないセッションでもエラーにしない。
func (s *Service) SignOut(ctx context.Context, session *model.Session) (err error) {
	defer func() { s.metrics.RecordMutation("sign_out", err) }()

	if session == nil || session.ID == "" {
		return model.NewUnauthorizedError()
	}
	if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	s.publish(changefeed.Event{
		Collection: changefeed.CollectionSessions,
		DocumentID: session.ID,
		ParentID:   session.UserID,
		Op:         changefeed.OpDelete,
	})

	s.logger.Info("user signed out", zap.String("user_id", session.UserID))
	return nil
}

// Authenticate はセッショントークンを検証し、対応するセッションを返す。
// トークンが正しくてもセッション行が削除済みであれば無効とする。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError()
	}
	userID, sessionID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil || session.UserID != userID {
		return nil, model.NewUnauthorizedError()
	}
	return session, nil
}

// SessionActive はセッションがまだ有効かどうかを返す。
func (s *Service) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	return session != nil, nil
}

// CurrentUser はユーザーのプロフィールを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.UserProfile, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return profile, nil
}

// IsAdmin はユーザーが管理者かどうかを返す。プロフィールがない場合はfalse。
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return profile.IsAdmin(), nil
}

// RequestPasswordReset は再設定トークンを発行してメールで送る。
// 未登録のメールアドレスでも成功を返す。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.RecordMutation("request_password_reset", err) }()

	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return model.NewInvalidEmailError()
	}

	credential, err := s.credRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if credential == nil {
		s.logger.Info("password reset requested for unknown email")
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("再設定トークンの生成に失敗しました: %w", err)
	}
	if err := s.resetTokens.Save(ctx, token, credential.UserID, s.config.ResetTokenTTL); err != nil {
		return fmt.Errorf("再設定トークンの保存に失敗しました: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, credential.Email, s.resetLink(token)); err != nil {
		return fmt.Errorf("再設定メールの送信に失敗しました: %w", err)
	}

	s.logger.Info("password reset mail sent", zap.String("user_id", credential.UserID))
	return nil
}

// ResetPassword はトークンを検証してパスワードを更新し、既存セッションをすべて失効させる。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { s.metrics.RecordMutation("reset_password", err) }()

	if len(newPassword) < MinPasswordLength {
		return model.NewWeakPasswordError(MinPasswordLength)
	}
	if token == "" {
		return model.NewInvalidResetTokenError()
	}

	// 先にトークンを消費する。以降で失敗した場合は再設定をやり直してもらう
	userID, err := s.resetTokens.Consume(ctx, token)
	if err != nil {
		return fmt.Errorf("再設定トークンの取得に失敗しました: %w", err)
	}
	if userID == "" {
		return model.NewInvalidResetTokenError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.credRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	s.publish(changefeed.Event{Collection: changefeed.CollectionSessions, ParentID: userID, Op: changefeed.OpDelete})

	s.logger.Info("password reset completed", zap.String("user_id", userID))
	return nil
}

// openSession はセッションを作成し、トークンを発行する。
func (s *Service) openSession(ctx context.Context, profile *model.UserProfile) (*SignedIn, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("セッションIDの生成に失敗しました: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    profile.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	token, err := s.tokens.Issue(session.UserID, session.ID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("セッショントークンの発行に失敗しました: %w", err)
	}

	s.publish(changefeed.Event{
		Collection: changefeed.CollectionSessions,
		DocumentID: session.ID,
		ParentID:   session.UserID,
		Op:         changefeed.OpInsert,
	})
	return &SignedIn{Token: token, Session: session, Profile: profile}, nil
}

func (s *Service) resetLink(token string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

func (s *Service) publish(e changefeed.Event) {
	if s.changes != nil {
		s.changes.Publish(e)
	}
}

// SessionMatcher は指定セッションの変更に反応するchangefeedのマッチャーを返す。
// ユーザー単位の一括失効（DocumentIDが空）にも反応する。
func SessionMatcher(userID, sessionID string) func(changefeed.Event) bool {
	return func(e changefeed.Event) bool {
		if e.IsResync() {
			return true
		}
		if e.Collection != changefeed.CollectionSessions {
			return false
		}
		if e.DocumentID == sessionID {
			return true
		}
		return e.DocumentID == "" && e.ParentID == userID
	}
}

// validEmail はアドレス部のみからなる妥当なメールアドレスかを判定する。
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	return randomToken()
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
