// Package user はプロフィールの参照・更新と退会処理を提供する。
package user

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/changefeed"
	"github.com/hitoshi/latework/internal/metrics"
	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/repository"
)

// ProfileUpdate は本人が変更できるプロフィール項目。nilの項目は変更しない。
// roleは含めない。
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

// Service はユーザー管理のサービス層。
type Service struct {
	profileRepo repository.ProfileRepository
	credRepo    repository.CredentialRepository
	changes     changefeed.Publisher
	metrics     metrics.MetricsCollector
	logger      *zap.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	credRepo repository.CredentialRepository,
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
		profileRepo: profileRepo,
		credRepo:    credRepo,
		changes:     changes,
		metrics:     m,
		logger:      logger,
	}
}

// GetProfile は本人のプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return profile, nil
}

// UpdateProfile は表示名と写真URLを更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (_ *model.UserProfile, err error) {
	defer func() { s.metrics.RecordMutation("update_profile", err) }()

	if in.DisplayName == nil && in.PhotoURL == nil {
		return nil, model.NewValidationError("profile", "更新する項目がありません")
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, model.NewValidationError("displayName", "表示名を入力してください")
		}
		in.DisplayName = &name
	}
	if in.PhotoURL != nil {
		photo := strings.TrimSpace(*in.PhotoURL)
		if photo != "" && !strings.HasPrefix(photo, "https://") && !strings.HasPrefix(photo, "http://") {
			return nil, model.NewValidationError("photoURL", "http(s)のURLを指定してください")
		}
		in.PhotoURL = &photo
	}

	ok, err := s.profileRepo.UpdateDetails(ctx, userID, in.DisplayName, in.PhotoURL)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewProfileNotFoundError()
	}
	s.publish(changefeed.Event{Collection: changefeed.CollectionProfiles, DocumentID: userID, Op: changefeed.OpUpdate})

	return s.GetProfile(ctx, userID)
}

// Withdraw はユーザーの退会処理を実行する。
// 認証情報を削除し、プロフィールとセッションはCASCADE削除される。
// コースは共有データとして残す。
func (s *Service) Withdraw(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.RecordMutation("withdraw", err) }()

	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return model.NewProfileNotFoundError()
	}

	s.logger.Info("退会処理を開始します", zap.String("user_id", userID))

	if err := s.credRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("認証情報の削除に失敗しました: %w", err)
	}

	s.publish(changefeed.Event{Collection: changefeed.CollectionProfiles, DocumentID: userID, Op: changefeed.OpDelete})
	s.publish(changefeed.Event{Collection: changefeed.CollectionSessions, ParentID: userID, Op: changefeed.OpDelete})

	s.logger.Info("退会処理が完了しました", zap.String("user_id", userID))
	return nil
}

func (s *Service) publish(e changefeed.Event) {
	if s.changes != nil {
		s.changes.Publish(e)
	}
}
