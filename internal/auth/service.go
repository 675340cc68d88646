package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// LoginResult はコールバック処理の結果。
// Tokenは平文のセッショントークンで、この構造体以外には保持されない。
type LoginResult struct {
	User  *model.User
	Token string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[model.Provider]Provider
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	sanitizer   *security.ProfileSanitizer
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	providers []Provider,
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	registry := make(map[model.Provider]Provider, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return &Service{
		providers:   registry,
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		sanitizer:   security.NewProfileSanitizer(),
		config:      config,
	}
}

// Provider は指定名のプロバイダーを返す。未登録の場合はエラーを返す。
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.providers[model.Provider(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// プロフィール取得、表示名のサニタイズ、ローカルユーザーへの照合、
// セッション発行までを1つの流れとして実行する。
// 並行ログインでユニーク制約に衝突した場合は照合を1回だけ再試行する。
func (s *Service) HandleCallback(ctx context.Context, providerName, code string) (*LoginResult, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	profile, err := provider.FetchProfile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	profile.Name = s.sanitizer.SanitizeName(profile.Name)

	user, err := s.accountRepo.Reconcile(ctx, profile)
	if errors.Is(err, model.ErrConflict) {
		// 同一プロフィールの並行ログインが先に作成を終えた場合、
		// 再照合すれば連携済み分岐で解決できる
		slog.Warn("reconcile conflict, retrying",
			slog.String("provider", string(profile.Provider)),
		)
		user, err = s.accountRepo.Reconcile(ctx, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile identity: %w", err)
	}

	token, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", string(profile.Provider)),
	)

	return &LoginResult{User: user, Token: token}, nil
}

// ValidateSession は平文トークンからセッションを検証し、所有ユーザーを返す。
// 無効・期限切れの場合はnilを返す。
func (s *Service) ValidateSession(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	user, err := s.sessionRepo.FindUserByTokenHash(ctx, security.HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	return user, nil
}

// Logout はセッションを破棄する。存在しないトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByTokenHash(ctx, security.HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// LogoutAll は指定ユーザーの全セッションを破棄する。
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	slog.Info("all sessions revoked", slog.String("user_id", userID))
	return nil
}

// SweepExpired は期限切れセッションを削除し、削除件数を返す。
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	deleted, err := s.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	if deleted > 0 {
		slog.Info("expired sessions swept", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

// issueSession は新しいセッショントークンを生成し、ハッシュのみを永続化する。
// 戻り値はクライアントに渡す平文トークン。
func (s *Service) issueSession(ctx context.Context, userID string) (string, error) {
	token, err := security.GenerateToken(security.DefaultTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: security.HashToken(token),
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	return token, nil
}
