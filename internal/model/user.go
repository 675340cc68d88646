// Package model はドメインモデルを定義する。
package model

import "time"

// Provider は対応する外部IdPの識別子。
type Provider string

const (
	// ProviderGoogle はGoogle OAuthプロバイダー。
	ProviderGoogle Provider = "google"
	// ProviderGithub はGitHub OAuthプロバイダー。
	ProviderGithub Provider = "github"
)

// User はサービス利用ユーザーを表す。
// emailはグローバルに一意で、プロバイダーから渡された値をそのまま保持する。
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OAuthAccount は外部IdPアカウントとユーザーの紐付けを表す。
// (provider, provider_user_id) はグローバルに一意。作成後は更新されない。
type OAuthAccount struct {
	ID             string
	UserID         string
	Provider       Provider
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// 生のベアラートークンは保存せず、SHA-256ハッシュのみを保持する。
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ProviderProfile はプロバイダーから取得したプロフィールを正規化した形。
// 名寄せ（reconcile）の入力となる。
type ProviderProfile struct {
	Provider       Provider
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}
