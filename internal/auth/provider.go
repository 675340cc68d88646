// Package auth はOAuth認証フロー、アイデンティティ照合、セッション管理を提供する。
package auth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authgate/internal/model"
)

// providerTimeout は外部プロバイダへのHTTPリクエスト全体のタイムアウト。
const providerTimeout = 10 * time.Second

// Provider はOAuth認証プロバイダーのインターフェース。
// Google, GitHubの2実装があり、同一のコールバック処理を共有する。
type Provider interface {
	// Name はプロバイダー識別子を返す。
	Name() model.Provider

	// AuthCodeURL は認可エンドポイントへのリダイレクトURLを生成する。
	AuthCodeURL(state string) string

	// FetchProfile は認可コードをトークンに交換し、正規化済みプロフィールを取得する。
	// 検証済みメールアドレスが得られない場合はエラーを返す。
	FetchProfile(ctx context.Context, code string) (*model.ProviderProfile, error)
}

// providerContext はトークン交換とAPI呼び出しに使うコンテキストを返す。
// タイムアウト付きのHTTPクライアントをoauth2パッケージに注入する。
func providerContext(ctx context.Context, client *http.Client) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return ctx, cancel
}
