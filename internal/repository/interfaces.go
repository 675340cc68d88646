// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するoauth_accounts、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// AccountRepository は外部プロバイダ連携情報の永続化インターフェース。
// ログイン時のアイデンティティ照合をアトミックに実行する。
type AccountRepository interface {
	// FindLink はproviderとprovider_user_idで連携情報を検索する。
	// 見つからない場合はnilを返す。
	FindLink(ctx context.Context, provider model.Provider, providerUserID string) (*model.OAuthAccount, error)

	// Reconcile はプロバイダから取得したプロフィールをローカルユーザーに照合する。
	// 単一トランザクションで以下の順に解決する:
	//   1. 連携済み (provider, provider_user_id) が存在すればそのユーザーを返す
	//   2. 同一メールアドレスのユーザーが存在すれば連携情報を追加してそのユーザーを返す
	//   3. どちらも存在しなければユーザーと連携情報を新規作成する
	// 並行ログインでユニーク制約に衝突した場合はmodel.ErrConflictを返す。
	Reconcile(ctx context.Context, profile *model.ProviderProfile) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// 平文トークンは一切保存せず、SHA-256ハッシュのみを扱う。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindUserByTokenHash はトークンハッシュから有効期限内のセッションの
	// 所有ユーザーを取得する。期限切れまたは存在しない場合はnilを返す。
	FindUserByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)

	// DeleteByTokenHash は指定トークンハッシュのセッションを削除する。
	// 存在しない場合もエラーにしない。
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
