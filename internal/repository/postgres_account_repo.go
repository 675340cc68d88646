package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した外部プロバイダ連携リポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindLink はproviderとprovider_user_idで連携情報を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindLink(ctx context.Context, provider model.Provider, providerUserID string) (*model.OAuthAccount, error) {
	account := &model.OAuthAccount{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM oauth_accounts
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderUserID, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account: %w", err)
	}

	return account, nil
}

// Reconcile はプロバイダから取得したプロフィールをローカルユーザーに照合する。
// 連携済み・メール一致・新規の3分岐を単一トランザクションで解決する。
// 連携済みユーザーのname/avatar_urlはログインのたびに最新のプロフィールで更新するが、
// プロバイダが空値を返したフィールドは上書きしない。
func (r *PostgresAccountRepo) Reconcile(ctx context.Context, profile *model.ProviderProfile) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	// 1. 連携済みの (provider, provider_user_id) を検索
	user := &model.User{}
	err = tx.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.name, u.avatar_url, u.created_at, u.updated_at
		 FROM oauth_accounts a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.provider = $1 AND a.provider_user_id = $2`,
		profile.Provider, profile.ProviderUserID,
	).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)

	switch {
	case err == nil:
		// 連携済み: プロフィールを最新化して返す。
		// プロバイダが空で返したフィールドは既存値を維持する
		_, err = tx.ExecContext(ctx,
			`UPDATE users
			 SET name = COALESCE(NULLIF($1, ''), name),
			     avatar_url = COALESCE(NULLIF($2, ''), avatar_url),
			     updated_at = $3
			 WHERE id = $4`,
			profile.Name, profile.AvatarURL, now, user.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh user profile: %w", err)
		}
		if profile.Name != "" {
			user.Name = profile.Name
		}
		if profile.AvatarURL != "" {
			user.AvatarURL = profile.AvatarURL
		}
		user.UpdatedAt = now

	case err == sql.ErrNoRows:
		// 2. 同一メールアドレスの既存ユーザーを検索
		err = tx.QueryRowContext(ctx,
			`SELECT id, email, name, avatar_url, created_at, updated_at FROM users WHERE email = $1`,
			profile.Email,
		).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)

		switch {
		case err == nil:
			// メール一致: 既存ユーザーに連携情報を追加
			if err := insertAccount(ctx, tx, user.ID, profile, now); err != nil {
				return nil, err
			}

		case err == sql.ErrNoRows:
			// 3. 新規ユーザーと連携情報を作成
			user = &model.User{
				ID:        uuid.NewString(),
				Email:     profile.Email,
				Name:      profile.Name,
				AvatarURL: profile.AvatarURL,
				CreatedAt: now,
				UpdatedAt: now,
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO users (id, email, name, avatar_url, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				user.ID, user.Email, user.Name, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert user: %w", mapUniqueViolation(err))
			}
			if err := insertAccount(ctx, tx, user.ID, profile, now); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}

	default:
		return nil, fmt.Errorf("failed to find linked user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}

// insertAccount は連携情報を挿入する。ユニーク制約違反はmodel.ErrConflictに変換する。
func insertAccount(ctx context.Context, tx *sql.Tx, userID string, profile *model.ProviderProfile, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_accounts (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, profile.Provider, profile.ProviderUserID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert oauth account: %w", mapUniqueViolation(err))
	}
	return nil
}

// mapUniqueViolation はPostgreSQLのユニーク制約違反(23505)をmodel.ErrConflictに変換する。
// 並行ログインで同一ユーザー・同一連携が同時に作成された場合に発生する。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return model.ErrConflict
	}
	return err
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
