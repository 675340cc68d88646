package model

import (
	"errors"
	"fmt"
)

// センチネルエラー。errors.Isで判定する。
var (
	// ErrConflict は一意制約違反（同時ログインによるアカウント作成競合等）を表す。
	ErrConflict = errors.New("conflict")

	// ErrEmailNotVerified はプロバイダーがメールアドレスを未検証と報告した場合のエラー。
	ErrEmailNotVerified = errors.New("email not verified by provider")

	// ErrNoVerifiedEmail はプロバイダーから検証済みメールアドレスを取得できなかった場合のエラー。
	ErrNoVerifiedEmail = errors.New("no verified email available")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeMissingParam    = "MISSING_PARAM"
	ErrCodeLoginFailed     = "LOGIN_FAILED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeUnknownProvider = "UNKNOWN_PROVIDER"
)

// NewUnknownProviderError は未対応プロバイダー指定エラーを生成する。
func NewUnknownProviderError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("unknown provider: %s", name),
		Category: "validation",
		Action:   "対応しているプロバイダーを指定してください。",
	}
}

// NewInvalidStateError はOAuth stateの検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "invalid state parameter",
		Category: "validation",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewMissingParamError はコールバックの必須パラメータ欠落エラーを生成する。
func NewMissingParamError(param string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParam,
		Message:  fmt.Sprintf("missing required parameter: %s", param),
		Category: "validation",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewLoginFailedError はログイン失敗エラーを生成する。
// detailは開発環境でのみ設定し、本番では空にする。
func NewLoginFailedError(detail string) *APIError {
	msg := "login failed"
	if detail != "" {
		msg = fmt.Sprintf("login failed: %s", detail)
	}
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  msg,
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
// Cookie欠落・期限切れ・改ざんを区別せず、常に同一内容を返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "unauthorized",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
