// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

const oauthStateCookie = "oauth_state"

// stateCookieMaxAge はstate Cookieの有効期間（秒）。認可フロー1往復分だけ保持する。
const stateCookieMaxAge = 600

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Provider(name string) (auth.Provider, error)
	HandleCallback(ctx context.Context, providerName, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int  // セッションCookieの有効期間（秒）
	Production    bool // 本番ではログイン失敗の詳細をレスポンスに含めない
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	collector metrics.MetricsCollector
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, collector metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		collector: collector,
		config:    config,
	}
}

// Start はOAuthフローを開始する。
// GET /auth/{provider}/start
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, err := h.service.Provider(providerName)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(providerName))
		return
	}

	state, err := security.GenerateToken(security.DefaultTokenBytes)
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if _, err := h.service.Provider(providerName); err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(providerName))
		return
	}

	stateCookie, stateCookieErr := r.Cookie(oauthStateCookie)

	// stateクッキーは結果に関わらず一度のコールバックで使い捨てる
	h.clearStateCookie(w)

	// 1. 必須パラメータの検証
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamError("code"))
		return
	}
	if state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingParamError("state"))
		return
	}

	// 2. stateの検証（CSRF対策）。比較はタイミング攻撃耐性のある方法で行う。
	if stateCookieErr != nil || !security.SecureCompare(stateCookie.Value, state) {
		slog.Warn("oauth state mismatch", slog.String("provider", providerName))
		h.collector.RecordStateMismatch()
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	// 3. 認証処理
	result, err := h.service.HandleCallback(r.Context(), providerName, code)
	if err != nil {
		slog.Error("oauth callback failed",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		h.collector.RecordLogin(providerName, false)

		// 本番では失敗理由を漏らさない
		detail := ""
		if !h.config.Production {
			detail = err.Error()
		}
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewLoginFailedError(detail))
		return
	}

	h.collector.RecordLogin(providerName, true)
	h.collector.RecordSessionIssued()

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 5. ログインユーザーをJSONで返す
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userResponse(result.User))
}

// Logout はセッションを破棄する。
// POST /auth/logout
// セッションが存在しない場合も200を返す（冪等）。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "logged_out"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me （セッションミドルウェアの内側に配置する）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userResponse(user))
}

// clearStateCookie はstateクッキーを削除する。
func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションクッキーを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// userResponse はユーザーのAPIレスポンス表現を生成する。
func userResponse(user *model.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"avatar_url": user.AvatarURL,
		"created_at": user.CreatedAt,
	}
}
