package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	providerFn       func(name string) (auth.Provider, error)
	handleCallbackFn func(ctx context.Context, providerName, code string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, token string) error
}

func (m *mockAuthService) Provider(name string) (auth.Provider, error) {
	if m.providerFn != nil {
		return m.providerFn(name)
	}
	return &stubProvider{name: model.Provider(name)}, nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, providerName, code string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, providerName, code)
	}
	return &auth.LoginResult{User: &model.User{ID: "user-1", Email: "taro@example.com"}, Token: "plain-token"}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

// stubProvider はテスト用の固定プロバイダー。
type stubProvider struct {
	name model.Provider
}

func (p *stubProvider) Name() model.Provider { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/auth?state=" + state
}

func (p *stubProvider) FetchProfile(_ context.Context, _ string) (*model.ProviderProfile, error) {
	return nil, nil
}

var _ auth.Provider = (*stubProvider)(nil)

// mockCollector は呼び出しを数えるメトリクスコレクター。
type mockCollector struct {
	logins          map[string]int
	sessionsIssued  int
	stateMismatches int
}

func newMockCollector() *mockCollector {
	return &mockCollector{logins: make(map[string]int)}
}

func (m *mockCollector) RecordLogin(provider string, success bool) {
	m.logins[fmt.Sprintf("%s/%t", provider, success)]++
}
func (m *mockCollector) RecordSessionIssued()                 { m.sessionsIssued++ }
func (m *mockCollector) RecordSessionValidation(_ bool)       {}
func (m *mockCollector) RecordStateMismatch()                 { m.stateMismatches++ }
func (m *mockCollector) RecordSessionsSwept(_ int64)          {}

var _ metrics.MetricsCollector = (*mockCollector)(nil)

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		CookieSecure:  false,
		SessionMaxAge: 7 * 24 * 60 * 60,
		Production:    false,
	}
}

// newAuthTestRouter は認証ルートだけを配線したchiルーターを返す。
func newAuthTestRouter(service AuthServiceInterface, collector metrics.MetricsCollector, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service, collector, config)
	r.Get("/auth/{provider}/start", h.Start)
	r.Get("/auth/{provider}/callback", h.Callback)
	r.Post("/auth/logout", h.Logout)
	return r
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- Start ---

// フロー開始でstate Cookieとリダイレクトが返ることを検証
func TestStart_RedirectsWithStateCookie(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}

	cookie := findCookie(t, rec, oauthStateCookie)
	if cookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if !cookie.HttpOnly {
		t.Error("state cookie must be HttpOnly")
	}
	if cookie.MaxAge != stateCookieMaxAge {
		t.Errorf("state cookie MaxAge = %d, want %d", cookie.MaxAge, stateCookieMaxAge)
	}

	location := rec.Header().Get("Location")
	if !strings.Contains(location, "state="+cookie.Value) {
		t.Errorf("redirect URL %q should carry the state cookie value", location)
	}
}

// 未対応プロバイダーで404が返ることを検証
func TestStart_UnknownProvider(t *testing.T) {
	service := &mockAuthService{
		providerFn: func(name string) (auth.Provider, error) {
			return nil, fmt.Errorf("unknown provider: %s", name)
		},
	}
	router := newAuthTestRouter(service, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/twitter/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// --- Callback ---

func callbackRequest(state, cookieValue string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state="+state, nil)
	if cookieValue != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: cookieValue})
	}
	return req
}

// 正常なコールバックで200 JSONとセッションCookieが返ることを検証
func TestCallback_Success(t *testing.T) {
	collector := newMockCollector()
	router := newAuthTestRouter(&mockAuthService{}, collector, testAuthConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", "state-123"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	// セッションCookie
	session := findCookie(t, rec, middleware.SessionCookieName)
	if session == nil {
		t.Fatal("expected session cookie")
	}
	if session.Value != "plain-token" {
		t.Errorf("session cookie value = %q, want issued token", session.Value)
	}
	if !session.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if session.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want Lax", session.SameSite)
	}

	// state Cookieはクリアされる
	state := findCookie(t, rec, oauthStateCookie)
	if state == nil || state.MaxAge != -1 {
		t.Error("state cookie should be cleared")
	}

	// レスポンスボディ
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["id"] != "user-1" {
		t.Errorf("id = %v, want user-1", body["id"])
	}
	if body["email"] != "taro@example.com" {
		t.Errorf("email = %v", body["email"])
	}

	if collector.logins["google/true"] != 1 {
		t.Errorf("success login count = %d, want 1", collector.logins["google/true"])
	}
	if collector.sessionsIssued != 1 {
		t.Errorf("sessionsIssued = %d, want 1", collector.sessionsIssued)
	}
}

// state不一致で400とメトリクス記録を検証
func TestCallback_StateMismatch(t *testing.T) {
	collector := newMockCollector()
	router := newAuthTestRouter(&mockAuthService{}, collector, testAuthConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", "state-456"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body.Code != model.ErrCodeInvalidState {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidState)
	}
	if collector.stateMismatches != 1 {
		t.Errorf("stateMismatches = %d, want 1", collector.stateMismatches)
	}
}

// state Cookie欠落で400が返ることを検証
func TestCallback_MissingStateCookie(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", ""))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// codeパラメータ欠落で400 MISSING_PARAMが返ることを検証
func TestCallback_MissingCode(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=state-123", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-123"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body middleware.ErrorResponseBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != model.ErrCodeMissingParam {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingParam)
	}
}

// stateパラメータ欠落で400が返ることを検証
func TestCallback_MissingState(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-123"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// コールバック失敗時もstate Cookieがクリアされることを検証
func TestCallback_ClearsStateCookieOnFailure(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", "state-456"))

	state := findCookie(t, rec, oauthStateCookie)
	if state == nil || state.MaxAge != -1 {
		t.Error("state cookie should be cleared even on failure")
	}
}

// ログイン処理失敗で500と失敗メトリクスを検証（開発環境では詳細を含む）
func TestCallback_LoginFailedDevelopment(t *testing.T) {
	collector := newMockCollector()
	service := &mockAuthService{
		handleCallbackFn: func(_ context.Context, _, _ string) (*auth.LoginResult, error) {
			return nil, errors.New("token exchange failed")
		},
	}
	router := newAuthTestRouter(service, collector, testAuthConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", "state-123"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var body middleware.ErrorResponseBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != model.ErrCodeLoginFailed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeLoginFailed)
	}
	if !strings.Contains(body.Message, "token exchange failed") {
		t.Errorf("development error should include detail: %q", body.Message)
	}
	if collector.logins["google/false"] != 1 {
		t.Errorf("failure login count = %d, want 1", collector.logins["google/false"])
	}
}

// 本番環境ではログイン失敗の詳細を含まないことを検証
func TestCallback_LoginFailedProductionHidesDetail(t *testing.T) {
	config := testAuthConfig()
	config.Production = true
	service := &mockAuthService{
		handleCallbackFn: func(_ context.Context, _, _ string) (*auth.LoginResult, error) {
			return nil, errors.New("secret internal detail")
		},
	}
	router := newAuthTestRouter(service, newMockCollector(), config)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-123", "state-123"))

	if strings.Contains(rec.Body.String(), "secret internal detail") {
		t.Error("production response must not leak error detail")
	}
}

// --- Logout ---

// ログアウトでセッションが破棄されCookieがクリアされることを検証
func TestLogout_RevokesSessionAndClearsCookie(t *testing.T) {
	revoked := ""
	service := &mockAuthService{
		logoutFn: func(_ context.Context, token string) error {
			revoked = token
			return nil
		},
	}
	router := newAuthTestRouter(service, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-token"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if revoked != "session-token" {
		t.Errorf("revoked token = %q, want %q", revoked, "session-token")
	}

	cookie := findCookie(t, rec, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Error("session cookie should be cleared")
	}
}

// Cookieなしのログアウトも200を返すことを検証（冪等）
func TestLogout_WithoutCookie(t *testing.T) {
	router := newAuthTestRouter(&mockAuthService{}, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// ログアウト処理が失敗してもCookieはクリアされることを検証
func TestLogout_ClearsCookieEvenOnError(t *testing.T) {
	service := &mockAuthService{
		logoutFn: func(_ context.Context, _ string) error {
			return errors.New("db down")
		},
	}
	router := newAuthTestRouter(service, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-token"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	cookie := findCookie(t, rec, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Error("session cookie should be cleared even when revoke fails")
	}
}

// --- Me ---

// 認証済みコンテキストでユーザー情報が返ることを検証
func TestMe_ReturnsUser(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockCollector(), testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{
		ID:        "user-1",
		Email:     "taro@example.com",
		Name:      "Taro Yamada",
		AvatarURL: "https://example.com/a.png",
	}))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["name"] != "Taro Yamada" {
		t.Errorf("name = %v", body["name"])
	}
	if body["avatar_url"] != "https://example.com/a.png" {
		t.Errorf("avatar_url = %v", body["avatar_url"])
	}
}

// 未認証コンテキストで401が返ることを検証
func TestMe_Unauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockCollector(), testAuthConfig())

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
