package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	defaultGithubUserURL   = "https://api.github.com/user"
	defaultGithubEmailsURL = "https://api.github.com/user/emails"
)

// GithubConfig はGitHubプロバイダーの設定。
// AuthURL/TokenURL/UserURL/EmailsURLはテスト用にオーバーライド可能。
type GithubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	// HTTPClient はテスト用に注入可能。nilの場合はタイムアウト付きデフォルトを使用する。
	HTTPClient *http.Client
}

// GithubProvider はGitHub OAuthによる認証を提供する。
type GithubProvider struct {
	oauth      *oauth2.Config
	userURL    string
	emailsURL  string
	httpClient *http.Client
}

// NewGithubProvider はGithubProviderを生成する。
func NewGithubProvider(config GithubConfig) *GithubProvider {
	endpoint := github.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	userURL := config.UserURL
	if userURL == "" {
		userURL = defaultGithubUserURL
	}
	emailsURL := config.EmailsURL
	if emailsURL == "" {
		emailsURL = defaultGithubEmailsURL
	}

	return &GithubProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		userURL:    userURL,
		emailsURL:  emailsURL,
		httpClient: config.HTTPClient,
	}
}

// Name はプロバイダー識別子を返す。
func (p *GithubProvider) Name() model.Provider {
	return model.ProviderGithub
}

// AuthCodeURL はGitHubの認可エンドポイントへのリダイレクトURLを生成する。
func (p *GithubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// githubUser はGitHubの/userエンドポイントのレスポンス。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail はGitHubの/user/emailsエンドポイントの要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile は認可コードをトークンに交換し、GitHubのユーザー情報を取得する。
// /userと/user/emailsを並行に取得し、primaryかつverifiedなメールアドレスを採用する。
// 該当メールが存在しない場合はmodel.ErrNoVerifiedEmailを返す。
func (p *GithubProvider) FetchProfile(ctx context.Context, code string) (*model.ProviderProfile, error) {
	ctx, cancel := providerContext(ctx, p.httpClient)
	defer cancel()

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange github code: %w", err)
	}

	var (
		wg       sync.WaitGroup
		user     *githubUser
		emails   []githubEmail
		userErr  error
		emailErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		user, userErr = p.fetchUser(ctx, token)
	}()
	go func() {
		defer wg.Done()
		emails, emailErr = p.fetchEmails(ctx, token)
	}()
	wg.Wait()

	if userErr != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", userErr)
	}
	if emailErr != nil {
		return nil, fmt.Errorf("failed to fetch github emails: %w", emailErr)
	}

	email := pickVerifiedEmail(emails)
	if email == "" {
		return nil, model.ErrNoVerifiedEmail
	}

	// 表示名未設定のアカウントはloginを名前として使う
	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &model.ProviderProfile{
		Provider:       model.ProviderGithub,
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          email,
		Name:           name,
		AvatarURL:      user.AvatarURL,
	}, nil
}

// pickVerifiedEmail はprimaryかつverifiedなメールを選択する。
// 両方を満たすメールが存在しない場合は空文字列を返す。
// verifiedでもprimaryでないメールは採用しない。
func pickVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

func (p *GithubProvider) fetchUser(ctx context.Context, token *oauth2.Token) (*githubUser, error) {
	body, err := p.getJSON(ctx, token, p.userURL)
	if err != nil {
		return nil, err
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("empty id in user response")
	}
	return &user, nil
}

func (p *GithubProvider) fetchEmails(ctx context.Context, token *oauth2.Token) ([]githubEmail, error) {
	body, err := p.getJSON(ctx, token, p.emailsURL)
	if err != nil {
		return nil, err
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return nil, fmt.Errorf("failed to parse emails response: %w", err)
	}
	return emails, nil
}

func (p *GithubProvider) getJSON(ctx context.Context, token *oauth2.Token, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (p *GithubProvider) client() *http.Client {
	if p.httpClient != nil {
		return p.httpClient
	}
	return &http.Client{Timeout: providerTimeout}
}

// compile-time interface check
var _ Provider = (*GithubProvider)(nil)
