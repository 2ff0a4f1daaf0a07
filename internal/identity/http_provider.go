package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/formcoach/internal/model"
)

const (
	signInPath  = "/v1/accounts/sign-in"
	signUpPath  = "/v1/accounts/sign-up"
	signOutPath = "/v1/sessions/sign-out"
	mePath      = "/v1/sessions/me"

	// maxResponseSize はIdPレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string         `json:"token"`
	Identity model.Identity `json:"identity"`
}

type errorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// HTTPProvider はformcoach IdPサーバーのHTTP APIを利用するProvider実装。
// 取得したセッショントークンはTokenStoreに保存し、Restoreで再利用する。
type HTTPProvider struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	tokens     TokenStore
	now        func() time.Time

	// commitMu は状態の更新から購読者への通知までを直列化する。HTTP呼び出し中は保持しない。
	commitMu sync.Mutex

	mu        sync.Mutex
	token     string
	current   *model.Identity
	restored  bool
	listeners map[int]Listener
	nextID    int
}

// NewHTTPProvider はHTTPProviderを生成する。
func NewHTTPProvider(httpClient *http.Client, logger *slog.Logger, baseURL string, tokens TokenStore) *HTTPProvider {
	return &HTTPProvider{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		now:        time.Now,
		listeners:  make(map[int]Listener),
	}
}

// VerifyCredentials はメールアドレスとパスワードでサインインする。
func (p *HTTPProvider) VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error) {
	return p.authenticate(ctx, signInPath, email, password)
}

// CreateAccount はアカウントを作成し、そのままサインインする。
func (p *HTTPProvider) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	return p.authenticate(ctx, signUpPath, email, password)
}

// TerminateSession は現在のセッションを終了する。
// トークンを保持していない場合はサーバーを呼ばずに未認証を通知する。
func (p *HTTPProvider) TerminateSession(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token != "" {
		err := p.do(ctx, http.MethodPost, signOutPath, token, nil, nil)
		// サーバーが既に受け付けないトークンはサインアウト済みとして扱う
		if err != nil && !hasCode(err, CodeUserTokenExpired) {
			return err
		}
	}

	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	p.clearSession()
	p.notify(nil)
	return nil
}

// SubscribeToSessionChanges はセッション変更通知を購読する。
// 初回のセッション復元が完了済みであれば、現在の状態を即座にlistenerへ渡す。
func (p *HTTPProvider) SubscribeToSessionChanges(listener Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	restored := p.restored
	current := copyIdentity(p.current)
	p.mu.Unlock()

	if restored {
		listener(current)
	}

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Restore は保存済みトークンからセッションを復元する初回のセッションチェック。
// 結果（identityまたは未認証）を購読者に1回通知する。
// ネットワーク障害で検証できなかった場合は未認証を通知したうえでエラーを返し、
// トークンファイルは次回起動時の再試行のために残す。
func (p *HTTPProvider) Restore(ctx context.Context) error {
	stored, err := p.tokens.Load()
	if err != nil {
		p.logger.Warn("failed to load stored session token", slog.String("error", err.Error()))
		stored = nil
	}

	var (
		current    *model.Identity
		token      string
		restoreErr error
	)

	if stored != nil {
		var id model.Identity
		err := p.do(ctx, http.MethodGet, mePath, stored.Token, nil, &id)
		switch {
		case err == nil:
			current = &id
			token = stored.Token
		case hasCode(err, CodeUserTokenExpired):
			p.logger.Info("stored session is no longer valid", slog.String("email", stored.Email))
			if err := p.tokens.Clear(); err != nil {
				p.logger.Warn("failed to clear stored session token", slog.String("error", err.Error()))
			}
		default:
			restoreErr = fmt.Errorf("validate stored session: %w", err)
		}
	}

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	p.token = token
	p.current = copyIdentity(current)
	p.restored = true
	p.mu.Unlock()

	p.notify(current)
	return restoreErr
}

// Revalidate は保持しているトークンをIdPに再確認する。
// トークンが失効していればセッションを破棄し、未認証を通知する。
// 確認中にサインアウトや再サインインでトークンが替わった場合、結果は破棄する。
func (p *HTTPProvider) Revalidate(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token == "" {
		return nil
	}

	var id model.Identity
	err := p.do(ctx, http.MethodGet, mePath, token, nil, &id)

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	replaced := p.token != token
	p.mu.Unlock()
	if replaced {
		p.logger.Info("discarding revalidation result for a replaced session token")
		return nil
	}

	if hasCode(err, CodeUserTokenExpired) {
		p.logger.Info("session token was invalidated by the identity provider")
		p.clearSession()
		p.notify(nil)
		return nil
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = copyIdentity(&id)
	p.mu.Unlock()

	p.notify(&id)
	return nil
}

// authenticate はサインイン・サインアップ共通のリクエストを送信し、
// 成功時にトークンを保存して購読者へ通知する。
func (p *HTTPProvider) authenticate(ctx context.Context, path, email, password string) (*model.Identity, error) {
	var resp authResponse
	if err := p.do(ctx, http.MethodPost, path, "", credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &Error{Code: CodeInternalError, Message: "empty token in response"}
	}

	id := resp.Identity

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	p.token = resp.Token
	p.current = copyIdentity(&id)
	p.restored = true
	p.mu.Unlock()

	if err := p.tokens.Save(&StoredToken{Token: resp.Token, Email: id.Email, SavedAt: p.now()}); err != nil {
		p.logger.Warn("failed to persist session token",
			slog.String("email", id.Email),
			slog.String("error", err.Error()),
		)
	}

	p.notify(&id)
	return copyIdentity(&id), nil
}

// clearSession はメモリ上と永続化済みのセッションを破棄する。
func (p *HTTPProvider) clearSession() {
	p.mu.Lock()
	p.token = ""
	p.current = nil
	p.mu.Unlock()

	if err := p.tokens.Clear(); err != nil {
		p.logger.Warn("failed to clear stored session token", slog.String("error", err.Error()))
	}
}

// notify は全購読者にidentityを通知する。ロック外で呼び出す。
func (p *HTTPProvider) notify(identity *model.Identity) {
	p.mu.Lock()
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(copyIdentity(identity))
	}
}

// do はIdP APIにリクエストを送信し、レスポンスをoutにデコードする。
// 通信失敗はauth/network-request-failed、非2xxはレスポンスのエラーコードに変換する。
func (p *HTTPProvider) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Code: CodeInternalError, Message: "failed to encode request", Err: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return &Error{Code: CodeInternalError, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("identity provider request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &Error{Code: CodeNetworkRequestFailed, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Code: CodeNetworkRequestFailed, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := decodeError(resp.StatusCode, data)
		p.logger.Warn("identity provider returned an error",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", perr.Code),
		)
		return perr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Code: CodeInternalError, Message: "failed to parse response", Err: err}
	}
	return nil
}

// decodeError はエラーレスポンスのボディからErrorを組み立てる。
// コードを読み取れない場合はHTTPステータスから推定する。
func decodeError(status int, data []byte) *Error {
	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return &Error{Code: body.Code, Message: body.Message}
	}

	switch status {
	case http.StatusTooManyRequests:
		return &Error{Code: CodeTooManyRequests}
	case http.StatusUnauthorized:
		return &Error{Code: CodeUserTokenExpired}
	default:
		return &Error{Code: CodeInternalError, Message: fmt.Sprintf("unexpected status %d", status)}
	}
}

// hasCode はerrが指定コードのErrorかどうかを返す。
func hasCode(err error, code string) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Code == code
}

func copyIdentity(id *model.Identity) *model.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// compile-time interface check
var _ Provider = (*HTTPProvider)(nil)
