// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/formcoach/internal/auth"
	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/middleware"
	"github.com/hitoshi/formcoach/internal/model"
)

// codeInvalidRequest はリクエストボディが解析できない場合のエラーコード。
const codeInvalidRequest = "auth/invalid-argument"

// maxRequestBodySize は認証リクエストボディの読み取り上限。
const maxRequestBodySize = 4 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password string) (*auth.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*auth.AuthResult, error)
	SignOut(ctx context.Context, sessionID string) error
	CurrentAccount(ctx context.Context, session *model.Session) (*model.Account, error)
}

// AuthHandler はアカウント認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// credentialsRequest はサインイン・サインアップリクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse はサインイン・サインアップのレスポンス。
type authResponse struct {
	Token    string          `json:"token"`
	Identity *model.Identity `json:"identity"`
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /v1/accounts/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token:    result.Token,
		Identity: result.Account.Identity(),
	})
}

// SignUp はアカウントを作成し、そのままサインインする。
// POST /v1/accounts/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Token:    result.Token,
		Identity: result.Account.Identity(),
	})
}

// SignOut は現在のセッションを破棄する。
// POST /v1/sessions/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if err := h.service.SignOut(r.Context(), session.ID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッションのアカウント情報を返す。
// GET /v1/sessions/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), session)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account.Identity())
}

func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     codeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return nil, false
	}
	return &req, true
}

// handleServiceError はサービス層のエラーをHTTPステータスと統一エラーフォーマットに変換する。
func (h *AuthHandler) handleServiceError(w http.ResponseWriter, err error) {
	var aerr *auth.Error
	if !errors.As(err, &aerr) {
		h.logger.Error("auth request failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	status, category, action := describeAuthError(aerr.Code)
	middleware.WriteErrorResponse(w, status, &model.APIError{
		Code:     aerr.Code,
		Message:  aerr.Message,
		Category: category,
		Action:   action,
	})
}

// describeAuthError はIdPエラーコードに対応するHTTPステータス・カテゴリ・対処方法を返す。
func describeAuthError(code string) (int, string, string) {
	switch code {
	case identity.CodeInvalidEmail:
		return http.StatusBadRequest, "validation", "メールアドレスの形式を確認してください。"
	case identity.CodeWeakPassword:
		return http.StatusBadRequest, "validation", "より長いパスワードを指定してください。"
	case identity.CodeWrongPassword:
		return http.StatusUnauthorized, "auth", "パスワードを確認してください。"
	case identity.CodeUserTokenExpired:
		return http.StatusUnauthorized, "auth", "再度ログインしてください。"
	case identity.CodeUserNotFound:
		return http.StatusNotFound, "auth", "メールアドレスを確認するか、新規登録してください。"
	case identity.CodeEmailAlreadyInUse:
		return http.StatusConflict, "auth", "ログインしてください。"
	case identity.CodeTooManyRequests:
		return http.StatusTooManyRequests, "system", "しばらく待ってから再度お試しください。"
	default:
		return http.StatusInternalServerError, "system", "しばらく待ってから再度お試しください。"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
