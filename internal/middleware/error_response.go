package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/model"
)

// ErrorResponseBody はIdPのエラーレスポンス。
// クライアントはCodeだけで分類し、Message以降は表示や調査のために使う。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// WriteErrorResponse はIdPのエラーコードを含むJSONエラーレスポンスを書き込む。
// 認証の応答はキャッシュさせない。401にはBearerトークンの再取得を促すWWW-Authenticateを付ける。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	recordErrorCode(w, apiErr.Code)

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if statusCode == http.StatusUnauthorized {
		h.Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError はauth/internal-errorを返す。原因はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     identity.CodeInternalError,
		Message:  "認証サーバーで内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
