// Package identity はIdP（Identity Provider）との契約とHTTPクライアント実装を提供する。
package identity

import (
	"context"
	"fmt"

	"github.com/hitoshi/formcoach/internal/model"
)

// IdPが返すエラーコード。
const (
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeWeakPassword         = "auth/weak-password"
	CodeInvalidEmail         = "auth/invalid-email"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeUserTokenExpired     = "auth/user-token-expired"
	CodeInternalError        = "auth/internal-error"
)

// Error はIdPの操作失敗を表す。Codeは上記のいずれか、または未知のコード。
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Listener はセッション変更通知を受け取るコールバック。
// 認証済みならidentity、未認証ならnilが渡される。
type Listener func(identity *model.Identity)

// Provider はクライアントが利用するIdPのインターフェース。
type Provider interface {
	// VerifyCredentials は認証情報を検証しセッションを確立する。
	// 成功時はSubscribeToSessionChangesの購読者にも新しいidentityが通知される。
	VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error)

	// CreateAccount はアカウントを作成し、そのままセッションを確立する。
	CreateAccount(ctx context.Context, email, password string) (*model.Identity, error)

	// TerminateSession は現在のセッションを終了する。
	TerminateSession(ctx context.Context) error

	// SubscribeToSessionChanges はセッション変更通知を購読する。
	// 初回のセッション復元結果と、以後の変更のたびにlistenerが呼ばれる。
	SubscribeToSessionChanges(listener Listener) (unsubscribe func())
}
