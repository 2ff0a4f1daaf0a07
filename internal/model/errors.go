// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, network, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 認証操作のエラーコード（IdPのエラーコードから分類される）
const (
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeWrongCredential      = "WRONG_CREDENTIAL"
	ErrCodeAccountAlreadyExists = "ACCOUNT_ALREADY_EXISTS"
	ErrCodeWeakCredential       = "WEAK_CREDENTIAL"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeNetworkFailure       = "NETWORK_FAILURE"
	ErrCodeSignOutFailure       = "SIGN_OUT_FAILURE"
	ErrCodeUnknown              = "UNKNOWN"
	ErrCodeOperationInProgress  = "OPERATION_IN_PROGRESS"
)

// 画面側の入力検証・解析リクエストのエラーコード
const (
	ErrCodeRequiredFields   = "REQUIRED_FIELDS"
	ErrCodePasswordMismatch = "PASSWORD_MISMATCH"
	ErrCodePasswordTooShort = "PASSWORD_TOO_SHORT"
	ErrCodeInvalidExercise  = "INVALID_EXERCISE"
	ErrCodeImageUnreadable  = "IMAGE_UNREADABLE"
	ErrCodeAnalysisFailed   = "ANALYSIS_FAILED"
)

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "このメールアドレスで登録されたアカウントが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認するか、新規登録してください。",
	}
}

// NewWrongCredentialError はパスワード不一致エラーを生成する。
func NewWrongCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongCredential,
		Message:  "パスワードが正しくありません。",
		Category: "auth",
		Action:   "パスワードを確認して再度お試しください。",
	}
}

// NewAccountAlreadyExistsError は登録済みメールアドレスのエラーを生成する。
func NewAccountAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountAlreadyExists,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewWeakCredentialError はパスワード強度不足エラーを生成する。
func NewWeakCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakCredential,
		Message:  "パスワードが弱すぎます。6文字以上にしてください。",
		Category: "validation",
		Action:   "より長いパスワードを入力してください。",
	}
}

// NewInvalidInputError はメールアドレス形式エラーを生成する。
func NewInvalidInputError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  "無効なメールアドレスです。",
		Category: "validation",
		Action:   "正しい形式のメールアドレスを入力してください。",
	}
}

// NewRateLimitedError は試行回数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "失敗した試行が多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNetworkFailureError はネットワーク接続エラーを生成する。
func NewNetworkFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkFailure,
		Message:  "ネットワーク接続エラーが発生しました。",
		Category: "network",
		Action:   "インターネット接続を確認してください。",
	}
}

// NewSignOutFailureError はログアウト失敗エラーを生成する。
func NewSignOutFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeSignOutFailure,
		Message:  "ログアウト中にエラーが発生しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownError は分類できないエラーを生成する。
func NewUnknownError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknown,
		Message:  "不明なエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOperationInProgressError は別の認証操作が実行中であることを示すエラーを生成する。
func NewOperationInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeOperationInProgress,
		Message:  "別の処理が実行中です。",
		Category: "auth",
		Action:   "処理が完了するまでお待ちください。",
	}
}

// NewRequiredFieldsError は未入力項目がある場合のエラーを生成する。
func NewRequiredFieldsError() *APIError {
	return &APIError{
		Code:     ErrCodeRequiredFields,
		Message:  "すべての項目を入力してください。",
		Category: "validation",
		Action:   "未入力の項目を入力してください。",
	}
}

// NewPasswordMismatchError は確認用パスワード不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "パスワードが一致しません。",
		Category: "validation",
		Action:   "確認用パスワードを入力し直してください。",
	}
}

// NewPasswordTooShortError はパスワード長不足エラーを生成する。
func NewPasswordTooShortError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooShort,
		Message:  fmt.Sprintf("パスワードは%d文字以上である必要があります。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを入力してください。",
	}
}

// NewInvalidExerciseError は無効なエクササイズ種別のエラーを生成する。
func NewInvalidExerciseError(exercise string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExercise,
		Message:  fmt.Sprintf("無効なエクササイズ種別です: %s", exercise),
		Category: "validation",
		Action:   "squat または deadlift を指定してください。",
	}
}

// NewImageUnreadableError は画像を読み込めない場合のエラーを生成する。
func NewImageUnreadableError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeImageUnreadable,
		Message:  fmt.Sprintf("画像を読み込めませんでした: %s", path),
		Category: "validation",
		Action:   "画像ファイルのパスを確認してください。",
	}
}

// NewAnalysisFailedError は姿勢解析の失敗エラーを生成する。
// サーバーから返されたメッセージがあればそのまま表示する。
func NewAnalysisFailedError(serverMessage string) *APIError {
	msg := serverMessage
	if msg == "" {
		msg = "姿勢解析中にエラーが発生しました。"
	}
	return &APIError{
		Code:     ErrCodeAnalysisFailed,
		Message:  msg,
		Category: "analysis",
		Action:   "別の画像で再度お試しください。",
	}
}
