package screen

import (
	"strings"

	"github.com/hitoshi/formcoach/internal/model"
)

// MinPasswordLength は新規登録時のパスワード最小文字数。
const MinPasswordLength = 6

// ValidateLogin はログインフォームの入力を検証する。
func ValidateLogin(email, password string) *model.APIError {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.NewRequiredFieldsError()
	}
	return nil
}

// ValidateRegister は新規登録フォームの入力を検証する。
// 検証はストアを呼び出す前に行い、失敗してもセッション状態は変更しない。
func ValidateRegister(email, password, confirm string) *model.APIError {
	if strings.TrimSpace(email) == "" || password == "" || confirm == "" {
		return model.NewRequiredFieldsError()
	}
	if password != confirm {
		return model.NewPasswordMismatchError()
	}
	if len([]rune(password)) < MinPasswordLength {
		return model.NewPasswordTooShortError(MinPasswordLength)
	}
	return nil
}
