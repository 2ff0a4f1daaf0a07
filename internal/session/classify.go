package session

import (
	"errors"

	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/model"
)

// Classify はIdPのエラーをユーザー向けのエラー分類に変換する。
// 未知のコードやIdP以外のエラーはUnknownになる。
func Classify(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var perr *identity.Error
	if !errors.As(err, &perr) {
		return model.NewUnknownError()
	}

	switch perr.Code {
	case identity.CodeUserNotFound:
		return model.NewAccountNotFoundError()
	case identity.CodeWrongPassword:
		return model.NewWrongCredentialError()
	case identity.CodeEmailAlreadyInUse:
		return model.NewAccountAlreadyExistsError()
	case identity.CodeWeakPassword:
		return model.NewWeakCredentialError()
	case identity.CodeInvalidEmail:
		return model.NewInvalidInputError()
	case identity.CodeTooManyRequests:
		return model.NewRateLimitedError()
	case identity.CodeNetworkRequestFailed:
		return model.NewNetworkFailureError()
	default:
		return model.NewUnknownError()
	}
}
