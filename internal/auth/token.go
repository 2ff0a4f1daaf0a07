package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken はトークンの署名・発行者・有効期限の検証に失敗した場合に返される。
var ErrInvalidToken = errors.New("invalid session token")

// TokenClaims はセッショントークンから取り出した情報。
type TokenClaims struct {
	SessionID string
	AccountID string
	ExpiresAt time.Time
}

// TokenIssuer はHS256署名のJWTセッショントークンを発行・検証する。
// トークンはsessionsテーブルの行を参照し、失効はDB側で管理する。
type TokenIssuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{
		key:    []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue はセッションに対応する署名済みトークンを発行する。
func (i *TokenIssuer) Issue(sessionID, accountID string, expiresAt time.Time) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(accountID).
		JwtID(sessionID).
		IssuedAt(i.now()).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Parse はトークンを検証し、クレームを返す。
// 検証に失敗した場合はErrInvalidTokenをラップして返す。
func (i *TokenIssuer) Parse(token string) (*TokenClaims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, i.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(i.issuer),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok.JwtID() == "" || tok.Subject() == "" {
		return nil, fmt.Errorf("%w: missing session claims", ErrInvalidToken)
	}

	return &TokenClaims{
		SessionID: tok.JwtID(),
		AccountID: tok.Subject(),
		ExpiresAt: tok.Expiration(),
	}, nil
}
