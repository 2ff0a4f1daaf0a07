// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はIdPが発行した認証済みユーザーのプロフィールを表す。
// 認証済みの間だけ存在する。
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSignInAt  time.Time `json:"lastSignInAt"`
}

// Credentials はフォームから渡される一時的な認証情報。
// 値渡しで受け取り、保持しない。
type Credentials struct {
	Email    string
	Password string
}

// Account はIdPサーバー側で永続化されるアカウントを表す。
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	LastSignInAt  time.Time
}

// Identity はアカウントからクライアントに返す公開プロフィールを生成する。
func (a *Account) Identity() *Identity {
	return &Identity{
		ID:            a.ID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
		LastSignInAt:  a.LastSignInAt,
	}
}

// Session はアカウントのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
