// Package auth はメールアドレスとパスワードによる認証とセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/metrics"
	"github.com/hitoshi/formcoach/internal/model"
	"github.com/hitoshi/formcoach/internal/repository"
)

// Error は認証操作の失敗を表す。Codeはクライアントと共有するIdPのエラーコード。
type Error struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int // セッション有効期間（秒）
	PasswordMinLength int
}

// AuthResult はサインイン・サインアップの結果。
type AuthResult struct {
	Token   string
	Account *model.Account
	Session *model.Session
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	lockout     *Lockout
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	lockout *Lockout,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		lockout:     lockout,
		metrics:     mc,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// SignUp はアカウントを作成し、セッションを発行する。
func (s *Service) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := validateEmail(email)
	if err != nil {
		s.metrics.RecordSignUp(metrics.ResultFailure)
		return nil, err
	}
	if len([]rune(password)) < s.config.PasswordMinLength {
		s.metrics.RecordSignUp(metrics.ResultFailure)
		return nil, newError(identity.CodeWeakPassword,
			fmt.Sprintf("password must be at least %d characters", s.config.PasswordMinLength))
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		LastSignInAt: now,
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.metrics.RecordSignUp(metrics.ResultFailure)
			return nil, newError(identity.CodeEmailAlreadyInUse, "email is already registered")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	result, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignUp(metrics.ResultSuccess)
	s.logger.Info("account created",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
	)
	return result, nil
}

// SignIn はメールアドレスとパスワードを検証し、セッションを発行する。
// 失敗が続いたメールアドレスはロックアウトウィンドウの間拒否する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := validateEmail(email)
	if err != nil {
		s.metrics.RecordSignIn(metrics.ResultFailure)
		return nil, err
	}

	if s.lockout.Locked(email) {
		s.metrics.RecordSignIn(metrics.ResultLocked)
		s.metrics.RecordRateLimited("signin_lockout")
		s.logger.Warn("sign-in rejected by lockout", slog.String("email", email))
		return nil, newError(identity.CodeTooManyRequests, "too many failed sign-in attempts")
	}

	account, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		s.metrics.RecordSignIn(metrics.ResultFailure)
		s.lockout.RecordFailure(email)
		return nil, newError(identity.CodeUserNotFound, "no account for this email")
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.metrics.RecordSignIn(metrics.ResultFailure)
		s.lockout.RecordFailure(email)
		s.logger.Warn("sign-in failed", slog.String("email", email), slog.String("account_id", account.ID))
		return nil, newError(identity.CodeWrongPassword, "password does not match")
	}

	now := s.now()
	if err := s.accountRepo.UpdateLastSignIn(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last sign-in: %w", err)
	}
	account.LastSignInAt = now
	s.lockout.Reset(email)

	result, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignIn(metrics.ResultSuccess)
	s.logger.Info("account signed in",
		slog.String("account_id", account.ID),
		slog.String("session_id", result.Session.ID),
	)
	return result, nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordSignOut()
	s.logger.Info("account signed out", slog.String("session_id", sessionID))
	return nil
}

// Authenticate はセッショントークンを検証し、有効なセッションを返す。
// 署名不正・期限切れ・破棄済みのトークンはauth/user-token-expiredになる。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, newError(identity.CodeUserTokenExpired, "session token is invalid or expired")
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.AccountID != claims.AccountID {
		return nil, newError(identity.CodeUserTokenExpired, "session has ended")
	}
	return session, nil
}

// CurrentAccount はセッションに紐づくアカウントを取得する。
func (s *Service) CurrentAccount(ctx context.Context, session *model.Session) (*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, newError(identity.CodeUserTokenExpired, "account no longer exists")
	}
	return account, nil
}

// PurgeExpiredSessions は期限切れセッションを削除する。
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions purged", slog.Int64("count", n))
	}
	return n, nil
}

// issueSession はセッションを永続化し、対応するトークンを発行する。
func (s *Service) issueSession(ctx context.Context, account *model.Account) (*AuthResult, error) {
	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	token, err := s.tokens.Issue(session.ID, account.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &AuthResult{Token: token, Account: account, Session: session}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	start := time.Now()
	hash, err := HashPassword(password)
	s.metrics.RecordPasswordHash(time.Since(start))
	return hash, err
}

// validateEmail はメールアドレスの形式を検証し、正規化した値を返す。
func validateEmail(email string) (string, error) {
	normalized := normalizeEmail(email)
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", newError(identity.CodeInvalidEmail, "email address is malformed")
	}
	return normalized, nil
}
