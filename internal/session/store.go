// Package session はクライアント側の認証セッション状態を管理する。
// IdPへの呼び出しを仲介し、エラー分類と状態変更通知を一元的に扱う。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/model"
)

// Snapshot はある時点の認証状態を表す。
type Snapshot struct {
	// Identity は認証済みのときだけ存在する。
	Identity *model.Identity
	// Loading はサインイン・サインアップ・サインアウト・初回復元の処理中にtrueになる。
	Loading bool
	// Restored はIdPから初回のセッション通知を受け取ったかどうか。
	Restored bool
	// LastError は直近の操作で分類されたエラー。新しい操作の開始時にクリアされる。
	LastError *model.APIError
}

// Authenticated は認証済みかどうかを返す。
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// Store は認証状態の唯一の保持者。
// アプリケーション起動時に1回生成し、利用側へ引数で渡す。
type Store struct {
	provider identity.Provider
	logger   *slog.Logger

	mu          sync.Mutex
	state       Snapshot
	inFlight    bool
	subscribers map[int]func(Snapshot)
	nextID      int

	unsubscribe func()
}

// NewStore はStoreを生成し、IdPのセッション変更通知を1回だけ購読する。
// 生成直後は未認証かつLoading状態で、IdPの初回通知を待つ。
func NewStore(provider identity.Provider, logger *slog.Logger) *Store {
	s := &Store{
		provider:    provider,
		logger:      logger,
		state:       Snapshot{Loading: true},
		subscribers: make(map[int]func(Snapshot)),
	}
	s.unsubscribe = provider.SubscribeToSessionChanges(s.handleSessionChange)
	return s
}

// Snapshot は現在の状態を返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe は状態変更のたびにfnを呼び出すよう登録する。
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Close はIdPの購読を解除する。プロセス終了時に呼ぶ。
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// SignIn はメールアドレスとパスワードでサインインする。
// 空入力の検証は呼び出し側で行う。
// 成功時のidentityはIdPの通知経由でのみ反映される。
// 失敗時は分類済みエラーをLastErrorに保存し、同じエラーを返す。
func (s *Store) SignIn(ctx context.Context, email, password string) (Snapshot, error) {
	return s.run("sign_in", email, func() error {
		_, err := s.provider.VerifyCredentials(ctx, email, password)
		return err
	}, Classify)
}

// SignUp はアカウントを作成してサインインする。契約はSignInと同じ。
func (s *Store) SignUp(ctx context.Context, email, password string) (Snapshot, error) {
	return s.run("sign_up", email, func() error {
		_, err := s.provider.CreateAccount(ctx, email, password)
		return err
	}, Classify)
}

// SignOut は現在のセッションを終了する。
// 失敗時はIdPのエラー内容にかかわらずSignOutFailureを記録し、identityは変更しない。
func (s *Store) SignOut(ctx context.Context) (Snapshot, error) {
	return s.run("sign_out", "", func() error {
		return s.provider.TerminateSession(ctx)
	}, func(error) *model.APIError {
		return model.NewSignOutFailureError()
	})
}

// run は操作の共通ライフサイクルを実行する。
// 実行中の操作がある場合は状態を変えずに即座に拒否する。
func (s *Store) run(op, email string, call func() error, classify func(error) *model.APIError) (Snapshot, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Warn("auth operation rejected while another is in flight", slog.String("operation", op))
		return s.Snapshot(), model.NewOperationInProgressError()
	}
	s.inFlight = true
	s.state.Loading = true
	s.state.LastError = nil
	s.mu.Unlock()
	s.publish()

	err := call()

	var apiErr *model.APIError
	if err != nil {
		apiErr = classify(err)
		s.logger.Warn("auth operation failed",
			slog.String("operation", op),
			slog.String("email", email),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("auth operation succeeded",
			slog.String("operation", op),
			slog.String("email", email),
		)
	}

	s.mu.Lock()
	s.inFlight = false
	s.state.Loading = false
	s.state.LastError = apiErr
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish()

	if apiErr != nil {
		return snap, apiErr
	}
	return snap, nil
}

// handleSessionChange はIdPからの通知を受け取り、identityを無条件に上書きする。
// identityが設定されるのはこの経路だけ。
// 操作の実行中に届いた通知ではLoadingを下ろさない。Loadingは操作の完了時に下ろす。
func (s *Store) handleSessionChange(id *model.Identity) {
	s.mu.Lock()
	s.state.Identity = copyIdentity(id)
	s.state.Loading = s.inFlight
	s.state.Restored = true
	s.mu.Unlock()

	if id != nil {
		s.logger.Info("session established", slog.String("account_id", id.ID))
	} else {
		s.logger.Info("session cleared")
	}
	s.publish()
}

// publish は現在の状態を全購読者に通知する。ロック外で呼び出す。
func (s *Store) publish() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := s.state
	snap.Identity = copyIdentity(s.state.Identity)
	return snap
}

func copyIdentity(id *model.Identity) *model.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
