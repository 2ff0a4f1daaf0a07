// Package screen はセッション状態から表示する画面を選択する。
package screen

import "github.com/hitoshi/formcoach/internal/session"

// Screen は表示中の画面。
type Screen int

const (
	Loading Screen = iota
	Login
	Register
	Home
)

// String は画面名を返す。
func (s Screen) String() string {
	switch s {
	case Loading:
		return "loading"
	case Login:
		return "login"
	case Register:
		return "register"
	case Home:
		return "home"
	default:
		return "unknown"
	}
}

// Router はセッションのスナップショットと未認証時の遷移先から画面を選ぶ状態機械。
// UIのイベントループからのみ操作する前提で、排他制御は行わない。
type Router struct {
	pending Screen
	current Screen
	// everAuthenticated は一度でも認証済みの状態を選択したかどうか。
	everAuthenticated bool
}

// NewRouter はRouterを生成する。初期状態はLoading画面、遷移先はLogin。
func NewRouter() *Router {
	return &Router{pending: Login, current: Loading}
}

// Update はスナップショットから表示する画面を選択する。
//   - 読み込み中で、まだ一度も認証済みになっていなければLoading
//   - 認証済みならHome（遷移先はLoginに戻す）
//   - それ以外は遷移先（LoginまたはRegister）
//
// 初回のサインインやサインアップの処理中もLoadingになる。
// 一度Homeを表示した後は、サインアウト中やその後の再サインイン中もLoadingには戻らない。
func (r *Router) Update(snap session.Snapshot) Screen {
	switch {
	case snap.Loading && !r.everAuthenticated:
		r.current = Loading
	case snap.Authenticated():
		r.everAuthenticated = true
		r.pending = Login
		r.current = Home
	default:
		r.current = r.pending
	}
	return r.current
}

// NavigateToRegister は新規登録画面へ遷移する。未認証画面以外では何もしない。
func (r *Router) NavigateToRegister() Screen {
	return r.navigate(Register)
}

// NavigateToLogin はログイン画面へ遷移する。未認証画面以外では何もしない。
func (r *Router) NavigateToLogin() Screen {
	return r.navigate(Login)
}

func (r *Router) navigate(to Screen) Screen {
	if r.current != Login && r.current != Register {
		return r.current
	}
	r.pending = to
	r.current = to
	return r.current
}

// Current は直近に選択された画面を返す。
func (r *Router) Current() Screen {
	return r.current
}
