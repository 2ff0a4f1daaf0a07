// Package tui はformcoachクライアントのターミナルUIを提供する。
// 画面の選択はscreen.Routerに任せ、認証操作はsession.Storeを経由して行う。
package tui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hitoshi/formcoach/internal/analysis"
	"github.com/hitoshi/formcoach/internal/model"
	"github.com/hitoshi/formcoach/internal/screen"
	"github.com/hitoshi/formcoach/internal/session"
)

// revalidateInterval はHome画面表示中にトークンを再確認する間隔。
const revalidateInterval = 5 * time.Minute

// SessionStore はUIが必要とするsession.Storeの操作。
type SessionStore interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (session.Snapshot, error)
	SignUp(ctx context.Context, email, password string) (session.Snapshot, error)
	SignOut(ctx context.Context) (session.Snapshot, error)
}

// Analyzer は姿勢解析サービスのクライアント。
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, exercise analysis.ExerciseType) (*analysis.Result, error)
}

// Config はModelの依存関係。
type Config struct {
	Store    SessionStore
	Analyzer Analyzer
	Logger   *slog.Logger
	// Restore は起動時のセッション復元。nilなら何もしない。
	Restore func(ctx context.Context) error
	// Revalidate は保持中のトークンの再確認。nilなら定期確認を行わない。
	Revalidate func(ctx context.Context) error
	// Exercise は解析画面で最初に選択される種目。空ならスクワット。
	Exercise analysis.ExerciseType
}

// メッセージ
type (
	snapshotMsg     session.Snapshot
	restoreDoneMsg  struct{ err error }
	authDoneMsg     struct{ err error }
	analysisDoneMsg struct {
		result *analysis.Result
		err    error
	}
	revalidateTickMsg struct{}
)

// フォームの入力欄
const (
	fieldEmail = iota
	fieldPassword
	fieldConfirm
)

// Model はBubble TeaのModel実装。
type Model struct {
	ctx    context.Context
	cfg    Config
	router *screen.Router

	snap    session.Snapshot
	current screen.Screen

	inputs    []textinput.Model
	focus     int
	imagePath textinput.Model

	exercise       analysis.ExerciseType
	analyzing      bool
	result         *analysis.Result
	message        *model.APIError
	confirmSignOut bool

	width int
}

// New はModelを生成する。初期画面はストアの現在のスナップショットから決まる。
func New(ctx context.Context, cfg Config) Model {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	inputs := make([]textinput.Model, 3)
	for i, label := range []string{"メールアドレス", "パスワード", "パスワード（確認）"} {
		in := textinput.New()
		in.Prompt = label + ": "
		in.CharLimit = 320
		if i != fieldEmail {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		inputs[i] = in
	}

	imagePath := textinput.New()
	imagePath.Prompt = "画像ファイル: "
	imagePath.Placeholder = "./squat.jpg"

	if cfg.Exercise == "" {
		cfg.Exercise = analysis.ExerciseSquat
	}

	m := Model{
		ctx:       ctx,
		cfg:       cfg,
		router:    screen.NewRouter(),
		inputs:    inputs,
		imagePath: imagePath,
		exercise:  cfg.Exercise,
	}
	m.snap = cfg.Store.Snapshot()
	m.current = m.router.Update(m.snap)
	m.resetForm()
	if m.current == screen.Home {
		m.imagePath.Focus()
	}
	return m
}

// Init はセッション復元コマンドを返す。
func (m Model) Init() tea.Cmd {
	if m.cfg.Restore == nil {
		return textinput.Blink
	}
	restore := m.cfg.Restore
	ctx := m.ctx
	return tea.Batch(textinput.Blink, func() tea.Msg {
		return restoreDoneMsg{err: restore(ctx)}
	})
}

// Screen は表示中の画面を返す。
func (m Model) Screen() screen.Screen {
	return m.current
}

// Update はメッセージを処理する。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		return m.applySnapshot(session.Snapshot(msg))

	case restoreDoneMsg:
		if msg.err != nil {
			m.cfg.Logger.Warn("session restore failed", slog.String("error", msg.err.Error()))
			m.message = session.Classify(msg.err)
		}
		return m.applySnapshot(m.cfg.Store.Snapshot())

	case authDoneMsg:
		if msg.err != nil {
			m.message = toAPIError(msg.err)
		}
		return m.applySnapshot(m.cfg.Store.Snapshot())

	case analysisDoneMsg:
		m.analyzing = false
		if msg.err != nil {
			m.message = toAPIError(msg.err)
			return m, nil
		}
		m.result = msg.result
		m.message = nil
		return m, nil

	case revalidateTickMsg:
		if m.current != screen.Home || m.cfg.Revalidate == nil {
			return m, nil
		}
		revalidate := m.cfg.Revalidate
		ctx := m.ctx
		logger := m.cfg.Logger
		return m, tea.Batch(func() tea.Msg {
			if err := revalidate(ctx); err != nil {
				logger.Warn("session revalidation failed", slog.String("error", err.Error()))
			}
			return nil
		}, revalidateTick())

	case tea.KeyMsg:
		return m.updateKey(msg)
	}

	return m.updateFocusedInput(msg)
}

// applySnapshot はスナップショットを反映し、画面を選び直す。
func (m Model) applySnapshot(snap session.Snapshot) (tea.Model, tea.Cmd) {
	prev := m.current
	m.snap = snap
	m.current = m.router.Update(snap)
	if m.current == prev {
		return m, nil
	}

	m.confirmSignOut = false
	var cmd tea.Cmd
	switch m.current {
	case screen.Home:
		m.message = nil
		m.result = nil
		m.clearForm()
		m.imagePath.SetValue("")
		cmd = tea.Batch(m.imagePath.Focus(), revalidateTick())
	case screen.Login, screen.Register:
		m.imagePath.Blur()
		cmd = m.resetForm()
	}
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.message = nil
		m.confirmSignOut = false
		return m, nil
	}

	// 処理中は入力を受け付けない
	if m.snap.Loading || m.current == screen.Loading {
		return m, nil
	}

	switch m.current {
	case screen.Login, screen.Register:
		return m.updateAuthForm(msg)
	case screen.Home:
		return m.updateHome(msg)
	}
	return m, nil
}

func (m Model) updateAuthForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+r":
		return m.navigate(m.router.NavigateToRegister)
	case "ctrl+l":
		return m.navigate(m.router.NavigateToLogin)
	case "tab", "down":
		cmd := m.moveFocus(1)
		return m, cmd
	case "shift+tab", "up":
		cmd := m.moveFocus(-1)
		return m, cmd
	case "enter":
		return m.submitAuthForm()
	}
	return m.updateFocusedInput(msg)
}

func (m Model) navigate(nav func() screen.Screen) (tea.Model, tea.Cmd) {
	prev := m.current
	m.current = nav()
	if m.current == prev {
		return m, nil
	}
	m.message = nil
	cmd := m.resetForm()
	return m, cmd
}

// submitAuthForm は入力を検証し、問題がなければストアの操作を実行する。
func (m Model) submitAuthForm() (tea.Model, tea.Cmd) {
	creds := m.credentials()

	var call func(ctx context.Context, email, password string) (session.Snapshot, error)
	if m.current == screen.Register {
		if verr := screen.ValidateRegister(creds.Email, creds.Password, m.inputs[fieldConfirm].Value()); verr != nil {
			m.message = verr
			return m, nil
		}
		call = m.cfg.Store.SignUp
	} else {
		if verr := screen.ValidateLogin(creds.Email, creds.Password); verr != nil {
			m.message = verr
			return m, nil
		}
		call = m.cfg.Store.SignIn
	}

	m.message = nil
	m.snap.Loading = true
	ctx := m.ctx
	return m, func() tea.Msg {
		_, err := call(ctx, creds.Email, creds.Password)
		return authDoneMsg{err: err}
	}
}

// credentials はフォームの入力値を取り出す。メールアドレスの前後の空白は除く。
func (m Model) credentials() model.Credentials {
	return model.Credentials{
		Email:    strings.TrimSpace(m.inputs[fieldEmail].Value()),
		Password: m.inputs[fieldPassword].Value(),
	}
}

func (m Model) updateHome(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmSignOut {
		switch msg.String() {
		case "y", "Y":
			m.confirmSignOut = false
			m.snap.Loading = true
			store := m.cfg.Store
			ctx := m.ctx
			return m, func() tea.Msg {
				_, err := store.SignOut(ctx)
				return authDoneMsg{err: err}
			}
		case "n", "N":
			m.confirmSignOut = false
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+o":
		m.confirmSignOut = true
		return m, nil
	case "ctrl+e":
		if m.exercise == analysis.ExerciseSquat {
			m.exercise = analysis.ExerciseDeadlift
		} else {
			m.exercise = analysis.ExerciseSquat
		}
		return m, nil
	case "enter":
		return m.submitAnalysis()
	}

	var cmd tea.Cmd
	m.imagePath, cmd = m.imagePath.Update(msg)
	return m, cmd
}

func (m Model) submitAnalysis() (tea.Model, tea.Cmd) {
	if m.analyzing || m.cfg.Analyzer == nil {
		return m, nil
	}
	path := strings.TrimSpace(m.imagePath.Value())
	if path == "" {
		m.message = model.NewImageUnreadableError("")
		return m, nil
	}

	m.analyzing = true
	m.message = nil
	analyzer := m.cfg.Analyzer
	exercise := m.exercise
	ctx := m.ctx
	return m, func() tea.Msg {
		result, err := analyzer.AnalyzeFile(ctx, path, exercise)
		return analysisDoneMsg{result: result, err: err}
	}
}

func (m Model) updateFocusedInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.current {
	case screen.Login, screen.Register:
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	case screen.Home:
		m.imagePath, cmd = m.imagePath.Update(msg)
	}
	return m, cmd
}

// fieldCount は表示中のフォームの入力欄の数を返す。
func (m Model) fieldCount() int {
	if m.current == screen.Register {
		return 3
	}
	return 2
}

func (m *Model) moveFocus(delta int) tea.Cmd {
	n := m.fieldCount()
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + n) % n
	return m.inputs[m.focus].Focus()
}

// resetForm はフォームのフォーカスを先頭に戻す。入力済みのメールアドレスは残す。
func (m *Model) resetForm() tea.Cmd {
	for i := range m.inputs {
		m.inputs[i].Blur()
		if i != fieldEmail {
			m.inputs[i].SetValue("")
		}
	}
	m.focus = fieldEmail
	return m.inputs[fieldEmail].Focus()
}

// clearForm はパスワードを含むフォームの内容をすべて消去する。
func (m *Model) clearForm() {
	for i := range m.inputs {
		m.inputs[i].Blur()
		m.inputs[i].SetValue("")
	}
	m.focus = fieldEmail
}

func revalidateTick() tea.Cmd {
	return tea.Tick(revalidateInterval, func(time.Time) tea.Msg {
		return revalidateTickMsg{}
	})
}

func toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return session.Classify(err)
}
