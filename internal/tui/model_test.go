package tui

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hitoshi/formcoach/internal/analysis"
	"github.com/hitoshi/formcoach/internal/identity"
	"github.com/hitoshi/formcoach/internal/model"
	"github.com/hitoshi/formcoach/internal/screen"
	"github.com/hitoshi/formcoach/internal/session"
)

// --- モック定義 ---

type stubProvider struct {
	mu       sync.Mutex
	listener identity.Listener

	verifyFn    func(ctx context.Context, email, password string) (*model.Identity, error)
	createFn    func(ctx context.Context, email, password string) (*model.Identity, error)
	terminateFn func(ctx context.Context) error

	calls []string
}

func (p *stubProvider) VerifyCredentials(ctx context.Context, email, password string) (*model.Identity, error) {
	p.record("verify:" + email + ":" + password)
	if p.verifyFn != nil {
		return p.verifyFn(ctx, email, password)
	}
	return p.signIn(email), nil
}

func (p *stubProvider) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	p.record("create:" + email + ":" + password)
	if p.createFn != nil {
		return p.createFn(ctx, email, password)
	}
	return p.signIn(email), nil
}

func (p *stubProvider) TerminateSession(ctx context.Context) error {
	p.record("terminate")
	if p.terminateFn != nil {
		return p.terminateFn(ctx)
	}
	p.emit(nil)
	return nil
}

func (p *stubProvider) SubscribeToSessionChanges(listener identity.Listener) func() {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()
	return func() {}
}

func (p *stubProvider) emit(id *model.Identity) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	l(id)
}

func (p *stubProvider) signIn(email string) *model.Identity {
	id := &model.Identity{
		ID:           "acct-1",
		Email:        email,
		CreatedAt:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		LastSignInAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
	}
	p.emit(id)
	return id
}

func (p *stubProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var _ identity.Provider = (*stubProvider)(nil)

type fakeAnalyzer struct {
	gotPath     string
	gotExercise analysis.ExerciseType
	result      *analysis.Result
	err         error
}

func (f *fakeAnalyzer) AnalyzeFile(ctx context.Context, path string, exercise analysis.ExerciseType) (*analysis.Result, error) {
	f.gotPath = path
	f.gotExercise = exercise
	return f.result, f.err
}

var _ SessionStore = (*session.Store)(nil)

// --- ヘルパー ---

func testLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

// newRestoredModel は初回のセッション確認が未認証で終わった状態のModelを返す。
func newRestoredModel(t *testing.T, analyzer Analyzer) (Model, *stubProvider, *session.Store) {
	t.Helper()
	provider := &stubProvider{}
	store := session.NewStore(provider, testLogger())
	t.Cleanup(store.Close)

	m := New(context.Background(), Config{Store: store, Analyzer: analyzer, Logger: testLogger()})
	if m.Screen() != screen.Loading {
		t.Fatalf("initial screen = %v, want loading", m.Screen())
	}

	provider.emit(nil)
	m = apply(t, m, restoreDoneMsg{})
	if m.Screen() != screen.Login {
		t.Fatalf("screen after restore = %v, want login", m.Screen())
	}
	return m, provider, store
}

func apply(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return got
}

// applyCmd はUpdateを実行し、返されたコマンドの結果も反映する。
func applyCmd(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	got := next.(Model)
	if cmd == nil {
		t.Fatal("expected a command")
	}
	return apply(t, got, cmd())
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func fillForm(t *testing.T, m Model, values ...string) Model {
	t.Helper()
	for i, v := range values {
		if i > 0 {
			m = apply(t, m, key(tea.KeyTab))
		}
		m = typeText(t, m, v)
	}
	return m
}

func signedInModel(t *testing.T, analyzer Analyzer) (Model, *stubProvider) {
	t.Helper()
	m, provider, _ := newRestoredModel(t, analyzer)
	m = fillForm(t, m, "a@b.com", "secret1")
	m = applyCmd(t, m, key(tea.KeyEnter))
	if m.Screen() != screen.Home {
		t.Fatalf("screen after sign-in = %v, want home", m.Screen())
	}
	return m, provider
}

// --- テスト ---

func TestModel_LoginRequiresBothFields(t *testing.T) {
	m, provider, _ := newRestoredModel(t, nil)

	m = typeText(t, m, "a@b.com")
	next, cmd := m.Update(key(tea.KeyEnter))
	m = next.(Model)

	if cmd != nil {
		t.Error("validation failure should not start a store call")
	}
	if m.message == nil || m.message.Code != model.ErrCodeRequiredFields {
		t.Errorf("message = %v, want %s", m.message, model.ErrCodeRequiredFields)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.callCount())
	}
}

func TestModel_SignInSuccessShowsHome(t *testing.T) {
	m, provider, _ := newRestoredModel(t, nil)

	m = fillForm(t, m, "a@b.com", "secret1")
	next, cmd := m.Update(key(tea.KeyEnter))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected sign-in command")
	}

	// 処理中の入力は無視される
	m = typeText(t, m, "x")
	if m.inputs[fieldPassword].Value() != "secret1" {
		t.Errorf("password changed while loading: %q", m.inputs[fieldPassword].Value())
	}

	m = apply(t, m, cmd())

	if provider.calls[0] != "verify:a@b.com:secret1" {
		t.Errorf("provider call = %q, want verify:a@b.com:secret1", provider.calls[0])
	}
	if m.Screen() != screen.Home {
		t.Errorf("screen = %v, want home", m.Screen())
	}
	for i, in := range m.inputs {
		if in.Value() != "" {
			t.Errorf("input %d = %q, want cleared", i, in.Value())
		}
	}
	if !strings.Contains(m.View(), "a@b.com") {
		t.Error("home view should show the account email")
	}
}

func TestModel_SignInFailureShowsClassifiedError(t *testing.T) {
	m, provider, _ := newRestoredModel(t, nil)
	provider.verifyFn = func(ctx context.Context, email, password string) (*model.Identity, error) {
		return nil, &identity.Error{Code: identity.CodeWrongPassword}
	}

	m = fillForm(t, m, "a@b.com", "badpass")
	m = applyCmd(t, m, key(tea.KeyEnter))

	if m.Screen() != screen.Login {
		t.Errorf("screen = %v, want login", m.Screen())
	}
	if m.snap.Loading {
		t.Error("loading should be reset after failure")
	}
	if m.message == nil || m.message.Code != model.ErrCodeWrongCredential {
		t.Fatalf("message = %v, want %s", m.message, model.ErrCodeWrongCredential)
	}
	if !strings.Contains(m.View(), m.message.Message) {
		t.Error("view should show the error message")
	}

	m = apply(t, m, key(tea.KeyEsc))
	if m.message != nil {
		t.Error("esc should dismiss the message")
	}
}

func TestModel_FirstSignInInFlightShowsLoading(t *testing.T) {
	m, provider, _ := newRestoredModel(t, nil)
	provider.verifyFn = func(ctx context.Context, email, password string) (*model.Identity, error) {
		return nil, &identity.Error{Code: identity.CodeWrongPassword}
	}

	m = fillForm(t, m, "a@b.com", "badpass")
	next, cmd := m.Update(key(tea.KeyEnter))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected sign-in command")
	}

	m = apply(t, m, snapshotMsg(session.Snapshot{Loading: true, Restored: true}))
	if m.Screen() != screen.Loading {
		t.Fatalf("screen while signing in = %v, want loading", m.Screen())
	}
	if !strings.Contains(m.View(), "処理中...") {
		t.Errorf("loading view should show progress, got:\n%s", m.View())
	}

	m = apply(t, m, cmd())
	if m.Screen() != screen.Login {
		t.Fatalf("screen after failure = %v, want login", m.Screen())
	}
	if m.message == nil || m.message.Code != model.ErrCodeWrongCredential {
		t.Errorf("message = %v, want %s", m.message, model.ErrCodeWrongCredential)
	}
	if got := m.inputs[fieldEmail].Value(); got != "a@b.com" {
		t.Errorf("email = %q, want kept", got)
	}
	if got := m.inputs[fieldPassword].Value(); got != "" {
		t.Errorf("password = %q, want cleared", got)
	}
}

func TestModel_ConfiguredExercise(t *testing.T) {
	provider := &stubProvider{}
	store := session.NewStore(provider, testLogger())
	defer store.Close()

	m := New(context.Background(), Config{Store: store, Logger: testLogger(), Exercise: analysis.ExerciseDeadlift})
	if m.exercise != analysis.ExerciseDeadlift {
		t.Errorf("exercise = %q, want deadlift", m.exercise)
	}

	m = New(context.Background(), Config{Store: store, Logger: testLogger()})
	if m.exercise != analysis.ExerciseSquat {
		t.Errorf("default exercise = %q, want squat", m.exercise)
	}
}

func TestModel_RegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		wantCode string
	}{
		{"missing confirmation", []string{"new@x.com", "abcdef"}, model.ErrCodeRequiredFields},
		{"mismatch", []string{"new@x.com", "abcdef", "abcdeg"}, model.ErrCodePasswordMismatch},
		{"too short", []string{"new@x.com", "short", "short"}, model.ErrCodePasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, provider, _ := newRestoredModel(t, nil)
			m = apply(t, m, key(tea.KeyCtrlR))
			if m.Screen() != screen.Register {
				t.Fatalf("screen = %v, want register", m.Screen())
			}

			m = fillForm(t, m, tt.values...)
			next, cmd := m.Update(key(tea.KeyEnter))
			m = next.(Model)

			if cmd != nil {
				t.Error("validation failure should not start a store call")
			}
			if m.message == nil || m.message.Code != tt.wantCode {
				t.Errorf("message = %v, want %s", m.message, tt.wantCode)
			}
			if provider.callCount() != 0 {
				t.Errorf("provider calls = %d, want 0", provider.callCount())
			}
		})
	}
}

func TestModel_RegisterSuccessGoesStraightHome(t *testing.T) {
	m, provider, _ := newRestoredModel(t, nil)

	m = apply(t, m, key(tea.KeyCtrlR))
	m = fillForm(t, m, "new@x.com", "abcdef", "abcdef")
	m = applyCmd(t, m, key(tea.KeyEnter))

	if provider.calls[0] != "create:new@x.com:abcdef" {
		t.Errorf("provider call = %q, want create:new@x.com:abcdef", provider.calls[0])
	}
	if m.Screen() != screen.Home {
		t.Errorf("screen = %v, want home", m.Screen())
	}
}

func TestModel_NavigationBetweenLoginAndRegister(t *testing.T) {
	m, _, _ := newRestoredModel(t, nil)

	m = typeText(t, m, "keep@x.com")
	m = apply(t, m, key(tea.KeyCtrlR))
	if m.Screen() != screen.Register {
		t.Fatalf("screen = %v, want register", m.Screen())
	}
	if m.inputs[fieldEmail].Value() != "keep@x.com" {
		t.Errorf("email = %q, want it kept across navigation", m.inputs[fieldEmail].Value())
	}

	m = apply(t, m, key(tea.KeyCtrlL))
	if m.Screen() != screen.Login {
		t.Errorf("screen = %v, want login", m.Screen())
	}
}

func TestModel_SignOutRequiresConfirmation(t *testing.T) {
	m, provider := signedInModel(t, nil)

	m = apply(t, m, key(tea.KeyCtrlO))
	if !m.confirmSignOut {
		t.Fatal("ctrl+o should ask for confirmation")
	}
	m = typeText(t, m, "n")
	if m.confirmSignOut || m.Screen() != screen.Home {
		t.Fatal("n should cancel sign-out")
	}

	m = apply(t, m, key(tea.KeyCtrlO))
	m = applyCmd(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})

	if provider.calls[len(provider.calls)-1] != "terminate" {
		t.Errorf("last provider call = %q, want terminate", provider.calls[len(provider.calls)-1])
	}
	if m.Screen() != screen.Login {
		t.Errorf("screen = %v, want login", m.Screen())
	}
}

func TestModel_SignOutFailureKeepsHome(t *testing.T) {
	m, provider := signedInModel(t, nil)
	provider.terminateFn = func(ctx context.Context) error {
		return &identity.Error{Code: identity.CodeNetworkRequestFailed}
	}

	m = apply(t, m, key(tea.KeyCtrlO))
	m = applyCmd(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})

	if m.Screen() != screen.Home {
		t.Errorf("screen = %v, want home", m.Screen())
	}
	if m.message == nil || m.message.Code != model.ErrCodeSignOutFailure {
		t.Errorf("message = %v, want %s", m.message, model.ErrCodeSignOutFailure)
	}
}

func TestModel_AnalysisFlow(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &analysis.Result{Score: 87, Feedback: "膝が内側に入っています"}}
	m, _ := signedInModel(t, analyzer)

	m = typeText(t, m, "./squat.jpg")
	m = apply(t, m, key(tea.KeyCtrlE))
	if m.exercise != analysis.ExerciseDeadlift {
		t.Errorf("exercise = %q, want deadlift", m.exercise)
	}

	m = applyCmd(t, m, key(tea.KeyEnter))

	if analyzer.gotPath != "./squat.jpg" || analyzer.gotExercise != analysis.ExerciseDeadlift {
		t.Errorf("AnalyzeFile(%q, %q), want ./squat.jpg, deadlift", analyzer.gotPath, analyzer.gotExercise)
	}
	if m.analyzing {
		t.Error("analyzing should be reset")
	}
	view := m.View()
	if !strings.Contains(view, "スコア: 87") || !strings.Contains(view, "膝が内側に入っています") {
		t.Errorf("view should show the result, got:\n%s", view)
	}
}

func TestModel_AnalysisErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		m, _ := signedInModel(t, &fakeAnalyzer{})
		next, cmd := m.Update(key(tea.KeyEnter))
		m = next.(Model)
		if cmd != nil {
			t.Error("empty path should not call the analyzer")
		}
		if m.message == nil || m.message.Code != model.ErrCodeImageUnreadable {
			t.Errorf("message = %v, want %s", m.message, model.ErrCodeImageUnreadable)
		}
	})

	t.Run("server failure", func(t *testing.T) {
		m, _ := signedInModel(t, &fakeAnalyzer{err: model.NewAnalysisFailedError("no person detected")})
		m = typeText(t, m, "./x.jpg")
		m = applyCmd(t, m, key(tea.KeyEnter))
		if m.message == nil || m.message.Code != model.ErrCodeAnalysisFailed {
			t.Errorf("message = %v, want %s", m.message, model.ErrCodeAnalysisFailed)
		}
		if m.Screen() != screen.Home {
			t.Errorf("screen = %v, want home", m.Screen())
		}
	})
}

func TestModel_RestoreFailureShowsNetworkError(t *testing.T) {
	provider := &stubProvider{}
	store := session.NewStore(provider, testLogger())
	defer store.Close()

	m := New(context.Background(), Config{Store: store, Logger: testLogger()})
	provider.emit(nil)
	m = apply(t, m, restoreDoneMsg{err: &identity.Error{Code: identity.CodeNetworkRequestFailed}})

	if m.Screen() != screen.Login {
		t.Errorf("screen = %v, want login", m.Screen())
	}
	if m.message == nil || m.message.Code != model.ErrCodeNetworkFailure {
		t.Errorf("message = %v, want %s", m.message, model.ErrCodeNetworkFailure)
	}
}

func TestModel_CtrlCQuits(t *testing.T) {
	m, _, _ := newRestoredModel(t, nil)
	_, cmd := m.Update(key(tea.KeyCtrlC))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}
