package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hitoshi/formcoach/internal/model"
	"github.com/hitoshi/formcoach/internal/screen"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	actionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	resultStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	confirmStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	frameStyle   = lipgloss.NewStyle().Padding(1, 2)
)

const timeLayout = "2006-01-02 15:04"

// View は現在の画面を描画する。
func (m Model) View() string {
	var body string
	switch m.current {
	case screen.Loading:
		status := "セッションを確認しています..."
		if m.snap.Restored {
			status = "処理中..."
		}
		body = titleStyle.Render("formcoach") + "\n\n" + status
	case screen.Login:
		body = m.viewAuthForm("ログイン", "enter: ログイン  tab: 次の項目  ctrl+r: 新規登録  ctrl+c: 終了")
	case screen.Register:
		body = m.viewAuthForm("新規登録", "enter: 登録  tab: 次の項目  ctrl+l: ログインへ戻る  ctrl+c: 終了")
	case screen.Home:
		body = m.viewHome()
	}
	return frameStyle.Render(body)
}

func (m Model) viewAuthForm(title, help string) string {
	lines := []string{titleStyle.Render(title), ""}
	for i := 0; i < m.fieldCount(); i++ {
		lines = append(lines, m.inputs[i].View())
	}
	if m.snap.Loading {
		lines = append(lines, "", labelStyle.Render("処理中..."))
	}
	lines = append(lines, renderMessage(m.message)...)
	lines = append(lines, "", helpStyle.Render(help))
	return strings.Join(lines, "\n")
}

func (m Model) viewHome() string {
	lines := []string{titleStyle.Render("ホーム"), ""}

	if id := m.snap.Identity; id != nil {
		verified := "未確認"
		if id.EmailVerified {
			verified = "確認済み"
		}
		lines = append(lines,
			labelStyle.Render("メールアドレス: ")+id.Email,
			labelStyle.Render("作成日時:       ")+id.CreatedAt.Local().Format(timeLayout),
			labelStyle.Render("最終ログイン:   ")+id.LastSignInAt.Local().Format(timeLayout),
			labelStyle.Render("メール確認:     ")+verified,
		)
	}

	lines = append(lines, "", titleStyle.Render("フォーム解析"),
		labelStyle.Render("種目: ")+string(m.exercise)+helpStyle.Render("  (ctrl+e で切替)"),
		m.imagePath.View(),
	)
	if m.analyzing {
		lines = append(lines, labelStyle.Render("解析中..."))
	}
	if m.result != nil {
		lines = append(lines, resultStyle.Render(
			fmt.Sprintf("スコア: %g\n%s", m.result.Score, m.result.Feedback),
		))
	}

	lines = append(lines, renderMessage(m.message)...)

	if m.confirmSignOut {
		lines = append(lines, "", confirmStyle.Render("ログアウトしますか？ (y/n)"))
	} else if m.snap.Loading {
		lines = append(lines, "", labelStyle.Render("処理中..."))
	}

	lines = append(lines, "", helpStyle.Render("enter: 解析  ctrl+o: ログアウト  esc: メッセージを閉じる  ctrl+c: 終了"))
	return strings.Join(lines, "\n")
}

func renderMessage(apiErr *model.APIError) []string {
	if apiErr == nil {
		return nil
	}
	lines := []string{"", errorStyle.Render(apiErr.Message)}
	if apiErr.Action != "" {
		lines = append(lines, actionStyle.Render(apiErr.Action))
	}
	return lines
}
