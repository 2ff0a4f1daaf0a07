package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hitoshi/formcoach/internal/session"
)

// Run はTUIを起動し、終了するまでブロックする。
// ストアの状態変更はProgram.Sendでイベントループに渡す。
func Run(ctx context.Context, cfg Config, opts ...tea.ProgramOption) error {
	m := New(ctx, cfg)

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)

	unsubscribe := cfg.Store.Subscribe(func(snap session.Snapshot) {
		p.Send(snapshotMsg(snap))
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run terminal UI: %w", err)
	}
	return nil
}
