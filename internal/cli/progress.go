package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/hydra-inbox/internal/inbox"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

const refreshInterval = 200 * time.Millisecond

// Theme holds the color scheme for the watch display.
type Theme struct {
	Active  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Active:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// statusStyle maps every status to its color.
func (t Theme) statusStyle(s models.Status) lipgloss.Style {
	switch s {
	case models.StatusPending:
		return lipgloss.NewStyle().Foreground(t.Hint)
	case models.StatusProcessing, models.StatusExtracting, models.StatusAnalyzing, models.StatusStoring:
		return lipgloss.NewStyle().Foreground(t.Active)
	case models.StatusCompleted:
		return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
	case models.StatusFailed:
		return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(t.Hint)
	}
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tracker is the part of the inbox the watch view reads and drives.
type tracker interface {
	Get(id string) (models.Item, bool)
	Retry(ctx context.Context, id string) error
	RequestClear() *inbox.ClearRequest
}

// tickMsg triggers a refresh from the registry.
type tickMsg time.Time

// watchModel is the bubbletea model for a batch of submitted items.
type watchModel struct {
	ctx      context.Context
	src      tracker
	ids      []string
	items    map[string]models.Item
	progress progress.Model
	theme    Theme

	clear    *inbox.ClearRequest
	notice   string
	done     bool
	quitting bool
}

func newWatchModel(ctx context.Context, src tracker, ids []string) watchModel {
	m := watchModel{
		ctx:      ctx,
		src:      src,
		ids:      append([]string(nil), ids...),
		items:    make(map[string]models.Item, len(ids)),
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(30)),
		theme:    defaultTheme,
	}
	m.refresh()
	return m
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.progress.Init())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		if m.clear != nil {
			return m.resolveClear(msg.String())
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "x":
			m.dismissFailed()
			return m, nil
		case "c":
			m.clear = m.src.RequestClear()
			return m, nil
		}

	case tickMsg:
		if m.ctx.Err() != nil {
			m.quitting = true
			return m, tea.Quit
		}
		m.refresh()
		if m.settled() {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) resolveClear(key string) (tea.Model, tea.Cmd) {
	req := m.clear
	switch key {
	case "y", "Y":
		m.clear = nil
		if err := req.Confirm(m.ctx); err != nil {
			m.notice = fmt.Sprintf("clear: %v", err)
		} else {
			m.notice = "inbox cleared"
		}
		m.refresh()
		if m.settled() {
			m.done = true
			return m, tea.Quit
		}
	case "n", "N", "esc", "ctrl+c":
		m.clear = nil
		_ = req.Cancel()
		m.notice = "clear cancelled"
	}
	return m, nil
}

// dismissFailed drops failed items so they can be submitted again.
func (m *watchModel) dismissFailed() {
	n := 0
	for _, id := range m.ids {
		if m.items[id].Status != models.StatusFailed {
			continue
		}
		if err := m.src.Retry(m.ctx, id); err == nil {
			n++
		}
	}
	if n > 0 {
		m.notice = fmt.Sprintf("dismissed %d failed item(s); submit again to retry", n)
	}
	m.refresh()
}

// refresh pulls current state and forgets ids the inbox no longer tracks.
func (m *watchModel) refresh() {
	kept := make([]string, 0, len(m.ids))
	for _, id := range m.ids {
		item, ok := m.src.Get(id)
		if !ok {
			delete(m.items, id)
			continue
		}
		m.items[id] = item
		kept = append(kept, id)
	}
	m.ids = kept
}

func (m watchModel) settled() bool {
	for _, id := range m.ids {
		if !m.items[id].IsTerminal() {
			return false
		}
	}
	return true
}

// Items returns the watched items in submission order.
func (m watchModel) Items() []models.Item {
	out := make([]models.Item, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.items[id])
	}
	return out
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var b strings.Builder
	for _, id := range m.ids {
		item := m.items[id]
		style := m.theme.statusStyle(item.Status)
		fmt.Fprintf(&b, "%s %-32s %s %3d%% %s\n",
			style.Render(item.Status.Icon()),
			truncate(item.DisplayName(), 32),
			m.progress.ViewAs(float64(item.Progress)/100),
			item.Progress,
			style.Render(stepLabel(item)),
		)
		if item.Error != "" {
			b.WriteString("  " + m.theme.errorStyle().Render(item.Error) + "\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n" + m.notice + "\n")
	}
	if m.clear != nil {
		b.WriteString("\n" + m.theme.errorStyle().Render("Clear all items and history? (y/n)") + "\n")
	} else {
		b.WriteString("\n" + m.theme.hintStyle().Render("q stop watching · x dismiss failed · c clear all") + "\n")
	}
	return b.String()
}

func (m watchModel) finalView() string {
	var b strings.Builder
	for _, item := range m.Items() {
		style := m.theme.statusStyle(item.Status)
		fmt.Fprintf(&b, "%s %s\n", style.Render(item.Status.Icon()), item.DisplayName())
		switch item.Status {
		case models.StatusCompleted:
			if item.Summary != "" {
				fmt.Fprintf(&b, "  %s\n", item.Summary)
			}
		case models.StatusFailed:
			fmt.Fprintf(&b, "  %s\n", m.theme.errorStyle().Render(item.Error))
		}
	}
	if m.notice != "" {
		b.WriteString(m.notice + "\n")
	}
	if m.quitting {
		b.WriteString(m.theme.hintStyle().Render("Stopped watching. Items still in flight are not tracked after exit.") + "\n")
	}
	return b.String()
}

func stepLabel(item models.Item) string {
	if item.CurrentStep == "" || item.CurrentStep == string(item.Status) {
		return item.Status.Label()
	}
	return item.Status.Label() + ": " + item.CurrentStep
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunWatch runs the interactive view until every item is terminal or the
// user stops watching. It returns the last known state of each item.
func RunWatch(ctx context.Context, src tracker, ids []string) ([]models.Item, error) {
	model := newWatchModel(ctx, src, ids)
	if model.settled() {
		fmt.Fprint(stdout, model.finalView())
		return model.Items(), nil
	}

	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("watch UI error: %w", err)
	}
	if m, ok := finalModel.(watchModel); ok {
		return m.Items(), nil
	}
	return model.Items(), nil
}

// waitTerminal is the non-interactive watch: updates are printed by the
// inbox observer and this only blocks until the batch settles.
func waitTerminal(ctx context.Context, src tracker, ids []string) []models.Item {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	m := newWatchModel(ctx, src, ids)
	for !m.settled() {
		select {
		case <-ctx.Done():
			return m.Items()
		case <-ticker.C:
			m.refresh()
		}
	}
	return m.Items()
}
