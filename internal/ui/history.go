package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/phin3has/argolens/internal/argocd"
)

type historyModel struct {
	styles  styles
	fetcher RevisionFetcher

	app     argocd.Application
	entries []argocd.RevisionHistory
	infos   map[string]argocd.RevisionInfo
	loading bool
	err     error

	width  int
	height int
	vp     viewport.Model

	selected int
}

type historyLoadedMsg struct {
	key   string
	infos []argocd.RevisionInfo
	err   error
}

// newHistoryModel lists app's deployments newest first.
func newHistoryModel(st styles, f RevisionFetcher, app argocd.Application) historyModel {
	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = false

	entries := make([]argocd.RevisionHistory, len(app.Status.History))
	for i, h := range app.Status.History {
		entries[len(entries)-1-i] = h
	}
	m := historyModel{styles: st, fetcher: f, app: app, entries: entries, infos: map[string]argocd.RevisionInfo{}, vp: vp}
	m.loading = f != nil && len(m.revisionIDs()) > 0
	m.vp.SetContent(m.renderBody())
	return m
}

func historyRevision(h argocd.RevisionHistory) string {
	if h.Revision != "" {
		return h.Revision
	}
	if len(h.Revisions) > 0 {
		return h.Revisions[0]
	}
	return ""
}

// revisionIDs returns the distinct revisions in display order.
func (m historyModel) revisionIDs() []string {
	seen := make(map[string]bool, len(m.entries))
	ids := make([]string, 0, len(m.entries))
	for _, h := range m.entries {
		id := historyRevision(h)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func (m historyModel) initCmd() tea.Cmd {
	if !m.loading {
		return nil
	}
	ids := m.revisionIDs()
	key := m.app.Key()
	app := m.app
	return func() tea.Msg {
		infos, err := m.fetcher.GetRevisionDetailsList(context.Background(), app.InstanceName(), app.Name(), ids,
			argocd.RevisionOptions{AppNamespace: app.Metadata.Namespace})
		return historyLoadedMsg{key: key, infos: infos, err: err}
	}
}

func (m historyModel) selectedRevision() string {
	if m.selected < 0 || m.selected >= len(m.entries) {
		return ""
	}
	return historyRevision(m.entries[m.selected])
}

func (m *historyModel) setSize(w, h int) {
	m.width = w
	m.height = h
	m.vp.Width = max(1, w)
	m.vp.Height = max(1, h-2)
	m.vp.SetContent(m.renderBody())
}

func (m historyModel) Update(msg tea.Msg) (historyModel, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		m.loading = false
		m.err = msg.err
		for _, info := range msg.infos {
			m.infos[info.RevisionID] = info
		}
		m.vp.SetContent(m.renderBody())
		return m, nil
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.vp.SetContent(m.renderBody())
				m.ensureVisible()
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.entries)-1 {
				m.selected++
				m.vp.SetContent(m.renderBody())
				m.ensureVisible()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m historyModel) View() string {
	head := fmt.Sprintf("History: %s  enter=details  esc=close", m.app.Name())
	return lipgloss.JoinVertical(lipgloss.Top, m.styles.Overlay.Width(m.width).Render(head), m.vp.View())
}

func (m historyModel) renderBody() string {
	var lines []string
	if op := m.app.Status.OperationState; op != nil && op.FinishedAt == nil {
		lines = append(lines, m.styles.StatusWarn.Render("Operation in progress: "+op.Phase+" "+op.Message), "")
	}
	if len(m.entries) == 0 {
		return strings.Join(append(lines, "(no history in application status)"), "\n")
	}
	if m.loading {
		lines = append(lines, m.styles.Muted.Render("loading commit metadata…"), "")
	}
	if m.err != nil {
		lines = append(lines, m.styles.Error.Render(m.err.Error()), "")
	}

	for i, h := range m.entries {
		prefix := "  "
		st := m.styles.SidebarItem
		if i == m.selected {
			prefix = "▶ "
			st = m.styles.SidebarSelected
		}
		when := "—"
		if !h.DeployedAt.IsZero() {
			when = h.DeployedAt.UTC().Format(time.RFC3339)
		}
		rev := historyRevision(h)
		info := m.infos[rev]

		lines = append(lines, st.Render(fmt.Sprintf("%s#%d  %s  %s", prefix, h.ID, when, blankIfEmpty(shortRevision(rev), "—"))))
		lines = append(lines, "    "+blankIfEmpty(firstLine(info.Message), "—"))
		lines = append(lines, "    by: "+blankIfEmpty(info.Author, "—"), "")
	}
	return strings.Join(lines, "\n")
}

func (m *historyModel) ensureVisible() {
	// crude: keep the selected entry near the top.
	m.vp.SetYOffset(max(0, m.selected*4-2))
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
