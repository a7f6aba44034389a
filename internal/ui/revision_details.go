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

type revisionDetailsModel struct {
	styles  styles
	fetcher RevisionFetcher

	app      argocd.Application
	revision string

	width  int
	height int
	vp     viewport.Model

	loading bool
	err     error

	meta argocd.RevisionInfo
}

type revisionDetailsLoadedMsg struct {
	revision string
	meta     argocd.RevisionInfo
	err      error
}

func newRevisionDetailsModel(st styles, f RevisionFetcher, app argocd.Application, revision string) revisionDetailsModel {
	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = false
	m := revisionDetailsModel{styles: st, fetcher: f, app: app, revision: revision, vp: vp, loading: f != nil}
	m.vp.SetContent(m.renderBody())
	return m
}

func (m revisionDetailsModel) initCmd() tea.Cmd {
	if m.fetcher == nil {
		return nil
	}
	app, revision := m.app, m.revision
	return func() tea.Msg {
		info, err := m.fetcher.GetRevisionDetails(context.Background(), app.InstanceName(), app.Name(), revision,
			argocd.RevisionOptions{AppNamespace: app.Metadata.Namespace})
		if err != nil {
			return revisionDetailsLoadedMsg{revision: revision, err: err}
		}
		return revisionDetailsLoadedMsg{revision: revision, meta: *info}
	}
}

func (m *revisionDetailsModel) setSize(w, h int) {
	m.width = w
	m.height = h
	m.vp.Width = max(1, w)
	m.vp.Height = max(1, h-2)
	m.vp.SetContent(m.renderBody())
}

func (m revisionDetailsModel) Update(msg tea.Msg) (revisionDetailsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case revisionDetailsLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.meta = msg.meta
		m.vp.SetContent(m.renderBody())
		return m, nil
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m revisionDetailsModel) View() string {
	head := fmt.Sprintf("Revision: %s  esc=close", m.revision)
	return lipgloss.JoinVertical(lipgloss.Top, m.styles.Overlay.Width(m.width).Render(head), m.vp.View())
}

func (m revisionDetailsModel) renderBody() string {
	if m.loading {
		return "Loading…"
	}
	if m.err != nil {
		return "Error:\n\n" + m.err.Error()
	}

	date := ""
	if m.meta.Date != nil {
		date = m.meta.Date.UTC().Format(time.RFC3339)
	}
	src := m.app.PrimarySource()
	lines := []string{
		"Commit:",
		"  revision:  " + m.revision,
		"  author:    " + blankIfEmpty(strings.TrimSpace(m.meta.Author), "—"),
		"  date:      " + blankIfEmpty(date, "—"),
		"  tags:      " + blankIfEmpty(strings.Join(m.meta.Tags, ", "), "—"),
		"  signature: " + blankIfEmpty(strings.TrimSpace(m.meta.SignatureInfo), "—"),
		"",
		"Message:",
		"  " + strings.ReplaceAll(blankIfEmpty(strings.TrimSpace(m.meta.Message), "—"), "\n", "\n  "),
		"",
		"Source:",
		"  repo: " + blankIfEmpty(src.RepoURL, "—"),
		"  path: " + blankIfEmpty(src.Path, "—"),
	}
	return strings.Join(lines, "\n")
}
