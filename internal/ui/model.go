package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/config"
	"github.com/phin3has/argolens/internal/lifecycle"
	"github.com/phin3has/argolens/internal/rollout"
)

// Loader produces a lifecycle snapshot across every configured instance.
type Loader interface {
	Load(ctx context.Context, opts argocd.ListOptions) lifecycle.Snapshot
}

// RevisionFetcher reads commit metadata for application revisions.
type RevisionFetcher interface {
	GetRevisionDetails(ctx context.Context, instanceName, appName, revisionID string, opts argocd.RevisionOptions) (*argocd.RevisionInfo, error)
	GetRevisionDetailsList(ctx context.Context, instanceName, appName string, revisionIDs []string, opts argocd.RevisionOptions) ([]argocd.RevisionInfo, error)
}

// ArgoCD is what the views read on demand; *argocd.Service satisfies it.
type ArgoCD interface {
	RevisionFetcher
	ResourceBrowser
}

type Options struct {
	// Label names the data source in the status bar.
	Label string
	// ListOptions narrows every poll, e.g. to a label selector.
	ListOptions argocd.ListOptions
}

type Model struct {
	cfg      config.Config
	loader   Loader
	argo     ArgoCD
	listOpts argocd.ListOptions

	styles styles
	keys   keyMap
	help   help.Model

	width  int
	height int

	appsAll       []lifecycle.AppLifecycle
	apps          []lifecycle.AppLifecycle
	failures      []argocd.InstanceResult
	selected      int
	sidebarOffset int

	filterInput  textinput.Model
	filterActive bool
	driftOnly    bool

	sortMode sortMode

	// generation counts issued loads; applied is the generation on screen.
	// A snapshot older than applied is dropped.
	generation int
	applied    int
	loading    bool

	history   *historyModel
	revDetail *revisionDetailsModel
	resources *resourceDetailsModel

	serverLabel string
	lastRefresh time.Time
	statusLine  string
}

type sortMode int

const (
	sortByName sortMode = iota
	sortByHealth
	sortBySync
)

func (s sortMode) String() string {
	switch s {
	case sortByHealth:
		return "health"
	case sortBySync:
		return "sync"
	default:
		return "name"
	}
}

func NewModel(cfg config.Config, loader Loader, argo ArgoCD, opts Options) Model {
	h := help.New()
	h.ShowAll = false

	ti := textinput.New()
	ti.Placeholder = "filter apps…"
	ti.Prompt = "/ "
	ti.CharLimit = 128
	ti.Width = 24

	label := opts.Label
	if label == "" {
		label = fmt.Sprintf("%d instances", len(argocd.ListInstances(cfg.ArgoCD.AppLocatorMethods)))
	}

	return Model{
		cfg:         cfg,
		loader:      loader,
		argo:        argo,
		listOpts:    opts.ListOptions,
		styles:      newStyles(),
		keys:        newKeyMap(),
		help:        h,
		filterInput: ti,
		sortMode:    sortByName,
		generation:  1,
		loading:     true,
		serverLabel: label,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(m.generation), m.tickCmd())
}

type lifecycleMsg struct {
	gen  int
	snap lifecycle.Snapshot
}

type tickMsg time.Time

func (m Model) loadCmd(gen int) tea.Cmd {
	return func() tea.Msg {
		return lifecycleMsg{gen: gen, snap: m.loader.Load(context.Background(), m.listOpts)}
	}
}

func (m Model) tickCmd() tea.Cmd {
	if m.cfg.UI.PollInterval <= 0 {
		return nil
	}
	return tea.Tick(m.cfg.UI.PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) refresh() tea.Cmd {
	m.generation++
	m.loading = true
	return m.loadCmd(m.generation)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureSidebarSelectionVisible()
		m.resizeOverlays()
		return m, nil
	case tickMsg:
		cmd := tea.Batch(m.refresh(), m.tickCmd())
		return m, cmd
	case lifecycleMsg:
		if msg.gen <= m.applied {
			return m, nil
		}
		m.applied = msg.gen
		if msg.gen == m.generation {
			m.loading = false
		}
		m.appsAll = msg.snap.Apps
		m.failures = msg.snap.Failures
		m.lastRefresh = msg.snap.FetchedAt.UTC()
		m.applyFilter(true)
		m.ensureSidebarSelectionVisible()
		m.statusLine = fmt.Sprintf("loaded %d apps", len(m.appsAll))
		if len(m.failures) > 0 {
			m.statusLine += fmt.Sprintf(", %d instances failed", len(m.failures))
		}
		return m, nil
	case historyLoadedMsg:
		if m.history == nil || m.history.app.Key() != msg.key {
			return m, nil
		}
		h, cmd := m.history.Update(msg)
		m.history = &h
		return m, cmd
	case revisionDetailsLoadedMsg:
		if m.revDetail == nil || m.revDetail.revision != msg.revision {
			return m, nil
		}
		d, cmd := m.revDetail.Update(msg)
		m.revDetail = &d
		return m, cmd
	case resourceTreeLoadedMsg:
		if m.resources == nil || m.resources.app.Key() != msg.key {
			return m, nil
		}
		r, cmd := m.resources.Update(msg)
		m.resources = &r
		return m, cmd
	case resourceManifestLoadedMsg:
		if m.resources == nil || m.resources.app.Key() != msg.key {
			return m, nil
		}
		r, cmd := m.resources.Update(msg)
		m.resources = &r
		return m, cmd
	case tea.KeyMsg:
		if m.resources != nil {
			if key.Matches(msg, m.keys.Clear) {
				if m.resources.showingManifest() {
					r := m.resources.back()
					m.resources = &r
				} else {
					m.resources = nil
				}
				return m, nil
			}
			r, cmd := m.resources.Update(msg)
			m.resources = &r
			return m, cmd
		}

		if m.revDetail != nil {
			if key.Matches(msg, m.keys.Clear) {
				m.revDetail = nil
				return m, nil
			}
			d, cmd := m.revDetail.Update(msg)
			m.revDetail = &d
			return m, cmd
		}

		if m.history != nil {
			switch {
			case key.Matches(msg, m.keys.Clear), key.Matches(msg, m.keys.History):
				m.history = nil
				return m, nil
			case key.Matches(msg, m.keys.Open):
				cmd := m.openRevision(m.history.app, m.history.selectedRevision())
				return m, cmd
			}
			h, cmd := m.history.Update(msg)
			m.history = &h
			return m, cmd
		}

		// While filtering, most keys should go to the input first.
		if m.filterActive {
			if key.Matches(msg, m.keys.Clear) {
				m.filterInput.SetValue("")
				m.filterActive = false
				m.filterInput.Blur()
				m.applyFilter(true)
				m.ensureSidebarSelectionVisible()
				return m, nil
			}
			if msg.Type == tea.KeyEnter {
				m.filterActive = false
				m.filterInput.Blur()
				return m, nil
			}

			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			m.applyFilter(true)
			m.ensureSidebarSelectionVisible()
			return m, cmd
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			m.statusLine = "refreshing…"
			cmd := m.refresh()
			return m, cmd
		case key.Matches(msg, m.keys.History):
			if len(m.apps) == 0 {
				return m, nil
			}
			h := newHistoryModel(m.styles, m.argo, m.apps[m.selected].Application)
			m.history = &h
			m.resizeOverlays()
			return m, h.initCmd()
		case key.Matches(msg, m.keys.Resources):
			if len(m.apps) == 0 {
				return m, nil
			}
			r := newResourceDetailsModel(m.styles, m.argo, m.apps[m.selected].Application)
			m.resources = &r
			m.resizeOverlays()
			return m, r.initCmd()
		case key.Matches(msg, m.keys.Open):
			if len(m.apps) == 0 {
				return m, nil
			}
			app := m.apps[m.selected].Application
			cmd := m.openRevision(app, app.Status.Sync.Revision)
			return m, cmd
		case key.Matches(msg, m.keys.ToggleDrift):
			m.driftOnly = !m.driftOnly
			m.applyFilter(true)
			m.ensureSidebarSelectionVisible()
			if m.driftOnly {
				m.statusLine = "showing drift only"
			} else {
				m.statusLine = "showing all apps"
			}
			return m, nil
		case key.Matches(msg, m.keys.Filter):
			m.filterActive = true
			m.filterInput.Focus()
			return m, nil
		case key.Matches(msg, m.keys.Sort):
			m.sortMode = (m.sortMode + 1) % 3
			m.applyFilter(true)
			m.ensureSidebarSelectionVisible()
			m.statusLine = "sorted by " + m.sortMode.String()
			return m, nil
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
				m.ensureSidebarSelectionVisible()
			}
			return m, nil
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.apps)-1 {
				m.selected++
				m.ensureSidebarSelectionVisible()
			}
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			// esc outside filter mode clears the filter but keeps focus unchanged.
			if m.filterInput.Value() != "" {
				m.filterInput.SetValue("")
				m.applyFilter(true)
				m.ensureSidebarSelectionVisible()
			}
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) openRevision(app argocd.Application, revision string) tea.Cmd {
	if revision == "" {
		m.statusLine = "no revision to show"
		return nil
	}
	d := newRevisionDetailsModel(m.styles, m.argo, app, revision)
	m.revDetail = &d
	m.resizeOverlays()
	return d.initCmd()
}

func (m *Model) resizeOverlays() {
	_, w, h := m.layout()
	if m.resources != nil {
		m.resources.setSize(w-4, h-2)
	}
	if m.history != nil {
		m.history.setSize(w-4, h-2)
	}
	if m.revDetail != nil {
		m.revDetail.setSize(w-4, h-2)
	}
}

// layout approximates the sidebar width, main width and body height.
func (m Model) layout() (int, int, int) {
	sidebarWidth := m.cfg.UI.SidebarWidth
	if sidebarWidth < 20 {
		sidebarWidth = 20
	}
	mainWidth := m.width - sidebarWidth
	if mainWidth < 20 {
		mainWidth = 20
		sidebarWidth = max(20, m.width-mainWidth)
	}
	return sidebarWidth, mainWidth, max(0, m.height-2)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	headerTitle := "argolens"
	if m.loading {
		headerTitle += "  ⟳"
	}
	if m.driftOnly {
		headerTitle += "  [drift]"
	}
	headerTitle += "  [sort:" + m.sortMode.String() + "]"
	if m.filterInput.Value() != "" || m.filterActive {
		headerTitle = headerTitle + "  " + m.filterInput.View()
	}
	header := m.styles.Header.Width(m.width).Render(headerTitle)

	footer := m.renderFooter(m.width)

	bodyHeight := max(0, m.height-lipgloss.Height(header)-lipgloss.Height(footer))
	sidebarWidth, mainWidth, _ := m.layout()

	sidebar := m.renderSidebar(sidebarWidth, bodyHeight)
	main := m.renderMain(mainWidth, bodyHeight)

	row := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)

	return lipgloss.JoinVertical(lipgloss.Top, header, row, footer)
}

func (m Model) renderFooter(w int) string {
	drifted := 0
	for _, a := range m.appsAll {
		if a.Application.Status.Sync.Status != "Synced" {
			drifted++
		}
	}

	ts := "never"
	if !m.lastRefresh.IsZero() {
		ts = m.lastRefresh.Format("15:04:05Z")
	}

	label := func(s string) string { return m.styles.StatusLabel.Render(s) }
	val := func(s string) string { return m.styles.StatusValue.Render(s) }
	warnIf := func(n int) string {
		if n > 0 {
			return m.styles.StatusWarn.Render(fmt.Sprintf("%d", n))
		}
		return val(fmt.Sprintf("%d", n))
	}

	leftParts := []string{
		label("source:") + val(m.serverLabel),
		label("refresh:") + val(ts),
		label("apps:") + val(fmt.Sprintf("%d", len(m.appsAll))),
		label("drift:") + warnIf(drifted),
		label("failed:") + warnIf(len(m.failures)),
	}
	if strings.TrimSpace(m.statusLine) != "" {
		leftParts = append(leftParts, label("msg:")+val(m.statusLine))
	}
	left := strings.Join(leftParts, "  ")

	right := m.help.View(m.keys)

	gap := max(1, w-lipgloss.Width(left)-lipgloss.Width(right))
	line := left + strings.Repeat(" ", gap) + right
	return m.styles.StatusBar.Width(w).Render(line)
}

func (m Model) renderSidebar(w, h int) string {
	titleText := "Applications"
	if len(m.appsAll) > 0 && len(m.apps) != len(m.appsAll) {
		titleText = fmt.Sprintf("Applications (%d/%d)", len(m.apps), len(m.appsAll))
	} else if len(m.appsAll) > 0 {
		titleText = fmt.Sprintf("Applications (%d)", len(m.appsAll))
	}
	title := m.styles.SidebarTitle.Render(titleText)
	lines := []string{title, strings.Repeat("─", max(0, w-2))}

	// Render only the visible window of apps.
	maxItems := max(0, h-len(lines))
	start := clamp(m.sidebarOffset, 0, max(0, len(m.apps)-1))
	end := min(len(m.apps), start+maxItems)

	for i := start; i < end; i++ {
		a := m.apps[i].Application
		name := a.Name()
		if s := a.Status.Sync.Status; s != "" && s != "Synced" {
			name = "! " + name
		}
		if len(m.apps[i].Rollouts) > 0 {
			name += " ◆"
		}
		if i == m.selected {
			lines = append(lines, m.styles.SidebarSelected.Render("▶ "+name))
		} else {
			lines = append(lines, m.styles.SidebarItem.Render("  "+name))
		}
	}

	if len(m.apps) > end && maxItems > 0 {
		lines[len(lines)-1] = lines[len(lines)-1] + m.styles.SidebarItem.Render("  …")
	}

	content := strings.Join(lines, "\n")
	return m.styles.Sidebar.Width(w).Height(h).Render(content)
}

func (m Model) renderMain(w, h int) string {
	if m.resources != nil {
		return m.styles.Main.Width(w).Height(h).Render(m.resources.View())
	}
	if m.revDetail != nil {
		return m.styles.Main.Width(w).Height(h).Render(m.revDetail.View())
	}
	if m.history != nil {
		return m.styles.Main.Width(w).Height(h).Render(m.history.View())
	}

	var blocks []string
	if len(m.failures) > 0 {
		blocks = append(blocks, m.renderFailures())
	}

	if len(m.apps) == 0 {
		switch {
		case m.loading && m.applied == 0:
			blocks = append(blocks, "Loading applications…")
		case len(m.failures) > 0 && len(m.appsAll) == 0:
			blocks = append(blocks, "No instance answered.\n\n"+
				"Common fixes:\n"+
				"  • Check the instance URLs under argocd.appLocatorMethods\n"+
				"  • Set ARGOCD_AUTH_TOKEN, or ARGOCD_USERNAME and ARGOCD_PASSWORD\n"+
				"  • For self-signed certificates set argocd.localDevelopment or ARGOCD_INSECURE=true\n\n"+
				"Press 'r' to retry.")
		default:
			blocks = append(blocks, "No applications. Press 'r' to refresh.")
		}
		return m.styles.Main.Width(w).Height(h).Render(strings.Join(blocks, "\n\n"))
	}

	blocks = append(blocks, m.renderApp(m.apps[m.selected]))
	return m.styles.Main.Width(w).Height(h).Render(strings.Join(blocks, "\n\n"))
}

func (m Model) renderFailures() string {
	lines := []string{m.styles.Error.Render("Instance failures:")}
	for _, f := range m.failures {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("  ✖ %s: %v", f.Instance.Name, f.Err)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderApp(al lifecycle.AppLifecycle) string {
	app := al.Application
	src := app.PrimarySource()
	revision := app.Status.Sync.Revision
	if revision == "" {
		revision = src.TargetRevision
	}

	content := fmt.Sprintf(
		"Name:      %s\nInstance:  %s\nProject:   %s\nNamespace: %s → %s\nHealth:    %s\nSync:      %s\nRepo:      %s\nPath:      %s\nRevision:  %s",
		app.Name(),
		blankIfEmpty(app.InstanceName(), "—"),
		blankIfEmpty(app.Spec.Project, "—"),
		blankIfEmpty(app.Metadata.Namespace, "—"),
		blankIfEmpty(app.DestinationNamespace(), "—"),
		blankIfEmpty(app.Status.Health.Status, "—"),
		blankIfEmpty(app.Status.Sync.Status, "—"),
		blankIfEmpty(src.RepoURL, "—"),
		blankIfEmpty(src.Path, "—"),
		blankIfEmpty(revision, "—"),
	)

	content += "\n\n" + m.styles.Section.Render("Rollouts:") + "\n"
	if al.Err != nil {
		content += m.styles.Error.Render("  "+al.Err.Error()) + "\n\nPress 'r' to retry."
		return content
	}
	content += m.renderRollouts(al.Rollouts)
	return content
}

func (m Model) renderRollouts(uis []rollout.RolloutUI) string {
	if len(uis) == 0 {
		return "  (none)"
	}
	var lines []string
	for _, ru := range uis {
		ro := ru.Rollout
		head := fmt.Sprintf("  %s  %s", ro.Name, ro.Strategy())
		if ro.Status.Phase != "" {
			head += "  " + ro.Status.Phase
		}
		if ro.Status.Message != "" {
			head += m.styles.Muted.Render("  " + ro.Status.Message)
		}
		lines = append(lines, head)
		if len(ru.Revisions) == 0 {
			lines = append(lines, "    (no revisions)")
		}
		for i := range ru.Revisions {
			lines = append(lines, m.renderRevision(&ru.Revisions[i]))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRevision(rev *rollout.Revision) string {
	label := rev.Label()
	st := m.styles.Muted
	switch {
	case rev.IsCanary():
		st = m.styles.Canary
	case rev.IsPreview():
		st = m.styles.Preview
	case rev.IsStable() || rev.IsActive():
		st = m.styles.Stable
	}
	icons := make([]string, 0, len(rev.AnalysisRuns))
	for _, run := range rev.AnalysisRuns {
		icons = append(icons, run.Status.Phase.Icon())
	}
	line := fmt.Sprintf("    #%-3d %-26s %-14s %3d%%  %d/%d",
		rev.Number, rev.Name(), label, rev.Percentage, rev.AvailableReplicas, rev.Replicas)
	if len(icons) > 0 {
		line += "  " + strings.Join(icons, " ")
	}
	return st.Render(line)
}

func (m *Model) applyFilter(keepSelectionByName bool) {
	prevKey := ""
	if keepSelectionByName && len(m.apps) > 0 && m.selected >= 0 && m.selected < len(m.apps) {
		prevKey = m.apps[m.selected].Application.Key()
	}

	q := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))
	filtered := make([]lifecycle.AppLifecycle, 0, len(m.appsAll))
	for _, a := range m.appsAll {
		app := a.Application
		if q != "" && !strings.Contains(strings.ToLower(app.Name()), q) &&
			!strings.Contains(strings.ToLower(app.InstanceName()), q) {
			continue
		}
		if m.driftOnly && app.Status.Sync.Status == "Synced" {
			continue
		}
		filtered = append(filtered, a)
	}
	m.apps = filtered
	m.sortApps()

	if len(m.apps) == 0 {
		m.selected = 0
		return
	}

	// Try to keep selection stable across polls.
	if prevKey != "" {
		for i := range m.apps {
			if m.apps[i].Application.Key() == prevKey {
				m.selected = i
				return
			}
		}
	}

	if m.selected >= len(m.apps) {
		m.selected = max(0, len(m.apps)-1)
	}
}

func (m *Model) sortApps() {
	if len(m.apps) < 2 {
		return
	}

	healthRank := func(s string) int {
		s = strings.TrimSpace(strings.ToLower(s))
		switch s {
		case "degraded":
			return 0
		case "missing":
			return 1
		case "suspended":
			return 2
		case "progressing":
			return 3
		case "healthy":
			return 4
		case "":
			return 98
		default:
			return 50
		}
	}

	syncRank := func(s string) int {
		s = strings.TrimSpace(strings.ToLower(s))
		switch s {
		case "outofsync":
			return 0
		case "unknown":
			return 1
		case "synced":
			return 2
		case "":
			return 98
		default:
			return 50
		}
	}

	sort.SliceStable(m.apps, func(i, j int) bool {
		a, b := m.apps[i].Application, m.apps[j].Application
		switch m.sortMode {
		case sortByHealth:
			ri, rj := healthRank(a.Status.Health.Status), healthRank(b.Status.Health.Status)
			if ri != rj {
				return ri < rj
			}
		case sortBySync:
			ri, rj := syncRank(a.Status.Sync.Status), syncRank(b.Status.Sync.Status)
			if ri != rj {
				return ri < rj
			}
		}
		if an, bn := strings.ToLower(a.Name()), strings.ToLower(b.Name()); an != bn {
			return an < bn
		}
		return a.InstanceName() < b.InstanceName()
	})
}

func (m *Model) ensureSidebarSelectionVisible() {
	if len(m.apps) == 0 {
		m.sidebarOffset = 0
		return
	}
	if m.height == 0 {
		return
	}

	// Approximate visible rows: header (1) + help (1) + sidebar title+rule (2).
	visible := max(1, m.height-2-2)

	if m.selected < m.sidebarOffset {
		m.sidebarOffset = m.selected
	}
	if m.selected >= m.sidebarOffset+visible {
		m.sidebarOffset = m.selected - visible + 1
	}

	maxOffset := max(0, len(m.apps)-visible)
	m.sidebarOffset = clamp(m.sidebarOffset, 0, maxOffset)
}

func blankIfEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
