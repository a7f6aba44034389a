package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/phin3has/argolens/internal/argocd"
)

// ResourceBrowser reads an application's resource tree and live manifests.
type ResourceBrowser interface {
	ResourceTree(ctx context.Context, instanceName, appName, appNamespace string) (*argocd.ResourceTree, error)
	LiveResource(ctx context.Context, instanceName, appName, appNamespace string, ref argocd.ResourceRef) (*unstructured.Unstructured, error)
}

// resourceDetailsModel lists the resource tree and, after enter, shows the
// live manifest of the selected node.
type resourceDetailsModel struct {
	styles  styles
	browser ResourceBrowser
	app     argocd.Application

	width  int
	height int
	vp     viewport.Model

	loading bool
	err     error

	nodes    []argocd.ResourceNode
	selected int

	ref        *argocd.ResourceRef
	manifest   *unstructured.Unstructured
	showAsJSON bool
}

type resourceTreeLoadedMsg struct {
	key   string
	nodes []argocd.ResourceNode
	err   error
}

type resourceManifestLoadedMsg struct {
	key string
	ref argocd.ResourceRef
	obj *unstructured.Unstructured
	err error
}

func newResourceDetailsModel(st styles, b ResourceBrowser, app argocd.Application) resourceDetailsModel {
	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = false
	m := resourceDetailsModel{styles: st, browser: b, app: app, vp: vp, loading: b != nil}
	m.vp.SetContent(m.renderBody())
	return m
}

func (m resourceDetailsModel) initCmd() tea.Cmd {
	if m.browser == nil {
		return nil
	}
	app := m.app
	return func() tea.Msg {
		tree, err := m.browser.ResourceTree(context.Background(), app.InstanceName(), app.Name(), app.Metadata.Namespace)
		if err != nil {
			return resourceTreeLoadedMsg{key: app.Key(), err: err}
		}
		return resourceTreeLoadedMsg{key: app.Key(), nodes: tree.Nodes}
	}
}

func (m resourceDetailsModel) manifestCmd(ref argocd.ResourceRef) tea.Cmd {
	app := m.app
	return func() tea.Msg {
		obj, err := m.browser.LiveResource(context.Background(), app.InstanceName(), app.Name(), app.Metadata.Namespace, ref)
		return resourceManifestLoadedMsg{key: app.Key(), ref: ref, obj: obj, err: err}
	}
}

// showingManifest reports whether esc should go back to the tree rather than close.
func (m resourceDetailsModel) showingManifest() bool { return m.ref != nil }

func (m resourceDetailsModel) back() resourceDetailsModel {
	m.ref = nil
	m.manifest = nil
	m.err = nil
	m.loading = false
	m.vp.SetContent(m.renderBody())
	m.vp.SetYOffset(max(0, m.selected-2))
	return m
}

func (m *resourceDetailsModel) setSize(w, h int) {
	m.width = w
	m.height = h
	m.vp.Width = max(1, w)
	m.vp.Height = max(1, h-2)
	m.vp.SetContent(m.renderBody())
}

func (m resourceDetailsModel) Update(msg tea.Msg) (resourceDetailsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil
	case resourceTreeLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.nodes = msg.nodes
		m.selected = 0
		m.vp.SetContent(m.renderBody())
		return m, nil
	case resourceManifestLoadedMsg:
		if m.ref == nil || *m.ref != msg.ref {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		m.manifest = msg.obj
		m.vp.SetContent(m.renderBody())
		m.vp.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if m.ref != nil {
			if msg.String() == "t" {
				m.showAsJSON = !m.showAsJSON
				m.vp.SetContent(m.renderBody())
				return m, nil
			}
			break
		}
		switch msg.String() {
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.vp.SetContent(m.renderBody())
				m.vp.SetYOffset(max(0, m.selected-2))
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.nodes)-1 {
				m.selected++
				m.vp.SetContent(m.renderBody())
				m.vp.SetYOffset(max(0, m.selected-2))
			}
			return m, nil
		case "enter":
			if len(m.nodes) == 0 || m.browser == nil {
				return m, nil
			}
			ref := m.nodes[m.selected].ResourceRef
			m.ref = &ref
			m.manifest = nil
			m.err = nil
			m.loading = true
			m.vp.SetContent(m.renderBody())
			return m, m.manifestCmd(ref)
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m resourceDetailsModel) View() string {
	header := fmt.Sprintf("Resources: %s  enter=live manifest  esc=close", m.app.Name())
	if m.ref != nil {
		header = fmt.Sprintf("Resource: %s/%s (%s)  [t=%s]  esc=back",
			m.ref.Kind,
			m.ref.Name,
			blankIfEmpty(m.ref.Namespace, "cluster"),
			map[bool]string{false: "yaml", true: "json"}[m.showAsJSON],
		)
	}
	return lipgloss.JoinVertical(lipgloss.Top, m.styles.Overlay.Width(m.width).Render(header), m.vp.View())
}

func (m resourceDetailsModel) renderBody() string {
	if m.loading {
		return "Loading…"
	}
	if m.err != nil {
		return "Error:\n\n" + m.err.Error()
	}
	if m.ref != nil {
		return m.renderManifest()
	}
	if len(m.nodes) == 0 {
		return "(empty resource tree)"
	}

	lines := make([]string, 0, len(m.nodes))
	for i, n := range m.nodes {
		prefix := "  "
		st := m.styles.SidebarItem
		if i == m.selected {
			prefix = "▶ "
			st = m.styles.SidebarSelected
		}
		kind := n.Kind
		if n.Group != "" {
			kind = n.Group + "/" + n.Kind
		}
		health := "—"
		if n.Health != nil && n.Health.Status != "" {
			health = n.Health.Status
		}
		lines = append(lines, st.Render(fmt.Sprintf("%s%s/%s (%s) [%s]", prefix, kind, n.Name, blankIfEmpty(n.Namespace, "—"), health)))
	}
	return strings.Join(lines, "\n")
}

func (m resourceDetailsModel) renderManifest() string {
	if m.manifest == nil {
		return "(empty live manifest)"
	}
	if m.showAsJSON {
		b, err := json.MarshalIndent(m.manifest.Object, "", "  ")
		if err != nil {
			return "Error:\n\n" + err.Error()
		}
		return string(b)
	}
	b, err := yaml.Marshal(m.manifest.Object)
	if err != nil {
		return "Error:\n\n" + err.Error()
	}
	return string(b)
}
