package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/costinsights"
	"github.com/phin3has/argolens/internal/lifecycle"
	"github.com/phin3has/argolens/internal/server"
	"github.com/phin3has/argolens/internal/ui"
)

var (
	configPath string
	useMock    bool
	serverURL  string
	token      string
	username   string
	password   string
	insecure   bool
	logLevel   string
	source     string
	kubeconfig string

	selector     string
	project      string
	appNamespace string
	output       string

	listen string

	showRollouts bool
	sourceIndex  int

	duration   string
	endDate    string
	rangeStart string
	rangeEnd   string
	comparison bool

	rootCmd = &cobra.Command{
		Use:   "argolens",
		Short: "Browse Argo CD applications and their rollouts across instances",
		Long: `argolens aggregates applications from several Argo CD instances and
reconciles their Argo Rollouts into per-revision views.

Without a subcommand it starts the terminal UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}

	tuiCmd = &cobra.Command{
		Use:   "tui",
		Short: "Start the terminal UI",
		Args:  cobra.NoArgs,
		RunE:  runTUI,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	appsCmd = &cobra.Command{
		Use:   "apps",
		Short: "List applications across all instances",
		Args:  cobra.NoArgs,
		RunE:  runApps,
	}

	revisionCmd = &cobra.Command{
		Use:   "revision <instance> <app> <revision>...",
		Short: "Show commit metadata for application revisions",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runRevision,
	}

	periodsCmd = &cobra.Command{
		Use:   "periods",
		Short: "Compute cost-insights date ranges for a duration",
		Args:  cobra.NoArgs,
		RunE:  runPeriods,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file (optional)")
	pf.BoolVar(&useMock, "mock", false, "serve and use a bundled fake Argo CD")
	pf.StringVar(&serverURL, "server", "", "Argo CD server URL (replaces configured instances; or ARGOCD_SERVER)")
	pf.StringVar(&token, "token", "", "Argo CD auth token (or ARGOCD_AUTH_TOKEN)")
	pf.StringVar(&username, "username", "", "Argo CD username (or ARGOCD_USERNAME)")
	pf.StringVar(&password, "password", "", "Argo CD password (or ARGOCD_PASSWORD)")
	pf.BoolVar(&insecure, "insecure", false, "skip TLS verification (or ARGOCD_INSECURE=true)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&source, "source", "", "rollout resource source: argocd or kubernetes")
	pf.StringVar(&kubeconfig, "kubeconfig", "", "kubeconfig for --source=kubernetes")

	for _, c := range []*cobra.Command{rootCmd, tuiCmd, appsCmd} {
		c.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. team=payments")
		c.Flags().StringVar(&project, "project", "", "only applications of this project")
		c.Flags().StringVar(&appNamespace, "app-namespace", "", "only applications in this namespace")
	}

	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	appsCmd.Flags().BoolVar(&showRollouts, "rollouts", false, "include reconciled rollout revisions")
	appsCmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")

	revisionCmd.Flags().StringVar(&appNamespace, "app-namespace", "", "namespace of the Application resource")
	revisionCmd.Flags().IntVar(&sourceIndex, "source-index", -1, "source index of a multi-source application")
	revisionCmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")

	periodsCmd.Flags().StringVar(&duration, "duration", string(costinsights.P30D), "P7D, P30D, P90D, P3M or CUSTOM")
	periodsCmd.Flags().StringVar(&endDate, "end-date", "", "inclusive end date, YYYY-MM-DD (default today)")
	periodsCmd.Flags().StringVar(&rangeStart, "start", "", "CUSTOM range start, YYYY-MM-DD")
	periodsCmd.Flags().StringVar(&rangeEnd, "end", "", "CUSTOM range end, YYYY-MM-DD")
	periodsCmd.Flags().BoolVar(&comparison, "comparison", false, "split the range into two comparison periods")

	rootCmd.AddCommand(tuiCmd, serveCmd, appsCmd, revisionCmd, periodsCmd)
}

func listOptions() argocd.ListOptions {
	return argocd.ListOptions{Selector: selector, Project: project, AppNamespace: appNamespace}
}

func runTUI(cmd *cobra.Command, _ []string) error {
	f, err := logFile()
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	rt, err := newRuntime(cmd.Context(), f, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	m := ui.NewModel(rt.cfg, rt.loader, rt.svc, ui.Options{Label: rt.label, ListOptions: listOptions()})
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cmd.Context(), os.Stderr, isTerminal(os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Server.Listen
	if listen != "" {
		addr = listen
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(rt.svc, rt.loader, server.Options{
		AllowedOrigins: rt.cfg.Server.AllowedOrigins,
		Logger:         rt.logger,
	})
	return srv.ListenAndServe(ctx, addr)
}

type failureOut struct {
	Instance string `json:"instance"`
	Error    string `json:"error"`
}

func failuresOf(results []argocd.InstanceResult) []failureOut {
	out := make([]failureOut, 0, len(results))
	for _, f := range results {
		out = append(out, failureOut{Instance: f.Instance.Name, Error: f.Err.Error()})
	}
	return out
}

func runApps(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cmd.Context(), os.Stderr, isTerminal(os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	var snap lifecycle.Snapshot
	if showRollouts {
		snap = rt.loader.Load(ctx, listOptions())
	} else {
		res := rt.svc.FindApplications(ctx, listOptions())
		for _, a := range res.Applications() {
			snap.Apps = append(snap.Apps, lifecycle.AppLifecycle{Application: a})
		}
		snap.Failures = res.Failures()
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		return writeJSON(out, map[string]any{"items": snap.Apps, "failures": failuresOf(snap.Failures)})
	}
	writeAppsTable(out, snap.Apps, showRollouts)
	for _, f := range snap.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "instance %s failed: %v\n", f.Instance.Name, f.Err)
	}
	return nil
}

func writeAppsTable(w io.Writer, apps []lifecycle.AppLifecycle, rollouts bool) {
	t := table.New().Border(lipgloss.NormalBorder()).
		Headers("INSTANCE", "NAME", "PROJECT", "SYNC", "HEALTH", "REVISION")
	for _, a := range apps {
		app := a.Application
		t.Row(app.InstanceName(), app.Name(), app.Spec.Project,
			app.Status.Sync.Status, app.Status.Health.Status, shortRev(app.Status.Sync.Revision))
	}
	fmt.Fprintln(w, t.Render())
	if !rollouts {
		return
	}

	for _, a := range apps {
		if a.Err != nil {
			fmt.Fprintf(w, "\n%s/%s: %v\n", a.Application.InstanceName(), a.Application.Name(), a.Err)
			continue
		}
		for _, ru := range a.Rollouts {
			fmt.Fprintf(w, "\n%s/%s rollout %s (%s) %s\n", a.Application.InstanceName(), a.Application.Name(),
				ru.Rollout.Name, ru.Rollout.Strategy(), ru.Rollout.Status.Phase)
			rt := table.New().Border(lipgloss.HiddenBorder()).
				Headers("REV", "REPLICASET", "LABELS", "WEIGHT", "AVAILABLE", "ANALYSIS")
			for i := range ru.Revisions {
				rev := &ru.Revisions[i]
				var phases []string
				for _, run := range rev.AnalysisRuns {
					phases = append(phases, run.Status.Phase.Icon()+" "+string(run.Status.Phase))
				}
				rt.Row(fmt.Sprintf("%d", rev.Number), rev.Name(), rev.Label(),
					fmt.Sprintf("%d%%", rev.Percentage),
					fmt.Sprintf("%d/%d", rev.AvailableReplicas, rev.Replicas),
					strings.Join(phases, ", "))
			}
			fmt.Fprintln(w, rt.Render())
		}
	}
}

func runRevision(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), os.Stderr, isTerminal(os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := argocd.RevisionOptions{AppNamespace: appNamespace}
	if sourceIndex >= 0 {
		opts.SourceIndex = &sourceIndex
	}
	infos, err := rt.svc.GetRevisionDetailsList(cmd.Context(), args[0], args[1], args[2:], opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		return writeJSON(out, infos)
	}
	for _, info := range infos {
		date := "—"
		if info.Date != nil {
			date = info.Date.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s  %s  %s\n    %s\n", shortRev(info.RevisionID), date, info.Author, strings.TrimSpace(info.Message))
	}
	return nil
}

func runPeriods(cmd *cobra.Command, _ []string) error {
	d, err := costinsights.ParseDuration(duration)
	if err != nil {
		return err
	}
	end := endDate
	if end == "" {
		end = time.Now().Format("2006-01-02")
	}
	var r *costinsights.DateRange
	if rangeStart != "" || rangeEnd != "" {
		r = &costinsights.DateRange{Start: rangeStart, End: rangeEnd}
	}
	p, err := costinsights.Describe(d, end, r, comparison)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), p)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
