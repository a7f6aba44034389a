package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/config"
	"github.com/phin3has/argolens/internal/costinsights"
)

// resetFlags restores every package-level flag after a test so cobra runs
// do not leak into each other.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Setenv("ARGOCD_SERVER", "")
	t.Setenv("ARGOCD_AUTH_TOKEN", "")
	t.Setenv("ARGOCD_USERNAME", "")
	t.Setenv("ARGOCD_PASSWORD", "")
	t.Setenv("ARGOLENS_LOG_LEVEL", "")
	t.Cleanup(func() {
		configPath, serverURL, token, username, password = "", "", "", "", ""
		useMock, insecure, showRollouts, comparison = false, false, false, false
		logLevel, source, kubeconfig = "", "", ""
		selector, project, appNamespace, listen = "", "", "", ""
		output = "table"
		sourceIndex = -1
		duration, endDate, rangeStart, rangeEnd = string(costinsights.P30D), "", "", ""
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", false)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger.Info("hello", "k", "v")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	logger, err = newLogger(&buf, "warn", true)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("careful")
	assert.Contains(t, buf.String(), "msg=careful")

	_, err = newLogger(&buf, "loud", true)
	assert.EqualError(t, err, `invalid log level "loud"`)
}

func TestNewTokenStore(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := newTokenStore(ctx, config.TokenCache{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &argocd.MemoryTokenStore{}, store)
	closeFn()

	store, _, err = newTokenStore(ctx, config.TokenCache{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, store)

	mr := miniredis.RunT(t)
	store, closeFn, err = newTokenStore(ctx, config.TokenCache{Backend: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &argocd.RedisTokenStore{}, store)
	closeFn()

	_, _, err = newTokenStore(ctx, config.TokenCache{Backend: "memcached"})
	assert.EqualError(t, err, `token cache: unknown backend "memcached"`)
}

func TestNewTokenStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := newTokenStore(context.Background(), config.TokenCache{Backend: "redis", RedisAddr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token cache: redis "+addr)
}

func TestStartMockServesLoopback(t *testing.T) {
	var cfg config.Config
	stop, err := startMock(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.Len(t, cfg.ArgoCD.AppLocatorMethods, 1)
	insts := cfg.ArgoCD.AppLocatorMethods[0].Instances
	require.Len(t, insts, 1)
	assert.Equal(t, "mock", insts[0].Name)
	assert.True(t, strings.HasPrefix(insts[0].URL, "http://127.0.0.1:"), insts[0].URL)
	assert.Equal(t, "argocd", cfg.Lifecycle.Source)

	svc := argocd.NewService(argocd.ListInstances(cfg.ArgoCD.AppLocatorMethods), argocd.Options{
		Username: cfg.ArgoCD.Username,
		Password: cfg.ArgoCD.Password,
	})
	list, err := svc.ListApplications(context.Background(), "mock", argocd.ListOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, list.Items)

	stop()
	_, err = http.Get(insts[0].URL + "/api/v1/applications")
	assert.Error(t, err)
}

func TestLoadConfigFlags(t *testing.T) {
	resetFlags(t)

	serverURL = "https://argocd.example.com"
	token = "tok"
	username = "alice"
	insecure = true
	source = "kubernetes"

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.ArgoCD.AppLocatorMethods, 1)
	assert.Equal(t, []config.InstanceConfig{{Name: "default", URL: "https://argocd.example.com", Token: "tok"}},
		cfg.ArgoCD.AppLocatorMethods[0].Instances)
	assert.Equal(t, "alice", cfg.ArgoCD.Username)
	assert.True(t, cfg.ArgoCD.LocalDevelopment)
	assert.Equal(t, "kubernetes", cfg.Lifecycle.Source)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	resetFlags(t)
	configPath = "/nonexistent/argolens.yaml"

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config error: ")
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestPeriodsCommand(t *testing.T) {
	resetFlags(t)

	out := execute(t, "periods", "--duration", "P30D", "--end-date", "2020-09-30")

	var p costinsights.Period
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "2020-08-01", p.InclusiveStartDate)
	assert.Equal(t, "R2/P30D/2020-10-01", p.Intervals)
}

func TestAppsCommandAgainstMock(t *testing.T) {
	resetFlags(t)

	out := execute(t, "apps", "--mock", "--log-level", "error", "-o", "json")

	var body struct {
		Items []struct {
			Application argocd.Application `json:"application"`
		} `json:"items"`
		Failures []failureOut `json:"failures"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Empty(t, body.Failures)
	require.Len(t, body.Items, 4)
	var names []string
	for _, it := range body.Items {
		assert.Equal(t, "mock", it.Application.InstanceName())
		names = append(names, it.Application.Name())
	}
	assert.Contains(t, names, "payments-api")
}

func TestAppsTableWithRollouts(t *testing.T) {
	resetFlags(t)

	out := execute(t, "apps", "--mock", "--log-level", "error", "--rollouts", "--selector", "team=payments")

	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "payments-api")
	assert.Contains(t, out, "mock/payments-api rollout payments-api")
	assert.NotContains(t, out, "orders-worker")
}
