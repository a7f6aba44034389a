package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"

	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/config"
	"github.com/phin3has/argolens/internal/kube"
	"github.com/phin3has/argolens/internal/lifecycle"
)

// runtime is everything a subcommand needs once config is resolved.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	svc    *argocd.Service
	loader *lifecycle.Loader
	label  string

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// loadConfig applies file, environment and flags in that order.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.ApplyEnv()

	if serverURL != "" {
		cfg.ArgoCD.AppLocatorMethods = []config.AppLocatorMethod{{
			Type:      config.LocatorTypeConfig,
			Instances: []config.InstanceConfig{{Name: "default", URL: serverURL, Token: token}},
		}}
	} else if token != "" {
		for i := range cfg.ArgoCD.AppLocatorMethods {
			for j := range cfg.ArgoCD.AppLocatorMethods[i].Instances {
				if cfg.ArgoCD.AppLocatorMethods[i].Instances[j].Token == "" {
					cfg.ArgoCD.AppLocatorMethods[i].Instances[j].Token = token
				}
			}
		}
	}
	if username != "" {
		cfg.ArgoCD.Username = username
	}
	if password != "" {
		cfg.ArgoCD.Password = password
	}
	if insecure {
		cfg.ArgoCD.LocalDevelopment = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if source != "" {
		cfg.Lifecycle.Source = source
	}
	if kubeconfig != "" {
		cfg.Lifecycle.Kubeconfig = kubeconfig
	}
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newLogger returns a text handler for humans and JSON for everything else.
func newLogger(w io.Writer, level string, text bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if text {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// logFile opens argolens.log under the user cache dir so the TUI never
// writes over the alt screen.
func logFile() (*os.File, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "argolens")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "argolens.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// newTokenStore builds the configured token cache. A nil store disables caching.
func newTokenStore(ctx context.Context, c config.TokenCache) (argocd.TokenStore, func(), error) {
	switch c.Backend {
	case "", "memory":
		return argocd.NewMemoryTokenStore(), func() {}, nil
	case "none":
		return nil, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("token cache: redis %s: %w", c.RedisAddr, err)
		}
		return argocd.NewRedisTokenStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("token cache: unknown backend %q", c.Backend)
	}
}

// startMock serves the bundled fake Argo CD on a loopback port and points
// cfg at it.
func startMock(cfg *config.Config, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("mock server: %w", err)
	}
	ms := argocd.NewMockServer()
	srv := &http.Server{Handler: ms.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock server stopped", "err", err)
		}
	}()

	cfg.ArgoCD.AppLocatorMethods = []config.AppLocatorMethod{{
		Type:      config.LocatorTypeConfig,
		Instances: []config.InstanceConfig{{Name: "mock", URL: "http://" + ln.Addr().String()}},
	}}
	cfg.ArgoCD.Username = ms.Username
	cfg.ArgoCD.Password = ms.Password
	cfg.Lifecycle.Source = "argocd"
	return func() { _ = srv.Close() }, nil
}

// newRuntime resolves config and wires the service. logOut receives logs;
// text selects the human-readable handler.
func newRuntime(ctx context.Context, logOut io.Writer, text bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(logOut, cfg.LogLevel, text)
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger}
	label := ""
	if useMock || cfg.InstanceCount() == 0 {
		if !useMock {
			logger.Info("no Argo CD instances configured, using the mock server")
		}
		stop, err := startMock(&cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, stop)
		label = "mock"
	}
	if err := cfg.Validate(); err != nil {
		rt.Close()
		return nil, err
	}

	instances := argocd.ListInstances(cfg.ArgoCD.AppLocatorMethods)
	if err := argocd.ValidateInstances(instances); err != nil {
		rt.Close()
		return nil, err
	}

	store, closeStore, err := newTokenStore(ctx, cfg.ArgoCD.TokenCache)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeStore)

	rt.svc = argocd.NewService(instances, argocd.OptionsFromConfig(cfg.ArgoCD, store, logger))

	var src lifecycle.ResourceSource
	switch cfg.Lifecycle.Source {
	case "kubernetes":
		f, err := kube.NewFetcherFromKubeconfig(cfg.Lifecycle.Kubeconfig, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		src = lifecycle.KubeSource{Fetcher: f}
	default:
		src = lifecycle.ArgoSource{Service: rt.svc}
	}
	rt.loader = lifecycle.NewLoader(rt.svc, src, cfg.ArgoCD.MaxConcurrency, logger)

	if label == "" {
		label = fmt.Sprintf("%d instances", len(instances))
		if len(instances) == 1 {
			label = instances[0].URL
		}
	}
	rt.label = label
	rt.cfg = cfg
	return rt, nil
}
