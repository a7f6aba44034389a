package argocd

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/phin3has/argolens/internal/apierr"
)

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

// Authenticator resolves a bearer token per instance. Static tokens are used
// as-is; everything else logs in through /api/v1/session and the resulting
// token is cached in store until shortly before its exp claim.
type Authenticator struct {
	transport *transport
	store     TokenStore // nil disables caching
	username  string
	password  string
	ttl       time.Duration
	rps       float64

	group    singleflight.Group
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	logger *slog.Logger
	now    func() time.Time
}

type AuthOptions struct {
	// Default credentials for instances that do not set their own.
	Username string
	Password string

	Store      TokenStore
	DefaultTTL time.Duration
	// LoginRate limits logins per instance per second. Zero means unlimited.
	LoginRate float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewAuthenticator(opts AuthOptions) *Authenticator {
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient(10*time.Second, false)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		transport: &transport{http: hc, userAgent: defaultUserAgent, logger: logger},
		store:     opts.Store,
		username:  opts.Username,
		password:  opts.Password,
		ttl:       opts.DefaultTTL,
		rps:       opts.LoginRate,
		limiters:  make(map[string]*rate.Limiter),
		logger:    logger,
		now:       time.Now,
	}
}

// Token returns a bearer token for inst. cached reports whether the token
// came from the store, so callers know a 401 may just mean it went stale.
func (a *Authenticator) Token(ctx context.Context, inst Instance) (token string, cached bool, err error) {
	if inst.Token != "" {
		return inst.Token, false, nil
	}

	if a.store != nil {
		tok, ok, err := a.store.Get(ctx, inst.Name)
		if err != nil {
			// A broken cache must not block logins.
			a.logger.Warn("token cache read failed", "instance", inst.Name, "err", err)
		} else if ok {
			return tok, true, nil
		}
	}

	// The shared login outlives any single caller; each waiter gives up on
	// its own context.
	ch := a.group.DoChan(inst.Name, func() (any, error) {
		return a.login(context.WithoutCancel(ctx), inst)
	})
	select {
	case <-ctx.Done():
		return "", false, apierr.RequestFailedCause(ctx.Err(), "login to %s: %v", inst.URL, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	}
}

// Invalidate drops any cached token for the named instance.
func (a *Authenticator) Invalidate(ctx context.Context, name string) {
	if a.store == nil {
		return
	}
	if err := a.store.Delete(ctx, name); err != nil {
		a.logger.Warn("token cache delete failed", "instance", name, "err", err)
	}
}

func (a *Authenticator) login(ctx context.Context, inst Instance) (string, error) {
	if err := a.limiter(inst.Name).Wait(ctx); err != nil {
		return "", apierr.RequestFailedCause(err, "login to %s throttled: %v", inst.URL, err)
	}

	creds := sessionRequest{Username: a.username, Password: a.password}
	if inst.Username != "" {
		creds.Username = inst.Username
	}
	if inst.Password != "" {
		creds.Password = inst.Password
	}

	var out sessionResponse
	err := a.transport.do(ctx, request{
		method:   http.MethodPost,
		url:      buildURL(inst.URL, []string{"api", "v1", "session"}, nil),
		body:     creds,
		instance: inst.Name,
		op:       "login",
	}, &out)
	if err != nil {
		logins.WithLabelValues(inst.Name, "error").Inc()
		return "", err
	}
	if out.Token == "" {
		logins.WithLabelValues(inst.Name, "error").Inc()
		return "", apierr.Authentication("No token returned from ArgoCD server %s", inst.URL)
	}
	logins.WithLabelValues(inst.Name, "ok").Inc()

	if a.store != nil {
		ttl := tokenTTL(out.Token, a.ttl, a.now())
		if err := a.store.Set(ctx, inst.Name, out.Token, ttl); err != nil {
			a.logger.Warn("token cache write failed", "instance", inst.Name, "err", err)
		}
	}
	return out.Token, nil
}

func (a *Authenticator) limiter(name string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[name]
	if !ok {
		lim := rate.Inf
		if a.rps > 0 {
			lim = rate.Limit(a.rps)
		}
		l = rate.NewLimiter(lim, 1)
		a.limiters[name] = l
	}
	return l
}
