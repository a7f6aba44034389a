package argocd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phin3has/argolens/internal/apierr"
	"github.com/phin3has/argolens/internal/config"
)

// revisionFetchLimit bounds concurrent metadata calls in GetRevisionDetailsList.
const revisionFetchLimit = 4

type ListOptions struct {
	Selector     string `json:"selector,omitempty"`
	AppNamespace string `json:"appNamespace,omitempty"`
	Project      string `json:"project,omitempty"`
}

func (o ListOptions) params() [][2]string {
	return [][2]string{{"selector", o.Selector}, {"appNamespace", o.AppNamespace}, {"project", o.Project}}
}

type GetOptions struct {
	AppName      string `json:"appName,omitempty"`
	AppNamespace string `json:"appNamespace,omitempty"`
	Project      string `json:"project,omitempty"`
}

func (o GetOptions) params() [][2]string {
	return [][2]string{{"appName", o.AppName}, {"appNamespace", o.AppNamespace}, {"project", o.Project}}
}

type RevisionOptions struct {
	AppNamespace string `json:"appNamespace,omitempty"`
	SourceIndex  *int   `json:"sourceIndex,omitempty"`
}

func (o RevisionOptions) params() [][2]string {
	idx := ""
	if o.SourceIndex != nil {
		idx = strconv.Itoa(*o.SourceIndex)
	}
	return [][2]string{{"appNamespace", o.AppNamespace}, {"sourceIndex", idx}}
}

type Options struct {
	// Default credentials for instances without their own.
	Username string
	Password string

	// LocalDevelopment disables TLS verification on this service's transport.
	LocalDevelopment bool
	RequestTimeout   time.Duration
	MaxConcurrency   int

	LoginRate  float64
	Store      TokenStore
	DefaultTTL time.Duration

	// HTTPClient overrides the client built from RequestTimeout/LocalDevelopment.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OptionsFromConfig maps argocd config onto service options. store may be nil.
func OptionsFromConfig(c config.ArgoCD, store TokenStore, logger *slog.Logger) Options {
	return Options{
		Username:         c.Username,
		Password:         c.Password,
		LocalDevelopment: c.LocalDevelopment,
		RequestTimeout:   c.RequestTimeout,
		MaxConcurrency:   c.MaxConcurrency,
		LoginRate:        c.LoginRateLimit,
		Store:            store,
		DefaultTTL:       c.TokenCache.DefaultTTL,
		Logger:           logger,
	}
}

// Service talks to every configured Argo CD instance. Each call resolves its
// instance by name, authenticates, issues one request and stamps the result
// with the instance it came from.
type Service struct {
	instances      []Instance
	auth           *Authenticator
	transport      *transport
	maxConcurrency int
	logger         *slog.Logger
}

func NewService(instances []Instance, opts Options) *Service {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient(timeout, opts.LocalDevelopment)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxc := opts.MaxConcurrency
	if maxc <= 0 {
		maxc = 8
	}
	return &Service{
		instances: append([]Instance(nil), instances...),
		auth: NewAuthenticator(AuthOptions{
			Username:   opts.Username,
			Password:   opts.Password,
			Store:      opts.Store,
			DefaultTTL: opts.DefaultTTL,
			LoginRate:  opts.LoginRate,
			HTTPClient: hc,
			Logger:     logger,
		}),
		transport:      &transport{http: hc, userAgent: defaultUserAgent, logger: logger},
		maxConcurrency: maxc,
		logger:         logger,
	}
}

// Instances returns the configured instances in registry order.
func (s *Service) Instances() []Instance {
	return append([]Instance(nil), s.instances...)
}

func (s *Service) Authenticator() *Authenticator { return s.auth }

func (s *Service) instance(name string) (Instance, error) {
	inst, ok := InstanceByName(s.instances, name)
	if !ok {
		err := apierr.Configuration("Instance '%s' not found", name)
		s.logger.Error("argocd instance lookup failed", "instance", name, "err", err)
		return Instance{}, err
	}
	return inst, nil
}

// get authenticates against inst and GETs url into out. A cached token that
// is rejected is dropped and the call retried once with a fresh login.
func (s *Service) get(ctx context.Context, inst Instance, op, url string, out any) error {
	token, cached, err := s.auth.Token(ctx, inst)
	if err != nil {
		return err
	}
	req := request{method: http.MethodGet, url: url, token: token, instance: inst.Name, op: op}
	err = s.transport.do(ctx, req, out)
	if err == nil || !cached || !errors.Is(err, apierr.ErrAuthentication) {
		return err
	}

	s.logger.Info("cached argocd token rejected; logging in again", "instance", inst.Name)
	s.auth.Invalidate(ctx, inst.Name)
	if req.token, _, err = s.auth.Token(ctx, inst); err != nil {
		return err
	}
	return s.transport.do(ctx, req, out)
}

func (s *Service) ListApplications(ctx context.Context, instanceName string, opts ListOptions) (*ApplicationList, error) {
	list, err := s.listApplications(ctx, instanceName, opts)
	if err != nil {
		return nil, apierr.Wrap(err, fmt.Sprintf("Failed to retrieve ArgoCD Applications from Instance '%s'%s",
			instanceName, describeParams(opts.params())))
	}
	return list, nil
}

func (s *Service) listApplications(ctx context.Context, instanceName string, opts ListOptions) (*ApplicationList, error) {
	inst, err := s.instance(instanceName)
	if err != nil {
		return nil, err
	}
	url := buildURL(inst.URL, []string{"api", "v1", "applications"}, opts.params())

	var list ApplicationList
	if err := s.get(ctx, inst, "list_applications", url, &list); err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		s.logger.Warn("no applications returned",
			"instance", inst.Name,
			"selector", opts.Selector,
			"appNamespace", opts.AppNamespace,
			"project", opts.Project,
		)
		return &list, nil
	}
	ref := inst.Ref()
	for i := range list.Items {
		r := ref
		list.Items[i].Metadata.Instance = &r
	}
	return &list, nil
}

// GetApplication fetches one application. Without an AppName it lists with the
// same filters and returns the first match.
func (s *Service) GetApplication(ctx context.Context, instanceName string, opts GetOptions) (*Application, error) {
	app, err := s.getApplication(ctx, instanceName, opts)
	if err != nil {
		return nil, apierr.Wrap(err, fmt.Sprintf("Failed to fetch Application from Instance '%s'%s",
			instanceName, describeParams(opts.params())))
	}
	return app, nil
}

func (s *Service) getApplication(ctx context.Context, instanceName string, opts GetOptions) (*Application, error) {
	inst, err := s.instance(instanceName)
	if err != nil {
		return nil, err
	}
	query := [][2]string{{"appNamespace", opts.AppNamespace}, {"project", opts.Project}}

	if opts.AppName == "" {
		var list ApplicationList
		url := buildURL(inst.URL, []string{"api", "v1", "applications"}, query)
		if err := s.get(ctx, inst, "get_application", url, &list); err != nil {
			return nil, err
		}
		if len(list.Items) == 0 {
			return nil, apierr.NotFound("No applications found at %s", url)
		}
		app := list.Items[0]
		ref := inst.Ref()
		app.Metadata.Instance = &ref
		return &app, nil
	}

	var app Application
	url := buildURL(inst.URL, []string{"api", "v1", "applications", opts.AppName}, query)
	if err := s.get(ctx, inst, "get_application", url, &app); err != nil {
		return nil, err
	}
	ref := inst.Ref()
	app.Metadata.Instance = &ref
	return &app, nil
}

func (s *Service) GetRevisionDetails(ctx context.Context, instanceName, appName, revisionID string, opts RevisionOptions) (*RevisionInfo, error) {
	info, err := s.getRevisionDetails(ctx, instanceName, appName, revisionID, opts)
	if err != nil {
		params := append([][2]string{{"revisionID", revisionID}, {"appName", appName}}, opts.params()...)
		return nil, apierr.Wrap(err, fmt.Sprintf("Failed to fetch Revision data from Instance '%s'%s",
			instanceName, describeParams(params)))
	}
	return info, nil
}

func (s *Service) getRevisionDetails(ctx context.Context, instanceName, appName, revisionID string, opts RevisionOptions) (*RevisionInfo, error) {
	inst, err := s.instance(instanceName)
	if err != nil {
		return nil, err
	}
	url := buildURL(inst.URL,
		[]string{"api", "v1", "applications", appName, "revisions", revisionID, "metadata"},
		opts.params())

	var info RevisionInfo
	if err := s.get(ctx, inst, "revision_metadata", url, &info); err != nil {
		return nil, err
	}
	info.RevisionID = revisionID
	return &info, nil
}

// GetRevisionDetailsList fetches metadata for several revisions of one
// application, keeping input order. Any failure fails the whole call.
func (s *Service) GetRevisionDetailsList(ctx context.Context, instanceName, appName string, revisionIDs []string, opts RevisionOptions) ([]RevisionInfo, error) {
	out := make([]RevisionInfo, len(revisionIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revisionFetchLimit)
	for i, id := range revisionIDs {
		g.Go(func() error {
			info, err := s.GetRevisionDetails(gctx, instanceName, appName, id, opts)
			if err != nil {
				return err
			}
			out[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
