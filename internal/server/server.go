// Package server exposes the Argo CD aggregation service, rollout views and
// cost-insights periods over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phin3has/argolens/internal/apierr"
	"github.com/phin3has/argolens/internal/argocd"
	"github.com/phin3has/argolens/internal/costinsights"
	"github.com/phin3has/argolens/internal/rollout"
)

const requestIDHeader = "X-Request-ID"

// ArgoCD is the slice of *argocd.Service the API serves.
type ArgoCD interface {
	Instances() []argocd.Instance
	ListApplications(ctx context.Context, instanceName string, opts argocd.ListOptions) (*argocd.ApplicationList, error)
	GetApplication(ctx context.Context, instanceName string, opts argocd.GetOptions) (*argocd.Application, error)
	GetRevisionDetails(ctx context.Context, instanceName, appName, revisionID string, opts argocd.RevisionOptions) (*argocd.RevisionInfo, error)
	FindApplications(ctx context.Context, opts argocd.ListOptions) argocd.SearchResult
}

// Rollouts reconciles one application's rollouts.
type Rollouts interface {
	Rollouts(ctx context.Context, app argocd.Application) ([]rollout.RolloutUI, error)
}

type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	// Today overrides the default end date of period queries.
	Today func() time.Time
}

type Server struct {
	argo     ArgoCD
	rollouts Rollouts
	origins  []string
	logger   *slog.Logger
	today    func() time.Time
}

func New(argo ArgoCD, rollouts Rollouts, opts Options) *Server {
	s := &Server{argo: argo, rollouts: rollouts, origins: opts.AllowedOrigins, logger: opts.Logger, today: opts.Today}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.today == nil {
		s.today = time.Now
	}
	return s
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.logRequests())

	cc := cors.DefaultConfig()
	cc.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	cc.ExposeHeaders = []string{requestIDHeader}
	if len(s.origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.origins
	}
	r.Use(cors.New(cc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "argolens"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	argo := api.Group("/argocd")
	argo.GET("/instances", s.listInstances)
	argo.GET("/applications", s.findApplications)

	inst := argo.Group("/instances/:instance", s.requireInstance)
	inst.GET("/applications", s.listApplications)
	inst.GET("/applications/:app", s.getApplication)
	inst.GET("/applications/:app/rollouts", s.getRollouts)
	inst.GET("/applications/:app/revisions/:revision/metadata", s.getRevisionDetails)

	api.GET("/cost-insights/periods", s.periods)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.ErrConfiguration:
		return http.StatusBadRequest
	case apierr.ErrAuthentication:
		return http.StatusUnauthorized
	case apierr.ErrNotFound:
		return http.StatusNotFound
	case apierr.ErrRequestFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindName(err error) string {
	if k := apierr.KindOf(err); k != nil {
		return k.Error()
	}
	return "internal error"
}

func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error":     err.Error(),
		"kind":      kindName(err),
		"requestId": c.GetString("request_id"),
	})
}

func (s *Server) requireInstance(c *gin.Context) {
	name := c.Param("instance")
	if _, ok := argocd.InstanceByName(s.argo.Instances(), name); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":     "Instance '" + name + "' not found",
			"kind":      apierr.ErrConfiguration.Error(),
			"requestId": c.GetString("request_id"),
		})
		return
	}
	c.Next()
}

func (s *Server) listInstances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.argo.Instances()})
}

func listOptions(c *gin.Context) argocd.ListOptions {
	return argocd.ListOptions{
		Selector:     c.Query("selector"),
		AppNamespace: c.Query("appNamespace"),
		Project:      c.Query("project"),
	}
}

func (s *Server) listApplications(c *gin.Context) {
	list, err := s.argo.ListApplications(c.Request.Context(), c.Param("instance"), listOptions(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type failure struct {
	Instance string `json:"instance"`
	Error    string `json:"error"`
}

func (s *Server) findApplications(c *gin.Context) {
	res := s.argo.FindApplications(c.Request.Context(), listOptions(c))
	failures := make([]failure, 0)
	for _, f := range res.Failures() {
		failures = append(failures, failure{Instance: f.Instance.Name, Error: f.Err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{"items": res.Applications(), "failures": failures})
}

func (s *Server) application(c *gin.Context) (*argocd.Application, error) {
	return s.argo.GetApplication(c.Request.Context(), c.Param("instance"), argocd.GetOptions{
		AppName:      c.Param("app"),
		AppNamespace: c.Query("appNamespace"),
		Project:      c.Query("project"),
	})
}

func (s *Server) getApplication(c *gin.Context) {
	app, err := s.application(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) getRollouts(c *gin.Context) {
	app, err := s.application(c)
	if err != nil {
		writeError(c, err)
		return
	}
	uis, err := s.rollouts.Rollouts(c.Request.Context(), *app)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": uis})
}

func (s *Server) getRevisionDetails(c *gin.Context) {
	opts := argocd.RevisionOptions{AppNamespace: c.Query("appNamespace")}
	if v := c.Query("sourceIndex"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, apierr.Configuration("sourceIndex must be an integer, got %q", v))
			return
		}
		opts.SourceIndex = &idx
	}
	info, err := s.argo.GetRevisionDetails(c.Request.Context(), c.Param("instance"), c.Param("app"), c.Param("revision"), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) periods(c *gin.Context) {
	d, err := costinsights.ParseDuration(c.DefaultQuery("duration", string(costinsights.P30D)))
	if err != nil {
		writeError(c, err)
		return
	}
	end := c.DefaultQuery("endDate", s.today().Format("2006-01-02"))

	var r *costinsights.DateRange
	if start, stop := c.Query("start"), c.Query("end"); start != "" && stop != "" {
		r = &costinsights.DateRange{Start: start, End: stop}
	}
	var comparison bool
	if v := c.Query("comparison"); v != "" {
		if comparison, err = strconv.ParseBool(v); err != nil {
			writeError(c, apierr.Configuration("comparison must be a boolean, got %q", v))
			return
		}
	}

	p, err := costinsights.Describe(d, end, r, comparison)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
