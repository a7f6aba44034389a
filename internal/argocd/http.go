package argocd

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phin3has/argolens/internal/apierr"
)

const defaultUserAgent = "argolens/0.1.0"

// transport executes JSON requests against Argo CD's REST API.
//
// API base: <server>/api/v1/
// Login:    POST /api/v1/session {username,password} -> {token}
// Apps:     GET  /api/v1/applications
// App:      GET  /api/v1/applications/{name}
// Revision: GET  /api/v1/applications/{name}/revisions/{revision}/metadata
type transport struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// newHTTPClient builds the client used for every Argo CD call. insecure only
// affects this client's transport.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		if t.TLSClientConfig == nil {
			t.TLSClientConfig = &tls.Config{}
		}
		t.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // localDevelopment only
	}
	return &http.Client{Timeout: timeout, Transport: t}
}

// request describes one call. op and instance label logs and metrics.
type request struct {
	method   string
	url      string
	token    string
	body     any
	instance string
	op       string
}

func (t *transport) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return apierr.RequestFailedCause(err, "invalid request to %s: %v", r.url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	logger := t.logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	res, err := t.http.Do(req)
	dur := time.Since(start)
	upstreamDuration.WithLabelValues(r.instance, r.op).Observe(dur.Seconds())
	if err != nil {
		upstreamRequests.WithLabelValues(r.instance, r.op, "error").Inc()
		// Common local dev case: https://localhost:8080 via port-forward with a cert that isn't trusted.
		hint := ""
		es := err.Error()
		if strings.Contains(es, "x509") || strings.Contains(es, "certificate") {
			hint = " (TLS error: set argocd.localDevelopment or ARGOCD_INSECURE=true)"
		}
		logger.Error("argocd request failed",
			"instance", r.instance,
			"op", r.op,
			"method", r.method,
			"url", r.url,
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return apierr.RequestFailedCause(err, "Request to %s failed: %v%s", r.url, err, hint)
	}
	defer res.Body.Close()

	b, _ := io.ReadAll(res.Body)
	upstreamRequests.WithLabelValues(r.instance, r.op, strconv.Itoa(res.StatusCode)).Inc()

	logger.Debug("argocd request",
		"instance", r.instance,
		"op", r.op,
		"method", r.method,
		"url", r.url,
		"status", res.StatusCode,
		"duration_ms", dur.Milliseconds(),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		if len(msg) > 500 {
			msg = msg[:500] + "…"
		}
		logger.Warn("argocd non-2xx response",
			"instance", r.instance,
			"op", r.op,
			"url", r.url,
			"status", res.StatusCode,
			"response", msg,
		)
	}
	return processResponse(res.StatusCode, b, r.url, out)
}

// processResponse maps an upstream status and body onto the error taxonomy,
// decoding the body into out on success.
func processResponse(status int, body []byte, rawURL string, out any) error {
	switch {
	case status == http.StatusUnauthorized:
		return apierr.Authentication("Unauthorized: invalid credentials for ArgoCD server %s", rawURL)
	case status == http.StatusForbidden:
		return apierr.Authentication("Insufficient permissions for ArgoCD server %s", rawURL)
	case status == http.StatusNotFound:
		return apierr.NotFound("ArgoCD resource not found at %s", rawURL)
	case status < 200 || status >= 300:
		return apierr.RequestFailed("Request to %s failed with %d %s", rawURL, status, http.StatusText(status))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierr.RequestFailedCause(err, "Failed to parse response from %s: %v", rawURL, err)
	}
	return nil
}

// buildURL joins base with path segments and sets non-empty query values in
// the given key order. Segments are path-escaped.
func buildURL(base string, segments []string, query [][2]string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(s))
	}
	first := true
	for _, kv := range query {
		if kv[1] == "" {
			continue
		}
		if first {
			sb.WriteByte('?')
			first = false
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv[0]))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv[1]))
	}
	return sb.String()
}

// describeParams renders " with <key> '<value>'" for every non-empty value,
// in order. It is the per-field context of composed operation errors.
func describeParams(params [][2]string) string {
	var sb strings.Builder
	for _, kv := range params {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(&sb, " with %s '%s'", kv[0], kv[1])
	}
	return sb.String()
}
