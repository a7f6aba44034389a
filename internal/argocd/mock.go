package argocd

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"

	"github.com/phin3has/argolens/internal/rollout"
)

// MockServer is an in-memory Argo CD API with canned applications, rollouts
// and revision metadata. It backs --mock and the package tests.
type MockServer struct {
	Username string
	Password string
	TokenTTL time.Duration

	key    []byte
	logins atomic.Int64

	mu        sync.RWMutex
	apps      []Application
	revisions map[string]RevisionInfo
	resources map[string][]any
	fail      map[string]int
}

func NewMockServer() *MockServer {
	m := &MockServer{
		Username:  "admin",
		Password:  "password",
		TokenTTL:  time.Hour,
		key:       []byte("argolens-mock"),
		revisions: make(map[string]RevisionInfo),
		resources: make(map[string][]any),
		fail:      make(map[string]int),
	}
	m.seed()
	return m
}

// Logins reports how many successful session logins the server handled.
func (m *MockServer) Logins() int { return int(m.logins.Load()) }

// IssueToken signs a session token valid for TokenTTL.
func (m *MockServer) IssueToken() string {
	claims := jwt.RegisteredClaims{
		Subject:   m.Username,
		Issuer:    "argocd",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.TokenTTL)),
	}
	s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	return s
}

// FailWith makes requests whose path contains substr answer with status.
func (m *MockServer) FailWith(substr string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[substr] = status
}

// SetApplications replaces the canned applications.
func (m *MockServer) SetApplications(apps []Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps = apps
}

func (m *MockServer) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), m.injectFailures)

	r.POST("/api/v1/session", m.session)

	api := r.Group("/api/v1", m.authorize)
	api.GET("/applications", m.listApplications)
	api.GET("/applications/:name", m.getApplication)
	api.GET("/applications/:name/revisions/:revision/metadata", m.revisionMetadata)
	api.GET("/applications/:name/resource-tree", m.resourceTree)
	api.GET("/applications/:name/resource", m.resource)
	return r
}

func (m *MockServer) injectFailures(c *gin.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for substr, status := range m.fail {
		if strings.Contains(c.Request.URL.Path, substr) {
			c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
			return
		}
	}
}

func (m *MockServer) session(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username != m.Username || req.Password != m.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}
	m.logins.Add(1)
	c.JSON(http.StatusOK, sessionResponse{Token: m.IssueToken()})
}

func (m *MockServer) authorize(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no session information"})
		return
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session: " + err.Error()})
		return
	}
	c.Next()
}

func (m *MockServer) listApplications(c *gin.Context) {
	sel := labels.Everything()
	if s := c.Query("selector"); s != "" {
		parsed, err := labels.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sel = parsed
	}
	ns, project := c.Query("appNamespace"), c.Query("project")

	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Application, 0)
	for _, a := range m.apps {
		if ns != "" && a.Metadata.Namespace != ns {
			continue
		}
		if project != "" && a.Spec.Project != project {
			continue
		}
		if !sel.Matches(labels.Set(a.Metadata.Labels)) {
			continue
		}
		items = append(items, a)
	}
	c.JSON(http.StatusOK, ApplicationList{Metadata: ListMeta{ResourceVersion: "1"}, Items: items})
}

func (m *MockServer) find(c *gin.Context) (Application, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := c.Query("appNamespace")
	for _, a := range m.apps {
		if a.Metadata.Name == c.Param("name") && (ns == "" || a.Metadata.Namespace == ns) {
			return a, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "applications.argoproj.io \"" + c.Param("name") + "\" not found"})
	return Application{}, false
}

func (m *MockServer) getApplication(c *gin.Context) {
	if a, ok := m.find(c); ok {
		c.JSON(http.StatusOK, a)
	}
}

func (m *MockServer) revisionMetadata(c *gin.Context) {
	if _, ok := m.find(c); !ok {
		return
	}
	m.mu.RLock()
	info, ok := m.revisions[c.Param("revision")]
	m.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "revision not found"})
		return
	}
	// Argo CD does not echo the revision back.
	info.RevisionID = ""
	c.JSON(http.StatusOK, info)
}

func (m *MockServer) resourceTree(c *gin.Context) {
	a, ok := m.find(c)
	if !ok {
		return
	}
	m.mu.RLock()
	objs := m.resources[a.Metadata.Name]
	m.mu.RUnlock()

	nodes := make([]ResourceNode, 0)
	seen := make(map[string]bool)
	for _, o := range objs {
		ref, parents := objectRef(o)
		seen[ref.Group+"/"+ref.Kind+"/"+ref.Name] = true
		nodes = append(nodes, ResourceNode{ResourceRef: ref, ParentRefs: parents})
	}
	for _, r := range a.Status.Resources {
		if seen[r.Group+"/"+r.Kind+"/"+r.Name] {
			continue
		}
		nodes = append(nodes, ResourceNode{ResourceRef: ResourceRef{
			Group: r.Group, Version: r.Version, Kind: r.Kind, Namespace: r.Namespace, Name: r.Name,
		}, Health: r.Health})
	}
	c.JSON(http.StatusOK, ResourceTree{Nodes: nodes})
}

func (m *MockServer) resource(c *gin.Context) {
	a, ok := m.find(c)
	if !ok {
		return
	}
	m.mu.RLock()
	objs := m.resources[a.Metadata.Name]
	m.mu.RUnlock()
	for _, o := range objs {
		ref, _ := objectRef(o)
		if ref.Kind == c.Query("kind") && ref.Name == c.Query("resourceName") && ref.Group == c.Query("group") {
			b, err := json.Marshal(o)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, resourceResponse{Manifest: string(b)})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
}

func objectRef(o any) (ResourceRef, []ResourceRef) {
	var (
		tm   metav1.TypeMeta
		meta metav1.ObjectMeta
	)
	switch v := o.(type) {
	case *rollout.Rollout:
		tm, meta = v.TypeMeta, v.ObjectMeta
	case *rollout.AnalysisRun:
		tm, meta = v.TypeMeta, v.ObjectMeta
	case *appsv1.ReplicaSet:
		tm, meta = v.TypeMeta, v.ObjectMeta
	}
	gv := parseAPIVersion(tm.APIVersion)
	ref := ResourceRef{Group: gv[0], Version: gv[1], Kind: tm.Kind, Namespace: meta.Namespace, Name: meta.Name, UID: string(meta.UID)}
	var parents []ResourceRef
	for _, or := range meta.OwnerReferences {
		pg := parseAPIVersion(or.APIVersion)
		parents = append(parents, ResourceRef{Group: pg[0], Version: pg[1], Kind: or.Kind, Namespace: meta.Namespace, Name: or.Name, UID: string(or.UID)})
	}
	return ref, parents
}

func parseAPIVersion(v string) [2]string {
	g, ver, ok := strings.Cut(v, "/")
	if !ok {
		return [2]string{"", v}
	}
	return [2]string{g, ver}
}

func (m *MockServer) seed() {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	at := func(h int) metav1.Time { return metav1.NewTime(base.Add(time.Duration(h) * time.Hour)) }
	tp := func(h int) *metav1.Time { t := at(h); return &t }

	app := func(name, dest, project, health, syncStatus, repo, path, rev string, res []ResourceStatus, history ...string) Application {
		a := Application{
			Metadata: ApplicationMetadata{ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: "argocd",
				Labels:    map[string]string{"team": dest, "tier": project},
			}},
			Spec: ApplicationSpec{
				Source:      &ApplicationSource{RepoURL: repo, Path: path, TargetRevision: "main"},
				Destination: ApplicationDestination{Server: "https://kubernetes.default.svc", Namespace: dest},
				Project:     project,
			},
			Status: ApplicationStatus{
				Sync:         SyncStatus{Status: syncStatus, Revision: rev},
				Health:       HealthStatus{Status: health},
				Resources:    res,
				ReconciledAt: tp(30),
				SourceType:   "Kustomize",
			},
		}
		for i, h := range history {
			a.Status.History = append(a.Status.History, RevisionHistory{
				ID:         int64(i + 1),
				Revision:   h,
				DeployedAt: at(i * 6),
				Source:     a.Spec.Source,
			})
		}
		return a
	}

	m.apps = []Application{
		app("payments-api", "payments", "default", "Progressing", "Synced",
			"https://github.com/example/platform", "apps/payments", "c4f1a9e",
			[]ResourceStatus{
				{Group: "argoproj.io", Version: "v1alpha1", Kind: "Rollout", Name: "payments-api", Namespace: "payments", Status: "Synced", Health: &HealthStatus{Status: "Progressing"}},
				{Version: "v1", Kind: "Service", Name: "payments-api", Namespace: "payments", Status: "Synced", Health: &HealthStatus{Status: "Healthy"}},
				{Version: "v1", Kind: "ConfigMap", Name: "payments-config", Namespace: "payments", Status: "Synced"},
			},
			"8e2d7b1", "2b9c0f4", "c4f1a9e"),
		app("orders-worker", "orders", "default", "Healthy", "Synced",
			"https://github.com/example/platform", "apps/orders", "2b9c0f4",
			[]ResourceStatus{
				{Group: "apps", Version: "v1", Kind: "Deployment", Name: "orders-worker", Namespace: "orders", Status: "Synced", Health: &HealthStatus{Status: "Healthy"}},
				{Group: "batch", Version: "v1", Kind: "CronJob", Name: "orders-reconciler", Namespace: "orders", Status: "Synced", Health: &HealthStatus{Status: "Healthy"}},
			},
			"2b9c0f4"),
		app("web-frontend", "web", "default", "Healthy", "OutOfSync",
			"https://github.com/example/platform", "apps/web", "9d3e5a7",
			[]ResourceStatus{
				{Group: "argoproj.io", Version: "v1alpha1", Kind: "Rollout", Name: "web-frontend", Namespace: "web", Status: "OutOfSync", Health: &HealthStatus{Status: "Healthy"}},
				{Group: "networking.k8s.io", Version: "v1", Kind: "Ingress", Name: "web", Namespace: "web", Status: "OutOfSync", Health: &HealthStatus{Status: "Healthy"}},
			},
			"8e2d7b1", "9d3e5a7"),
		app("observability", "ops", "platform", "Degraded", "Synced",
			"https://github.com/example/ops", "apps/observability", "5a6b7c8",
			[]ResourceStatus{
				{Group: "apps", Version: "v1", Kind: "StatefulSet", Name: "loki", Namespace: "ops", Status: "Synced", Health: &HealthStatus{Status: "Degraded"}},
				{Version: "v1", Kind: "Job", Name: "migrate-dashboards", Namespace: "ops", Status: "Synced", Hook: true},
			},
			"5a6b7c8"),
	}

	for i, c := range []struct{ sha, author, msg string }{
		{"8e2d7b1", "Dana Reyes <dana@example.com>", "Bump base images"},
		{"2b9c0f4", "Sam Okafor <sam@example.com>", "Raise payments HPA ceiling"},
		{"c4f1a9e", "Dana Reyes <dana@example.com>", "payments: enable idempotency keys"},
		{"9d3e5a7", "Lee Park <lee@example.com>", "web: new checkout flow"},
		{"5a6b7c8", "Sam Okafor <sam@example.com>", "loki: retention 14d"},
	} {
		m.revisions[c.sha] = RevisionInfo{Author: c.author, Date: tp(i * 6), Message: c.msg}
	}

	m.resources["payments-api"] = canaryFixture("payments-api", "payments", base)
	m.resources["web-frontend"] = blueGreenFixture("web-frontend", "web", base)
}

func replicaSetFixture(ro *rollout.Rollout, hash string, revision string, created time.Time, replicas int32) *appsv1.ReplicaSet {
	return &appsv1.ReplicaSet{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: rollout.KindReplicaSet},
		ObjectMeta: metav1.ObjectMeta{
			Name:              ro.Name + "-" + hash,
			Namespace:         ro.Namespace,
			UID:               types.UID("rs-" + hash),
			CreationTimestamp: metav1.NewTime(created),
			Labels:            map[string]string{rollout.PodTemplateHashLabel: hash},
			Annotations:       map[string]string{rollout.RevisionAnnotation: revision},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: rollout.GroupVersion.String(), Kind: rollout.KindRollout, Name: ro.Name, UID: ro.UID,
			}},
		},
		Spec:   appsv1.ReplicaSetSpec{Replicas: &replicas},
		Status: appsv1.ReplicaSetStatus{Replicas: replicas, AvailableReplicas: replicas},
	}
}

func analysisFixture(ro *rollout.Rollout, hash, suffix string, phase rollout.AnalysisPhase, created time.Time) *rollout.AnalysisRun {
	return &rollout.AnalysisRun{
		TypeMeta: metav1.TypeMeta{APIVersion: rollout.GroupVersion.String(), Kind: rollout.KindAnalysisRun},
		ObjectMeta: metav1.ObjectMeta{
			Name:              ro.Name + "-" + hash + "-" + suffix,
			Namespace:         ro.Namespace,
			CreationTimestamp: metav1.NewTime(created),
			Labels:            map[string]string{rollout.PodTemplateHashLabel: hash},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: rollout.GroupVersion.String(), Kind: rollout.KindRollout, Name: ro.Name, UID: ro.UID,
			}},
		},
		Status: rollout.AnalysisRunStatus{Phase: phase},
	}
}

func canaryFixture(name, ns string, base time.Time) []any {
	replicas, step, w25, w50 := int32(4), int32(1), int32(25), int32(50)
	ro := &rollout.Rollout{
		TypeMeta: metav1.TypeMeta{APIVersion: rollout.GroupVersion.String(), Kind: rollout.KindRollout},
		ObjectMeta: metav1.ObjectMeta{
			Name: name, Namespace: ns, UID: types.UID("ro-" + name),
			Labels: map[string]string{rollout.InstanceLabel: name},
		},
		Spec: rollout.RolloutSpec{Replicas: &replicas, Strategy: rollout.RolloutStrategy{Canary: &rollout.CanaryStrategy{
			Steps: []rollout.CanaryStep{{SetWeight: &w25}, {Pause: &rollout.RolloutPause{}}, {SetWeight: &w50}, {Pause: &rollout.RolloutPause{}}},
		}}},
		Status: rollout.RolloutStatus{
			Phase: "Paused", Message: "CanaryPauseStep",
			Replicas: 4, AvailableReplicas: 4,
			StableRS: "6f9c7d", CurrentPodHash: "7b8d4f", CurrentStepIndex: &step,
		},
	}
	return []any{
		ro,
		replicaSetFixture(ro, "5d4c3b", "1", base, 0),
		replicaSetFixture(ro, "6f9c7d", "2", base.Add(6*time.Hour), 3),
		replicaSetFixture(ro, "7b8d4f", "3", base.Add(12*time.Hour), 1),
		analysisFixture(ro, "6f9c7d", "2-1", rollout.AnalysisSuccessful, base.Add(6*time.Hour)),
		analysisFixture(ro, "7b8d4f", "3-1", rollout.AnalysisRunning, base.Add(12*time.Hour)),
	}
}

func blueGreenFixture(name, ns string, base time.Time) []any {
	replicas := int32(2)
	ro := &rollout.Rollout{
		TypeMeta: metav1.TypeMeta{APIVersion: rollout.GroupVersion.String(), Kind: rollout.KindRollout},
		ObjectMeta: metav1.ObjectMeta{
			Name: name, Namespace: ns, UID: types.UID("ro-" + name),
			Labels: map[string]string{rollout.InstanceLabel: name},
		},
		Spec: rollout.RolloutSpec{Replicas: &replicas, Strategy: rollout.RolloutStrategy{BlueGreen: &rollout.BlueGreenStrategy{
			ActiveService: name + "-active", PreviewService: name + "-preview",
		}}},
		Status: rollout.RolloutStatus{
			Phase: "Paused", Message: "BlueGreenPause",
			Replicas: 4, AvailableReplicas: 4,
			StableRS: "a1b2c3", CurrentPodHash: "d4e5f6",
			BlueGreen: rollout.BlueGreenStatus{ActiveSelector: "a1b2c3", PreviewSelector: "d4e5f6"},
		},
	}
	return []any{
		ro,
		replicaSetFixture(ro, "a1b2c3", "1", base, 2),
		replicaSetFixture(ro, "d4e5f6", "2", base.Add(8*time.Hour), 2),
		analysisFixture(ro, "d4e5f6", "2-pre", rollout.AnalysisInconclusive, base.Add(8*time.Hour)),
	}
}
