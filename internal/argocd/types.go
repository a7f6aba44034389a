package argocd

import (
	"bytes"
	"encoding/json"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// InstanceRef marks which ArgoCD instance an Application was fetched from.
// It is serialised as metadata.instance.
type InstanceRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ApplicationMetadata struct {
	metav1.ObjectMeta `json:",inline"`

	Instance *InstanceRef `json:"instance,omitempty"`
}

// Application is an Argo CD Application as returned by /api/v1/applications.
// Only the fields argolens reads are typed; the decoded document is kept so
// everything else is written back out unchanged.
type Application struct {
	Metadata ApplicationMetadata `json:"metadata"`
	Spec     ApplicationSpec     `json:"spec"`
	Status   ApplicationStatus   `json:"status"`

	raw json.RawMessage
}

type ApplicationSpec struct {
	Source      *ApplicationSource     `json:"source,omitempty"`
	Sources     []ApplicationSource    `json:"sources,omitempty"`
	Destination ApplicationDestination `json:"destination"`
	Project     string                 `json:"project"`
}

type ApplicationSource struct {
	RepoURL        string `json:"repoURL"`
	Path           string `json:"path,omitempty"`
	TargetRevision string `json:"targetRevision,omitempty"`
	Chart          string `json:"chart,omitempty"`
}

type ApplicationDestination struct {
	Server    string `json:"server,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name,omitempty"`
}

type ApplicationStatus struct {
	Sync           SyncStatus         `json:"sync"`
	Health         HealthStatus       `json:"health"`
	OperationState *OperationState    `json:"operationState,omitempty"`
	Resources      []ResourceStatus   `json:"resources,omitempty"`
	History        []RevisionHistory  `json:"history,omitempty"`
	Summary        ApplicationSummary `json:"summary"`
	ReconciledAt   *metav1.Time       `json:"reconciledAt,omitempty"`
	SourceType     string             `json:"sourceType,omitempty"`
}

type SyncStatus struct {
	Status    string   `json:"status"`
	Revision  string   `json:"revision,omitempty"`
	Revisions []string `json:"revisions,omitempty"`
}

type HealthStatus struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type OperationState struct {
	Phase      string               `json:"phase"`
	Message    string               `json:"message,omitempty"`
	StartedAt  *metav1.Time         `json:"startedAt,omitempty"`
	FinishedAt *metav1.Time         `json:"finishedAt,omitempty"`
	SyncResult *SyncOperationResult `json:"syncResult,omitempty"`
}

type SyncOperationResult struct {
	Revision  string   `json:"revision,omitempty"`
	Revisions []string `json:"revisions,omitempty"`
}

// ResourceStatus is one entry of status.resources.
type ResourceStatus struct {
	Group     string        `json:"group,omitempty"`
	Version   string        `json:"version,omitempty"`
	Kind      string        `json:"kind"`
	Namespace string        `json:"namespace,omitempty"`
	Name      string        `json:"name"`
	Status    string        `json:"status,omitempty"`
	Health    *HealthStatus `json:"health,omitempty"`
	Hook      bool          `json:"hook,omitempty"`
}

// RevisionHistory is one deployment in status.history.
type RevisionHistory struct {
	ID              int64               `json:"id"`
	Revision        string              `json:"revision,omitempty"`
	Revisions       []string            `json:"revisions,omitempty"`
	DeployedAt      metav1.Time         `json:"deployedAt"`
	DeployStartedAt *metav1.Time        `json:"deployStartedAt,omitempty"`
	Source          *ApplicationSource  `json:"source,omitempty"`
	Sources         []ApplicationSource `json:"sources,omitempty"`
}

type ApplicationSummary struct {
	Images       []string `json:"images,omitempty"`
	ExternalURLs []string `json:"externalURLs,omitempty"`
}

type ListMeta struct {
	ResourceVersion string `json:"resourceVersion,omitempty"`
}

// ApplicationList is the /api/v1/applications payload. Items can be null.
type ApplicationList struct {
	Metadata ListMeta      `json:"metadata"`
	Items    []Application `json:"items"`
}

// RevisionInfo is the revision metadata payload plus the revision ID it was
// requested for.
type RevisionInfo struct {
	Author        string       `json:"author,omitempty"`
	Date          *metav1.Time `json:"date,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Message       string       `json:"message,omitempty"`
	SignatureInfo string       `json:"signatureInfo,omitempty"`
	RevisionID    string       `json:"revisionID"`
}

// ResourceRef identifies a specific resource instance in an application.
type ResourceRef struct {
	Group     string `json:"group,omitempty"`
	Version   string `json:"version,omitempty"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	UID       string `json:"uid,omitempty"`
}

// ResourceNode is one node of /applications/{name}/resource-tree.
type ResourceNode struct {
	ResourceRef `json:",inline"`

	ParentRefs      []ResourceRef `json:"parentRefs,omitempty"`
	Health          *HealthStatus `json:"health,omitempty"`
	ResourceVersion string        `json:"resourceVersion,omitempty"`
}

type ResourceTree struct {
	Nodes []ResourceNode `json:"nodes"`
}

// Name returns metadata.name.
func (a Application) Name() string { return a.Metadata.Name }

// InstanceName returns the stamped instance name, or "" before stamping.
func (a Application) InstanceName() string {
	if a.Metadata.Instance == nil {
		return ""
	}
	return a.Metadata.Instance.Name
}

// Key identifies an application across instances.
func (a Application) Key() string {
	return a.InstanceName() + "/" + a.Metadata.Namespace + "/" + a.Metadata.Name
}

// DestinationNamespace returns where the application deploys, falling back to
// the application's own namespace.
func (a Application) DestinationNamespace() string {
	if a.Spec.Destination.Namespace != "" {
		return a.Spec.Destination.Namespace
	}
	return a.Metadata.Namespace
}

// PrimarySource returns spec.source, or the first of spec.sources.
func (a Application) PrimarySource() ApplicationSource {
	if a.Spec.Source != nil {
		return *a.Spec.Source
	}
	if len(a.Spec.Sources) > 0 {
		return a.Spec.Sources[0]
	}
	return ApplicationSource{}
}

func (a *Application) UnmarshalJSON(data []byte) error {
	type plain Application
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Application(p)
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the typed fields over the upstream document, so the
// instance stamp and any edits win while untyped fields pass through.
func (a Application) MarshalJSON() ([]byte, error) {
	type plain Application
	typed, err := json.Marshal(plain(a))
	if err != nil || len(a.raw) == 0 {
		return typed, err
	}
	base, err := decodeTree(a.raw)
	if err != nil {
		return nil, err
	}
	over, err := decodeTree(typed)
	if err != nil {
		return nil, err
	}
	return json.Marshal(overlay(base, over))
}

func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// overlay merges over into base. Objects merge per key and equal-length
// arrays per element; anything else is replaced by over.
func overlay(base, over any) any {
	switch o := over.(type) {
	case map[string]any:
		b, ok := base.(map[string]any)
		if !ok {
			return o
		}
		for k, v := range o {
			b[k] = overlay(b[k], v)
		}
		return b
	case []any:
		b, ok := base.([]any)
		if !ok || len(b) != len(o) {
			return o
		}
		for i := range o {
			b[i] = overlay(b[i], o[i])
		}
		return b
	}
	return over
}
