// Package rollout turns Argo Rollouts, their ReplicaSets and AnalysisRuns into
// the revision view the lifecycle screens render.
//
// Only the fields the reconciler reads are modelled; everything else in the
// CRDs is ignored on decode.
package rollout

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// GroupVersion of the Argo Rollouts CRDs.
var GroupVersion = schema.GroupVersion{Group: "argoproj.io", Version: "v1alpha1"}

var (
	RolloutResource     = GroupVersion.WithResource("rollouts")
	AnalysisRunResource = GroupVersion.WithResource("analysisruns")
	ReplicaSetResource  = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "replicasets"}
)

const (
	KindRollout     = "Rollout"
	KindAnalysisRun = "AnalysisRun"
	KindReplicaSet  = "ReplicaSet"

	// PodTemplateHashLabel is set by the rollouts controller on ReplicaSets and
	// AnalysisRuns; status.stableRS and status.currentPodHash hold its value.
	PodTemplateHashLabel = "rollouts-pod-template-hash"
	RevisionAnnotation   = "rollout.argoproj.io/revision"
	InstanceLabel        = "app.kubernetes.io/instance"
)

type Rollout struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RolloutSpec   `json:"spec,omitempty"`
	Status RolloutStatus `json:"status,omitempty"`
}

type RolloutSpec struct {
	Replicas *int32          `json:"replicas,omitempty"`
	Strategy RolloutStrategy `json:"strategy,omitempty"`
}

type RolloutStrategy struct {
	Canary    *CanaryStrategy    `json:"canary,omitempty"`
	BlueGreen *BlueGreenStrategy `json:"blueGreen,omitempty"`
}

type CanaryStrategy struct {
	Steps []CanaryStep `json:"steps,omitempty"`
}

type CanaryStep struct {
	SetWeight *int32        `json:"setWeight,omitempty"`
	Pause     *RolloutPause `json:"pause,omitempty"`
}

type RolloutPause struct {
	Duration *intstr.IntOrString `json:"duration,omitempty"`
}

type BlueGreenStrategy struct {
	ActiveService  string `json:"activeService,omitempty"`
	PreviewService string `json:"previewService,omitempty"`
}

type RolloutStatus struct {
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`

	Replicas          int32 `json:"replicas,omitempty"`
	UpdatedReplicas   int32 `json:"updatedReplicas,omitempty"`
	ReadyReplicas     int32 `json:"readyReplicas,omitempty"`
	AvailableReplicas int32 `json:"availableReplicas,omitempty"`

	StableRS         string `json:"stableRS,omitempty"`
	CurrentPodHash   string `json:"currentPodHash,omitempty"`
	CurrentStepIndex *int32 `json:"currentStepIndex,omitempty"`

	Canary    CanaryStatus    `json:"canary,omitempty"`
	BlueGreen BlueGreenStatus `json:"blueGreen,omitempty"`
}

type CanaryStatus struct {
	Weights *TrafficWeights `json:"weights,omitempty"`
}

type TrafficWeights struct {
	Canary WeightDestination `json:"canary"`
	Stable WeightDestination `json:"stable"`
}

type WeightDestination struct {
	Weight          int32  `json:"weight"`
	PodTemplateHash string `json:"podTemplateHash,omitempty"`
}

type BlueGreenStatus struct {
	ActiveSelector  string `json:"activeSelector,omitempty"`
	PreviewSelector string `json:"previewSelector,omitempty"`
}

// Strategy names a rollout's strategy: "canary", "blueGreen" or "".
func (r *Rollout) Strategy() string {
	switch {
	case r == nil:
		return ""
	case r.Spec.Strategy.Canary != nil:
		return "canary"
	case r.Spec.Strategy.BlueGreen != nil:
		return "blueGreen"
	}
	return ""
}

// DesiredReplicas is spec.replicas, defaulting to 1 like the controller does.
func (r *Rollout) DesiredReplicas() int32 {
	if r == nil || r.Spec.Replicas == nil {
		return 1
	}
	return *r.Spec.Replicas
}

type AnalysisRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Status AnalysisRunStatus `json:"status,omitempty"`
}

type AnalysisRunStatus struct {
	Phase   AnalysisPhase `json:"phase,omitempty"`
	Message string        `json:"message,omitempty"`
}

type AnalysisPhase string

const (
	AnalysisPending      AnalysisPhase = "Pending"
	AnalysisRunning      AnalysisPhase = "Running"
	AnalysisSuccessful   AnalysisPhase = "Successful"
	AnalysisFailed       AnalysisPhase = "Failed"
	AnalysisInconclusive AnalysisPhase = "Inconclusive"
	AnalysisError        AnalysisPhase = "Error"
)

// Icon is the glyph shown next to an analysis run. Unrecognised phases get "?".
func (p AnalysisPhase) Icon() string {
	switch p {
	case AnalysisPending:
		return "…"
	case AnalysisRunning:
		return "◌"
	case AnalysisSuccessful:
		return "✔"
	case AnalysisFailed:
		return "✖"
	case AnalysisInconclusive:
		return "⚠"
	case AnalysisError:
		return "!"
	default:
		return "?"
	}
}

// RolloutUI is one rollout with its revisions, newest first.
type RolloutUI struct {
	Rollout   Rollout    `json:"rollout"`
	Revisions []Revision `json:"revisions"`
}

// Revision is one ReplicaSet generation of a rollout.
type Revision struct {
	Metadata          metav1.ObjectMeta `json:"metadata"`
	Number            int64             `json:"revision,omitempty"`
	Replicas          int32             `json:"replicas"`
	AvailableReplicas int32             `json:"availableReplicas"`
	Percentage        int               `json:"percentage"`
	AnalysisRuns      []AnalysisRun     `json:"analysisRuns,omitempty"`

	// Rollout points back at the owning rollout; it is not serialised.
	Rollout *Rollout `json:"-"`
}
