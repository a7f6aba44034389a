package rollout

import (
	"math"
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// GetRolloutUIResources decodes a flat list of Rollouts, ReplicaSets and
// AnalysisRuns belonging to appName and reconciles them. Objects of other
// kinds, or that fail to decode, are ignored.
func GetRolloutUIResources(resources []*unstructured.Unstructured, appName string) []RolloutUI {
	var (
		rollouts []Rollout
		rsets    []appsv1.ReplicaSet
		runs     []AnalysisRun
	)
	conv := runtime.DefaultUnstructuredConverter
	for _, u := range resources {
		if u == nil {
			continue
		}
		gvk := u.GroupVersionKind()
		switch {
		case gvk.Group == GroupVersion.Group && gvk.Kind == KindRollout:
			var ro Rollout
			if conv.FromUnstructured(u.Object, &ro) == nil {
				rollouts = append(rollouts, ro)
			}
		case gvk.Group == GroupVersion.Group && gvk.Kind == KindAnalysisRun:
			var ar AnalysisRun
			if conv.FromUnstructured(u.Object, &ar) == nil {
				runs = append(runs, ar)
			}
		case gvk.Group == "apps" && gvk.Kind == KindReplicaSet:
			var rs appsv1.ReplicaSet
			if conv.FromUnstructured(u.Object, &rs) == nil {
				rsets = append(rsets, rs)
			}
		}
	}
	return BuildRolloutUIResources(rollouts, rsets, runs, appName)
}

// BuildRolloutUIResources groups ReplicaSets under the rollouts that own them
// and attaches analysis runs to the matching revision. Rollouts keep their
// input order; revisions are newest first.
func BuildRolloutUIResources(rollouts []Rollout, replicaSets []appsv1.ReplicaSet, analysisRuns []AnalysisRun, appName string) []RolloutUI {
	scoped := make([]Rollout, 0, len(rollouts))
	for _, ro := range rollouts {
		if inScope(ro.ObjectMeta, appName) {
			scoped = append(scoped, ro)
		}
	}

	out := make([]RolloutUI, len(scoped))
	for i := range scoped {
		out[i].Rollout = scoped[i]
		ro := &out[i].Rollout
		out[i].Revisions = revisionsOf(ro, replicaSets, analysisRuns)
	}
	return out
}

func inScope(meta metav1.ObjectMeta, appName string) bool {
	if appName == "" {
		return true
	}
	v, ok := meta.Labels[InstanceLabel]
	return !ok || v == appName
}

func revisionsOf(ro *Rollout, replicaSets []appsv1.ReplicaSet, analysisRuns []AnalysisRun) []Revision {
	revs := make([]Revision, 0)
	for _, rs := range replicaSets {
		if !ownedBy(rs.OwnerReferences, ro) {
			continue
		}
		rev := Revision{
			Metadata:          rs.ObjectMeta,
			Number:            revisionNumber(rs.Annotations),
			AvailableReplicas: rs.Status.AvailableReplicas,
			Rollout:           ro,
		}
		if rs.Spec.Replicas != nil {
			rev.Replicas = *rs.Spec.Replicas
		} else {
			rev.Replicas = rs.Status.Replicas
		}
		for _, ar := range analysisRuns {
			if analysisFor(ar, &rev, ro) {
				rev.AnalysisRuns = append(rev.AnalysisRuns, ar)
			}
		}
		rev.Percentage = percentage(ro, &rev)
		revs = append(revs, rev)
	}

	sort.SliceStable(revs, func(i, j int) bool {
		a, b := revs[i], revs[j]
		if a.Number != b.Number {
			return a.Number > b.Number
		}
		if !a.Metadata.CreationTimestamp.Equal(&b.Metadata.CreationTimestamp) {
			return b.Metadata.CreationTimestamp.Before(&a.Metadata.CreationTimestamp)
		}
		return a.Metadata.Name < b.Metadata.Name
	})
	return revs
}

func ownedBy(refs []metav1.OwnerReference, ro *Rollout) bool {
	for _, ref := range refs {
		if ref.Kind != KindRollout {
			continue
		}
		if ref.UID != "" && ro.UID != "" {
			if ref.UID == ro.UID {
				return true
			}
			continue
		}
		if ref.Name == ro.Name {
			return true
		}
	}
	return false
}

func analysisFor(ar AnalysisRun, rev *Revision, ro *Rollout) bool {
	if !rev.matches(ar.Labels[PodTemplateHashLabel]) {
		return false
	}
	for _, ref := range ar.OwnerReferences {
		if ref.Kind == KindRollout {
			return ownedBy([]metav1.OwnerReference{ref}, ro)
		}
	}
	return true
}

func revisionNumber(annotations map[string]string) int64 {
	n, err := strconv.ParseInt(annotations[RevisionAnnotation], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// percentage is the share of traffic (canary) or of desired replicas a
// revision holds, clamped to [0, 100].
func percentage(ro *Rollout, rev *Revision) int {
	stable, current := rev.IsStable(), rev.IsCurrent()
	if ro.Strategy() == "canary" && stable != current {
		if w := ro.Status.Canary.Weights; w != nil {
			if current {
				return clamp(float64(w.Canary.Weight))
			}
			return clamp(float64(w.Stable.Weight))
		}
		if weight, ok := stepWeight(ro); ok {
			if current {
				return clamp(float64(weight))
			}
			return clamp(float64(100 - weight))
		}
	}
	desired := ro.DesiredReplicas()
	if desired <= 0 {
		desired = 1
	}
	return clamp(math.Round(float64(rev.AvailableReplicas) / float64(desired) * 100))
}

// stepWeight returns the last setWeight at or before the current step.
func stepWeight(ro *Rollout) (int32, bool) {
	idx := ro.Status.CurrentStepIndex
	if idx == nil || ro.Spec.Strategy.Canary == nil {
		return 0, false
	}
	steps := ro.Spec.Strategy.Canary.Steps
	if int(*idx) >= len(steps) {
		return 100, true
	}
	var (
		weight int32
		found  bool
	)
	for i := 0; i <= int(*idx) && i < len(steps); i++ {
		if steps[i].SetWeight != nil {
			weight, found = *steps[i].SetWeight, true
		}
	}
	return weight, found
}

func clamp(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
