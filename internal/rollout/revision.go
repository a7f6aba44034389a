package rollout

import (
	"encoding/json"
	"strings"
)

// matches reports whether hash identifies this revision, either by name or by
// its pod-template-hash label.
func (r *Revision) matches(hash string) bool {
	if r == nil || hash == "" {
		return false
	}
	return hash == r.Metadata.Name || hash == r.Metadata.Labels[PodTemplateHashLabel]
}

// IsStable reports whether the rollout's stableRS is this revision.
func (r *Revision) IsStable() bool {
	return r != nil && r.Rollout != nil && r.matches(r.Rollout.Status.StableRS)
}

// IsCurrent reports whether the rollout's currentPodHash is this revision.
// It is independent of IsStable; both hold once a rollout is fully promoted.
func (r *Revision) IsCurrent() bool {
	return r != nil && r.Rollout != nil && r.matches(r.Rollout.Status.CurrentPodHash)
}

// IsCanary is the current revision of a canary rollout that is not yet stable.
func (r *Revision) IsCanary() bool {
	return r.IsCurrent() && !r.IsStable() && r.Rollout.Strategy() == "canary"
}

// IsActive is the current revision of a blue-green rollout.
func (r *Revision) IsActive() bool {
	return r.IsCurrent() && r.Rollout.Strategy() == "blueGreen"
}

// IsPreview is a blue-green revision behind the preview service only.
func (r *Revision) IsPreview() bool {
	if r == nil || r.Rollout == nil || r.Rollout.Strategy() != "blueGreen" {
		return false
	}
	bg := r.Rollout.Status.BlueGreen
	return bg.PreviewSelector != bg.ActiveSelector && r.matches(bg.PreviewSelector)
}

// Labels lists the revision's tags in display order.
func (r *Revision) Labels() []string {
	var out []string
	if r.IsStable() {
		out = append(out, "stable")
	}
	if r.IsCanary() {
		out = append(out, "canary")
	}
	if r.IsActive() {
		out = append(out, "active")
	}
	if r.IsPreview() {
		out = append(out, "preview")
	}
	return out
}

// Label joins Labels for single-line rendering.
func (r *Revision) Label() string {
	return strings.Join(r.Labels(), ",")
}

// Name is the ReplicaSet name, or "" for a nil revision.
func (r *Revision) Name() string {
	if r == nil {
		return ""
	}
	return r.Metadata.Name
}

// MarshalJSON adds the classification flags, which are derived from the
// owning rollout and would otherwise be lost with it.
func (r Revision) MarshalJSON() ([]byte, error) {
	type plain Revision
	labels := r.Labels()
	if labels == nil {
		labels = []string{}
	}
	return json.Marshal(struct {
		plain
		Stable  bool     `json:"stable"`
		Current bool     `json:"current"`
		Canary  bool     `json:"canary"`
		Active  bool     `json:"active"`
		Preview bool     `json:"preview"`
		Labels  []string `json:"labels"`
	}{
		plain:   plain(r),
		Stable:  r.IsStable(),
		Current: r.IsCurrent(),
		Canary:  r.IsCanary(),
		Active:  r.IsActive(),
		Preview: r.IsPreview(),
		Labels:  labels,
	})
}
