package argocd

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/phin3has/argolens/internal/config"
)

// Instance is one named Argo CD server. Name is its identity; instances are
// immutable once loaded and looked up by name on every request.
type Instance struct {
	Name     string `json:"name" validate:"required"`
	URL      string `json:"url" validate:"required,url"`
	Token    string `json:"-"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// Ref returns the provenance stamp for applications fetched from i.
func (i Instance) Ref() InstanceRef {
	return InstanceRef{Name: i.Name, URL: i.URL}
}

// ListInstances flattens the instances of every "config" locator, in order.
// Duplicate names are kept; InstanceByName picks the first. URLs are kept as
// configured so the provenance stamp matches them; buildURL normalises.
func ListInstances(methods []config.AppLocatorMethod) []Instance {
	out := make([]Instance, 0)
	for _, m := range methods {
		if m.Type != config.LocatorTypeConfig {
			continue
		}
		for _, ic := range m.Instances {
			out = append(out, Instance{
				Name:     ic.Name,
				URL:      ic.URL,
				Token:    ic.Token,
				Username: ic.Username,
				Password: ic.Password,
			})
		}
	}
	return out
}

// InstanceByName returns the first instance whose name equals name exactly.
func InstanceByName(instances []Instance, name string) (Instance, bool) {
	for _, inst := range instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instance{}, false
}

var validate = validator.New()

// ValidateInstances checks every instance has a name and an absolute URL.
func ValidateInstances(instances []Instance) error {
	for i, inst := range instances {
		if err := validate.Struct(inst); err != nil {
			return fmt.Errorf("instance %d (%q): %w", i, inst.Name, err)
		}
	}
	return nil
}
