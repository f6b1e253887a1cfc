package service

import "github.com/Ashfaaq98/ioc-console/internal/extract"

// User is the persisted analyst profile. Services holds the backends the user
// has enabled for dispatch.
type User struct {
	Email    string       `json:"email"`
	Key      string       `json:"key"`
	Services []Descriptor `json:"services"`
}

// Configured reports whether the profile carries a credential.
func (u User) Configured() bool {
	return u.Email != "" && u.Key != ""
}

// Credential returns the opaque "email:key" value attached to every call.
func (u User) Credential() string {
	return u.Email + ":" + u.Key
}

// HasService reports whether the backend identified by kind is enabled.
func (u User) HasService(kind string) bool {
	for _, s := range u.Services {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// AddService enables d. Enabling an already enabled backend replaces it.
func (u *User) AddService(d Descriptor) {
	d.Selected = true
	for i, s := range u.Services {
		if s.Kind == d.Kind {
			u.Services[i] = d
			return
		}
	}
	u.Services = append(u.Services, d)
}

// RemoveService disables the backend identified by kind.
func (u *User) RemoveService(kind string) {
	kept := u.Services[:0]
	for _, s := range u.Services {
		if s.Kind != kind {
			kept = append(kept, s)
		}
	}
	u.Services = kept
}

// Capable returns the services from catalog that accept at least one of kinds.
func Capable(catalog []Descriptor, kinds ...extract.Kind) []Descriptor {
	var out []Descriptor
	for _, d := range catalog {
		for _, k := range kinds {
			if d.Accepts(k) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// MarkSelected sets Selected on every catalog entry the user has enabled.
func MarkSelected(catalog []Descriptor, u User) []Descriptor {
	out := make([]Descriptor, len(catalog))
	for i, d := range catalog {
		d.Selected = u.HasService(d.Kind)
		out[i] = d
	}
	return out
}
