// Package service models the remote lookup backends a user can dispatch to.
package service

import (
	"errors"
	"strings"

	"github.com/Ashfaaq98/ioc-console/internal/extract"
	"github.com/tidwall/gjson"
)

// ErrNotList is returned by SanitizeList when the catalog payload is not a JSON array.
var ErrNotList = errors.New("service catalog is not a list")

// RouteEntry maps one indicator kind to a backend route hint.
type RouteEntry struct {
	Kind  extract.Kind `json:"type"`
	Route string       `json:"route"`
}

// Descriptor configures one remote lookup backend.
type Descriptor struct {
	Kind          string         `json:"kind"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	URL           string         `json:"url"`
	Types         []extract.Kind `json:"type"`
	RouteMap      []RouteEntry   `json:"route_map"`
	Selected      bool           `json:"selected"`
	UploadService bool           `json:"upload_service"`
	Expires       int64          `json:"expires"`
	Secret        string         `json:"secret"`
	Insecure      bool           `json:"insecure"`
	RateLimited   bool           `json:"rate_limited"`
	MaxRequests   int64          `json:"max_requests"`
	RefillRate    int64          `json:"refill_rate"`
	AuthType      string         `json:"auth_type"`
	Key           string         `json:"key"`
}

// Accepts reports whether the backend can look up literals of kind.
func (d Descriptor) Accepts(kind extract.Kind) bool {
	for _, t := range d.Types {
		if t == kind {
			return true
		}
	}
	return false
}

// Route resolves the route hint for kind from the descriptor's route map.
func (d Descriptor) Route(kind extract.Kind) string {
	return ResolveRoute(d.RouteMap, kind)
}

// ResolveRoute returns the route of the first entry for kind, or "" when the
// table is empty or has no such entry.
func ResolveRoute(table []RouteEntry, kind extract.Kind) string {
	for _, e := range table {
		if e.Kind == kind {
			return e.Route
		}
	}
	return ""
}

var markupStripper = strings.NewReplacer("<", "", ">", "", "&", "", `"`, "", "'", "", "`", "", ";", "")

// Sanitize decodes one descriptor, defaulting every field that is missing or
// of the wrong type. It never fails; a non-object yields the zero Descriptor.
func Sanitize(raw []byte) Descriptor {
	if !gjson.ValidBytes(raw) {
		return Descriptor{}
	}
	return sanitize(gjson.ParseBytes(raw))
}

// SanitizeList decodes a service catalog. Each element is passed through
// Sanitize; a payload that is not an array is an error.
func SanitizeList(raw []byte) ([]Descriptor, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrNotList
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, ErrNotList
	}
	out := make([]Descriptor, 0)
	doc.ForEach(func(_, v gjson.Result) bool {
		out = append(out, sanitize(v))
		return true
	})
	return out, nil
}

func sanitize(v gjson.Result) Descriptor {
	if !v.IsObject() {
		return Descriptor{}
	}
	d := Descriptor{
		Kind:          str(v.Get("kind")),
		Name:          markupStripper.Replace(str(v.Get("name"))),
		Description:   markupStripper.Replace(str(v.Get("description"))),
		Selected:      v.Get("selected").Bool(),
		UploadService: v.Get("upload_service").Bool(),
		Expires:       integer(v.Get("expires")),
		Secret:        str(v.Get("secret")),
		Insecure:      v.Get("insecure").Bool(),
		RateLimited:   v.Get("rate_limited").Bool(),
		MaxRequests:   integer(v.Get("max_requests")),
		RefillRate:    integer(v.Get("refill_rate")),
		AuthType:      str(v.Get("auth_type")),
		Key:           str(v.Get("key")),
		Types:         []extract.Kind{},
	}
	if u := str(v.Get("url")); strings.HasPrefix(u, "http") {
		d.URL = u
	}
	if t := v.Get("type"); t.IsArray() {
		for _, k := range t.Array() {
			d.Types = append(d.Types, extract.Kind(k.String()))
		}
	}
	if rm := v.Get("route_map"); rm.IsArray() {
		for _, e := range rm.Array() {
			if !e.IsObject() {
				continue
			}
			d.RouteMap = append(d.RouteMap, RouteEntry{
				Kind:  extract.Kind(str(e.Get("type"))),
				Route: str(e.Get("route")),
			})
		}
	}
	return d
}

// str returns strings and numbers as text; anything else is "".
func str(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return r.String()
	case gjson.True:
		return "true"
	}
	return ""
}

// integer accepts whole JSON numbers only.
func integer(r gjson.Result) int64 {
	if r.Type != gjson.Number {
		return 0
	}
	f := r.Float()
	if f != float64(int64(f)) {
		return 0
	}
	return int64(f)
}
