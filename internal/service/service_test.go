package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashfaaq98/ioc-console/internal/extract"
)

func TestResolveRoute(t *testing.T) {
	assert.Equal(t, "", ResolveRoute(nil, extract.KindDomain))
	assert.Equal(t, "", ResolveRoute([]RouteEntry{}, extract.KindDomain))

	table := []RouteEntry{
		{Kind: extract.KindIPv4, Route: "ip"},
		{Kind: extract.KindDomain, Route: "r1"},
		{Kind: extract.KindDomain, Route: "r2"},
	}
	assert.Equal(t, "r1", ResolveRoute(table, extract.KindDomain))
	assert.Equal(t, "ip", ResolveRoute(table, extract.KindIPv4))
	assert.Equal(t, "", ResolveRoute(table, extract.KindMD5))
}

func TestSanitizeDefaults(t *testing.T) {
	d := Sanitize([]byte(`{"kind":"vt"}`))
	assert.Equal(t, "vt", d.Kind)
	assert.Empty(t, d.Name)
	assert.Empty(t, d.URL)
	assert.NotNil(t, d.Types)
	assert.Empty(t, d.Types)
	assert.Nil(t, d.RouteMap)
	assert.False(t, d.Selected)
	assert.Zero(t, d.MaxRequests)

	assert.Equal(t, Descriptor{}, Sanitize([]byte(`"not an object"`)))
	assert.Equal(t, Descriptor{}, Sanitize([]byte(`{broken`)))
}

func TestSanitizeCleansFields(t *testing.T) {
	raw := `{
		"kind": "misp",
		"name": "<b>MISP</b>; \"prod\"",
		"description": "it's <fine>",
		"url": "javascript:alert(1)",
		"type": ["ipv4", "domain"],
		"route_map": [{"type": "domain", "route": "attributes"}, "junk"],
		"selected": true,
		"expires": 3.5,
		"max_requests": 10,
		"refill_rate": "5",
		"upload_service": 1
	}`
	d := Sanitize([]byte(raw))

	assert.Equal(t, "bMISP/b prod", d.Name)
	assert.Equal(t, "its fine", d.Description)
	assert.Empty(t, d.URL, "non-http urls are dropped")
	assert.Equal(t, []extract.Kind{extract.KindIPv4, extract.KindDomain}, d.Types)
	require.Len(t, d.RouteMap, 1)
	assert.Equal(t, "attributes", d.Route(extract.KindDomain))
	assert.True(t, d.Selected)
	assert.Zero(t, d.Expires, "fractional numbers are not integers")
	assert.EqualValues(t, 10, d.MaxRequests)
	assert.Zero(t, d.RefillRate, "strings are not integers")
	assert.True(t, d.UploadService)
	assert.True(t, d.Accepts(extract.KindIPv4))
	assert.False(t, d.Accepts(extract.KindMD5))
}

func TestSanitizeList(t *testing.T) {
	list, err := SanitizeList([]byte(`[{"kind":"a","url":"https://a.example"},{"kind":"b"}, 7]`))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "https://a.example", list[0].URL)
	assert.Equal(t, "b", list[1].Kind)
	assert.Equal(t, Descriptor{}, list[2])

	_, err = SanitizeList([]byte(`{"error":"denied"}`))
	assert.ErrorIs(t, err, ErrNotList)

	empty, err := SanitizeList([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUserServices(t *testing.T) {
	u := User{Email: "a@b.c", Key: "k"}
	assert.True(t, u.Configured())
	assert.Equal(t, "a@b.c:k", u.Credential())

	u.AddService(Descriptor{Kind: "vt"})
	u.AddService(Descriptor{Kind: "misp"})
	u.AddService(Descriptor{Kind: "vt", Name: "VirusTotal"})
	require.Len(t, u.Services, 2)
	assert.Equal(t, "VirusTotal", u.Services[0].Name)
	assert.True(t, u.Services[0].Selected)
	assert.True(t, u.HasService("misp"))

	u.RemoveService("vt")
	assert.False(t, u.HasService("vt"))
	assert.Len(t, u.Services, 1)

	assert.False(t, User{Email: "only@mail"}.Configured())
}

func TestCapableAndMarkSelected(t *testing.T) {
	catalog := []Descriptor{
		{Kind: "ip", Types: []extract.Kind{extract.KindIPv4}},
		{Kind: "hash", Types: []extract.Kind{extract.KindMD5, extract.KindSHA1}},
	}
	got := Capable(catalog, extract.KindSHA1)
	require.Len(t, got, 1)
	assert.Equal(t, "hash", got[0].Kind)

	u := User{Services: []Descriptor{{Kind: "ip"}}}
	marked := MarkSelected(catalog, u)
	assert.True(t, marked[0].Selected)
	assert.False(t, marked[1].Selected)
	assert.False(t, catalog[0].Selected, "catalog is not mutated")
}
