package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashfaaq98/ioc-console/internal/client"
	"github.com/Ashfaaq98/ioc-console/internal/export"
	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
	"github.com/Ashfaaq98/ioc-console/internal/store"
)

const credential = "analyst@example.com:secret"

type endpoint struct {
	mu      sync.Mutex
	lookups []client.LookupRequest
	updates []service.User
	// hold, when set, parks lookups for values starting with "slow".
	hold chan struct{}
}

func (e *endpoint) values() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, l := range e.lookups {
		out = append(out, l.To+"/"+l.Value)
	}
	sort.Strings(out)
	return out
}

func newEndpoint(t *testing.T) (*httptest.Server, *endpoint) {
	t.Helper()
	e := &endpoint{}
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != credential {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/user", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"email":"analyst@example.com","services":[{"kind":"vt","type":["md5"]},{"kind":"misp","type":["ipv4","domain"],"route_map":[{"type":"ipv4","route":"ip-src"}]}]}`)
	}))
	mux.HandleFunc("/getservices", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"kind":"vt","type":["md5"]},{"kind":"misp","type":["ipv4","domain"]},{"kind":"shodan","type":["ipv4"]}]`)
	}))
	mux.HandleFunc("/updateuser", auth(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var u service.User
		json.Unmarshal(body, &u)
		e.mu.Lock()
		e.updates = append(e.updates, u)
		e.mu.Unlock()
		w.Write(body)
	}))
	mux.HandleFunc("/pipe", auth(func(w http.ResponseWriter, r *http.Request) {
		var req client.LookupRequest
		json.NewDecoder(r.Body).Decode(&req)
		e.mu.Lock()
		e.lookups = append(e.lookups, req)
		hold := e.hold
		e.mu.Unlock()
		if hold != nil && strings.HasPrefix(req.Value, "slow") {
			<-hold
		}
		if strings.HasPrefix(req.Value, "fail") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "1", "value": req.Value, "from": req.To, "matched": 1, "link": req.Route,
		})
	}))
	mux.HandleFunc("/rectify", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"catalog rebuilt"}`)
	}))
	mux.HandleFunc("/upload", auth(func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		io.WriteString(w, `{"id":"up-1","status":"queued"}`)
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, e
}

func newSession(t *testing.T, srv *httptest.Server, opts Options) (*Session, *store.Store) {
	t.Helper()
	kv, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	opts.Store = kv
	opts.HTTPClient = srv.Client()
	s := New(opts)
	require.NoError(t, s.SetUserData(context.Background(), "analyst@example.com", "secret", srv.URL+"/"))
	require.NoError(t, s.Init(context.Background()))
	return s, kv
}

func TestSearchRequiresConfiguration(t *testing.T) {
	kv, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer kv.Close()

	s := New(Options{Store: kv})
	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, client.DefaultBaseURL, s.APIURL())

	batch, err := s.Search(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, batch)
	assert.Equal(t, []string{ErrNotConfigured.Error()}, s.Aggregator().DrainErrors())
}

func TestInitLoadsProfileAndCatalog(t *testing.T) {
	srv, _ := newEndpoint(t)
	s, _ := newSession(t, srv, Options{})

	u := s.User()
	assert.Equal(t, "secret", u.Key, "key kept when the profile echo omits it")
	assert.True(t, u.HasService("vt"))
	assert.True(t, u.HasService("misp"))

	catalog := s.Catalog()
	require.Len(t, catalog, 3)
	selected := map[string]bool{}
	for _, d := range catalog {
		selected[d.Kind] = d.Selected
	}
	assert.Equal(t, map[string]bool{"vt": true, "misp": true, "shodan": false}, selected)
	assert.Nil(t, s.Aggregator().DrainErrors())
}

func TestInitRestoresHistory(t *testing.T) {
	kv, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer kv.Close()
	require.NoError(t, kv.Set(context.Background(), store.KeyHistory, []results.Record{{Value: "old"}}))

	s := New(Options{Store: kv})
	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, []results.Record{{Value: "old"}}, s.Aggregator().History())
}

func TestSearchDispatchesEnabledServices(t *testing.T) {
	srv, e := newEndpoint(t)
	s, kv := newSession(t, srv, Options{})

	text := "beacon 8.8.8.8 and 10.0.0.5 via evil.example.com, fail.example.org, hash d41d8cd98f00b204e9800998ecf8427e"
	batch, err := s.Search(context.Background(), text)
	require.NoError(t, err)
	batch.Wait()

	assert.Equal(t, []string{
		"misp/8.8.8.8",
		"misp/evil.example.com",
		"misp/fail.example.org",
		"vt/d41d8cd98f00b204e9800998ecf8427e",
	}, e.values())

	agg := s.Aggregator()
	assert.Len(t, agg.Results(), 3)
	assert.Len(t, agg.History(), 3)
	assert.Equal(t, 0, agg.Outstanding())
	errs := agg.DrainErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "fail.example.org")

	persisted, err := store.LoadHistory(context.Background(), kv)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)

	entries, err := kv.GetAuditEntries(context.Background(), store.ActionSearch, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDrainWaitsForSearches(t *testing.T) {
	srv, e := newEndpoint(t)
	s, kv := newSession(t, srv, Options{})
	hold := make(chan struct{})
	e.mu.Lock()
	e.hold = hold
	e.mu.Unlock()

	_, err := s.Search(context.Background(), "8.8.8.8 slow.example.com")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Drain(short), context.DeadlineExceeded)

	close(hold)
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 0, s.Aggregator().Outstanding())

	persisted, err := store.LoadHistory(context.Background(), kv)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
	require.NoError(t, s.Drain(context.Background()), "nothing left to wait for")
}

func TestSearchAllCapable(t *testing.T) {
	srv, e := newEndpoint(t)
	s, _ := newSession(t, srv, Options{AllCapable: true})

	batch, err := s.Search(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	batch.Wait()
	assert.Equal(t, []string{"misp/8.8.8.8", "shodan/8.8.8.8"}, e.values())
}

func TestToggleService(t *testing.T) {
	srv, e := newEndpoint(t)
	s, kv := newSession(t, srv, Options{})
	ctx := context.Background()

	enabled, err := s.ToggleService(ctx, "shodan")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.True(t, s.User().HasService("shodan"))

	enabled, err = s.ToggleService(ctx, "vt")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, s.User().HasService("vt"))

	_, err = s.ToggleService(ctx, "nope")
	assert.Error(t, err)

	e.mu.Lock()
	require.Len(t, e.updates, 2)
	assert.False(t, e.updates[1].HasService("vt"))
	e.mu.Unlock()

	var stored service.User
	ok, err := kv.Get(ctx, store.KeyUser, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.HasService("shodan"))
	assert.False(t, stored.HasService("vt"))
}

func TestExport(t *testing.T) {
	srv, _ := newEndpoint(t)
	s, _ := newSession(t, srv, Options{})
	s.now = func() time.Time { return time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC) }
	agg := s.Aggregator()
	agg.AppendResult(agg.BeginSearch(), results.Record{Value: "8.8.8.8", Info: "a, b"})
	agg.PushHistory(results.Record{Value: "old"})

	dir := t.TempDir()
	path, err := s.Export(context.Background(), true, export.FileSaver{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "results-2024-3-7.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "server-id,local-id,value,from,matched,info\n,,8.8.8.8,,,a -  b\n,,old,,,\n", string(data))

	_, err = s.Export(context.Background(), false, export.FileSaver{})
	require.NoError(t, err)
	assert.Equal(t, []string{"File saved to " + path, "File save was cancelled."}, agg.DrainErrors())
}

func TestUniqueName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "sample_1700000000123.bin", UniqueName("sample.bin", at))
	assert.Equal(t, "archive.tar_1700000000123.gz", UniqueName("archive.tar.gz", at))
	assert.Equal(t, "README_1700000000123", UniqueName("README", at))
}

func TestUpload(t *testing.T) {
	srv, _ := newEndpoint(t)
	s, _ := newSession(t, srv, Options{})
	s.now = func() time.Time { return time.UnixMilli(42) }

	path := filepath.Join(t.TempDir(), "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))

	rec, err := s.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "up-1", rec.ID)
	assert.Equal(t, "sample_42.bin", rec.Value)
	assert.Equal(t, []results.Record{rec}, s.Aggregator().Results())
	assert.Equal(t, []string{"uploaded sample_42.bin"}, s.Aggregator().DrainErrors())
}

func TestRectifyRefreshesCatalog(t *testing.T) {
	srv, _ := newEndpoint(t)
	s, _ := newSession(t, srv, Options{})

	msg, err := s.Rectify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "catalog rebuilt", msg)
	assert.Len(t, s.Catalog(), 3)
}

func TestPastSearchersText(t *testing.T) {
	assert.Equal(t, `No relevant past searches found for "8.8.8.8".`, PastSearchersText("8.8.8.8", nil))
	assert.Equal(t, `alice, bob; past searches for "8.8.8.8".`, PastSearchersText("8.8.8.8", []string{"alice", "bob"}))
}
