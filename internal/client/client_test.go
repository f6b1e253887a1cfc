package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashfaaq98/ioc-console/internal/service"
)

const testCredential = "analyst@example.com:secret"

type uploadChunk struct {
	Range    string
	Filename string
	Last     string
	Size     int
}

// mockEndpoint records what the client sent.
type mockEndpoint struct {
	mu      sync.Mutex
	lookups []LookupRequest
	logs    []map[string]string
	chunks  []uploadChunk
	updated []json.RawMessage
}

func newMockEndpoint(t *testing.T) (*httptest.Server, *mockEndpoint) {
	t.Helper()
	m := &mockEndpoint{}
	mux := http.NewServeMux()

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != testCredential {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, "bad credential")
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/pipe", auth(func(w http.ResponseWriter, r *http.Request) {
		var req LookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.lookups = append(m.lookups, req)
		m.mu.Unlock()
		if req.Value == "fail.example.com" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      101,
			"link":    "srv-1",
			"value":   req.Value,
			"from":    req.To,
			"matched": 2,
			"info":    "known bad",
			"unknown": true,
		})
	}))
	mux.HandleFunc("/user", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"email":"analyst@example.com","key":"secret","services":[{"kind":"vt","type":["md5"],"name":"<VT>"}]}`)
	}))
	mux.HandleFunc("/updateuser", auth(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.updated = append(m.updated, body)
		m.mu.Unlock()
		w.Write(body)
	}))
	mux.HandleFunc("/getservices", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"kind":"misp","type":["ipv4","domain"],"route_map":[{"type":"domain","route":"attr"}]},{"kind":"vt","type":["md5"]}]`)
	}))
	mux.HandleFunc("/rectify", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":"3 services repaired"}`)
	}))
	mux.HandleFunc("/events/", auth(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/events/")
		if id == "missing" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": id, "info": "event body"})
	}))
	mux.HandleFunc("/previous-responses", auth(func(w http.ResponseWriter, r *http.Request) {
		old := time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
		recent := time.Now().UTC().Format(time.RFC3339)
		json.NewEncoder(w).Encode([]map[string]string{
			{"from": "alice", "timestamp": old},
			{"from": "bob", "timestamp": recent},
			{"from": "alice", "timestamp": old},
			{"from": "", "timestamp": old},
		})
	}))
	mux.HandleFunc("/getresponses", auth(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<table>"+r.URL.RawQuery+"</table>")
	}))
	mux.HandleFunc("/logger", auth(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.logs = append(m.logs, body)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/upload", auth(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.chunks = append(m.chunks, uploadChunk{
			Range:    r.Header.Get("Content-Range"),
			Filename: r.Header.Get("X-filename"),
			Last:     r.Header.Get("X-last-chunk"),
			Size:     len(body),
		})
		m.mu.Unlock()
		if r.Header.Get("X-last-chunk") == "true" {
			io.WriteString(w, `{"id":"up-7","status":"sample.bin"}`)
			return
		}
		io.WriteString(w, `{}`)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, m
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Options{BaseURL: srv.URL + "/", Email: "analyst@example.com", Key: "secret", HTTPClient: srv.Client()}, nil)
}

func TestLookup(t *testing.T) {
	srv, mock := newMockEndpoint(t)
	c := newTestClient(srv)

	rec, err := c.Lookup(context.Background(), LookupRequest{To: "misp", Value: "8.8.8.8", Type: "ipv4", Route: "attr"})
	require.NoError(t, err)
	assert.Equal(t, "101", rec.ID)
	assert.Equal(t, "misp", rec.From)
	assert.Equal(t, 2.0, rec.Matched)

	require.Len(t, mock.lookups, 1)
	assert.Equal(t, LookupRequest{Username: "analyst@example.com", To: "misp", Value: "8.8.8.8", Type: "ipv4", Route: "attr"}, mock.lookups[0])
}

func TestLookupStatusError(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := newTestClient(srv)

	_, err := c.Lookup(context.Background(), LookupRequest{To: "misp", Value: "fail.example.com", Type: "domain"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestBadCredential(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := New(Options{BaseURL: srv.URL, Email: "x", Key: "y", HTTPClient: srv.Client()}, nil)

	_, err := c.Services(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, "bad credential", se.Body)
}

func TestUserRoundTrip(t *testing.T) {
	srv, mock := newMockEndpoint(t)
	c := newTestClient(srv)

	u, err := c.FetchUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analyst@example.com", u.Email)
	require.Len(t, u.Services, 1)
	assert.Equal(t, "VT", u.Services[0].Name)

	u.AddService(service.Descriptor{Kind: "misp"})
	echoed, err := c.UpdateUser(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, echoed.HasService("misp"))
	require.Len(t, mock.updated, 1)
	assert.Contains(t, string(mock.updated[0]), `"kind":"misp"`)
}

func TestServicesAndRectify(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := newTestClient(srv)

	list, err := c.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "attr", list[0].Route("domain"))

	msg, err := c.Rectify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3 services repaired", msg)
}

func TestServicesNotAList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":"nope"}`)
	}))
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, Email: "e", Key: "k", HTTPClient: srv.Client()}, nil)

	_, err := c.Services(context.Background())
	assert.ErrorIs(t, err, service.ErrNotList)
}

func TestDetails(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := newTestClient(srv)

	raw, err := c.Details(context.Background(), "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","info":"event body"}`, string(raw))

	_, err = c.Details(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = c.Details(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestPastSearchesAndRequesters(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := newTestClient(srv)

	past, err := c.PastSearches(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.Len(t, past, 4)
	assert.Equal(t, []string{"alice"}, Requesters(past, time.Now()))
}

func TestResponseCacheQuery(t *testing.T) {
	srv, _ := newMockEndpoint(t)
	c := newTestClient(srv)

	start, limit := 0, 25
	out, err := c.ResponseCache(context.Background(), CacheQuery{Vendor: "misp", Start: &start, Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, "<table>limit=25&start=0&vendor=misp</table>", out)

	out, err = c.ResponseCache(context.Background(), CacheQuery{})
	require.NoError(t, err)
	assert.Equal(t, "<table></table>", out)
}

func TestSendLog(t *testing.T) {
	srv, mock := newMockEndpoint(t)
	c := newTestClient(srv)

	require.NoError(t, c.SendLog(context.Background(), "hello"))
	require.Len(t, mock.logs, 1)
	assert.Equal(t, map[string]string{"username": "analyst@example.com", "message": "hello"}, mock.logs[0])

	assert.ErrorIs(t, c.SendLog(context.Background(), ""), ErrEmptyMessage)

	anon := New(Options{BaseURL: srv.URL, Key: "k", HTTPClient: srv.Client()}, nil)
	assert.ErrorIs(t, anon.SendLog(context.Background(), "x"), ErrNoEmail)
}

func TestUploadChunks(t *testing.T) {
	srv, mock := newMockEndpoint(t)
	c := newTestClient(srv)

	size := int64(ChunkSize*2 + 10)
	data := bytes.Repeat([]byte{0xAB}, int(size))
	var progress []int64

	rec, err := c.Upload(context.Background(), "my sample.bin", bytes.NewReader(data), size, func(sent, total int64) {
		assert.Equal(t, size, total)
		progress = append(progress, sent)
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{ChunkSize, 2 * ChunkSize, size}, progress)
	require.Len(t, mock.chunks, 3)
	assert.Equal(t, uploadChunk{Range: "bytes 0-1048575/2097162", Filename: "my%20sample.bin", Last: "false", Size: ChunkSize}, mock.chunks[0])
	assert.Equal(t, "bytes 2097152-2097161/2097162", mock.chunks[2].Range)
	assert.Equal(t, "true", mock.chunks[2].Last)
	assert.Equal(t, 10, mock.chunks[2].Size)

	assert.Equal(t, "up-7", rec.ID)
	assert.Equal(t, "uploader service", rec.From)
	assert.Equal(t, "none", rec.Link)
	assert.Equal(t, "my sample.bin", rec.Value)
	assert.Equal(t, "has-background-success", rec.Background)
	assert.Equal(t, "sample.bin uploaded! the end service may still be processing the file.", rec.Info)
}

func TestUploadEmpty(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1/", Email: "e", Key: "k"}, nil)
	_, err := c.Upload(context.Background(), "x", bytes.NewReader(nil), 0, nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestConfigured(t *testing.T) {
	assert.True(t, New(Options{Key: "k"}, nil).Configured(), "base URL falls back to the default")
	assert.False(t, New(Options{BaseURL: "http://x"}, nil).Configured())
}
