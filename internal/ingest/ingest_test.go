package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashfaaq98/ioc-console/internal/dispatch"
)

type recordingSearcher struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSearcher) Search(_ context.Context, text string) (*dispatch.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return &dispatch.Batch{}, nil
}

func (r *recordingSearcher) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestOneShotIngest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "8.8.8.8")
	writeFile(t, filepath.Join(dir, "b.LOG"), "evil.example.com")
	writeFile(t, filepath.Join(dir, "c.json"), `{"ignored":true}`)
	writeFile(t, filepath.Join(dir, "empty.txt"), "   \n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0755))

	s := &recordingSearcher{}
	var searched []string
	fi := NewFolderIngestor(s, FolderOptions{
		Dir: dir,
		OnSearched: func(path string, _ *dispatch.Batch) {
			searched = append(searched, filepath.Base(path))
		},
	})
	require.NoError(t, fi.Run(context.Background()))

	assert.ElementsMatch(t, []string{"8.8.8.8", "evil.example.com"}, s.seen())
	assert.ElementsMatch(t, []string{"a.txt", "b.LOG"}, searched)
	n, failed := fi.Stats()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, failed)
}

func TestMissingDir(t *testing.T) {
	fi := NewFolderIngestor(&recordingSearcher{}, FolderOptions{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, fi.Run(context.Background()))
}

func TestLogFilesAreTailed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.log")
	writeFile(t, path, "first 1.1.1.1\n")

	fi := NewFolderIngestor(&recordingSearcher{}, FolderOptions{Dir: dir})
	text, err := fi.read(path)
	require.NoError(t, err)
	assert.Equal(t, "first 1.1.1.1\n", text)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("second 2.2.2.2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	text, err = fi.read(path)
	require.NoError(t, err)
	assert.Equal(t, "second 2.2.2.2\n", text)

	// truncation restarts from the beginning
	writeFile(t, path, "new\n")
	text, err = fi.read(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", text)
}

func TestDue(t *testing.T) {
	fi := NewFolderIngestor(&recordingSearcher{}, FolderOptions{Dir: t.TempDir(), Debounce: time.Second})
	now := time.Now()
	fi.pending["old"] = now.Add(-2 * time.Second)
	fi.pending["fresh"] = now

	assert.Equal(t, []string{"old"}, fi.due(now))
	assert.Len(t, fi.pending, 1)
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	s := &recordingSearcher{}
	fi := NewFolderIngestor(s, FolderOptions{Dir: dir, Watch: true, Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fi.Run(ctx) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "drop.txt"), "d41d8cd98f00b204e9800998ecf8427e")

	assert.Eventually(t, func() bool {
		return len(s.seen()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHTTPIntake(t *testing.T) {
	dir := t.TempDir()
	srv, err := NewHTTPIntakeServer(HTTPIntakeOptions{Dir: dir, Token: "t0k"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	post := func(body, token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/ingest", strings.NewReader(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("8.8.8.8", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, post("   ", "t0k").StatusCode)
	assert.Equal(t, http.StatusAccepted, post("beacon to 8.8.8.8", "t0k").StatusCode)

	resp, err := ts.Client().Get(ts.URL + "/ingest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "beacon to 8.8.8.8", string(data))
}

func TestHTTPIntakeRateLimit(t *testing.T) {
	srv, err := NewHTTPIntakeServer(HTTPIntakeOptions{Dir: t.TempDir(), RPS: 1, Burst: 1})
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("x")))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusTooManyRequests}, codes)
}
