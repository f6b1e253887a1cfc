// Package app holds one analyst session: the persisted profile, the service
// catalog, and the search pipeline from text to dispatched lookups.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/client"
	"github.com/Ashfaaq98/ioc-console/internal/dispatch"
	"github.com/Ashfaaq98/ioc-console/internal/export"
	"github.com/Ashfaaq98/ioc-console/internal/extract"
	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
	"github.com/Ashfaaq98/ioc-console/internal/store"
)

// ErrNotConfigured is returned by operations that need a credential and an
// endpoint before either has been set.
var ErrNotConfigured = client.ErrNotConfigured

// Options configures a Session.
type Options struct {
	Store store.KV
	// Publisher receives every accepted lookup result. Optional.
	Publisher dispatch.Publisher
	// AllCapable dispatches to every catalog service that accepts a kind
	// instead of only the services the user enabled.
	AllCapable bool
	MaxJobs    int
	Timeout    time.Duration
	Insecure   bool
	// HTTPClient overrides the transport built from Timeout and Insecure.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Session is the explicit state of one analyst session.
type Session struct {
	kv         store.KV
	agg        *results.Aggregator
	disp       *dispatch.Dispatcher
	httpClient *http.Client
	allCapable bool
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	apiURL  string
	user    service.User
	catalog []service.Descriptor

	batchMu sync.Mutex
	pending map[*dispatch.Batch]struct{}
}

// New creates a session backed by opts.Store. Call Init before use.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = client.NewHTTPClient(opts.Timeout, opts.Insecure)
	}
	s := &Session{
		kv:         opts.Store,
		httpClient: hc,
		allCapable: opts.AllCapable,
		logger:     logger.Named("app"),
		now:        time.Now,
		apiURL:     client.DefaultBaseURL,
		pending:    map[*dispatch.Batch]struct{}{},
	}
	s.agg = results.NewAggregator(store.HistorySink{KV: opts.Store}, logger)
	s.disp = dispatch.New(s, s.agg, dispatch.Options{
		MaxJobs:   opts.MaxJobs,
		Publisher: opts.Publisher,
	}, logger)
	return s
}

// Aggregator exposes the session's results, history and error log.
func (s *Session) Aggregator() *results.Aggregator { return s.agg }

// APIURL returns the configured endpoint.
func (s *Session) APIURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiURL
}

// User returns a copy of the analyst profile.
func (s *Session) User() service.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user
	u.Services = append([]service.Descriptor(nil), s.user.Services...)
	return u
}

// Catalog returns the last fetched service catalog with Selected reflecting
// the user's enabled services.
func (s *Session) Catalog() []service.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return service.MarkSelected(s.catalog, s.user)
}

// Configured reports whether searches can be dispatched.
func (s *Session) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Key != "" && s.apiURL != ""
}

func (s *Session) client() *client.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return client.New(client.Options{
		BaseURL:    s.apiURL,
		Email:      s.user.Email,
		Key:        s.user.Key,
		HTTPClient: s.httpClient,
	}, s.logger)
}

// Init loads the persisted endpoint, profile and history, then refreshes the
// profile and catalog from the endpoint when a credential is present. Failures
// are reported through the error log; Init itself only fails on a cancelled
// context.
func (s *Session) Init(ctx context.Context) error {
	var apiURL string
	if _, err := s.kv.Get(ctx, store.KeyAPIURL, &apiURL); err != nil {
		s.agg.AddError(fmt.Errorf("Error reading API URL: %w", err))
	}
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}

	var u service.User
	if _, err := s.kv.Get(ctx, store.KeyUser, &u); err != nil {
		s.agg.AddError(fmt.Errorf("Error reading user: %w", err))
	}

	s.mu.Lock()
	s.apiURL = apiURL
	s.user = u
	s.mu.Unlock()

	if history, err := store.LoadHistory(ctx, s.kv); err != nil {
		s.agg.AddError(fmt.Errorf("Error fetching history: %w", err))
	} else {
		s.agg.SetHistory(history)
	}

	if !u.Configured() {
		s.logger.Info("no credential configured")
		return ctx.Err()
	}
	if err := s.fetchUser(ctx); err != nil {
		s.agg.AddError(err)
	}
	if err := s.RefreshServices(ctx); err != nil {
		s.logger.Debug("service refresh failed", zap.Error(err))
	}
	return ctx.Err()
}

func (s *Session) fetchUser(ctx context.Context) error {
	remote, err := s.client().FetchUser(ctx)
	if err != nil {
		return err
	}
	s.mergeUser(remote)
	return nil
}

// mergeUser adopts the profile echoed by the endpoint, keeping the local
// credential when the echo omits it.
func (s *Session) mergeUser(remote service.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remote.Email == "" {
		remote.Email = s.user.Email
	}
	if remote.Key == "" {
		remote.Key = s.user.Key
	}
	s.user = remote
}

// SetUserData stores a new credential and endpoint.
func (s *Session) SetUserData(ctx context.Context, email, key, apiURL string) error {
	s.mu.Lock()
	s.user.Email = strings.TrimSpace(email)
	s.user.Key = strings.TrimSpace(key)
	s.apiURL = strings.TrimSpace(apiURL)
	u, url := s.user, s.apiURL
	s.mu.Unlock()

	if err := s.kv.Set(ctx, store.KeyUser, u); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeyAPIURL, url); err != nil {
		return fmt.Errorf("saving API URL: %w", err)
	}
	s.logger.Info("user data saved", zap.String("url", url))
	s.audit(ctx, store.ActionProfile, map[string]interface{}{"url": url})
	return nil
}

// Lookup satisfies dispatch.Lookuper with the session's current credential.
func (s *Session) Lookup(ctx context.Context, req client.LookupRequest) (results.Record, error) {
	return s.client().Lookup(ctx, req)
}

// Search extracts indicators from text and dispatches lookups for them. The
// returned batch may be waited on; the TUI never does.
func (s *Session) Search(ctx context.Context, text string) (*dispatch.Batch, error) {
	if !s.Configured() {
		s.agg.AddError(ErrNotConfigured)
		return nil, ErrNotConfigured
	}

	epoch := s.agg.BeginSearch()
	res := extract.Extract(text)

	s.mu.RLock()
	services := append([]service.Descriptor(nil), s.user.Services...)
	if s.allCapable {
		services = service.Capable(s.catalog, extract.Kinds()...)
	}
	s.mu.RUnlock()

	jobs := dispatch.Plan(res, services)
	batch := s.disp.Dispatch(ctx, epoch, jobs)
	s.track(batch)

	s.logger.Info("search dispatched",
		zap.String("epoch", string(epoch)),
		zap.Int("indicators", res.Count()),
		zap.Int("services", len(services)),
		zap.Int("jobs", len(jobs)))
	s.audit(ctx, store.ActionSearch, map[string]interface{}{
		"epoch":      string(epoch),
		"indicators": res.Count(),
		"jobs":       len(jobs),
	})
	return batch, nil
}

func (s *Session) track(b *dispatch.Batch) {
	s.batchMu.Lock()
	s.pending[b] = struct{}{}
	s.batchMu.Unlock()
	go func() {
		b.Wait()
		s.batchMu.Lock()
		delete(s.pending, b)
		s.batchMu.Unlock()
	}()
}

// Drain waits until every batch dispatched by Search has finished, or until
// ctx ends. Cancel the searches' context first to make it quick.
func (s *Session) Drain(ctx context.Context) error {
	for {
		s.batchMu.Lock()
		batches := make([]*dispatch.Batch, 0, len(s.pending))
		for b := range s.pending {
			batches = append(batches, b)
		}
		s.batchMu.Unlock()
		if len(batches) == 0 {
			return nil
		}

		done := make(chan struct{})
		go func() {
			for _, b := range batches {
				b.Wait()
			}
			close(done)
		}()
		select {
		case <-done:
			s.batchMu.Lock()
			for _, b := range batches {
				delete(s.pending, b)
			}
			s.batchMu.Unlock()
		case <-ctx.Done():
			return fmt.Errorf("%d searches still running: %w", len(batches), ctx.Err())
		}
	}
}

// RefreshServices reloads the service catalog.
func (s *Session) RefreshServices(ctx context.Context) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	catalog, err := s.client().Services(ctx)
	if err != nil {
		s.agg.AddError(err)
		return err
	}
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	return nil
}

// ToggleService enables or disables the catalog service kind and pushes the
// updated profile to the endpoint. It reports whether the service is now
// enabled.
func (s *Session) ToggleService(ctx context.Context, kind string) (bool, error) {
	s.mu.Lock()
	var enabled bool
	if s.user.HasService(kind) {
		s.user.RemoveService(kind)
	} else {
		var found *service.Descriptor
		for i := range s.catalog {
			if s.catalog[i].Kind == kind {
				found = &s.catalog[i]
				break
			}
		}
		if found == nil {
			s.mu.Unlock()
			return false, fmt.Errorf("unknown service %q", kind)
		}
		s.user.AddService(*found)
		enabled = true
	}
	u := s.user
	s.mu.Unlock()

	if err := s.kv.Set(ctx, store.KeyUser, u); err != nil {
		s.agg.AddError(fmt.Errorf("saving user: %w", err))
	}
	s.audit(ctx, store.ActionToggleService, map[string]interface{}{"service": kind, "enabled": enabled})

	remote, err := s.client().UpdateUser(ctx, u)
	if err != nil {
		s.agg.AddError(err)
		return enabled, err
	}
	s.mergeUser(remote)
	return enabled, nil
}

// Export writes the current results, and the history when includeHistory is
// set, as CSV through saver. The outcome is reported through the error log.
func (s *Session) Export(ctx context.Context, includeHistory bool, saver export.Saver) (string, error) {
	records := s.agg.Results()
	if includeHistory {
		records = append(records, s.agg.History()...)
	}
	content, err := export.CSV(records)
	if err != nil {
		s.agg.AddError(err)
		return "", err
	}
	path, ok, err := saver.Save(ctx, export.Filename(s.now()), content)
	if err != nil {
		s.agg.AddError(err)
		return "", err
	}
	if !ok {
		s.agg.AddMessage("File save was cancelled.")
		return "", nil
	}
	s.agg.AddMessage("File saved to " + path)
	s.audit(ctx, store.ActionExport, map[string]interface{}{"path": path, "records": len(records)})
	return path, nil
}

// Details fetches the raw event behind a result id.
func (s *Session) Details(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		s.agg.AddError(client.ErrMissingID)
		return nil, client.ErrMissingID
	}
	raw, err := s.client().Details(ctx, id)
	if err != nil {
		s.agg.AddError(err)
		return nil, err
	}
	return raw, nil
}

// PastSearchers returns who else looked up value more than a minute ago.
func (s *Session) PastSearchers(ctx context.Context, value string) ([]string, error) {
	past, err := s.client().PastSearches(ctx, value)
	if err != nil {
		s.agg.AddError(err)
		return nil, err
	}
	return client.Requesters(past, s.now()), nil
}

// PastSearchersText renders the notification shown for PastSearchers.
func PastSearchersText(value string, users []string) string {
	if len(users) == 0 {
		return fmt.Sprintf("No relevant past searches found for %q.", value)
	}
	return fmt.Sprintf("%s; past searches for %q.", strings.Join(users, ", "), value)
}

// Rectify asks the endpoint to reconcile its catalog, then reloads it.
func (s *Session) Rectify(ctx context.Context) (string, error) {
	if !s.Configured() {
		s.agg.AddError(ErrNotConfigured)
		return "", ErrNotConfigured
	}
	msg, err := s.client().Rectify(ctx)
	if err != nil {
		s.agg.AddError(err)
		return "", err
	}
	s.agg.AddMessage(msg)
	if err := s.RefreshServices(ctx); err != nil {
		return msg, err
	}
	return msg, nil
}

// UniqueName appends the upload time in Unix milliseconds to name, before
// the extension when there is one.
func UniqueName(name string, t time.Time) string {
	ms := t.UnixMilli()
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return fmt.Sprintf("%s_%d", name, ms)
	}
	return fmt.Sprintf("%s_%d%s", name[:i], ms, name[i:])
}

// Upload sends the file at path to the endpoint's uploader and adds the
// uploader's acknowledgement to the current results.
func (s *Session) Upload(ctx context.Context, path string) (results.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		s.agg.AddError(err)
		return results.Record{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		s.agg.AddError(err)
		return results.Record{}, err
	}

	name := UniqueName(filepath.Base(path), s.now())
	c := s.client()
	rec, err := c.Upload(ctx, name, f, st.Size(), func(sent, total int64) {
		if sent < total {
			s.agg.AddMessage(fmt.Sprintf("Uploading %s: %d%%", name, percent(sent, total)))
		}
	})
	if err != nil {
		s.agg.AddError(fmt.Errorf("Error uploading chunk: %w", err))
		if logErr := c.SendLog(ctx, "Error uploading chunk: "+err.Error()); logErr != nil {
			s.logger.Debug("failed to forward upload error", zap.Error(logErr))
		}
		return results.Record{}, err
	}

	s.agg.AddMessage("uploaded " + name)
	s.agg.AppendResult(s.agg.Epoch(), rec)
	s.audit(ctx, store.ActionUpload, map[string]interface{}{"file": name, "id": rec.ID})
	return rec, nil
}

func percent(sent, total int64) int64 {
	if total <= 0 {
		return 100
	}
	return (sent*100 + total - 1) / total
}

// SendLog forwards message to the endpoint's log.
func (s *Session) SendLog(ctx context.Context, message string) error {
	if err := s.client().SendLog(ctx, message); err != nil {
		s.agg.AddError(fmt.Errorf("Error sending log: %w", err))
		return err
	}
	return nil
}

// ResponseCache returns the endpoint's cached responses.
func (s *Session) ResponseCache(ctx context.Context, q client.CacheQuery) (string, error) {
	if !s.Configured() {
		s.agg.AddError(ErrNotConfigured)
		return "", ErrNotConfigured
	}
	out, err := s.client().ResponseCache(ctx, q)
	if err != nil {
		s.agg.AddError(err)
		return "", err
	}
	return out, nil
}

// ClearResults empties the current result set.
func (s *Session) ClearResults() {
	s.agg.ClearResults()
}

// ClearHistory empties and persists the history.
func (s *Session) ClearHistory(ctx context.Context) error {
	if err := s.agg.ClearHistory(ctx); err != nil {
		return err
	}
	s.audit(ctx, store.ActionClearHistory, nil)
	return nil
}

// audit records action when the store keeps an audit log.
func (s *Session) audit(ctx context.Context, action string, details map[string]interface{}) {
	a, ok := s.kv.(store.Auditor)
	if !ok {
		return
	}
	s.mu.RLock()
	actor := s.user.Email
	s.mu.RUnlock()
	if err := a.LogAction(ctx, action, actor, details); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
