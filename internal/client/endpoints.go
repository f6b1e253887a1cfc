package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
)

var (
	ErrMissingID    = errors.New("no ID provided for fetching details")
	ErrEmptyMessage = errors.New("log message is empty")
	ErrNoEmail      = errors.New("user email is not set")
)

// LookupRequest is the payload of one indicator lookup.
type LookupRequest struct {
	Username string `json:"username"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Type     string `json:"type"`
	Route    string `json:"route"`
}

// Lookup submits one literal to the service named in req.To.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (results.Record, error) {
	if req.Username == "" {
		req.Username = c.email
	}
	target, err := c.endpoint("pipe")
	if err != nil {
		return results.Record{}, err
	}
	payload, err := c.makeRequest(ctx, http.MethodPost, target, req, nil)
	if err != nil {
		return results.Record{}, fmt.Errorf("lookup %s via %s: %w", req.Value, req.To, err)
	}
	rec, err := results.DecodeRecord(payload)
	if err != nil {
		return results.Record{}, fmt.Errorf("lookup %s via %s: %w", req.Value, req.To, err)
	}
	return rec, nil
}

// FetchUser loads the analyst profile.
func (c *Client) FetchUser(ctx context.Context) (service.User, error) {
	target, err := c.endpoint("user")
	if err != nil {
		return service.User{}, err
	}
	payload, err := c.makeRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return service.User{}, fmt.Errorf("fetching user: %w", err)
	}
	return decodeUser(payload)
}

// UpdateUser stores u remotely and returns the profile the endpoint echoes back.
func (c *Client) UpdateUser(ctx context.Context, u service.User) (service.User, error) {
	target, err := c.endpoint("updateuser")
	if err != nil {
		return service.User{}, err
	}
	payload, err := c.makeRequest(ctx, http.MethodPost, target, u, nil)
	if err != nil {
		return service.User{}, fmt.Errorf("updating user: %w", err)
	}
	return decodeUser(payload)
}

func decodeUser(payload []byte) (service.User, error) {
	if !gjson.ValidBytes(payload) {
		return service.User{}, errors.New("user response is not JSON")
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return service.User{}, errors.New("user response is not an object")
	}
	u := service.User{
		Email: doc.Get("email").String(),
		Key:   doc.Get("key").String(),
	}
	if s := doc.Get("services"); s.IsArray() {
		list, err := service.SanitizeList([]byte(s.Raw))
		if err != nil {
			return service.User{}, err
		}
		u.Services = list
	}
	return u, nil
}

// Services fetches the service catalog.
func (c *Client) Services(ctx context.Context) ([]service.Descriptor, error) {
	target, err := c.endpoint("getservices")
	if err != nil {
		return nil, err
	}
	payload, err := c.makeRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching services: %w", err)
	}
	list, err := service.SanitizeList(payload)
	if err != nil {
		return nil, fmt.Errorf("error fetching services: %w: %s", err, payload)
	}
	return list, nil
}

// Rectify asks the endpoint to reconcile its service catalog and returns the
// endpoint's message.
func (c *Client) Rectify(ctx context.Context) (string, error) {
	target, err := c.endpoint("rectify")
	if err != nil {
		return "", err
	}
	payload, err := c.makeRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return "", fmt.Errorf("error rectifying services: %w", err)
	}
	if msg := gjson.GetBytes(payload, "message").String(); msg != "" {
		return msg, nil
	}
	return "Services rectified successfully.", nil
}

// Details fetches the raw event behind a result id.
func (c *Client) Details(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	target, err := c.endpoint("events", id)
	if err != nil {
		return nil, err
	}
	payload, err := c.makeRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching details for ID %s: %w", id, err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("error fetching details for ID %s: response is not JSON", id)
	}
	return json.RawMessage(payload), nil
}

// PastSearch is one earlier lookup of a value by any analyst.
type PastSearch struct {
	From      string    `json:"from"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PastSearches lists who looked up value before.
func (c *Client) PastSearches(ctx context.Context, value string) ([]PastSearch, error) {
	target, err := c.endpoint("previous-responses")
	if err != nil {
		return nil, err
	}
	payload, err := c.makeRequest(ctx, http.MethodPost, target, map[string]string{"value": value}, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching past searches: %w", err)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsArray() {
		return []PastSearch{}, nil
	}
	out := make([]PastSearch, 0)
	doc.ForEach(func(_, v gjson.Result) bool {
		out = append(out, PastSearch{
			From:      v.Get("from").String(),
			Value:     v.Get("value").String(),
			Timestamp: parseTimestamp(v.Get("timestamp")),
		})
		return true
	})
	return out, nil
}

func parseTimestamp(v gjson.Result) time.Time {
	if v.Type == gjson.Number {
		return time.UnixMilli(v.Int())
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Requesters returns the distinct, non-empty requesters of searches older than
// a minute, in first-seen order.
func Requesters(past []PastSearch, now time.Time) []string {
	cutoff := now.Add(-time.Minute)
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range past {
		if p.Timestamp.IsZero() || !p.Timestamp.Before(cutoff) || p.From == "" {
			continue
		}
		if _, dup := seen[p.From]; dup {
			continue
		}
		seen[p.From] = struct{}{}
		out = append(out, p.From)
	}
	return out
}

// CacheQuery filters ResponseCache. Nil fields are omitted from the query.
type CacheQuery struct {
	Vendor string
	Start  *int
	Limit  *int
}

// ResponseCache returns the endpoint's cached responses as text.
func (c *Client) ResponseCache(ctx context.Context, q CacheQuery) (string, error) {
	target, err := c.endpoint("getresponses")
	if err != nil {
		return "", err
	}
	params := url.Values{}
	if q.Vendor != "" {
		params.Set("vendor", q.Vendor)
	}
	if q.Start != nil {
		params.Set("start", strconv.Itoa(*q.Start))
	}
	if q.Limit != nil {
		params.Set("limit", strconv.Itoa(*q.Limit))
	}
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	payload, err := c.makeRequest(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return "", fmt.Errorf("error fetching response cache: %w", err)
	}
	return string(payload), nil
}

// SendLog forwards an operational message to the endpoint's log.
func (c *Client) SendLog(ctx context.Context, message string) error {
	if c.email == "" {
		return ErrNoEmail
	}
	if message == "" {
		return ErrEmptyMessage
	}
	target, err := c.endpoint("logger")
	if err != nil {
		return err
	}
	body := map[string]string{"username": c.email, "message": message}
	if _, err := c.makeRequest(ctx, http.MethodPost, target, body, nil); err != nil {
		return fmt.Errorf("error sending log: %w", err)
	}
	return nil
}
