package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audited actions.
const (
	ActionSearch        = "search"
	ActionToggleService = "toggle_service"
	ActionExport        = "export"
	ActionClearHistory  = "clear_history"
	ActionUpload        = "upload"
	ActionProfile       = "profile_update"
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
}

// Auditor is implemented by stores that keep an action log.
type Auditor interface {
	LogAction(ctx context.Context, action, actor string, details map[string]interface{}) error
	GetAuditEntries(ctx context.Context, action string, limit int) ([]AuditEntry, error)
}

// AddAuditEntry adds an audit entry to the database
func (s *Store) AddAuditEntry(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Details == nil {
		entry.Details = map[string]interface{}{}
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `INSERT INTO audit_entries (id, action, actor, details, timestamp) VALUES (?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.Action, entry.Actor, string(detailsJSON), entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// LogAction records an action taken by actor
func (s *Store) LogAction(ctx context.Context, action, actor string, details map[string]interface{}) error {
	return s.AddAuditEntry(ctx, AuditEntry{Action: action, Actor: actor, Details: details})
}

// GetAuditEntries retrieves audit entries, newest first. An empty action
// matches every entry.
func (s *Store) GetAuditEntries(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, action, actor, details, timestamp FROM audit_entries`
	var args []interface{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var detailsJSON string
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &detailsJSON, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, timestamp)

		if err := json.Unmarshal([]byte(detailsJSON), &entry.Details); err != nil {
			entry.Details = map[string]interface{}{"raw": detailsJSON}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
