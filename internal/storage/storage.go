// Package storage defines the usage ledger that records token counts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a usage record does not exist.
var ErrNotFound = errors.New("storage: not found")

// UsageRecord is one counted request.
type UsageRecord struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	MessageCount int       `json:"message_count"`
	Estimated    bool      `json:"estimated,omitempty"`
	RulesVersion string    `json:"rules_version,omitempty"`
	// APIKey is the description of the key that made the request.
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions defines options for listing usage records.
type ListOptions struct {
	// Model filters by exact model name when set.
	Model string
	// APIKey filters by key description when set.
	APIKey string
	Limit  int
	Offset int
}

// DefaultListLimit applies when ListOptions.Limit is zero.
const DefaultListLimit = 100

// UsageStore persists usage records.
type UsageStore interface {
	// RecordUsage stores rec. An empty ID is filled in and a zero CreatedAt
	// is set to the current time.
	RecordUsage(ctx context.Context, rec *UsageRecord) error

	// GetUsage returns the record with id or ErrNotFound.
	GetUsage(ctx context.Context, id string) (*UsageRecord, error)

	// ListUsage returns records newest first.
	ListUsage(ctx context.Context, opts ListOptions) ([]*UsageRecord, error)

	// Close closes the storage connection
	Close() error
}
