// Package usage writes counted requests to the usage ledger.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/storage"
)

// PersistTimeout bounds a single ledger write.
const PersistTimeout = 5 * time.Second

// Meta identifies who made a counted request.
type Meta struct {
	RequestID string
	// APIKey is the description of the authenticated key, if any.
	APIKey string
}

// Record stores one usage entry for a counted request and returns its ID.
// Failures are logged and returned for the caller to count; they should not
// fail the request path. A nil store records nothing and returns "", nil.
func Record(ctx context.Context, store storage.UsageStore, meta Meta, req *domain.TokenCountRequest, resp *domain.TokenCountResponse) (string, error) {
	if store == nil || req == nil || resp == nil {
		return "", nil
	}

	logger := slog.Default()
	// A client disconnect cancels ctx; the ledger entry should still land.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	rec := &storage.UsageRecord{
		ID:           "usage_" + uuid.New().String(),
		RequestID:    meta.RequestID,
		Model:        req.Model,
		InputTokens:  resp.InputTokens,
		MessageCount: len(req.Messages),
		Estimated:    resp.Estimated,
		RulesVersion: resp.RulesVersion,
		APIKey:       meta.APIKey,
		CreatedAt:    time.Now().UTC(),
	}

	if err := store.RecordUsage(persistCtx, rec); err != nil {
		logger.Error("failed to record usage",
			slog.String("request_id", meta.RequestID),
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return rec.ID, nil
}
