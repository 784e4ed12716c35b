package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/storage"
	"github.com/boerz-coding/camel/internal/storage/memory"
)

func TestRecordPersistsWithCancelledContext(t *testing.T) {
	store := memory.New()

	req := &domain.TokenCountRequest{
		Model: "gpt-4",
		Messages: []domain.Message{
			domain.SystemMessage("You are a helpful assistant."),
			domain.UserMessage("What's the weather in San Francisco?"),
		},
	}
	resp := &domain.TokenCountResponse{InputTokens: 31, Model: "gpt-4", RulesVersion: "openai-2025-01"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // simulate client disconnect

	id, err := Record(ctx, store, Meta{RequestID: "req-1", APIKey: "ci"}, req, resp)
	if err != nil || id == "" {
		t.Fatalf("Record() = %q, %v, want an id", id, err)
	}

	rec, err := store.GetUsage(context.Background(), id)
	if err != nil {
		t.Fatalf("expected usage to be stored, got error: %v", err)
	}
	if rec.RequestID != "req-1" || rec.Model != "gpt-4" {
		t.Errorf("record = %+v, want request req-1 for gpt-4", rec)
	}
	if rec.APIKey != "ci" {
		t.Errorf("APIKey = %q, want ci", rec.APIKey)
	}
	if rec.InputTokens != 31 || rec.MessageCount != 2 {
		t.Errorf("record = %+v, want 31 tokens over 2 messages", rec)
	}
	if rec.RulesVersion != "openai-2025-01" {
		t.Errorf("RulesVersion = %q, want openai-2025-01", rec.RulesVersion)
	}
}

type failingStore struct {
	storage.UsageStore
}

func (failingStore) RecordUsage(context.Context, *storage.UsageRecord) error {
	return errors.New("disk full")
}

func TestRecord_NoStoreOrFailure(t *testing.T) {
	req := &domain.TokenCountRequest{Model: "gpt-4"}
	resp := &domain.TokenCountResponse{InputTokens: 3}

	if id, err := Record(context.Background(), nil, Meta{}, req, resp); id != "" || err != nil {
		t.Errorf("Record(nil store) = %q, %v, want empty and nil", id, err)
	}
	if id, err := Record(context.Background(), failingStore{}, Meta{}, req, resp); id != "" || err == nil {
		t.Errorf("Record(failing store) = %q, %v, want empty and an error", id, err)
	}
}
