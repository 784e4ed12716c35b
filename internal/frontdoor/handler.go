// Package frontdoor serves the token counting HTTP API.
package frontdoor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/boerz-coding/camel/internal/auth"
	"github.com/boerz-coding/camel/internal/budget"
	"github.com/boerz-coding/camel/internal/codec"
	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/metrics"
	"github.com/boerz-coding/camel/internal/server"
	"github.com/boerz-coding/camel/internal/storage"
	"github.com/boerz-coding/camel/internal/tokens"
	"github.com/boerz-coding/camel/internal/usage"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 8 << 20

// MaxListLimit caps the usage listing page size.
const MaxListLimit = 1000

// Config wires a Handler. Store may be nil to disable the usage ledger,
// Metrics may be nil to skip instrumentation and Auth may be nil to leave
// the API open.
type Config struct {
	Counter budget.Counter
	Rules   *tokens.RuleSet
	Checker *budget.Checker
	Store   storage.UsageStore
	Metrics *metrics.Metrics
	Auth    *auth.Authenticator
}

type Handler struct {
	counter budget.Counter
	rules   *tokens.RuleSet
	checker *budget.Checker
	store   storage.UsageStore
	metrics *metrics.Metrics
	auth    *auth.Authenticator
	logger  *slog.Logger
}

func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	checker := cfg.Checker
	if checker == nil {
		checker = budget.NewChecker(cfg.Counter, 0)
	}
	return &Handler{
		counter: cfg.Counter,
		rules:   cfg.Rules,
		checker: checker,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		auth:    cfg.Auth,
		logger:  logger,
	}
}

// Mount registers the /v1/tokens routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1/tokens", func(r chi.Router) {
		r.Use(server.AuthMiddleware(h.auth))
		r.Post("/count", h.HandleCount)
		r.Post("/budget", h.HandleBudget)
		r.Get("/models", h.HandleListModels)
		r.Get("/usage", h.HandleListUsage)
		r.Get("/usage/{id}", h.HandleGetUsage)
	})
}

// CountRequest is the body of /v1/tokens/count. Unknown fields such as
// temperature are ignored so a full chat completion request can be sent as-is.
// The legacy functions and function_call fields change the prompt, so they
// are decoded and rejected instead.
type CountRequest struct {
	Model        string                  `json:"model"`
	Messages     []domain.Message        `json:"messages"`
	Tools        []domain.ToolDefinition `json:"tools,omitempty"`
	Functions    json.RawMessage         `json:"functions,omitempty"`
	FunctionCall json.RawMessage         `json:"function_call,omitempty"`
}

// BudgetRequest is the body of /v1/tokens/budget.
type BudgetRequest struct {
	CountRequest
	// MaxCompletionTokens is the completion budget to reserve; omitted
	// selects the configured default.
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`
}

func (req *CountRequest) toDomain() (*domain.TokenCountRequest, error) {
	if req.Model == "" {
		return nil, domain.ErrInvalidRequest("model is required").WithParam("model")
	}
	out := &domain.TokenCountRequest{
		Model:        req.Model,
		Messages:     req.Messages,
		Tools:        req.Tools,
		Functions:    req.Functions,
		FunctionCall: req.FunctionCall,
	}
	if err := out.CheckLegacyFields(); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	var body CountRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "model", req.Model)

	resp, err := h.counter.CountTokens(r.Context(), req)
	if err != nil {
		h.metrics.ObserveCount(h.modelLabel(req.Model), outcome(err), 0, false)
		h.fail(w, r, err)
		return
	}
	h.metrics.ObserveCount(h.modelLabel(req.Model), metrics.OutcomeOK, resp.InputTokens, resp.Estimated)
	server.AddLogField(r.Context(), "input_tokens", strconv.Itoa(resp.InputTokens))

	meta := usage.Meta{RequestID: server.GetRequestID(r.Context())}
	if key, ok := server.GetAPIKey(r.Context()); ok {
		meta.APIKey = key.Description
	}
	if _, err := usage.Record(r.Context(), h.store, meta, req, resp); err != nil {
		h.metrics.ObserveRecordFailure()
	}

	server.SetTokenUsage(r.Context(), server.TokenUsage{
		InputTokens:  resp.InputTokens,
		RulesVersion: resp.RulesVersion,
		Estimated:    resp.Estimated,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	var body BudgetRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reserve := -1
	if body.MaxCompletionTokens != nil {
		if *body.MaxCompletionTokens < 0 {
			h.fail(w, r, domain.ErrInvalidRequest("max_completion_tokens must be >= 0").
				WithParam("max_completion_tokens"))
			return
		}
		reserve = *body.MaxCompletionTokens
	}
	server.AddLogField(r.Context(), "model", req.Model)

	report, err := h.checker.Check(r.Context(), req, reserve)
	switch {
	case err == nil:
		h.metrics.ObserveCount(h.modelLabel(req.Model), metrics.OutcomeOK, report.InputTokens, report.Estimated)
	case report != nil:
		h.metrics.ObserveCount(h.modelLabel(req.Model), metrics.OutcomeOverflow, report.InputTokens, report.Estimated)
	default:
		h.metrics.ObserveCount(h.modelLabel(req.Model), outcome(err), 0, false)
	}
	if report != nil {
		server.AddLogField(r.Context(), "input_tokens", strconv.Itoa(report.InputTokens))
		remaining := report.Remaining
		server.SetTokenUsage(r.Context(), server.TokenUsage{
			InputTokens:   report.InputTokens,
			ContextWindow: report.ContextWindow,
			Remaining:     &remaining,
			RulesVersion:  report.RulesVersion,
			Estimated:     report.Estimated,
		})
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ModelRule describes one counting rule in the models listing.
type ModelRule struct {
	Name                    string   `json:"name"`
	Models                  []string `json:"models,omitempty"`
	Prefixes                []string `json:"prefixes,omitempty"`
	Encoding                string   `json:"encoding"`
	TokensPerMessage        int      `json:"tokens_per_message"`
	TokensPerName           int      `json:"tokens_per_name"`
	TokensPerToolCall       int      `json:"tokens_per_tool_call"`
	TokensPerToolDefinition int      `json:"tokens_per_tool_definition"`
	ReplyPriming            int      `json:"reply_priming"`
	ContextWindow           int      `json:"context_window,omitempty"`
}

// ModelList is the /v1/tokens/models response.
type ModelList struct {
	Object       string      `json:"object"`
	RulesVersion string      `json:"rules_version"`
	Data         []ModelRule `json:"data"`
}

func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		h.fail(w, r, domain.ErrNotFound("no counting rules are configured"))
		return
	}

	rules := h.rules.Rules()
	list := ModelList{
		Object:       "list",
		RulesVersion: h.rules.Version(),
		Data:         make([]ModelRule, 0, len(rules)),
	}
	for _, rule := range rules {
		list.Data = append(list.Data, ModelRule{
			Name:                    rule.Name,
			Models:                  rule.Models,
			Prefixes:                rule.Prefixes,
			Encoding:                string(rule.Encoding),
			TokensPerMessage:        rule.TokensPerMessage,
			TokensPerName:           rule.TokensPerName,
			TokensPerToolCall:       rule.TokensPerToolCall,
			TokensPerToolDefinition: rule.TokensPerToolDefinition,
			ReplyPriming:            rule.ReplyPriming,
			ContextWindow:           rule.ContextWindow,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// UsageList is the /v1/tokens/usage response.
type UsageList struct {
	Object string                 `json:"object"`
	Data   []*storage.UsageRecord `json:"data"`
}

func (h *Handler) HandleListUsage(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.fail(w, r, domain.ErrNotFound("usage recording is disabled"))
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	records, err := h.store.ListUsage(r.Context(), storage.ListOptions{
		Model:  q.Get("model"),
		APIKey: q.Get("api_key"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*storage.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, UsageList{Object: "list", Data: records})
}

func (h *Handler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.fail(w, r, domain.ErrNotFound("usage recording is disabled"))
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetUsage(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.fail(w, r, domain.ErrNotFound(fmt.Sprintf("usage record %q not found", id)).WithParam("id"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// modelLabel maps a model to its rule name, keeping metric cardinality bounded
// by the rule table rather than by what clients send.
func (h *Handler) modelLabel(model string) string {
	if h.rules != nil {
		if rule, err := h.rules.Lookup(model); err == nil {
			return rule.Name
		}
	}
	return "other"
}

// outcome classifies a counting error for metrics.
func outcome(err error) string {
	switch apiErr := codec.ToCanonicalError(err); {
	case apiErr.Code == domain.ErrorCodeModelNotFound:
		return metrics.OutcomeUnknown
	case apiErr.Code == domain.ErrorCodeContextLengthExceeded:
		return metrics.OutcomeOverflow
	case apiErr.Type == domain.ErrorTypeInvalidRequest:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := codec.ToCanonicalError(err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.Error("token request failed",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	server.AddError(r.Context(), err)
	codec.WriteError(w, apiErr)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return domain.ErrInvalidRequest("invalid JSON body: " + err.Error()).WithCause(err)
	}
	return nil
}

func queryInt(raw, param string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidRequest(fmt.Sprintf("%s must be a non-negative integer", param)).
			WithParam(param)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
