package server

import (
	"context"
	"net/http"
	"strconv"
)

// TokenUsage is what a handler learned about a request's token footprint.
// Zero fields are not reported.
type TokenUsage struct {
	InputTokens   int
	ContextWindow int
	Remaining     *int
	RulesVersion  string
	Estimated     bool
}

type tokenUsageKey struct{}

// SetTokenUsage records usage for TokenHeadersMiddleware to write. It must be
// called before the handler writes its response. No-op without the middleware.
func SetTokenUsage(ctx context.Context, usage TokenUsage) {
	if slot, ok := ctx.Value(tokenUsageKey{}).(*TokenUsage); ok {
		*slot = usage
	}
}

// TokenHeadersMiddleware writes x-tokens-* response headers from the usage a
// handler recorded with SetTokenUsage, so clients can read counts without
// parsing the body.
func TokenHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usage := &TokenUsage{}
		ctx := context.WithValue(r.Context(), tokenUsageKey{}, usage)
		wrapped := &tokenHeaderWriter{ResponseWriter: w, usage: usage}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
	})
}

// tokenHeaderWriter injects headers on the first WriteHeader or Write.
type tokenHeaderWriter struct {
	http.ResponseWriter
	usage        *TokenUsage
	wroteHeaders bool
}

func (rw *tokenHeaderWriter) WriteHeader(code int) {
	rw.writeTokenHeaders()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *tokenHeaderWriter) Write(b []byte) (int, error) {
	rw.writeTokenHeaders()
	return rw.ResponseWriter.Write(b)
}

func (rw *tokenHeaderWriter) writeTokenHeaders() {
	if rw.wroteHeaders {
		return
	}
	rw.wroteHeaders = true

	u := rw.usage
	h := rw.Header()
	if u.InputTokens > 0 {
		h.Set("x-tokens-input", strconv.Itoa(u.InputTokens))
	}
	if u.ContextWindow > 0 {
		h.Set("x-tokens-context-window", strconv.Itoa(u.ContextWindow))
	}
	// Remaining may legitimately be zero or negative.
	if u.Remaining != nil {
		h.Set("x-tokens-remaining", strconv.Itoa(*u.Remaining))
	}
	if u.RulesVersion != "" {
		h.Set("x-tokens-rules-version", u.RulesVersion)
	}
	if u.Estimated {
		h.Set("x-tokens-estimated", "true")
	}
}

func (rw *tokenHeaderWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
