// Package codec maps canonical domain errors onto the OpenAI error envelope.
package codec

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/tokens"
)

// ErrorResponse is a rendered error ready to be written to the client.
type ErrorResponse struct {
	StatusCode int
	Body       []byte
}

// ToCanonicalError converts any error to a domain.APIError.
//
// An APIError anywhere in the chain is returned as-is. Malformed messages and
// unsupported models are mapped to client errors; anything else becomes a
// server error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var msgErr *domain.MessageError
	switch {
	case errors.As(err, &msgErr):
		param := "messages"
		if msgErr.Index >= 0 {
			param = msgErr.Path()
		}
		return domain.ErrInvalidRequest(err.Error()).
			WithCode(domain.ErrorCodeInvalidMessage).
			WithParam(param).
			WithCause(err)
	case errors.Is(err, domain.ErrMalformedMessage), errors.Is(err, domain.ErrUnmatchedToolResponse):
		return domain.ErrInvalidRequest(err.Error()).
			WithCode(domain.ErrorCodeInvalidMessage).
			WithParam("messages").
			WithCause(err)
	case errors.Is(err, tokens.ErrUnsupportedModel):
		return domain.ErrModelNotFound(err.Error()).
			WithParam("model").
			WithCause(err)
	}
	return domain.ErrServer(err.Error()).WithCause(err)
}

// FormatError renders err in the OpenAI envelope:
// {"error":{"message":...,"type":...,"code":...,"param":...}}.
func FormatError(err error) *ErrorResponse {
	apiErr := ToCanonicalError(err)

	errObj := map[string]interface{}{
		"message": apiErr.Message,
		"type":    openAIErrorType(apiErr.Type),
	}
	if apiErr.Code != "" {
		errObj["code"] = string(apiErr.Code)
	}
	if apiErr.Param != "" {
		errObj["param"] = apiErr.Param
	}

	body, _ := json.Marshal(map[string]interface{}{
		"error": errObj,
	})

	return &ErrorResponse{
		StatusCode: apiErr.HTTPStatusCode(),
		Body:       body,
	}
}

func openAIErrorType(t domain.ErrorType) string {
	switch t {
	case domain.ErrorTypeInvalidRequest, domain.ErrorTypeContextLength:
		return "invalid_request_error"
	case domain.ErrorTypeAuthentication:
		return "authentication_error"
	case domain.ErrorTypeNotFound:
		return "not_found_error"
	default:
		return "server_error"
	}
}

// WriteError writes err to w as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	resp := FormatError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
