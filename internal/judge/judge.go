// Package judge defines the judgment service used by triage and its
// Anthropic-backed implementation.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-intel/internal/cost"
)

// Request is one prompt sent to the judgment service.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int64
	Temperature  *float64
}

// Response is the raw completion and its token usage.
type Response struct {
	Content string
	Model   string
	Usage   cost.Usage
}

// Service completes prompts. Implementations return *resilience.TransientError
// for retryable faults and *ServiceError for everything the service rejected.
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ServiceError is a non-retryable failure reported by the judgment service.
// StatusCode is 0 when the failure happened before a response arrived.
type ServiceError struct {
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("judge: service error: %v", e.Err)
	}
	return fmt.Sprintf("judge: service error (status %d): %v", e.StatusCode, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ParseError means the service answered but the content was not the JSON
// the caller asked for. Raw holds the unparsed content.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("judge: parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON strips markdown fences and surrounding prose from content and
// unmarshals the first JSON object or array into v.
func DecodeJSON(content string, v any) error {
	raw := isolateJSON(content)
	if raw == "" {
		return &ParseError{Raw: content, Err: eris.New("no json value in response")}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ParseError{Raw: content, Err: err}
	}
	return nil
}

func isolateJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	start, closer := objStart, "}"
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
