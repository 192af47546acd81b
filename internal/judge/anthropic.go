package judge

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/metrics"
	"github.com/sells-group/coverage-intel/internal/resilience"
	"github.com/sells-group/coverage-intel/pkg/anthropic"
)

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 2048

// Config configures the Anthropic-backed service.
type Config struct {
	Model   string
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	// CacheSystemPrompt marks the system prompt with a cache breakpoint.
	CacheSystemPrompt bool
}

// AnthropicService implements Service over the Anthropic messages API with
// retries and a circuit breaker.
type AnthropicService struct {
	client  anthropic.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
}

// NewAnthropic wraps client. A zero Config uses the default model and the
// default retry and breaker policies.
func NewAnthropic(client anthropic.Client, cfg Config) *AnthropicService {
	if cfg.Model == "" {
		cfg.Model = anthropic.DefaultModel
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "judge"
	}
	m := metrics.Get()
	onChange := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
		m.CircuitState.Set(float64(to))
		if onChange != nil {
			onChange(from, to)
		}
	}
	cfg.Retry.OnRetry = resilience.ChainOnRetry(
		resilience.RetryLogger("judge", "complete"),
		func(int, error) { m.JudgeRetriesTotal.Inc() },
		cfg.Retry.OnRetry,
	)
	return &AnthropicService{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		metrics: m,
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (s *AnthropicService) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Complete sends req, retrying transient failures.
func (s *AnthropicService) Complete(ctx context.Context, req Request) (*Response, error) {
	msgReq := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.UserPrompt}},
		Temperature: req.Temperature,
	}
	if msgReq.MaxTokens <= 0 {
		msgReq.MaxTokens = DefaultMaxTokens
	}
	if req.SystemPrompt != "" {
		if s.cfg.CacheSystemPrompt {
			msgReq.System = anthropic.BuildCachedSystemBlocks(req.SystemPrompt)
		} else {
			msgReq.System = []anthropic.SystemBlock{{Text: req.SystemPrompt}}
		}
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			r, err := s.client.CreateMessage(ctx, msgReq)
			if err != nil {
				return nil, classify(err)
			}
			return r, nil
		})
	})
	s.metrics.JudgeCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.JudgeCallsTotal.WithLabelValues(outcome(err)).Inc()
		zap.L().Warn("judge: complete failed", zap.String("model", s.cfg.Model), zap.Error(err))
		return nil, err
	}

	usage := cost.Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
	}
	s.metrics.JudgeCallsTotal.WithLabelValues("ok").Inc()
	s.metrics.JudgeTokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	s.metrics.JudgeTokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))

	model := resp.Model
	if model == "" {
		model = s.cfg.Model
	}
	return &Response{Content: resp.Text(), Model: model, Usage: usage}, nil
}

// classify maps a transport error onto the transient/service taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status, retryAfter, ok := anthropic.StatusOf(err); ok {
		if resilience.IsTransientHTTPStatus(status) {
			return &resilience.TransientError{Err: err, StatusCode: status, RetryAfter: retryAfter}
		}
		return &ServiceError{StatusCode: status, Err: err}
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(err, 0)
	}
	return &ServiceError{Err: eris.Wrap(err, "judge: request")}
}

func outcome(err error) string {
	var te *resilience.TransientError
	var se *ServiceError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &te):
		return "transient"
	case errors.As(err, &se):
		return "service"
	default:
		return "other"
	}
}
