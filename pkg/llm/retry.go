package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// RetryConfig bounds the time spent on a single logical gateway call.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	Factor      float64
	MaxWait     time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		InitialWait: time.Second,
		Factor:      5,
		MaxWait:     time.Minute,
		Timeout:     time.Minute,
	}
}

// Retrying wraps a Gateway with per-attempt timeouts, exponential backoff and
// optional client side rate limiting. Exhausted or non-retryable failures
// are reported as model.ErrGateway.
type Retrying struct {
	inner   Gateway
	cfg     RetryConfig
	limiter *rate.Limiter
	metrics *metrics.Recorder
}

type RetryOption func(*Retrying)

func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(r *Retrying) {
		r.cfg = cfg
	}
}

// WithRateLimit allows at most rps requests per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) RetryOption {
	return func(r *Retrying) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetryMetrics(m *metrics.Recorder) RetryOption {
	return func(r *Retrying) {
		r.metrics = m
	}
}

func NewRetrying(inner Gateway, opts ...RetryOption) *Retrying {
	r := &Retrying{
		inner: inner,
		cfg:   DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.MaxAttempts < 1 {
		r.cfg.MaxAttempts = 1
	}
	return r
}

func (r *Retrying) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	var out string
	err := r.do(ctx, kindComplete, func(ctx context.Context) error {
		resp, err := r.inner.Complete(ctx, messages, params)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, kindEmbed, func(ctx context.Context) error {
		resp, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, kind requestKind, call func(context.Context) error) error {
	logger := logging.From(ctx)
	wait := r.cfg.InitialWait

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return goerr.Wrap(model.ErrGateway, "rate limiter wait aborted", goerr.V("cause", err.Error()))
			}
		}

		started := time.Now()
		err := r.attempt(ctx, call)
		r.metrics.ObserveGatewayLatency(string(kind), time.Since(started))
		if err == nil {
			r.metrics.GatewayCall(string(kind), "ok")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			r.metrics.GatewayCall(string(kind), "canceled")
			return goerr.Wrap(model.ErrGateway, "gateway call canceled", goerr.V("cause", err.Error()))
		}
		if !IsRetryable(err) {
			r.metrics.GatewayCall(string(kind), "rejected")
			return goerr.Wrap(model.ErrGateway, "gateway call rejected",
				goerr.V("kind", kind), goerr.V("cause", err.Error()))
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		r.metrics.GatewayRetry(string(kind))
		logger.Warn("gateway call failed, retrying",
			"kind", kind,
			"attempt", attempt,
			"wait", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.metrics.GatewayCall(string(kind), "canceled")
			return goerr.Wrap(model.ErrGateway, "gateway retry canceled", goerr.V("cause", ctx.Err().Error()))
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * r.cfg.Factor)
		if r.cfg.MaxWait > 0 && wait > r.cfg.MaxWait {
			wait = r.cfg.MaxWait
		}
	}

	r.metrics.GatewayCall(string(kind), "exhausted")
	return goerr.Wrap(model.ErrGateway, "gateway retries exhausted",
		goerr.V("kind", kind),
		goerr.V("attempts", r.cfg.MaxAttempts),
		goerr.V("cause", lastErr.Error()))
}

func (r *Retrying) attempt(ctx context.Context, call func(context.Context) error) error {
	if r.cfg.Timeout <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return call(ctx)
}

// IsRetryable reports whether a provider error is transient. Client errors
// other than rate limiting are permanent; unknown errors such as network
// failures are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return retryableStatus(oaiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return true
	}
	return code == 0 || code >= http.StatusInternalServerError
}
