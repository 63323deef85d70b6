package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/llm/llmtest"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func fastRetry(attempts int) llm.RetryOption {
	return llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		Factor:      2,
		MaxWait:     5 * time.Millisecond,
		Timeout:     time.Second,
	})
}

func TestRetryingRecoversFromTransientError(t *testing.T) {
	failures := 2
	mock := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			if failures > 0 {
				failures--
				return "", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "try later"}
			}
			return "ok", nil
		},
	}

	g := llm.NewRetrying(mock, fastRetry(5), llm.WithRetryMetrics(metrics.New()))
	out, err := g.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "ok")
	gt.Equal(t, mock.CompleteCalls(), 3)
}

func TestRetryingExhaustion(t *testing.T) {
	mock := &llmtest.Gateway{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection reset")
		},
	}

	g := llm.NewRetrying(mock, fastRetry(3))
	_, err := g.Embed(context.Background(), "text")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrGateway))
	gt.Equal(t, mock.EmbedCalls(), 3)
}

func TestRetryingDoesNotRetryClientError(t *testing.T) {
	mock := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			return "", &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
		},
	}

	g := llm.NewRetrying(mock, fastRetry(5))
	_, err := g.Complete(context.Background(), nil, llm.Params{})
	gt.True(t, errors.Is(err, model.ErrGateway))
	gt.Equal(t, mock.CompleteCalls(), 1)
}

func TestRetryingPerAttemptTimeout(t *testing.T) {
	calls := 0
	mock := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "second", nil
		},
	}

	g := llm.NewRetrying(mock, llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts: 2,
		InitialWait: time.Millisecond,
		Factor:      1,
		Timeout:     10 * time.Millisecond,
	}))
	out, err := g.Complete(context.Background(), nil, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "second")
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			cancel()
			return "", errors.New("network down")
		},
	}

	g := llm.NewRetrying(mock, fastRetry(5))
	_, err := g.Complete(ctx, nil, llm.Params{})
	gt.True(t, errors.Is(err, model.ErrGateway))
	gt.Equal(t, mock.CompleteCalls(), 1)
}

func TestRetryingRateLimit(t *testing.T) {
	mock := &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence("ok"),
	}

	g := llm.NewRetrying(mock, fastRetry(1), llm.WithRateLimit(50, 1))
	started := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), nil, llm.Params{})
		gt.NoError(t, err)
	}
	// Burst of one at 50 rps spaces the 2nd and 3rd calls by 20ms each.
	gt.True(t, time.Since(started) >= 35*time.Millisecond)
}

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"gemini 429", genai.APIError{Code: 429}, true},
		{"gemini 500", genai.APIError{Code: 500}, true},
		{"gemini 400", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, false},
		{"openai 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"unknown", errors.New("eof"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, llm.IsRetryable(tc.err), tc.want)
		})
	}
}
