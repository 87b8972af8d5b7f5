package generation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedClient returns the queued errors in order, then succeeds.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedClient) Generate(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &Response{Text: "ok:" + req.Prompt, InputTokens: 3, OutputTokens: 2}, nil
}

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func alwaysFailing(n int) *scriptedClient {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &StatusError{StatusCode: 529, Message: "overloaded"}
	}
	return &scriptedClient{errs: errs}
}

func TestRetrying_BackoffDoublesUpToCap(t *testing.T) {
	client := alwaysFailing(100)
	sl := &recordingSleeper{}
	r := NewRetrying(client, testLogger(), WithRetry(true), WithSleeper(sl.sleep))

	_, err := r.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sl.delays)
	var total time.Duration
	for _, d := range sl.delays {
		total += d
	}
	assert.Equal(t, 14*time.Second, total)
	assert.Equal(t, 4, client.calls)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 4, genErr.Attempts)
	assert.True(t, genErr.Retryable)
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestRetrying_BackoffSumForKFailures(t *testing.T) {
	for k := 1; k <= 3; k++ {
		client := alwaysFailing(k)
		sl := &recordingSleeper{}
		r := NewRetrying(client, testLogger(), WithRetry(true), WithSleeper(sl.sleep), WithBackoffBase(time.Second))

		resp, err := r.Generate(context.Background(), Request{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "ok:p", resp.Text)

		var total time.Duration
		for _, d := range sl.delays {
			total += d
		}
		// base * (2^k - 1)
		assert.Equal(t, time.Second*time.Duration((1<<k)-1), total, "k=%d", k)
		assert.Equal(t, k+1, client.calls)
	}
}

func TestRetrying_DisabledFailsImmediately(t *testing.T) {
	client := alwaysFailing(1)
	sl := &recordingSleeper{}
	r := NewRetrying(client, testLogger(), WithSleeper(sl.sleep))

	_, err := r.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, sl.delays)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 1, genErr.Attempts)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 529, status.StatusCode)
}

func TestRetrying_FatalErrorNotRetried(t *testing.T) {
	client := &scriptedClient{errs: []error{&StatusError{StatusCode: 400, Message: "bad request"}}}
	sl := &recordingSleeper{}
	r := NewRetrying(client, testLogger(), WithRetry(true), WithSleeper(sl.sleep))

	_, err := r.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, sl.delays)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.False(t, genErr.Retryable)
}

func TestRetrying_CancelledDuringBackoff(t *testing.T) {
	client := alwaysFailing(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRetrying(client, testLogger(), WithRetry(true), WithBackoffBase(time.Hour))

	start := time.Now()
	_, err := r.Generate(ctx, Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, client.calls)
}

func TestRetrying_MaxRetriesZero(t *testing.T) {
	client := alwaysFailing(5)
	sl := &recordingSleeper{}
	r := NewRetrying(client, testLogger(), WithRetry(true), WithMaxRetries(0), WithSleeper(sl.sleep))

	_, err := r.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("connection reset")))
	assert.True(t, IsTransient(&StatusError{StatusCode: 429}))
	assert.True(t, IsTransient(&StatusError{StatusCode: 503}))
	assert.False(t, IsTransient(&StatusError{StatusCode: 401}))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
}
