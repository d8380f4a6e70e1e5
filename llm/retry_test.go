package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Minute,
	}

	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, expected := range delays {
		if got := policy.Delay(i); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestRetryPolicyDelayWithMaxCap(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
	}
	if got := policy.Delay(10); got != 5*time.Second {
		t.Errorf("expected 5s (capped), got %v", got)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Minute,
		Jitter:            true,
	}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("delay %v outside jitter range", got)
		}
	}
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        retries,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrySucceedsAfterRetryableErrors(t *testing.T) {
	calls := 0
	var retried []int
	policy := fastPolicy(3)
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		retried = append(retried, attempt)
	}

	got, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", ErrorFromStatusCode(503, "unavailable", "openai")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected OnRetry attempts [1 2], got %v", retried)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, ErrorFromStatusCode(401, "bad key", "openai")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	sentinel := &NetworkError{BaseError{Message: "reset"}}
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected last error to be returned, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy(3)
	policy.BaseDelay = time.Hour
	policy.MaxDelay = time.Hour
	policy.OnRetry = func(error, int, time.Duration) { cancel() }

	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, &NetworkError{BaseError{Message: "reset"}}
	})
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AbortError, got %T (%v)", err, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
}
