package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetry_SuccessAfterTransient(t *testing.T) {
	var calls int
	got, err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("busy"), 503)
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
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls, retries int
	p := fastPolicy(3)
	p.OnRetry = func(int, error) { retries++ }

	err := Do(context.Background(), p, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 500 {
		t.Errorf("expected last transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if retries != 2 {
		t.Errorf("expected 2 retry callbacks, got %d", retries)
	}
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(5), func(_ context.Context) error {
		calls++
		return errors.New("bad request")
	})
	if err == nil || err.Error() != "bad request" {
		t.Fatalf("expected bad request, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ShouldRetryOverride(t *testing.T) {
	var calls int
	p := fastPolicy(4)
	p.ShouldRetry = func(error) bool { return true }
	_ = Do(context.Background(), p, func(_ context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := Do(ctx, fastPolicy(3), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(5, 100, 2000, 10)
	if p.MaxAttempts != 5 || p.InitialBackoff != 100*time.Millisecond ||
		p.MaxBackoff != 2*time.Second || p.JitterPercent != 10 {
		t.Errorf("unexpected policy: %+v", p)
	}

	d := PolicyFrom(0, 0, 0, -1)
	if d.MaxAttempts != 3 || d.InitialBackoff != 500*time.Millisecond || d.JitterPercent != 25 {
		t.Errorf("expected defaults, got %+v", d)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid api key"), false},
		{"transient wrapper", NewTransientError(errors.New("x"), 429), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError(errors.New("x"), 502)), true},
		{"net timeout", timeoutErr{}, true},
		{"pattern", errors.New("read: connection reset by peer"), true},
		{"overloaded", errors.New("Overloaded"), true},
		{"cancelled", context.Canceled, false},
		{"circuit open", ErrCircuitOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("status error")
	if !IsTransient(ClassifyStatus(base, 429)) {
		t.Error("429 should be transient")
	}
	if IsTransient(ClassifyStatus(base, 400)) {
		t.Error("400 should not be transient")
	}
	if ClassifyStatus(nil, 500) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	b := NewBreaker("model", 2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	var transitions []string
	b.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	fail := func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("down"), 503)
	}
	for i := 0; i < 2; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Call(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("call should be rejected while open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Errorf("expected half-open after timeout, got %s", b.State())
	}
	v, err := Call(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("probe failed: %d, %v", v, err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after probe, got %s", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("model", 1, time.Minute)
	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) {
			return 0, errors.New("bad request")
		})
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := NewBreaker("model", 1, time.Second)
	now := time.Now()
	b.now = func() time.Time { return now }

	down := func(_ context.Context) (int, error) { return 0, NewTransientError(errors.New("down"), 500) }
	_, _ = Call(context.Background(), b, down)
	now = now.Add(2 * time.Second)
	_, _ = Call(context.Background(), b, down)

	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
}

func TestCall_NilBreaker(t *testing.T) {
	v, err := Call(context.Background(), nil, func(_ context.Context) (string, error) { return "x", nil })
	if err != nil || v != "x" {
		t.Errorf("unexpected result %q, %v", v, err)
	}
}
