package vision

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/vqa-filter/internal/resilience"
)

// Observer receives one callback per completed model call.
type Observer interface {
	ObserveCall(model string, usage Usage, err error)
}

// GuardOptions configures Guard. Zero values disable the corresponding
// protection.
type GuardOptions struct {
	Limiter  *rate.Limiter
	Breaker  *resilience.Breaker
	Policy   resilience.Policy
	Observer Observer
}

type guarded struct {
	next Client
	opts GuardOptions
}

// Guard wraps c with rate limiting, a circuit breaker and retries of
// transient failures. The limiter and breaker may be shared between
// clients so a whole run observes one budget.
func Guard(c Client, opts GuardOptions) Client {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = 1
	}
	return &guarded{next: c, opts: opts}
}

func (g *guarded) Analyze(ctx context.Context, req Request) (*Response, error) {
	resp, err := resilience.Retry(ctx, g.opts.Policy, func(ctx context.Context) (*Response, error) {
		if g.opts.Limiter != nil {
			if err := g.opts.Limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "vision: rate limiter wait")
			}
		}
		resp, err := resilience.Call(ctx, g.opts.Breaker, func(ctx context.Context) (*Response, error) {
			return g.next.Analyze(ctx, req)
		})
		if g.opts.Observer != nil {
			var (
				model string
				usage Usage
			)
			if resp != nil {
				model, usage = resp.Model, resp.Usage
			}
			g.opts.Observer.ObserveCall(model, usage, err)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *guarded) Close() error {
	return g.next.Close()
}

// GuardFactory applies Guard to every client f builds.
func GuardFactory(f Factory, opts GuardOptions) Factory {
	return func(ctx context.Context, deviceID string) (Client, error) {
		c, err := f(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		return Guard(c, opts), nil
	}
}

// Observers fans each callback out to every non-nil observer.
type Observers []Observer

// ObserveCall implements Observer.
func (o Observers) ObserveCall(model string, usage Usage, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveCall(model, usage, err)
		}
	}
}
