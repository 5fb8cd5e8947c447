package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/vqa-filter/internal/config"
	"github.com/sells-group/vqa-filter/internal/cost"
	"github.com/sells-group/vqa-filter/internal/fetcher"
	"github.com/sells-group/vqa-filter/internal/monitoring"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/internal/resilience"
	"github.com/sells-group/vqa-filter/internal/router"
	"github.com/sells-group/vqa-filter/internal/scoring"
	"github.com/sells-group/vqa-filter/internal/store"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// filterEnv holds everything the filter command wires into the engine.
type filterEnv struct {
	Registry *registry.Registry
	Fetcher  *fetcher.Multi
	Factory  vision.Factory
	Router   *router.Router
	Scorer   *scoring.Pipeline
	Resolver *vision.Resolver
	Metrics  *monitoring.Metrics
	Cost     *cost.Tracker
	Store    store.Store // nil when the ledger is disabled

	routerClient vision.Client
}

// Close releases the router client and the ledger.
func (fe *filterEnv) Close() {
	if fe.routerClient != nil {
		_ = fe.routerClient.Close()
	}
	if fe.Store != nil {
		_ = fe.Store.Close()
	}
}

// initFilter builds the clients, registry and ledger for a filter run.
// Callers should defer env.Close().
func initFilter(ctx context.Context, c *config.Config) (*filterEnv, error) {
	reg, err := registry.Load(c.Registry.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load pipeline registry")
	}
	zap.L().Info("pipeline registry loaded", zap.Strings("pipelines", reg.IDs()))

	metrics := monitoring.NewMetrics()
	tracker := cost.NewTracker(cost.NewCalculator(pricing(c)))

	factory, err := guardedFactory(c, vision.Observers{metrics, tracker})
	if err != nil {
		return nil, err
	}

	rt, routerClient, err := newRouter(ctx, c, reg, factory)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		if routerClient != nil {
			_ = routerClient.Close()
		}
		return nil, eris.Wrap(err, "open run ledger")
	}

	f := newFetcher(c)
	temp := c.Model.Temperature
	return &filterEnv{
		Registry: reg,
		Fetcher:  f,
		Factory:  factory,
		Router:   rt,
		Scorer: scoring.New(scoring.Options{
			Limits: scoring.Limits{
				BasicMin: c.Scoring.BasicMin,
				BasicMax: c.Scoring.BasicMax,
				BonusMax: c.Scoring.BonusMax,
			},
			Temperature: &temp,
			MaxTokens:   c.Model.MaxTokens,
		}),
		Resolver:     vision.NewResolver(f),
		Metrics:      metrics,
		Cost:         tracker,
		Store:        st,
		routerClient: routerClient,
	}, nil
}

// visionConfig maps the model section to a backend config.
func visionConfig(c *config.Config) vision.Config {
	return vision.Config{
		Provider:        c.Model.Provider,
		APIKey:          c.Model.APIKey(),
		Model:           c.Model.ModelName(),
		BaseURL:         c.Model.OpenAIBaseURL,
		Timeout:         c.Model.Timeout(),
		DeviceEndpoints: c.Model.DeviceEndpoints,
	}
}

// guardedFactory wraps the provider factory with one shared rate limiter,
// circuit breaker and retry policy, so every client of a run draws from
// the same budget.
func guardedFactory(c *config.Config, obs vision.Observer) (vision.Factory, error) {
	base, err := vision.NewFactory(visionConfig(c))
	if err != nil {
		return nil, err
	}

	policy := resilience.PolicyFrom(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, c.Retry.JitterPercent)
	policy.OnRetry = resilience.RetryLogger("vision", "analyze")

	opts := vision.GuardOptions{
		Breaker:  resilience.NewBreaker("vision", c.Circuit.FailureThreshold, time.Duration(c.Circuit.ResetTimeoutSecs)*time.Second),
		Policy:   policy,
		Observer: obs,
	}
	if c.Model.RatePerSec > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(c.Model.RatePerSec), max(1, c.Model.Burst))
	}
	return vision.GuardFactory(base, opts), nil
}

// newRouter builds the router. The returned client is non-nil only when
// the semantic stage is enabled and must be closed by the caller.
func newRouter(ctx context.Context, c *config.Config, reg *registry.Registry, factory vision.Factory) (*router.Router, vision.Client, error) {
	temp := c.Router.Temperature
	opts := router.Options{
		Semantic:    c.Router.Semantic,
		Threshold:   c.Router.Threshold,
		Temperature: &temp,
		MaxTokens:   c.Model.MaxTokens,
	}

	var client vision.Client
	if opts.Semantic {
		var err error
		client, err = factory(ctx, "")
		if err != nil {
			return nil, nil, eris.Wrap(err, "build router client")
		}
	}

	rt, err := router.New(reg, client, opts)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, nil, err
	}
	return rt, client, nil
}

func newFetcher(c *config.Config) *fetcher.Multi {
	timeout := time.Duration(c.Fetch.TimeoutSecs) * time.Second
	return fetcher.New(fetcher.HTTPOptions{
		UserAgent:   c.Fetch.UserAgent,
		Timeout:     timeout,
		MaxRetries:  c.Fetch.MaxRetries,
		Backoff:     500 * time.Millisecond,
		RatePerHost: rate.Limit(c.Fetch.RatePerHost),
		Burst:       max(1, int(c.Fetch.RatePerHost)),
	}, fetcher.FTPOptions{Timeout: timeout})
}

// pricing merges configured prices over the built-in rates.
func pricing(c *config.Config) cost.Rates {
	rates := cost.DefaultRates()
	for name, p := range c.Pricing {
		rates[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}
