package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var errCircuitOpen = fmt.Errorf("circuit open")

// Guard wraps an Advisor so that no call can stall or flood the workflow.
// Every call is bounded by a timeout, throttled by a token bucket and
// refused while the circuit breaker is open. Any failure is returned as an
// AdvisorUnavailable error. Complaint classifications are cached.
type Guard struct {
	next     Advisor
	cache    Cache
	cacheTTL time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *Breaker
	log      zerolog.Logger
}

// NewGuard creates a guard around next. cache may be nil.
func NewGuard(next Advisor, cfg config.AdvisorConfig, cache Cache, log zerolog.Logger) *Guard {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Guard{
		next:     next,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		log:      log.With().Str("component", "advisor").Logger(),
	}
}

// Breaker exposes the circuit breaker state for readiness reporting
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// guarded runs fn under the guard. Only the advisor's own failures count
// against the breaker: a throttled call or one the caller abandoned gives
// its breaker slot back.
func guarded[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	if !g.breaker.Allow() {
		metrics.RecordAdvisorRequest(op, "circuit_open", 0)
		return zero, errors.AdvisorUnavailable(op, errCircuitOpen)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		g.breaker.Release()
		metrics.RecordAdvisorRequest(op, "throttled", time.Since(start))
		return zero, errors.AdvisorUnavailable(op, err)
	}

	v, err := fn(ctx)
	if err != nil {
		if parent.Err() != nil {
			g.breaker.Release()
			metrics.RecordAdvisorRequest(op, "cancelled", time.Since(start))
			return zero, errors.AdvisorUnavailable(op, err)
		}
		g.breaker.RecordFailure()
		metrics.RecordAdvisorRequest(op, "error", time.Since(start))
		g.log.Warn().Err(err).Str("operation", op).Dur("elapsed", time.Since(start)).Msg("advisor call failed")
		return zero, errors.AdvisorUnavailable(op, err)
	}

	g.breaker.RecordSuccess()
	metrics.RecordAdvisorRequest(op, "ok", time.Since(start))
	return v, nil
}

// Classify returns a cached classification when one exists
func (g *Guard) Classify(ctx context.Context, complaint string) (domain.AITriage, error) {
	key := ClassifyKey(complaint)
	if t, ok := g.cached(ctx, key); ok {
		metrics.RecordAdvisorRequest(OpClassify, "cache_hit", 0)
		t.FromCache = true
		return t, nil
	}

	t, err := guarded(ctx, g, OpClassify, func(ctx context.Context) (domain.AITriage, error) {
		return g.next.Classify(ctx, complaint)
	})
	if err != nil {
		return t, err
	}

	g.store(ctx, key, t)
	return t, nil
}

func (g *Guard) cached(ctx context.Context, key string) (domain.AITriage, bool) {
	if g.cache == nil {
		return domain.AITriage{}, false
	}
	b, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("advisor cache read failed")
		return domain.AITriage{}, false
	}
	if !ok {
		return domain.AITriage{}, false
	}
	var t domain.AITriage
	if err := json.Unmarshal(b, &t); err != nil {
		return domain.AITriage{}, false
	}
	return t, true
}

func (g *Guard) store(ctx context.Context, key string, t domain.AITriage) {
	if g.cache == nil {
		return
	}
	t.FromCache = false
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, b, g.cacheTTL); err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("advisor cache write failed")
	}
}

func (g *Guard) StructureHistory(ctx context.Context, hpi string) (domain.HistorySuggestion, error) {
	return guarded(ctx, g, OpStructureHistory, func(ctx context.Context) (domain.HistorySuggestion, error) {
		return g.next.StructureHistory(ctx, hpi)
	})
}

func (g *Guard) SuggestOrders(ctx context.Context, sections domain.Sections) ([]domain.OrderRequest, error) {
	return guarded(ctx, g, OpSuggestOrders, func(ctx context.Context) ([]domain.OrderRequest, error) {
		return g.next.SuggestOrders(ctx, sections)
	})
}

func (g *Guard) SummarizeFile(ctx context.Context, sections domain.Sections) (string, error) {
	return guarded(ctx, g, OpSummarizeFile, func(ctx context.Context) (string, error) {
		return g.next.SummarizeFile(ctx, sections)
	})
}

func (g *Guard) CrossCheck(ctx context.Context, sections domain.Sections) ([]string, error) {
	return guarded(ctx, g, OpCrossCheck, func(ctx context.Context) ([]string, error) {
		return g.next.CrossCheck(ctx, sections)
	})
}

func (g *Guard) FollowUpQuestions(ctx context.Context, field, seed string) ([]domain.FollowUpQuestion, error) {
	return guarded(ctx, g, OpFollowUpQuestions, func(ctx context.Context) ([]domain.FollowUpQuestion, error) {
		return g.next.FollowUpQuestions(ctx, field, seed)
	})
}

func (g *Guard) ComposeHistory(ctx context.Context, field, seed string, answers map[string]string) (string, error) {
	return guarded(ctx, g, OpComposeHistory, func(ctx context.Context) (string, error) {
		return g.next.ComposeHistory(ctx, field, seed, answers)
	})
}

func (g *Guard) SummarizeVitals(ctx context.Context, records []domain.VitalsRecord) (string, error) {
	return guarded(ctx, g, OpSummarizeVitals, func(ctx context.Context) (string, error) {
		return g.next.SummarizeVitals(ctx, records)
	})
}

func (g *Guard) Overview(ctx context.Context, req OverviewRequest) (string, error) {
	return guarded(ctx, g, OpOverview, func(ctx context.Context) (string, error) {
		return g.next.Overview(ctx, req)
	})
}

func (g *Guard) DischargeSummary(ctx context.Context, req DischargeRequest) (string, error) {
	return guarded(ctx, g, OpDischargeSummary, func(ctx context.Context) (string, error) {
		return g.next.DischargeSummary(ctx, req)
	})
}

// Health is not guarded so that readiness reflects the real service
func (g *Guard) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Health(ctx)
}

var (
	_ Advisor = (*Client)(nil)
	_ Advisor = (*Guard)(nil)
	_ Advisor = Disabled{}
)
