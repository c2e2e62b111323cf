package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// ErrAllProvidersFailed signals that the cascade exhausted every provider
// without one structurally valid answer.
var ErrAllProvidersFailed = errors.New("all interpretation providers failed")

// retryBackoffBase seeds the exponential backoff between retries of the same
// provider.
const retryBackoffBase = 500 * time.Millisecond

// ModelCaller performs one raw completion against a provider. Implementations
// live in the repo package.
type ModelCaller interface {
	Complete(ctx context.Context, provider models.ProviderDescriptor, prompt models.Prompt) (models.RawCompletion, error)
}

// CascadeResult is the first structurally valid provider answer.
type CascadeResult struct {
	Interpretation string
	Mood           models.Mood
	Confidence     float64
	Sources        []string
	Provider       string
	Model          string
	Tokens         int
}

// Cascade walks providers in cost order, cheapest first, and stops at the
// first valid answer. Each provider gets a per-call timeout, a bounded retry
// budget and a circuit breaker; every physical call and every skip lands in
// the append-only attempt log.
type Cascade struct {
	logger    *slog.Logger
	caller    ModelCaller
	providers []models.ProviderDescriptor
	breakers  map[string]*Breaker
}

// NewCascade constructs a Cascade over the ordered provider list.
func NewCascade(logger *slog.Logger, caller ModelCaller, providers []models.ProviderDescriptor, breakerThreshold int, breakerCooldown time.Duration) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*Breaker, len(providers))
	for _, p := range providers {
		breakers[p.ID] = NewBreaker(p.ID, breakerThreshold, breakerCooldown, logger)
	}
	return &Cascade{
		logger:    logger,
		caller:    caller,
		providers: providers,
		breakers:  breakers,
	}
}

// Providers returns the configured descriptors in cascade order.
func (c *Cascade) Providers() []models.ProviderDescriptor {
	return c.providers
}

// Run executes the cascade. The attempt log is returned even on failure so
// the caller can attach it to the final result. A context deadline breach is
// reported as ErrAllProvidersFailed with the untried providers marked
// skipped.
func (c *Cascade) Run(ctx context.Context, prompt models.Prompt) (CascadeResult, []models.ProviderAttempt, error) {
	attempts := make([]models.ProviderAttempt, 0, len(c.providers))

	for i, provider := range c.providers {
		if ctx.Err() != nil {
			attempts = c.skipRemaining(attempts, i, "deadline exceeded")
			return CascadeResult{}, attempts, ErrAllProvidersFailed
		}
		if !provider.Available {
			attempts = append(attempts, models.ProviderAttempt{
				Provider: provider.ID,
				Outcome:  models.AttemptSkipped,
				Reason:   "no api key configured",
			})
			continue
		}
		breaker := c.breakers[provider.ID]
		if breaker != nil && !breaker.Allow() {
			attempts = append(attempts, models.ProviderAttempt{
				Provider: provider.ID,
				Outcome:  models.AttemptSkipped,
				Reason:   "circuit open",
			})
			continue
		}

		result, callAttempts, err := c.tryProvider(ctx, provider, prompt)
		attempts = append(attempts, callAttempts...)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			c.logger.Info("interpretation produced",
				slog.String("provider", provider.ID),
				slog.Int("attempts", len(attempts)))
			return result, attempts, nil
		}
		if breaker != nil {
			breaker.RecordFailure()
		}
		c.logger.Warn("provider exhausted",
			slog.String("provider", provider.ID),
			slog.Any("error", err))
	}

	return CascadeResult{}, attempts, ErrAllProvidersFailed
}

// tryProvider runs one provider through its retry budget. Transport and
// structural failures both consume the budget; each physical call appends
// exactly one attempt entry.
func (c *Cascade) tryProvider(ctx context.Context, provider models.ProviderDescriptor, prompt models.Prompt) (CascadeResult, []models.ProviderAttempt, error) {
	var attempts []models.ProviderAttempt
	var result CascadeResult

	backoff := retry.WithMaxRetries(uint64(provider.RetryBudget), retry.NewExponential(retryBackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx := ctx
		var cancel context.CancelFunc
		if provider.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, provider.Timeout)
			defer cancel()
		}

		start := time.Now()
		raw, err := c.caller.Complete(callCtx, provider, prompt)
		latency := time.Since(start)
		if err != nil {
			attempts = append(attempts, models.ProviderAttempt{
				Provider: provider.ID,
				Outcome:  models.AttemptTransportFailure,
				Reason:   err.Error(),
				Latency:  latency,
			})
			return retry.RetryableError(err)
		}

		parsed, err := parseCompletion(raw.Text)
		if err != nil {
			attempts = append(attempts, models.ProviderAttempt{
				Provider: provider.ID,
				Outcome:  models.AttemptStructuralFailure,
				Reason:   err.Error(),
				Latency:  latency,
				Tokens:   raw.Tokens,
			})
			return retry.RetryableError(err)
		}

		attempts = append(attempts, models.ProviderAttempt{
			Provider: provider.ID,
			Outcome:  models.AttemptSuccess,
			Latency:  latency,
			Tokens:   raw.Tokens,
		})
		result = parsed
		result.Provider = provider.ID
		result.Model = raw.Model
		result.Tokens = raw.Tokens
		return nil
	})

	return result, attempts, err
}

func (c *Cascade) skipRemaining(attempts []models.ProviderAttempt, from int, reason string) []models.ProviderAttempt {
	for _, provider := range c.providers[from:] {
		attempts = append(attempts, models.ProviderAttempt{
			Provider: provider.ID,
			Outcome:  models.AttemptSkipped,
			Reason:   reason,
		})
	}
	return attempts
}

type completionPayload struct {
	Interpretation string   `json:"interpretation"`
	Mood           string   `json:"mood"`
	Confidence     *float64 `json:"confidence"`
	Sources        []string `json:"sources"`
}

// parseCompletion validates the provider answer structurally: JSON shape, a
// non-empty interpretation and a confidence inside [0,1]. Mood falls back to
// neutral when absent or unknown.
func parseCompletion(text string) (CascadeResult, error) {
	cleaned := stripCodeFence(strings.TrimSpace(text))
	if cleaned == "" {
		return CascadeResult{}, fmt.Errorf("empty completion")
	}

	var payload completionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return CascadeResult{}, fmt.Errorf("completion is not valid json: %w", err)
	}
	if strings.TrimSpace(payload.Interpretation) == "" {
		return CascadeResult{}, fmt.Errorf("completion missing interpretation")
	}
	if payload.Confidence == nil {
		return CascadeResult{}, fmt.Errorf("completion missing confidence")
	}
	if *payload.Confidence < 0 || *payload.Confidence > 1 {
		return CascadeResult{}, fmt.Errorf("completion confidence %f out of [0,1]", *payload.Confidence)
	}

	return CascadeResult{
		Interpretation: strings.TrimSpace(payload.Interpretation),
		Mood:           parseMood(payload.Mood),
		Confidence:     *payload.Confidence,
		Sources:        payload.Sources,
	}, nil
}

func parseMood(value string) models.Mood {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(models.MoodPositive):
		return models.MoodPositive
	case string(models.MoodAnxious):
		return models.MoodAnxious
	case string(models.MoodNegative):
		return models.MoodNegative
	default:
		return models.MoodNeutral
	}
}

// stripCodeFence removes a surrounding markdown fence some models insist on
// wrapping JSON answers with.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// CascadeDeadline derives the worst-case budget of a full cascade walk:
// every available provider exhausting its timeout on every retry plus the
// backoff in between, capped at ceiling.
func CascadeDeadline(providers []models.ProviderDescriptor, ceiling time.Duration) time.Duration {
	var total time.Duration
	for _, p := range providers {
		if !p.Available {
			continue
		}
		calls := time.Duration(p.RetryBudget+1) * p.Timeout
		backoff := time.Duration((1<<uint(p.RetryBudget))-1) * retryBackoffBase
		total += calls + backoff
	}
	if total <= 0 {
		total = 10 * time.Second
	}
	if ceiling > 0 && total > ceiling {
		total = ceiling
	}
	return total
}
