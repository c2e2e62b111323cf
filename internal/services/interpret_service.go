package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/cache"
	"github.com/oneiroscope/oneiro-engine/internal/metrics"
	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/patterns"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
	"github.com/oneiroscope/oneiro-engine/internal/utils"
)

// recentLimit bounds the in-memory result window the pattern miner reads.
const recentLimit = 100

// Interpreter runs one narrative through the full pipeline.
type Interpreter interface {
	Process(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error)
}

// Admitter charges one request against the rate limiter. The cached-reply
// path uses it directly because it bypasses the pipeline.
type Admitter interface {
	Admit(clientID string) (ratelimit.Quota, error)
}

// QuotaReader reports remaining quota without consuming any.
type QuotaReader interface {
	Peek(clientID string) ratelimit.Quota
}

// SymbolScanner finds raw dictionary hits in a narrative.
type SymbolScanner interface {
	Match(text string) []models.CandidateSymbol
}

// SymbolValidator applies contextual rules to raw hits.
type SymbolValidator interface {
	Validate(text string, candidates []models.CandidateSymbol) ([]models.ValidatedSymbol, []models.ValidationDecision)
}

// PatternRepo recalls stored archetype patterns.
type PatternRepo interface {
	FetchPatterns(ctx context.Context, archetype string) ([]models.SymbolPattern, error)
}

// Pinger is implemented by cache providers that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the health surface the API exposes.
type HealthReport struct {
	Status    string   `json:"status"`
	Cache     string   `json:"cache"`
	Providers []string `json:"providers"`
}

// Deps wires the service facade. Pipeline is required; everything else
// degrades gracefully when absent.
type Deps struct {
	Logger      *slog.Logger
	Pipeline    Interpreter
	Matcher     SymbolScanner
	Validator   SymbolValidator
	Admitter    Admitter
	Quota       QuotaReader
	PatternRepo PatternRepo
	Miner       *patterns.Miner
	Cache       cache.Provider
	ResultTTL   time.Duration
	Providers   []models.ProviderDescriptor
}

// InterpretService fronts the interpretation pipeline for the transport
// layer: result caching, latency tracking, metrics, pattern insight and
// quota reads.
type InterpretService struct {
	logger      *slog.Logger
	pipeline    Interpreter
	matcher     SymbolScanner
	validator   SymbolValidator
	admitter    Admitter
	quota       QuotaReader
	patternRepo PatternRepo
	miner       *patterns.Miner
	cache       cache.Provider
	resultTTL   time.Duration
	providers   []models.ProviderDescriptor
	latencies   *utils.LatencyTracker

	mu     sync.Mutex
	recent []models.AnalysisResult
}

// NewInterpretService constructs the service facade.
func NewInterpretService(deps Deps) (*InterpretService, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("interpret service requires a pipeline")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheProvider := deps.Cache
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &InterpretService{
		logger:      logger,
		pipeline:    deps.Pipeline,
		matcher:     deps.Matcher,
		validator:   deps.Validator,
		admitter:    deps.Admitter,
		quota:       deps.Quota,
		patternRepo: deps.PatternRepo,
		miner:       deps.Miner,
		cache:       cacheProvider,
		resultTTL:   deps.ResultTTL,
		providers:   deps.Providers,
		latencies:   utils.NewLatencyTracker(1024),
	}, nil
}

// Interpret serves one narrative. Identical narratives without contextual
// hints are answered from the result cache; a cached reply is still charged
// against the caller's quota.
func (s *InterpretService) Interpret(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	key := s.resultKey(req)
	if key != "" {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var stored models.AnalysisResult
			if err := json.Unmarshal(data, &stored); err == nil {
				if s.admitter != nil {
					if _, admitErr := s.admitter.Admit(req.ClientID); admitErr != nil {
						s.observeDenied(admitErr)
						return models.AnalysisResult{}, admitErr
					}
				}
				stored.Cached = true
				s.logger.Debug("result cache hit", slog.String("request_id", stored.RequestID))
				return stored, nil
			}
		}
	}

	start := time.Now()
	result, err := s.pipeline.Process(ctx, req)
	duration := time.Since(start)
	if err != nil {
		s.observeDenied(err)
		return models.AnalysisResult{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveInterpretation(duration, result)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("interpretation latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	s.recordRecent(result)

	// Rule-based answers are transient; caching them would pin a degraded
	// reply past provider recovery. SetNX keeps the first stored reply when
	// concurrent duplicates race, so the cached request id stays stable.
	if key != "" && result.ModelUsed != models.ModelRuleBased {
		if data, err := json.Marshal(result); err == nil {
			_, _ = s.cache.SetNX(ctx, key, data, s.resultTTL)
		}
	}

	return result, nil
}

// Preview runs extraction and validation only, with no quota charge and no
// provider calls.
func (s *InterpretService) Preview(req models.PreviewRequest) models.SymbolPreview {
	narrative := utils.NormalizeNarrative(req.Text)
	locale := strings.ToLower(strings.TrimSpace(req.Locale))
	if locale != "en" && locale != "ru" {
		locale = utils.DetectLanguage(narrative)
	}

	preview := models.SymbolPreview{Locale: locale}
	if narrative == "" || s.matcher == nil || s.validator == nil {
		return preview
	}
	preview.Candidates = s.matcher.Match(narrative)
	preview.Symbols, preview.Decisions = s.validator.Validate(narrative, preview.Candidates)
	return preview
}

// Patterns returns archetype insight: stored patterns when the archive has
// them, otherwise patterns mined from the recent result window.
func (s *InterpretService) Patterns(ctx context.Context, archetype string) ([]models.SymbolPattern, error) {
	if s.patternRepo != nil {
		stored, err := s.patternRepo.FetchPatterns(ctx, archetype)
		if err != nil {
			s.logger.Warn("pattern fetch failed", slog.Any("error", err))
		} else if len(stored) > 0 {
			return stored, nil
		}
	}

	if s.miner == nil {
		return nil, nil
	}
	mined, err := s.miner.Mine(ctx, s.recentResults())
	if err != nil {
		return nil, err
	}
	if archetype == "" {
		return mined, nil
	}
	filtered := make([]models.SymbolPattern, 0, len(mined))
	for _, pattern := range mined {
		if pattern.Archetype == archetype {
			filtered = append(filtered, pattern)
		}
	}
	return filtered, nil
}

// Quota reports the caller's remaining admission budget without consuming it.
func (s *InterpretService) Quota(clientID string) ratelimit.Quota {
	if s.quota == nil {
		return ratelimit.Quota{}
	}
	return s.quota.Peek(clientID)
}

// Health reports component liveness. The service always serves; degraded
// dependencies show up in the component fields.
func (s *InterpretService) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "SERVING", Cache: "ok"}
	if pinger, ok := s.cache.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			report.Cache = "unreachable"
		}
	}
	for _, p := range s.providers {
		if p.Available {
			report.Providers = append(report.Providers, p.ID)
		}
	}
	return report
}

// LatencyP95 returns the current p95 interpretation latency.
func (s *InterpretService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// resultKey derives the cache key for a request, or "" when the request is
// not cacheable. Contextual hints vary per request, so hinted requests are
// never cached.
func (s *InterpretService) resultKey(req models.AnalysisRequest) string {
	if s.resultTTL <= 0 || !req.ContextHint.Empty() {
		return ""
	}
	narrative := utils.NormalizeNarrative(req.Text)
	if narrative == "" {
		return ""
	}
	locale := strings.ToLower(strings.TrimSpace(req.Locale))
	if locale != "en" && locale != "ru" {
		locale = utils.DetectLanguage(narrative)
	}
	sum := sha256.Sum256([]byte(locale + "\n" + narrative))
	return "interpret:result:" + hex.EncodeToString(sum[:])
}

func (s *InterpretService) observeDenied(err error) {
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		metrics.ObserveRateLimited(denied.Scope)
	}
}

func (s *InterpretService) recordRecent(result models.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, result)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

func (s *InterpretService) recentResults() []models.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AnalysisResult(nil), s.recent...)
}
