package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/cache"
	"github.com/oneiroscope/oneiro-engine/internal/extractors"
	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/patterns"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
)

type fakePipeline struct {
	result models.AnalysisResult
	err    error
	calls  int
}

func (f *fakePipeline) Process(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	f.calls++
	if f.err != nil {
		return models.AnalysisResult{}, f.err
	}
	return f.result, nil
}

type fakeAdmitter struct {
	err   error
	calls int
}

func (f *fakeAdmitter) Admit(clientID string) (ratelimit.Quota, error) {
	f.calls++
	if f.err != nil {
		return ratelimit.Quota{}, f.err
	}
	return ratelimit.Quota{Limit: 10, Remaining: 9}, nil
}

type fakeQuotaReader struct {
	quota ratelimit.Quota
}

func (f *fakeQuotaReader) Peek(clientID string) ratelimit.Quota { return f.quota }

type fakePatternRepo struct {
	patterns []models.SymbolPattern
	err      error
}

func (f *fakePatternRepo) FetchPatterns(ctx context.Context, archetype string) ([]models.SymbolPattern, error) {
	return f.patterns, f.err
}

func providerResult(id string) models.AnalysisResult {
	return models.AnalysisResult{
		RequestID:      id,
		Locale:         "en",
		Interpretation: "The water points to feelings building below the surface.",
		Mood:           models.MoodNeutral,
		Confidence:     0.7,
		Symbols: []models.ValidatedSymbol{
			{SymbolID: "water", Archetype: "unconscious", Confidence: 0.7},
		},
		ModelUsed: "gpt-4o-mini",
		CreatedAt: time.Now(),
	}
}

func newService(t *testing.T, deps Deps) *InterpretService {
	t.Helper()
	service, err := NewInterpretService(deps)
	if err != nil {
		t.Fatalf("service construction failed: %v", err)
	}
	return service
}

func TestInterpretCachesProviderResults(t *testing.T) {
	pipeline := &fakePipeline{result: providerResult("req-1")}
	admitter := &fakeAdmitter{}
	service := newService(t, Deps{
		Pipeline:  pipeline,
		Admitter:  admitter,
		Cache:     cache.NewMemoryProvider(),
		ResultTTL: 15 * time.Minute,
	})

	ctx := context.Background()
	req := models.AnalysisRequest{Text: "I was swimming in the sea.", ClientID: "alice"}

	first, err := service.Interpret(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Fatal("first reply should not be cached")
	}
	if pipeline.calls != 1 {
		t.Fatalf("expected one pipeline call, got %d", pipeline.calls)
	}

	second, err := service.Interpret(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if !second.Cached {
		t.Fatal("second reply should come from cache")
	}
	if second.RequestID != "req-1" {
		t.Fatalf("cached reply lost its identity: %s", second.RequestID)
	}
	if pipeline.calls != 1 {
		t.Fatalf("cache hit still ran the pipeline: %d calls", pipeline.calls)
	}
	if admitter.calls != 1 {
		t.Fatalf("cached reply must be charged against quota, admits=%d", admitter.calls)
	}
}

func TestInterpretDoesNotCacheRuleBasedResults(t *testing.T) {
	result := providerResult("req-2")
	result.ModelUsed = models.ModelRuleBased
	pipeline := &fakePipeline{result: result}
	service := newService(t, Deps{
		Pipeline:  pipeline,
		Cache:     cache.NewMemoryProvider(),
		ResultTTL: 15 * time.Minute,
	})

	ctx := context.Background()
	req := models.AnalysisRequest{Text: "I was falling forever.", ClientID: "alice"}
	for i := 0; i < 2; i++ {
		if _, err := service.Interpret(ctx, req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if pipeline.calls != 2 {
		t.Fatalf("rule-based result should not be cached, calls=%d", pipeline.calls)
	}
}

func TestInterpretSkipsCacheWithContextHint(t *testing.T) {
	pipeline := &fakePipeline{result: providerResult("req-3")}
	service := newService(t, Deps{
		Pipeline:  pipeline,
		Cache:     cache.NewMemoryProvider(),
		ResultTTL: 15 * time.Minute,
	})

	ctx := context.Background()
	req := models.AnalysisRequest{
		Text:        "I was flying over the city.",
		ClientID:    "alice",
		ContextHint: models.ContextHint{LunarPhase: "full"},
	}
	for i := 0; i < 2; i++ {
		if _, err := service.Interpret(ctx, req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if pipeline.calls != 2 {
		t.Fatalf("hinted requests must not be served from cache, calls=%d", pipeline.calls)
	}
}

func TestInterpretCachedReplyStillDenied(t *testing.T) {
	pipeline := &fakePipeline{result: providerResult("req-4")}
	admitter := &fakeAdmitter{}
	service := newService(t, Deps{
		Pipeline:  pipeline,
		Admitter:  admitter,
		Cache:     cache.NewMemoryProvider(),
		ResultTTL: 15 * time.Minute,
	})

	ctx := context.Background()
	req := models.AnalysisRequest{Text: "A locked door would not open.", ClientID: "alice"}
	if _, err := service.Interpret(ctx, req); err != nil {
		t.Fatalf("priming call failed: %v", err)
	}

	admitter.err = &ratelimit.DeniedError{Scope: ratelimit.ScopeClient, Limit: 10, ResetAt: time.Now().Add(time.Minute)}
	_, err := service.Interpret(ctx, req)
	var denied *ratelimit.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial on cached reply, got %v", err)
	}
	if pipeline.calls != 1 {
		t.Fatalf("denied cache hit must not reach the pipeline, calls=%d", pipeline.calls)
	}
}

func TestInterpretPropagatesPipelineDenial(t *testing.T) {
	pipeline := &fakePipeline{err: &ratelimit.DeniedError{Scope: ratelimit.ScopeGlobal, Limit: 100, ResetAt: time.Now().Add(time.Minute)}}
	service := newService(t, Deps{Pipeline: pipeline})

	_, err := service.Interpret(context.Background(), models.AnalysisRequest{Text: "anything", ClientID: "bob"})
	var denied *ratelimit.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if denied.Scope != ratelimit.ScopeGlobal {
		t.Fatalf("unexpected scope: %s", denied.Scope)
	}
}

func TestPreviewExtractsAndValidates(t *testing.T) {
	base, err := knowledge.Default()
	if err != nil {
		t.Fatalf("default knowledge failed: %v", err)
	}
	matcher, err := extractors.NewMatcher(base, nil)
	if err != nil {
		t.Fatalf("matcher construction failed: %v", err)
	}
	validator, err := extractors.NewValidator(base, nil)
	if err != nil {
		t.Fatalf("validator construction failed: %v", err)
	}
	service := newService(t, Deps{
		Pipeline:  &fakePipeline{},
		Matcher:   matcher,
		Validator: validator,
	})

	preview := service.Preview(models.PreviewRequest{Text: "I was swimming in the deep sea."})
	if preview.Locale != "en" {
		t.Fatalf("unexpected locale: %s", preview.Locale)
	}
	if len(preview.Candidates) == 0 {
		t.Fatal("expected raw candidates")
	}
	found := false
	for _, s := range preview.Symbols {
		if s.SymbolID == "water" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected water symbol in preview: %+v", preview.Symbols)
	}
}

func TestPreviewEmptyNarrative(t *testing.T) {
	service := newService(t, Deps{Pipeline: &fakePipeline{}})
	preview := service.Preview(models.PreviewRequest{Text: "   "})
	if len(preview.Candidates) != 0 || len(preview.Symbols) != 0 {
		t.Fatalf("empty narrative should produce an empty preview: %+v", preview)
	}
}

func TestPatternsPrefersStoredPatterns(t *testing.T) {
	repo := &fakePatternRepo{patterns: []models.SymbolPattern{{ID: "p1", Archetype: "shadow"}}}
	service := newService(t, Deps{
		Pipeline:    &fakePipeline{},
		PatternRepo: repo,
		Miner:       patterns.NewMiner(nil, nil),
	})

	got, err := service.Patterns(context.Background(), "shadow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("expected stored pattern, got %+v", got)
	}
}

func TestPatternsMinesRecentResults(t *testing.T) {
	service := newService(t, Deps{
		Pipeline:    &fakePipeline{result: providerResult("req-5")},
		PatternRepo: &fakePatternRepo{},
		Miner:       patterns.NewMiner(nil, nil),
	})

	ctx := context.Background()
	if _, err := service.Interpret(ctx, models.AnalysisRequest{Text: "The sea again.", ClientID: "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mined, err := service.Patterns(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mined) != 1 || mined[0].Archetype != "unconscious" {
		t.Fatalf("expected mined unconscious pattern, got %+v", mined)
	}

	none, err := service.Patterns(ctx, "shadow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("archetype filter failed: %+v", none)
	}
}

func TestQuotaReadsWithoutConsuming(t *testing.T) {
	reader := &fakeQuotaReader{quota: ratelimit.Quota{Limit: 10, Remaining: 7}}
	service := newService(t, Deps{Pipeline: &fakePipeline{}, Quota: reader})

	quota := service.Quota("alice")
	if quota.Remaining != 7 {
		t.Fatalf("unexpected quota: %+v", quota)
	}
}

func TestHealthReportsAvailableProviders(t *testing.T) {
	service := newService(t, Deps{
		Pipeline: &fakePipeline{},
		Cache:    cache.NewMemoryProvider(),
		Providers: []models.ProviderDescriptor{
			{ID: "groq", Available: true},
			{ID: "openai"},
		},
	})

	report := service.Health(context.Background())
	if report.Status != "SERVING" {
		t.Fatalf("unexpected status: %s", report.Status)
	}
	if report.Cache != "ok" {
		t.Fatalf("unexpected cache state: %s", report.Cache)
	}
	if len(report.Providers) != 1 || report.Providers[0] != "groq" {
		t.Fatalf("unexpected providers: %v", report.Providers)
	}
}
