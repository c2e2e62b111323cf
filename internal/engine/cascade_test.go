package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

const validCompletion = `{"interpretation":"The water running through this dream marks a slow change the dreamer is already part of, and the locked door shows where it stalls.","mood":"anxious","confidence":0.85,"sources":["jungian","folk"]}`

type scriptedResponse struct {
	text string
	err  error
}

type scriptedCaller struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	calls     map[string]int
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{
		responses: map[string][]scriptedResponse{},
		calls:     map[string]int{},
	}
}

func (s *scriptedCaller) script(provider string, responses ...scriptedResponse) {
	s.responses[provider] = responses
}

func (s *scriptedCaller) Complete(ctx context.Context, provider models.ProviderDescriptor, prompt models.Prompt) (models.RawCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[provider.ID]++
	queue := s.responses[provider.ID]
	if len(queue) == 0 {
		return models.RawCompletion{}, fmt.Errorf("no scripted response for %s", provider.ID)
	}
	r := queue[0]
	if len(queue) > 1 {
		s.responses[provider.ID] = queue[1:]
	}
	if r.err != nil {
		return models.RawCompletion{}, r.err
	}
	return models.RawCompletion{Text: r.text, Tokens: 42, Model: provider.ID + "-model"}, nil
}

func testProvider(id string, available bool, budget int) models.ProviderDescriptor {
	return models.ProviderDescriptor{
		ID:          id,
		Timeout:     2 * time.Second,
		RetryBudget: budget,
		Available:   available,
	}
}

func testPrompt() models.Prompt {
	return models.Prompt{System: "interpret", User: "a dream about water", MaxOutput: 256}
}

func TestCascadeFirstSuccessShortCircuits(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq", scriptedResponse{text: validCompletion})
	caller.script("openai", scriptedResponse{text: validCompletion})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 1),
		testProvider("openai", true, 1),
	}, 5, time.Minute)

	result, attempts, err := c.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Provider != "groq" {
		t.Errorf("provider = %s, want groq", result.Provider)
	}
	if result.Mood != models.MoodAnxious || result.Confidence != 0.85 {
		t.Errorf("unexpected parse: %+v", result)
	}
	if len(attempts) != 1 || attempts[0].Outcome != models.AttemptSuccess {
		t.Fatalf("attempts = %+v, want single success", attempts)
	}
	if caller.calls["openai"] != 0 {
		t.Errorf("openai was called %d times after a groq success", caller.calls["openai"])
	}
}

func TestCascadeFallsThroughToNextProvider(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq", scriptedResponse{err: errors.New("connection refused")})
	caller.script("openai", scriptedResponse{text: validCompletion})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 0),
		testProvider("openai", true, 0),
	}, 5, time.Minute)

	result, attempts, err := c.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Provider != "openai" || result.Model != "openai-model" || result.Tokens != 42 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v, want 2", attempts)
	}
	if attempts[0].Provider != "groq" || attempts[0].Outcome != models.AttemptTransportFailure {
		t.Errorf("first attempt = %+v, want groq transport failure", attempts[0])
	}
	if attempts[1].Provider != "openai" || attempts[1].Outcome != models.AttemptSuccess {
		t.Errorf("second attempt = %+v, want openai success", attempts[1])
	}
}

func TestCascadeRetriesWithinBudget(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq",
		scriptedResponse{err: errors.New("timeout")},
		scriptedResponse{text: validCompletion},
	)

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 1),
	}, 5, time.Minute)

	result, attempts, err := c.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Provider != "groq" {
		t.Errorf("provider = %s, want groq", result.Provider)
	}
	if caller.calls["groq"] != 2 {
		t.Errorf("groq called %d times, want 2", caller.calls["groq"])
	}
	// One entry per physical call, in order.
	if len(attempts) != 2 ||
		attempts[0].Outcome != models.AttemptTransportFailure ||
		attempts[1].Outcome != models.AttemptSuccess {
		t.Fatalf("attempts = %+v", attempts)
	}
}

func TestCascadeSkipsUnavailableProvider(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("openai", scriptedResponse{text: validCompletion})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", false, 1),
		testProvider("openai", true, 1),
	}, 5, time.Minute)

	result, attempts, err := c.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Provider != "openai" {
		t.Errorf("provider = %s, want openai", result.Provider)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v", attempts)
	}
	if attempts[0].Outcome != models.AttemptSkipped || attempts[0].Reason != "no api key configured" {
		t.Errorf("first attempt = %+v, want skip for missing key", attempts[0])
	}
	if caller.calls["groq"] != 0 {
		t.Errorf("unavailable provider was called %d times", caller.calls["groq"])
	}
}

func TestCascadeStructuralFailure(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq", scriptedResponse{text: "the dream means travel"})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 0),
	}, 5, time.Minute)

	_, attempts, err := c.Run(context.Background(), testPrompt())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != models.AttemptStructuralFailure {
		t.Fatalf("attempts = %+v, want structural failure", attempts)
	}
	if attempts[0].Reason == "" {
		t.Error("structural failure should carry a reason")
	}
}

func TestCascadeAllProvidersFail(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq", scriptedResponse{err: errors.New("down")})
	caller.script("openai", scriptedResponse{err: errors.New("down")})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 0),
		testProvider("openai", true, 0),
	}, 5, time.Minute)

	_, attempts, err := c.Run(context.Background(), testPrompt())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if len(attempts) != 2 || attempts[0].Provider != "groq" || attempts[1].Provider != "openai" {
		t.Fatalf("attempts = %+v, want both providers in cost order", attempts)
	}
}

func TestCascadeBreakerSkipsHammeredProvider(t *testing.T) {
	caller := newScriptedCaller()
	caller.script("groq", scriptedResponse{err: errors.New("down")})

	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 0),
	}, 1, time.Minute)

	if _, _, err := c.Run(context.Background(), testPrompt()); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("first run err = %v", err)
	}

	_, attempts, err := c.Run(context.Background(), testPrompt())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("second run err = %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != models.AttemptSkipped || attempts[0].Reason != "circuit open" {
		t.Fatalf("attempts = %+v, want circuit-open skip", attempts)
	}
	if caller.calls["groq"] != 1 {
		t.Errorf("groq called %d times, want 1 (breaker must block the second run)", caller.calls["groq"])
	}
}

func TestCascadeDeadlineBreachSkipsRemaining(t *testing.T) {
	caller := newScriptedCaller()
	c := NewCascade(nil, caller, []models.ProviderDescriptor{
		testProvider("groq", true, 1),
		testProvider("openai", true, 1),
	}, 5, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, attempts, err := c.Run(ctx, testPrompt())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v, want skips for both providers", attempts)
	}
	for _, a := range attempts {
		if a.Outcome != models.AttemptSkipped || a.Reason != "deadline exceeded" {
			t.Errorf("attempt = %+v, want deadline skip", a)
		}
	}
	if caller.calls["groq"]+caller.calls["openai"] != 0 {
		t.Error("no provider should be called after the deadline")
	}
}

func TestParseCompletionStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validCompletion + "\n```"
	result, err := parseCompletion(fenced)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if result.Confidence != 0.85 || len(result.Sources) != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestParseCompletionStructuralChecks(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"not json", "a plain answer"},
		{"missing interpretation", `{"mood":"neutral","confidence":0.5}`},
		{"missing confidence", `{"interpretation":"something"}`},
		{"confidence out of range", `{"interpretation":"something","confidence":1.4}`},
	}
	for _, tc := range cases {
		if _, err := parseCompletion(tc.text); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestParseCompletionUnknownMoodDefaultsNeutral(t *testing.T) {
	result, err := parseCompletion(`{"interpretation":"something meaningful","mood":"elated","confidence":0.7}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Mood != models.MoodNeutral {
		t.Errorf("mood = %s, want neutral", result.Mood)
	}
}

func TestCascadeDeadlineBudget(t *testing.T) {
	providers := []models.ProviderDescriptor{
		{ID: "a", Timeout: 30 * time.Second, RetryBudget: 2, Available: true},
		{ID: "b", Timeout: 30 * time.Second, RetryBudget: 2, Available: true},
	}
	if got := CascadeDeadline(providers, 120*time.Second); got != 120*time.Second {
		t.Errorf("deadline = %s, want capped at 120s", got)
	}

	short := []models.ProviderDescriptor{
		{ID: "a", Timeout: 2 * time.Second, RetryBudget: 1, Available: true},
		{ID: "b", Timeout: 2 * time.Second, RetryBudget: 0, Available: false},
	}
	// One available provider: 2 calls of 2s plus 500ms backoff.
	if got := CascadeDeadline(short, 120*time.Second); got != 4*time.Second+500*time.Millisecond {
		t.Errorf("deadline = %s, want 4.5s", got)
	}

	if got := CascadeDeadline(nil, 120*time.Second); got != 10*time.Second {
		t.Errorf("deadline = %s, want 10s default", got)
	}
}
