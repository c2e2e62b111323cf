package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/cache"
	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/utils"
)

const caseSummaryRunes = 160

// ArchiveRepo reads and writes interpreted cases in the Weaviate-backed
// dream archive. An empty endpoint keeps the repo in offline mode, where
// reads return synthetic echoes and writes are dropped, so the pipeline
// never depends on the archive being up.
type ArchiveRepo struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	similarTTL time.Duration
	patternTTL time.Duration
}

// NewArchiveRepo constructs an archive client.
func NewArchiveRepo(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, similarTTL, patternTTL time.Duration) *ArchiveRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if similarTTL < 0 {
		similarTTL = 0
	}
	if patternTTL < 0 {
		patternTTL = 0
	}
	return &ArchiveRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		similarTTL: similarTTL,
		patternTTL: patternTTL,
	}
}

// SimilarNarratives returns archived cases sharing symbols with the current
// narrative, newest first as the archive orders them.
func (r *ArchiveRepo) SimilarNarratives(ctx context.Context, symbols []models.ValidatedSymbol, locale string, limit int) ([]models.ArchiveCase, error) {
	if r == nil {
		return nil, fmt.Errorf("archive repo not initialised")
	}
	if limit <= 0 {
		limit = 3
	}
	ids := symbolIDs(symbols)

	if r.endpoint == "" {
		return syntheticSimilarCases(ids, locale, limit), nil
	}

	cacheKey := ""
	if r.similarTTL > 0 {
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		cacheKey = cacheSimilarCasesKey(locale, sorted, limit)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.ArchiveCase
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            DreamCase(
              limit: %d
              where: {
                operator: And
                operands: [
                  {path: ["locale"], operator: Equal, valueString: "%s"}
                  %s
                ]
              }
            ) {
              caseId
              summary
              interpretation
              symbols
              confidence
              createdAt
            }
          }
        }`, limit, locale, optionalSymbolsOperand(ids)),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		return syntheticSimilarCases(ids, locale, limit), nil
	}
	defer resp.Body.Close()

	var response struct {
		Data struct {
			Get struct {
				DreamCase []struct {
					CaseID         string   `json:"caseId"`
					Summary        string   `json:"summary"`
					Interpretation string   `json:"interpretation"`
					Symbols        []string `json:"symbols"`
					Confidence     float64  `json:"confidence"`
					CreatedAt      string   `json:"createdAt"`
				} `json:"DreamCase"`
			} `json:"Get"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return syntheticSimilarCases(ids, locale, limit), nil
	}

	cases := make([]models.ArchiveCase, 0, len(response.Data.Get.DreamCase))
	for _, rec := range response.Data.Get.DreamCase {
		createdAt, _ := utils.ParseRFC3339(rec.CreatedAt)
		cases = append(cases, models.ArchiveCase{
			ID:             rec.CaseID,
			Summary:        rec.Summary,
			Interpretation: rec.Interpretation,
			Symbols:        rec.Symbols,
			Confidence:     rec.Confidence,
			CreatedAt:      createdAt,
		})
	}

	if r.similarTTL > 0 && cacheKey != "" && len(cases) > 0 {
		if data, err := json.Marshal(cases); err == nil {
			_ = r.cache.Set(ctx, cacheKey, data, r.similarTTL)
		}
	}

	return cases, nil
}

// StoreCase persists one finished interpretation for future recall.
func (r *ArchiveRepo) StoreCase(ctx context.Context, result models.AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("archive repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	payload := map[string]interface{}{
		"class":      "DreamCase",
		"properties": buildCaseProperties(result),
	}
	if result.RequestID != "" {
		payload["id"] = result.RequestID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store case failed: %s", strings.TrimSpace(string(data)))
	}

	return nil
}

// StorePatterns persists mined archetype patterns.
func (r *ArchiveRepo) StorePatterns(ctx context.Context, patterns []models.SymbolPattern) error {
	if r == nil {
		return fmt.Errorf("archive repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	for _, pattern := range patterns {
		payload := map[string]interface{}{
			"class":      "ArchetypePattern",
			"properties": buildPatternProperties(pattern),
		}
		if pattern.ID != "" {
			payload["id"] = pattern.ID
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/objects", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("store pattern failed: %s", strings.TrimSpace(string(data)))
		}
		resp.Body.Close()
	}

	// Stored patterns supersede whatever FetchPatterns has cached.
	if r.patternTTL > 0 {
		stale := map[string]struct{}{cachePatternsKey(""): {}}
		for _, pattern := range patterns {
			stale[cachePatternsKey(pattern.Archetype)] = struct{}{}
		}
		for key := range stale {
			_ = r.cache.Del(ctx, key)
		}
	}

	return nil
}

// FetchPatterns returns stored archetype patterns, optionally filtered to one
// archetype.
func (r *ArchiveRepo) FetchPatterns(ctx context.Context, archetype string) ([]models.SymbolPattern, error) {
	if r == nil {
		return nil, fmt.Errorf("archive repo not initialised")
	}

	if r.endpoint == "" {
		return syntheticSymbolPatterns(archetype), nil
	}

	cacheKey := ""
	if r.patternTTL > 0 {
		cacheKey = cachePatternsKey(archetype)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.SymbolPattern
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            ArchetypePattern(
              limit: 50
              %s
            ) {
              patternId
              archetype
              description
              topSymbols
              prevalence
              avgConfidence
              lastSeen
            }
          }
        }`, optionalArchetypeWhere(archetype)),
	}

	body, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		return syntheticSymbolPatterns(archetype), nil
	}
	defer resp.Body.Close()

	var response struct {
		Data struct {
			Get struct {
				ArchetypePattern []struct {
					PatternID     string   `json:"patternId"`
					Archetype     string   `json:"archetype"`
					Description   string   `json:"description"`
					TopSymbols    []string `json:"topSymbols"`
					Prevalence    float64  `json:"prevalence"`
					AvgConfidence float64  `json:"avgConfidence"`
					LastSeen      string   `json:"lastSeen"`
				} `json:"ArchetypePattern"`
			} `json:"Get"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return syntheticSymbolPatterns(archetype), nil
	}

	patterns := make([]models.SymbolPattern, 0, len(response.Data.Get.ArchetypePattern))
	for _, p := range response.Data.Get.ArchetypePattern {
		lastSeen, _ := utils.ParseRFC3339(p.LastSeen)
		patterns = append(patterns, models.SymbolPattern{
			ID:            p.PatternID,
			Archetype:     p.Archetype,
			Description:   p.Description,
			TopSymbols:    p.TopSymbols,
			Prevalence:    p.Prevalence,
			AvgConfidence: p.AvgConfidence,
			LastSeen:      lastSeen,
		})
	}

	if r.patternTTL > 0 && cacheKey != "" && len(patterns) > 0 {
		if data, err := json.Marshal(patterns); err == nil {
			_ = r.cache.Set(ctx, cacheKey, data, r.patternTTL)
		}
	}

	return patterns, nil
}

func symbolIDs(symbols []models.ValidatedSymbol) []string {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		ids = append(ids, s.SymbolID)
	}
	return ids
}

func cacheSimilarCasesKey(locale string, ids []string, limit int) string {
	return fmt.Sprintf("archive:similar:%s:%d:%s", locale, limit, strings.Join(ids, "|"))
}

func cachePatternsKey(archetype string) string {
	return fmt.Sprintf("archive:patterns:%s", archetype)
}

func optionalSymbolsOperand(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	quoted, err := json.Marshal(ids)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(`, {path: ["symbols"], operator: ContainsAny, valueStringArray: %s}`, string(quoted))
}

func optionalArchetypeWhere(archetype string) string {
	if archetype == "" {
		return ""
	}
	return fmt.Sprintf(`where: {path: ["archetype"], operator: Equal, valueString: "%s"}`, archetype)
}

func buildCaseProperties(result models.AnalysisResult) map[string]interface{} {
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return map[string]interface{}{
		"caseId":         result.RequestID,
		"locale":         result.Locale,
		"summary":        utils.TruncateRunes(result.Interpretation, caseSummaryRunes),
		"interpretation": result.Interpretation,
		"symbols":        symbolIDs(result.Symbols),
		"mood":           string(result.Mood),
		"confidence":     result.Confidence,
		"modelUsed":      result.ModelUsed,
		"requiresReview": result.RequiresHumanReview,
		"createdAt":      createdAt.Format(time.RFC3339),
	}
}

func buildPatternProperties(pattern models.SymbolPattern) map[string]interface{} {
	lastSeen := pattern.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	return map[string]interface{}{
		"patternId":     pattern.ID,
		"archetype":     pattern.Archetype,
		"description":   pattern.Description,
		"topSymbols":    pattern.TopSymbols,
		"prevalence":    pattern.Prevalence,
		"avgConfidence": pattern.AvgConfidence,
		"lastSeen":      lastSeen.Format(time.RFC3339),
	}
}

func syntheticSimilarCases(ids []string, locale string, limit int) []models.ArchiveCase {
	if limit <= 0 {
		limit = 3
	}
	summary := "Archived dream with overlapping imagery."
	interpretation := "A recurring arrangement of the same images, read as a sign of an ongoing inner process."
	if locale == "ru" {
		summary = "Архивный сон с похожими образами."
		interpretation = "Повторяющееся сочетание тех же образов, прочитанное как признак продолжающегося внутреннего процесса."
	}

	cases := make([]models.ArchiveCase, 0, limit)
	for i := 0; i < limit; i++ {
		echoed := ids
		if len(echoed) > 3 {
			echoed = echoed[:3]
		}
		cases = append(cases, models.ArchiveCase{
			ID:             fmt.Sprintf("synthetic-case-%d", i+1),
			Summary:        summary,
			Interpretation: interpretation,
			Symbols:        echoed,
			Confidence:     0.5 + float64(i)*0.05,
			CreatedAt:      time.Now().Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}
	return cases
}

func syntheticSymbolPatterns(archetype string) []models.SymbolPattern {
	arch := archetype
	if arch == "" {
		arch = "transformation"
	}
	return []models.SymbolPattern{
		{
			ID:            "pattern-1",
			Archetype:     arch,
			Description:   "Recurring cluster observed across recent narratives",
			TopSymbols:    []string{"water", "death-rebirth"},
			Prevalence:    0.31,
			AvgConfidence: 0.58,
			LastSeen:      time.Now().Add(-6 * time.Hour),
		},
		{
			ID:            "pattern-2",
			Archetype:     "shadow",
			Description:   "Pursuit imagery paired with heightened anxiety",
			TopSymbols:    []string{"pursuit", "surveillance"},
			Prevalence:    0.22,
			AvgConfidence: 0.52,
			LastSeen:      time.Now().Add(-30 * time.Hour),
		},
	}
}
