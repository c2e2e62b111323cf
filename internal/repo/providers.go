package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/models"
)

// Provider identifiers in ascending cost order.
const (
	ProviderGroq      = "groq"
	ProviderTogether  = "together"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	anthropicVersion   = "2023-06-01"
	defaultWireTimeout = 30 * time.Second
	defaultMaxOutput   = 2000
	defaultTemperature = 0.7
)

// completionClient is one provider endpoint able to answer a prompt.
type completionClient interface {
	complete(ctx context.Context, prompt models.Prompt, maxOutput int) (models.RawCompletion, error)
}

// OpenAICompatClient speaks the chat-completions dialect shared by Groq,
// Together and OpenAI.
type OpenAICompatClient struct {
	provider    string
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAICompatClient builds a chat-completions client. endpoint is the
// full URL of the completions resource.
func NewOpenAICompatClient(provider, endpoint, apiKey, model string, timeout time.Duration) *OpenAICompatClient {
	if timeout <= 0 {
		timeout = defaultWireTimeout
	}
	return &OpenAICompatClient{
		provider:    provider,
		endpoint:    endpoint,
		apiKey:      apiKey,
		model:       model,
		temperature: defaultTemperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenAICompatClient) complete(ctx context.Context, prompt models.Prompt, maxOutput int) (models.RawCompletion, error) {
	if c == nil {
		return models.RawCompletion{}, errors.New("provider client not initialised")
	}
	if c.apiKey == "" {
		return models.RawCompletion{}, fmt.Errorf("%s api key not configured", c.provider)
	}

	messages := make([]map[string]string, 0, 2)
	if prompt.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": prompt.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt.User})

	payload := map[string]interface{}{
		"model":       c.model,
		"messages":    messages,
		"max_tokens":  maxOutput,
		"temperature": c.temperature,
	}

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.httpClient, c.endpoint, headers, payload, &out); err != nil {
		return models.RawCompletion{}, fmt.Errorf("%s completion: %w", c.provider, err)
	}
	if len(out.Choices) == 0 {
		return models.RawCompletion{}, fmt.Errorf("%s returned no choices", c.provider)
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return models.RawCompletion{
		Text:   out.Choices[0].Message.Content,
		Tokens: out.Usage.TotalTokens,
		Model:  model,
	}, nil
}

// AnthropicClient speaks the Anthropic messages dialect. The system prompt
// rides in a dedicated field and token usage is split input/output.
type AnthropicClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient builds a messages-API client. endpoint is the full URL
// of the messages resource.
func NewAnthropicClient(endpoint, apiKey, model string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = defaultWireTimeout
	}
	return &AnthropicClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *AnthropicClient) complete(ctx context.Context, prompt models.Prompt, maxOutput int) (models.RawCompletion, error) {
	if c == nil {
		return models.RawCompletion{}, errors.New("provider client not initialised")
	}
	if c.apiKey == "" {
		return models.RawCompletion{}, errors.New("anthropic api key not configured")
	}

	payload := map[string]interface{}{
		"model":      c.model,
		"max_tokens": maxOutput,
		"messages": []map[string]string{
			{"role": "user", "content": prompt.User},
		},
	}
	if prompt.System != "" {
		payload["system"] = prompt.System
	}

	var out struct {
		Model   string `json:"model"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, c.httpClient, c.endpoint, headers, payload, &out); err != nil {
		return models.RawCompletion{}, fmt.Errorf("anthropic completion: %w", err)
	}
	if len(out.Content) == 0 {
		return models.RawCompletion{}, errors.New("anthropic returned no content blocks")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return models.RawCompletion{
		Text:   out.Content[0].Text,
		Tokens: out.Usage.InputTokens + out.Usage.OutputTokens,
		Model:  model,
	}, nil
}

// ProviderGateway routes cascade calls to the wire client matching the
// descriptor. It is the single ModelCaller the engine sees.
type ProviderGateway struct {
	logger  *slog.Logger
	clients map[string]completionClient
}

// ProviderSettings carries the per-provider wiring the gateway factory
// needs. Zero-value Endpoint and Model fall back to the provider's well
// known defaults.
type ProviderSettings struct {
	ID          string
	Endpoint    string
	APIKey      string
	Model       string
	CostTier    float64
	Timeout     time.Duration
	RetryBudget int
	MaxOutput   int
}

var defaultEndpoints = map[string]string{
	ProviderGroq:      "https://api.groq.com/openai/v1/chat/completions",
	ProviderTogether:  "https://api.together.xyz/v1/chat/completions",
	ProviderOpenAI:    "https://api.openai.com/v1/chat/completions",
	ProviderAnthropic: "https://api.anthropic.com/v1/messages",
}

var defaultModels = map[string]string{
	ProviderGroq:      "llama-3.1-8b-instant",
	ProviderTogether:  "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-haiku-20240307",
}

// NewProviderGateway builds the gateway plus the ordered descriptor list the
// cascade walks. Settings order is preserved; a provider is Available only
// when its API key is present.
func NewProviderGateway(logger *slog.Logger, settings []ProviderSettings) ([]models.ProviderDescriptor, *ProviderGateway) {
	if logger == nil {
		logger = slog.Default()
	}

	descriptors := make([]models.ProviderDescriptor, 0, len(settings))
	clients := make(map[string]completionClient, len(settings))
	available := make([]string, 0, len(settings))

	for _, s := range settings {
		endpoint := s.Endpoint
		if endpoint == "" {
			endpoint = defaultEndpoints[s.ID]
		}
		model := s.Model
		if model == "" {
			model = defaultModels[s.ID]
		}

		if s.ID == ProviderAnthropic {
			clients[s.ID] = NewAnthropicClient(endpoint, s.APIKey, model, s.Timeout)
		} else {
			clients[s.ID] = NewOpenAICompatClient(s.ID, endpoint, s.APIKey, model, s.Timeout)
		}

		descriptors = append(descriptors, models.ProviderDescriptor{
			ID:          s.ID,
			CostTier:    s.CostTier,
			Timeout:     s.Timeout,
			RetryBudget: s.RetryBudget,
			MaxOutput:   s.MaxOutput,
			Available:   s.APIKey != "",
		})
		if s.APIKey != "" {
			available = append(available, s.ID)
		}
	}

	if len(available) == 0 {
		logger.Warn("no provider api keys configured, rule-based interpretations only")
	} else {
		logger.Info("interpretation providers available",
			slog.String("providers", strings.Join(available, ",")))
	}

	return descriptors, &ProviderGateway{logger: logger, clients: clients}
}

// Complete satisfies the engine's caller contract.
func (g *ProviderGateway) Complete(ctx context.Context, provider models.ProviderDescriptor, prompt models.Prompt) (models.RawCompletion, error) {
	if g == nil {
		return models.RawCompletion{}, errors.New("provider gateway not initialised")
	}
	client, ok := g.clients[provider.ID]
	if !ok {
		return models.RawCompletion{}, fmt.Errorf("no client for provider %q", provider.ID)
	}

	maxOutput := prompt.MaxOutput
	if maxOutput <= 0 || (provider.MaxOutput > 0 && maxOutput > provider.MaxOutput) {
		maxOutput = provider.MaxOutput
	}
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return client.complete(ctx, prompt, maxOutput)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
