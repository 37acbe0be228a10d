package llm

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"go.uber.org/zap"
)

// SafeFallbackReply is returned when every candidate fails. Callers treat
// Success=false as degraded output, never as an error.
const SafeFallbackReply = "Thanks for your message. A member of our team will review it and get back to you shortly."

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	ExpectJSON   bool
}

type Result struct {
	Content       string
	ModelUsed     string
	Provider      string
	FallbacksUsed int
	Success       bool
}

// Generator produces a reply from the first working candidate in a
// deterministic fallback chain: the requested model first, then the fixed
// alternates, deduplicated order-preserving and capped at MaxAttempts.
type Generator struct {
	Providers      map[string]Provider
	FallbackModels []string
	MaxAttempts    int
	Backoff        time.Duration
}

func NewGenerator(providers ...Provider) *Generator {
	byName := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		byName[provider.Name()] = provider
	}

	var fallbackModels []string

	for _, model := range strings.Split(config.Conf.LLMFallbackModels, ",") {
		model = strings.TrimSpace(model)
		if model != "" {
			fallbackModels = append(fallbackModels, model)
		}
	}

	return &Generator{
		Providers:      byName,
		FallbackModels: fallbackModels,
		MaxAttempts:    config.Conf.LLMMaxAttempts,
		Backoff:        time.Duration(config.Conf.LLMAttemptBackoff) * time.Second,
	}
}

// Generate never returns an error: exhausting the chain yields the safe
// fallback string with Success=false.
func (generator *Generator) Generate(ctx context.Context, req Request) Result {
	chain := generator.buildChain(req.Model)

	for idx, model := range chain {
		if idx > 0 {
			time.Sleep(generator.Backoff)
		}

		content, provider, err := generator.tryCandidate(ctx, model, req)
		if err != nil {
			logging.Logger.Warn("generation candidate failed",
				zap.String("model", model),
				zap.String("provider", provider),
				zap.Int("candidate_index", idx),
				zap.String("error", err.Error()),
			)

			metrics.GenerationFallbacks.WithLabelValues(provider).Inc()

			continue
		}

		return Result{
			Content:       content,
			ModelUsed:     model,
			Provider:      provider,
			FallbacksUsed: idx,
			Success:       true,
		}
	}

	logging.Logger.Error("all generation candidates failed",
		zap.String("requested_model", req.Model),
		zap.Int("candidates", len(chain)),
	)

	return Result{
		Content:       SafeFallbackReply,
		FallbacksUsed: len(chain),
		Success:       false,
	}
}

func (generator *Generator) tryCandidate(ctx context.Context, model string, req Request) (string, string, error) {
	providerName := ProviderForModel(model)

	provider, ok := generator.Providers[providerName]
	if !ok {
		return "", providerName, ErrUnknownProvider
	}

	timer := prometheus.NewTimer(metrics.GenerateDuration.WithLabelValues(providerName))
	defer timer.ObserveDuration()

	content, err := provider.Chat(ctx, model, req.SystemPrompt, req.UserPrompt, req.ExpectJSON)
	if err != nil {
		return "", providerName, err
	}

	// Malformed output counts the same as a provider failure and moves
	// the chain along.
	if req.ExpectJSON && !json.Valid([]byte(content)) {
		return "", providerName, ErrMalformedJSON
	}

	return content, providerName, nil
}

func (generator *Generator) buildChain(requestedModel string) []string {
	candidates := make([]string, 0, len(generator.FallbackModels)+1)

	if requestedModel != "" {
		candidates = append(candidates, requestedModel)
	}

	candidates = append(candidates, generator.FallbackModels...)

	seen := make(map[string]bool, len(candidates))
	chain := make([]string, 0, len(candidates))

	for _, model := range candidates {
		if seen[model] {
			continue
		}

		seen[model] = true
		chain = append(chain, model)

		if len(chain) == generator.MaxAttempts {
			break
		}
	}

	return chain
}

// ProviderForModel routes a model name to its provider by prefix.
func ProviderForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "llama") || strings.HasPrefix(model, "mixtral"):
		return ProviderGroq
	case strings.HasPrefix(model, "deepseek"):
		return ProviderDeepSeek
	default:
		return ProviderOpenAI
	}
}
