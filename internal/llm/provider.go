package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sablelabs/sable/internal/circuitbreak"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured   = errors.New("llm provider credentials are not configured")
	ErrEmptyCompletion = errors.New("llm provider returned empty completion")
	ErrMalformedJSON   = errors.New("llm provider returned non-parseable json")
	ErrUnknownProvider = errors.New("no provider registered for model")
)

const (
	ProviderOpenAI   = "openai"
	ProviderGroq     = "groq"
	ProviderDeepSeek = "deepseek"
)

type Provider interface {
	Name() string
	Chat(ctx context.Context, model, systemPrompt, userPrompt string, expectJSON bool) (string, error)
}

// ChatClient is one provider in the fallback chain. All three providers
// speak the OpenAI chat completions dialect, so they differ only in base
// URL and credentials. A client without credentials fails fast with
// ErrNotConfigured so the chain moves on immediately.
type ChatClient struct {
	ProviderName   string
	Client         *openai.Client
	Configured     bool
	CircuitBreaker *gobreaker.CircuitBreaker[string]
}

func NewChatClient(providerName, apiKey, baseURL string) *ChatClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(time.Duration(config.Conf.LLMTimeout) * time.Second),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &ChatClient{
		ProviderName:   providerName,
		Client:         &client,
		Configured:     apiKey != "",
		CircuitBreaker: newChatCircuitBreaker(providerName),
	}
}

func newChatCircuitBreaker(providerName string) *gobreaker.CircuitBreaker[string] {
	settings := gobreaker.Settings{
		Name:     "LLM:" + providerName,
		Interval: time.Duration(config.Conf.LLMIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.LLMConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Info("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.LLMService)
			}
		},
	}

	return gobreaker.NewCircuitBreaker[string](settings)
}

func (chatClient *ChatClient) Name() string {
	return chatClient.ProviderName
}

func (chatClient *ChatClient) Chat(
	ctx context.Context,
	model string,
	systemPrompt string,
	userPrompt string,
	expectJSON bool,
) (string, error) {
	if !chatClient.Configured {
		return "", ErrNotConfigured
	}

	return chatClient.CircuitBreaker.Execute(func() (string, error) {
		return chatClient.doChatRequest(ctx, model, systemPrompt, userPrompt, expectJSON)
	})
}

func (chatClient *ChatClient) doChatRequest(
	ctx context.Context,
	model string,
	systemPrompt string,
	userPrompt string,
	expectJSON bool,
) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}

	if expectJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := chatClient.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		logging.Logger.Error("chat completion request failed",
			zap.String("provider", chatClient.ProviderName),
			zap.String("model", model),
			zap.String("error", err.Error()),
		)

		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}

	logging.Logger.Debug("chat completion succeeded",
		zap.String("provider", chatClient.ProviderName),
		zap.String("model", model),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)

	return content, nil
}
