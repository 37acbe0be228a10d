package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name    string
	content string
	err     error
	calls   int
}

func (provider *scriptedProvider) Name() string {
	return provider.name
}

func (provider *scriptedProvider) Chat(_ context.Context, _, _, _ string, _ bool) (string, error) {
	provider.calls++

	return provider.content, provider.err
}

func newTestGenerator(providers ...Provider) *Generator {
	byName := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		byName[provider.Name()] = provider
	}

	return &Generator{
		Providers:      byName,
		FallbackModels: []string{"gpt-4o-mini", "llama-3.3-70b-versatile", "deepseek-chat"},
		MaxAttempts:    3,
		Backoff:        0,
	}
}

func TestGenerateFirstCandidateSucceeds(t *testing.T) {
	openai := &scriptedProvider{name: ProviderOpenAI, content: "hello"}
	generator := newTestGenerator(openai)

	result := generator.Generate(context.Background(), Request{Model: "gpt-4o-mini"})

	require.True(t, result.Success)
	require.Equal(t, "hello", result.Content)
	require.Equal(t, "gpt-4o-mini", result.ModelUsed)
	require.Equal(t, ProviderOpenAI, result.Provider)
	require.Equal(t, 0, result.FallbacksUsed)
	require.Equal(t, 1, openai.calls)
}

func TestGenerateFallsThroughToNextProvider(t *testing.T) {
	openai := &scriptedProvider{name: ProviderOpenAI, err: ErrNotConfigured}
	groq := &scriptedProvider{name: ProviderGroq, content: "from groq"}
	generator := newTestGenerator(openai, groq)

	result := generator.Generate(context.Background(), Request{Model: "gpt-4o-mini"})

	require.True(t, result.Success)
	require.Equal(t, "from groq", result.Content)
	require.Equal(t, "llama-3.3-70b-versatile", result.ModelUsed)
	require.Equal(t, ProviderGroq, result.Provider)
	require.Equal(t, 1, result.FallbacksUsed)
}

func TestGenerateExhaustedChainDegradesToSafeReply(t *testing.T) {
	failing := errors.New("provider down")
	openai := &scriptedProvider{name: ProviderOpenAI, err: failing}
	groq := &scriptedProvider{name: ProviderGroq, err: failing}
	deepseek := &scriptedProvider{name: ProviderDeepSeek, err: failing}
	generator := newTestGenerator(openai, groq, deepseek)

	result := generator.Generate(context.Background(), Request{Model: "gpt-4o-mini"})

	require.False(t, result.Success)
	require.Equal(t, SafeFallbackReply, result.Content)
	require.Equal(t, 3, result.FallbacksUsed)
}

func TestGenerateRejectsMalformedJSON(t *testing.T) {
	openai := &scriptedProvider{name: ProviderOpenAI, content: "not json at all"}
	groq := &scriptedProvider{name: ProviderGroq, content: `{"reply":"ok"}`}
	generator := newTestGenerator(openai, groq)

	result := generator.Generate(context.Background(), Request{Model: "gpt-4o-mini", ExpectJSON: true})

	require.True(t, result.Success)
	require.Equal(t, ProviderGroq, result.Provider)
	require.Equal(t, 1, result.FallbacksUsed)
}

func TestBuildChainDeduplicatesAndCaps(t *testing.T) {
	generator := newTestGenerator()

	// Requested model already heads the fallback list.
	chain := generator.buildChain("gpt-4o-mini")
	require.Equal(t, []string{"gpt-4o-mini", "llama-3.3-70b-versatile", "deepseek-chat"}, chain)

	// A novel model consumes one attempt slot.
	chain = generator.buildChain("gpt-4.1")
	require.Equal(t, []string{"gpt-4.1", "gpt-4o-mini", "llama-3.3-70b-versatile"}, chain)
}

func TestBuildChainEmptyModelUsesFallbacksOnly(t *testing.T) {
	generator := newTestGenerator()

	chain := generator.buildChain("")
	require.Equal(t, []string{"gpt-4o-mini", "llama-3.3-70b-versatile", "deepseek-chat"}, chain)
}

func TestProviderForModel(t *testing.T) {
	require.Equal(t, ProviderGroq, ProviderForModel("llama-3.3-70b-versatile"))
	require.Equal(t, ProviderGroq, ProviderForModel("mixtral-8x7b"))
	require.Equal(t, ProviderDeepSeek, ProviderForModel("deepseek-chat"))
	require.Equal(t, ProviderOpenAI, ProviderForModel("gpt-4o-mini"))
	require.Equal(t, ProviderOpenAI, ProviderForModel("o3-mini"))
}

func TestChatClientNotConfigured(t *testing.T) {
	client := NewChatClient(ProviderOpenAI, "", "")

	_, err := client.Chat(context.Background(), "gpt-4o-mini", "", "hi", false)
	require.ErrorIs(t, err, ErrNotConfigured)
}
