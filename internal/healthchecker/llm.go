package healthchecker

import (
	"context"
	"errors"

	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/llm"
	"github.com/sablelabs/sable/internal/logging"
	"go.uber.org/zap"
)

var monitorPrompt = "Reply with the single word: pong"

func CheckLLM() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providerName := llm.ProviderForModel(config.Conf.LLMDefaultModel)

	client := newMonitorClient(providerName)

	_, err := client.Chat(ctx, config.Conf.LLMDefaultModel, "", monitorPrompt, false)
	if errors.Is(err, llm.ErrNotConfigured) {
		// Nothing to restore for an unconfigured provider.
		return nil
	}

	if err != nil {
		logging.Logger.Info("llm completion api status", zap.Error(err))
	}

	return err
}

func newMonitorClient(providerName string) *llm.ChatClient {
	switch providerName {
	case llm.ProviderGroq:
		return llm.NewChatClient(llm.ProviderGroq, config.Conf.GroqAPIKey, config.Conf.GroqBaseURL)
	case llm.ProviderDeepSeek:
		return llm.NewChatClient(llm.ProviderDeepSeek, config.Conf.DeepSeekAPIKey, config.Conf.DeepSeekBaseURL)
	default:
		return llm.NewChatClient(llm.ProviderOpenAI, config.Conf.OpenAIAPIKey, config.Conf.OpenAIBaseURL)
	}
}
