// File: internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/toolforge/api/schemas"
	"github.com/xkilldash9x/toolforge/internal/config"
)

// NewClient creates an LLMClient for a single configured model.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the tiered router from the full router config.
// The fast and powerful entries may name the same model; the router handles
// duplicate clients on Close.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	fastCfg, ok := cfg.Models[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("llm.models is missing an entry for fast model %q", cfg.DefaultFastModel)
	}
	powerfulCfg, ok := cfg.Models[cfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("llm.models is missing an entry for powerful model %q", cfg.DefaultPowerfulModel)
	}

	fastClient, err := NewClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build fast tier client: %w", err)
	}
	powerfulClient, err := NewClient(powerfulCfg, logger)
	if err != nil {
		fastClient.Close()
		return nil, fmt.Errorf("failed to build powerful tier client: %w", err)
	}

	return NewLLMRouter(logger, fastClient, powerfulClient)
}
