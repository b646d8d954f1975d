package ai

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"lorehub/internal/config"
)

// Factory builds an LLM from configuration. Factories must validate their
// credentials eagerly and fail fast.
type Factory func(cfg *config.AIConfig) (LLM, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a provider available under the given name. Later
// registrations replace earlier ones, which tests use to inject fakes.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// Providers lists the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the LLM named by cfg.Provider. Unknown providers are a
// configuration error.
func New(cfg *config.AIConfig) (LLM, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(cfg.Provider)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown AI provider %q (available: %s)",
			cfg.Provider, strings.Join(Providers(), ", "))
	}
	return factory(cfg)
}

func init() {
	Register("openai", func(cfg *config.AIConfig) (LLM, error) {
		return NewOpenAIClient(cfg)
	})
	Register("anthropic", func(cfg *config.AIConfig) (LLM, error) {
		return NewAnthropicClient(cfg)
	})
}
