// Package decision selects the transport backing the delegating policy.
package decision

import (
	"fmt"
	"os"
	"strings"

	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
	"github.com/tiger/intersection-signal-sim/providers/decision/anthropic"
	"github.com/tiger/intersection-signal-sim/providers/decision/openai"
	"github.com/tiger/intersection-signal-sim/providers/decision/prompt"
)

const (
	EnvProvider   = "SIGSIM_DECISION_PROVIDER"
	EnvPromptFile = "SIGSIM_DECISION_PROMPT_FILE"

	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
)

// NewFromEnv builds a decider from SIGSIM_DECISION_* variables. provider
// overrides SIGSIM_DECISION_PROVIDER when non-empty.
func NewFromEnv(provider string) (delegating.Decider, error) {
	return newFromLookup(provider, os.Getenv, os.ReadFile)
}

func newFromLookup(provider string, getenv func(string) string, readFile func(string) ([]byte, error)) (delegating.Decider, error) {
	if provider == "" {
		provider = getenv(EnvProvider)
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderOpenAI
	}

	renderer := prompt.Default()
	if path := strings.TrimSpace(getenv(EnvPromptFile)); path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt template: %w", err)
		}
		renderer, err = prompt.New(string(raw))
		if err != nil {
			return nil, err
		}
	}

	switch provider {
	case ProviderOpenAI:
		cfg := openai.ConfigFromEnv()
		cfg.Prompt = renderer
		return openai.NewDecider(cfg)
	case ProviderDeepSeek:
		cfg := openai.ConfigFromEnv()
		cfg.APIKey = firstNonEmpty(getenv("SIGSIM_DECISION_DEEPSEEK_API_KEY"), cfg.APIKey)
		cfg.Endpoint = firstNonEmpty(getenv("SIGSIM_DECISION_DEEPSEEK_ENDPOINT"), "https://api.deepseek.com/chat/completions")
		cfg.Model = firstNonEmpty(getenv("SIGSIM_DECISION_DEEPSEEK_MODEL"), "deepseek-chat")
		cfg.Prompt = renderer
		return openai.NewDecider(cfg)
	case ProviderAnthropic:
		cfg := anthropic.ConfigFromEnv()
		cfg.Prompt = renderer
		return anthropic.NewDecider(cfg)
	default:
		return nil, fmt.Errorf("unsupported decision provider %q", provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
