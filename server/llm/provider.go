package llm

import (
	"errors"
	"os"
	"strings"
)

type providerKind int

const (
	providerXAI providerKind = iota
	providerOpenAI
	providerOpenRouter
	providerAnthropic
)

func (k providerKind) String() string {
	switch k {
	case providerOpenAI:
		return "openai"
	case providerOpenRouter:
		return "openrouter"
	case providerAnthropic:
		return "anthropic"
	default:
		return "xai"
	}
}

var defaultModels = map[providerKind]string{
	providerXAI:        "grok-3-mini",
	providerOpenAI:     "gpt-4o-mini",
	providerOpenRouter: "x-ai/grok-3-mini",
	providerAnthropic:  "claude-3-5-haiku-latest",
}

var defaultBases = map[providerKind]string{
	providerXAI:        "https://api.x.ai/v1",
	providerOpenAI:     "https://api.openai.com/v1",
	providerOpenRouter: "https://openrouter.ai/api/v1",
}

type apiConfig struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	ExtraHeaders map[string]string
}

func resolveAPIConfig(model string) (apiConfig, error) {
	cfg := apiConfig{
		Model:        strings.TrimSpace(model),
		ExtraHeaders: map[string]string{},
	}
	if cfg.Model == "" {
		cfg.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
	}

	cfg.Kind = providerFromEnv()
	manualOverride := false
	if override := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))); override != "" {
		switch override {
		case "xai", "grok":
			cfg.Kind, manualOverride = providerXAI, true
		case "openai":
			cfg.Kind, manualOverride = providerOpenAI, true
		case "openrouter":
			cfg.Kind, manualOverride = providerOpenRouter, true
		case "anthropic", "claude":
			cfg.Kind, manualOverride = providerAnthropic, true
		default:
			return apiConfig{}, errors.New("unknown LLM_PROVIDER " + override)
		}
	}
	if !manualOverride {
		if provider, ok := detectProviderFromModel(cfg.Model); ok {
			cfg.Kind = provider
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Kind]
	}
	cfg.Model = strings.TrimPrefix(cfg.Model, "openrouter/")

	var base string
	switch cfg.Kind {
	case providerXAI:
		base = firstNonEmpty(os.Getenv("LLM_BASE_URL"), os.Getenv("XAI_BASE_URL"))
		cfg.APIKey = firstNonEmpty(os.Getenv("XAI_API_KEY"), os.Getenv("LLM_API_KEY"))
	case providerOpenAI:
		base = firstNonEmpty(os.Getenv("LLM_BASE_URL"), os.Getenv("OPENAI_API_BASE"), os.Getenv("OPENAI_BASE_URL"))
		cfg.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("LLM_API_KEY"))
		cfg.Organization = strings.TrimSpace(os.Getenv("OPENAI_ORG"))
	case providerOpenRouter:
		base = firstNonEmpty(os.Getenv("LLM_BASE_URL"), os.Getenv("OPENROUTER_API_BASE"), os.Getenv("OPENROUTER_BASE_URL"))
		cfg.APIKey = firstNonEmpty(os.Getenv("OPENROUTER_API_KEY"), os.Getenv("LLM_API_KEY"))
	case providerAnthropic:
		base = firstNonEmpty(os.Getenv("LLM_BASE_URL"), os.Getenv("ANTHROPIC_BASE_URL"))
		cfg.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("LLM_API_KEY"))
	}
	if base == "" {
		base = defaultBases[cfg.Kind]
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if !manualOverride && strings.Contains(strings.ToLower(cfg.BaseURL), "openrouter") {
		cfg.Kind = providerOpenRouter
		if cfg.APIKey == "" {
			cfg.APIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
		}
	}
	if cfg.APIKey == "" {
		return apiConfig{}, errors.New("API key missing for provider " + cfg.Kind.String())
	}

	if cfg.Kind == providerOpenRouter {
		if v := strings.TrimSpace(os.Getenv("OPENROUTER_SITE_URL")); v != "" {
			cfg.ExtraHeaders["HTTP-Referer"] = v
			cfg.ExtraHeaders["Referer"] = v
		}
		cfg.ExtraHeaders["X-Title"] = firstNonEmpty(os.Getenv("OPENROUTER_TITLE"), "Roast Arena")
	}

	return cfg, nil
}

// providerFromEnv picks a provider from whichever API key is set, xAI first.
func providerFromEnv() providerKind {
	switch {
	case strings.TrimSpace(os.Getenv("XAI_API_KEY")) != "":
		return providerXAI
	case strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "":
		return providerOpenAI
	case strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")) != "":
		return providerOpenRouter
	case strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) != "":
		return providerAnthropic
	}
	return providerXAI
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func detectProviderFromModel(model string) (providerKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case normalized == "":
		return providerXAI, false
	case strings.HasPrefix(normalized, "openrouter/"):
		return providerOpenRouter, true
	case strings.HasPrefix(normalized, "claude"):
		return providerAnthropic, true
	case strings.HasPrefix(normalized, "grok"):
		return providerXAI, true
	case strings.HasPrefix(normalized, "gpt-"), strings.HasPrefix(normalized, "o1"), strings.HasPrefix(normalized, "o3"):
		return providerOpenAI, true
	}
	return providerXAI, false
}
