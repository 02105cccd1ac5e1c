package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"dailystory/internal/clock"
	"dailystory/internal/infra"
	"dailystory/internal/infra/credentials"
	"dailystory/internal/providers/artifact"
	"dailystory/internal/providers/dalle"
	"dailystory/internal/providers/flux"
	"dailystory/internal/providers/geminiimage"
	"dailystory/internal/providers/kandinsky"
	"dailystory/internal/providers/midjourney"
	"dailystory/internal/providers/prompt"
	"dailystory/internal/providers/qwen"
	"dailystory/internal/providers/yandex"
	"dailystory/internal/store"
)

// Factory builds fresh generators and providers from configuration. Every
// runner gets its own instances so no credential rotation state is shared.
type Factory struct {
	Config     *infra.Config
	HTTPClient *http.Client
	// Keys is consulted when the environment carries no text keys.
	Keys       *credentials.Store
	Clock      clock.Clock
	Logger     *infra.Logger
	OnFallback func(reason string, err error)
}

// Shared are the collaborators every runner uses.
type Shared struct {
	Files     ArtifactStore
	Post      PostProcessor
	Sink      store.Sink
	Publisher Publisher
}

// Generator returns the configured text generator.
func (f Factory) Generator(ctx context.Context) (prompt.Generator, error) {
	cfg := f.Config
	failover := prompt.FailoverOptions{
		OverloadRetries: cfg.TextOverloadRetries,
		OverloadDelay:   cfg.TextOverloadDelay,
		Clock:           f.Clock,
		Logger:          f.Logger,
		OnFallback:      f.OnFallback,
	}
	switch cfg.PromptProvider {
	case credentials.ProviderOpenAI:
		keys, err := credentials.ResolveKeys(ctx, f.Keys, credentials.ProviderOpenAI, cfg.OpenAIAPIKeys)
		if err != nil {
			return nil, err
		}
		return prompt.NewOpenAIGenerator(prompt.OpenAIOptions{
			Keys:       keys,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: f.HTTPClient,
			Failover:   failover,
		})
	case credentials.ProviderGemini, "":
		keys, err := credentials.ResolveKeys(ctx, f.Keys, credentials.ProviderGemini, cfg.GeminiAPIKeys)
		if err != nil {
			return nil, err
		}
		return prompt.NewGeminiGenerator(prompt.GeminiOptions{
			Keys:       keys,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			HTTPClient: f.HTTPClient,
			Failover:   failover,
		})
	default:
		return nil, fmt.Errorf("pipeline: unsupported prompt provider %q", cfg.PromptProvider)
	}
}

// Providers builds every artifact backend whose credentials are present.
// Backends without credentials are left out and logged at debug level.
func (f Factory) Providers() map[string]artifact.Provider {
	cfg := f.Config
	log := infra.LoggerOrDiscard(f.Logger)
	out := make(map[string]artifact.Provider)
	add := func(name string, p artifact.Provider, err error) {
		if err != nil {
			log.Debug().Err(err).Str("provider", name).Msg("runner: provider not configured")
			return
		}
		out[name] = p
	}

	mj, err := midjourney.NewClient(midjourney.Options{Token: cfg.MidjourneyAPIToken, BaseURL: cfg.MidjourneyBaseURL, HTTPClient: f.HTTPClient, Logger: f.Logger})
	add(midjourney.Name, mj, err)
	kd, err := kandinsky.NewClient(kandinsky.Options{APIKey: cfg.KandinskyAPIKey, SecretKey: cfg.KandinskySecretKey, BaseURL: cfg.KandinskyBaseURL, HTTPClient: f.HTTPClient, Clock: f.Clock, Logger: f.Logger})
	add(kandinsky.Name, kd, err)
	fx, err := flux.NewClient(flux.Options{APIKey: cfg.BFLAPIKey, BaseURL: cfg.BFLBaseURL, HTTPClient: f.HTTPClient, Logger: f.Logger})
	add(flux.Name, fx, err)
	qw, err := qwen.NewClient(qwen.Options{BaseURL: cfg.QwenAPIURL, Clock: f.Clock, Logger: f.Logger})
	add(qwen.Name, qw, err)
	ya, err := yandex.NewClient(yandex.Options{OAuthToken: cfg.YandexOAuthToken, FolderID: cfg.YandexFolderID, HTTPClient: f.HTTPClient, Logger: f.Logger})
	add(yandex.Name, ya, err)
	var openAIKey string
	if len(cfg.OpenAIAPIKeys) > 0 {
		openAIKey = cfg.OpenAIAPIKeys[0]
	}
	de, err := dalle.NewClient(dalle.Options{APIKey: openAIKey, BaseURL: cfg.OpenAIBaseURL, HTTPClient: f.HTTPClient, Logger: f.Logger})
	add(dalle.Name, de, err)
	gi, err := geminiimage.NewClient(geminiimage.Options{Keys: cfg.GeminiAPIKeys, Model: cfg.GeminiImageModel, BaseURL: cfg.GeminiBaseURL, HTTPClient: f.HTTPClient, Logger: f.Logger})
	add(geminiimage.Name, gi, err)
	return out
}

// Runner builds one runner with its own generator and providers.
func (f Factory) Runner(ctx context.Context, def Definition, shared Shared) (*Runner, error) {
	gen, err := f.Generator(ctx)
	if err != nil {
		return nil, err
	}
	if f.Config.RunTimeout > 0 && def.RunTimeout == 0 {
		def.RunTimeout = f.Config.RunTimeout
	}
	return NewRunner(def, Deps{
		Generator:  gen,
		Providers:  f.Providers(),
		Files:      shared.Files,
		Post:       shared.Post,
		Sink:       shared.Sink,
		Publisher:  shared.Publisher,
		ChatID:     f.Config.TargetChatID,
		PromptsDir: f.Config.PromptsDir,
		Clock:      f.Clock,
		Logger:     f.Logger,
	})
}

// Runners builds every enabled definition. Definitions whose providers are
// not configured are skipped with a warning.
func (f Factory) Runners(ctx context.Context, defs []Definition, shared Shared) ([]*Runner, error) {
	log := infra.LoggerOrDiscard(f.Logger)
	var out []*Runner
	for _, def := range defs {
		if !f.Config.RunnerEnabled(def.Name) {
			continue
		}
		r, err := f.Runner(ctx, def, shared)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("runner", def.Name).Msg("runner: skipped")
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pipeline: no runner could be built")
	}
	return out, nil
}
