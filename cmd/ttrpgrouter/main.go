// Command ttrpgrouter loads configuration, wires the provider fleet and
// router, and runs a single completion or stream against it (§6; see the
// cmd/ttrpgrouter entry in SPEC_FULL.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Raudbjorn/ttrpg-llm-core/circuitbreaker"
	"github.com/Raudbjorn/ttrpg-llm-core/config"
	"github.com/Raudbjorn/ttrpg-llm-core/cost"
	"github.com/Raudbjorn/ttrpg-llm-core/credstore"
	"github.com/Raudbjorn/ttrpg-llm-core/health"
	"github.com/Raudbjorn/ttrpg-llm-core/llm"
	"github.com/Raudbjorn/ttrpg-llm-core/oauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/anthropic"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/claudeoauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/cohere"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/copilot"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/deepseek"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/gemini"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/geminioauth"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/groq"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/mistral"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/ollama"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openai"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/openrouter"
	"github.com/Raudbjorn/ttrpg-llm-core/providers/together"
	"github.com/Raudbjorn/ttrpg-llm-core/router"
)

// Exit codes (§6).
const (
	exitOK                  = 0
	exitGenericError        = 1
	exitAuthFailure         = 2
	exitRateLimited         = 3
	exitBudgetExceeded      = 4
	exitNoProvidersAvailable = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config.toml (defaults to the XDG config dir)")
	prompt := flag.String("prompt", "", "user message to send")
	stream := flag.Bool("stream", false, "stream the response instead of waiting for completion")
	flag.Parse()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitGenericError
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: ttrpgrouter -prompt \"...\" [-stream] [-config path]")
		return exitGenericError
	}

	store := buildCredentialStore(cfg.Credentials)
	costTracker := cost.New(cost.BudgetConfig(cfg.Budget))
	healthTracker := health.New(logger)

	r := router.New(router.Config{
		Strategy:            parseStrategy(cfg.Routing.Strategy),
		PreferredID:         cfg.Routing.PreferredProvider,
		RequestTimeout:      cfg.Routing.RequestTimeout,
		StreamChunkTimeout:  cfg.Routing.StreamChunkTimeout,
		EnableFallback:      cfg.Routing.EnableFallback,
		HealthCheckInterval: cfg.Routing.HealthCheckInterval,
		Budget:              cost.BudgetConfig(cfg.Budget),
		Logger:              logger,
	}, costTracker, healthTracker)

	registered := registerProviders(r, cfg, store, logger)
	if registered == 0 {
		fmt.Fprintln(os.Stderr, "no providers configured")
		return exitNoProvidersAvailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	req := &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage(*prompt)}}

	if *stream {
		return runStream(ctx, r, req)
	}
	return runCompletion(ctx, r, req)
}

func runCompletion(ctx context.Context, r *router.Router, req *llm.ChatRequest) int {
	resp, err := r.Dispatch(ctx, req)
	if err != nil {
		return exitCodeFor(err)
	}
	fmt.Println(resp.Content)
	return exitOK
}

func runStream(ctx context.Context, r *router.Router, req *llm.ChatRequest) int {
	req.Stream = true
	chunks, err := r.Stream(ctx, req)
	if err != nil {
		return exitCodeFor(err)
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			return exitCodeFor(chunk.Err)
		}
		fmt.Print(chunk.Content)
		if chunk.IsFinal {
			fmt.Println()
		}
	}
	return exitOK
}

func exitCodeFor(err error) int {
	llmErr, ok := err.(*llm.Error)
	if !ok {
		fmt.Fprintln(os.Stderr, err)
		return exitGenericError
	}
	fmt.Fprintln(os.Stderr, llmErr.Error())
	switch llmErr.Code {
	case llm.ErrAuth:
		return exitAuthFailure
	case llm.ErrRateLimited:
		return exitRateLimited
	case llm.ErrBudgetExceeded:
		return exitBudgetExceeded
	case llm.ErrNoProvidersAvailable:
		return exitNoProvidersAvailable
	default:
		return exitGenericError
	}
}

func parseStrategy(s string) router.Strategy {
	switch s {
	case "round_robin":
		return router.StrategyRoundRobin
	case "least_latency":
		return router.StrategyLeastLatency
	case "lowest_cost":
		return router.StrategyLowestCost
	case "random":
		return router.StrategyRandom
	case "preferred":
		return router.StrategyPreferred
	default:
		return router.StrategyPriority
	}
}

func buildCredentialStore(cfg config.CredentialConfig) credstore.Store {
	switch cfg.Backend {
	case "keyring":
		return credstore.NewKeyringStore()
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = config.DefaultPath() + ".credentials.json"
		}
		return credstore.NewFileStore(path)
	case "memory":
		return credstore.NewMemoryStore()
	default:
		path := cfg.FilePath
		if path == "" {
			path = config.DefaultPath() + ".credentials.json"
		}
		return credstore.NewAuto(path)
	}
}

// resolveAPIKey prefers a credential-store record over an inline config
// value, since §6 treats the config file's api_key_ref as a reference,
// not an inline secret, when a keyring is available.
func resolveAPIKey(store credstore.Store, providerID string) string {
	rec, err := store.Get(providerID)
	if err != nil {
		return ""
	}
	return rec.APIKey
}

type providerEntry struct {
	id string
	pc config.ProviderConfig
}

// registerProviders builds one adapter per enabled [providers.<id>]
// table and registers it with the router in ascending-priority order,
// since StrategyPriority dispatches in registration order. Unknown
// provider ids are skipped with a warning (§6: "Unknown fields are
// ignored" generalizes to unknown provider ids not matching a
// compiled-in adapter).
func registerProviders(r *router.Router, cfg *config.Config, store credstore.Store, logger *zap.Logger) int {
	entries := make([]providerEntry, 0, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if pc.Enabled {
			entries = append(entries, providerEntry{id: id, pc: pc})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pc.Priority < entries[j].pc.Priority })

	count := 0
	for _, e := range entries {
		id, pc := e.id, e.pc
		apiKey := resolveAPIKey(store, id)
		if apiKey == "" {
			apiKey = pc.APIKeyRef
		}

		var provider llm.Provider
		switch id {
		case "openai":
			provider = openai.New(openai.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "anthropic":
			provider = anthropic.New(anthropic.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "gemini":
			provider = gemini.New(gemini.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "cohere":
			provider = cohere.New(cohere.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "groq":
			provider = groq.New(groq.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "together":
			provider = together.New(together.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "deepseek":
			provider = deepseek.New(deepseek.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "mistral":
			provider = mistral.New(mistral.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "openrouter":
			provider = openrouter.New(openrouter.Config{APIKey: apiKey, BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "ollama":
			provider = ollama.New(ollama.Config{Host: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel})
		case "claude-oauth":
			provider = claudeoauth.New(claudeoauth.Config{
				BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel,
				Store: store,
				OAuth: oauth.PKCEConfig{ClientID: pc.ClientID, AuthURL: pc.AuthURL, TokenURL: pc.TokenURL, RedirectURL: pc.RedirectURL, Scopes: pc.Scopes},
			})
		case "gemini-oauth":
			provider = geminioauth.New(geminioauth.Config{
				BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel,
				Store: store,
				OAuth: oauth.PKCEConfig{ClientID: pc.ClientID, AuthURL: pc.AuthURL, TokenURL: pc.TokenURL, RedirectURL: pc.RedirectURL, Scopes: pc.Scopes},
			})
		case "copilot":
			provider = copilot.New(copilot.Config{
				BaseURL: pc.Host, DefaultModel: pc.Model, FallbackModel: pc.FallbackModel,
				Store:      store,
				DeviceCode: oauth.DeviceCodeConfig{ClientID: pc.ClientID, DeviceURL: pc.DeviceURL, TokenURL: pc.TokenURL, Scopes: pc.Scopes},
			})
		default:
			logger.Warn("unknown provider id, skipping", zap.String("provider", id))
			continue
		}

		r.RegisterWithRateLimit(id, provider, circuitbreaker.DefaultConfig(), pc.RateLimitRPS, pc.RateLimitBurst)
		count++
	}
	return count
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if encoding == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
