// Command voxrelay is the main entry point for the VoxRelay voice agent
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/voxrelay/voxrelay/internal/call"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/health"
	"github.com/voxrelay/voxrelay/internal/kb"
	"github.com/voxrelay/voxrelay/internal/media"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/resilience"
	"github.com/voxrelay/voxrelay/internal/server"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/tool"
	"github.com/voxrelay/voxrelay/internal/webhook"
	"github.com/voxrelay/voxrelay/pkg/provider/embeddings"
	ollamaembed "github.com/voxrelay/voxrelay/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxrelay/voxrelay/pkg/provider/embeddings/openai"
	"github.com/voxrelay/voxrelay/pkg/provider/llm"
	"github.com/voxrelay/voxrelay/pkg/provider/llm/anyllm"
	ollamallm "github.com/voxrelay/voxrelay/pkg/provider/llm/ollama"
	"github.com/voxrelay/voxrelay/pkg/provider/stt"
	sttdeepgram "github.com/voxrelay/voxrelay/pkg/provider/stt/deepgram"
	"github.com/voxrelay/voxrelay/pkg/provider/tts"
	ttsdeepgram "github.com/voxrelay/voxrelay/pkg/provider/tts/deepgram"
	"github.com/voxrelay/voxrelay/pkg/telephony"
	"github.com/voxrelay/voxrelay/pkg/telephony/twilio"
)

// version is stamped by the build via -ldflags.
var version = "dev"

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Level lives in a LevelVar so config hot reload can adjust it.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxrelay starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxrelay",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	dims := cfg.Store.EmbeddingDimensions
	if dims <= 0 && providers.Embeddings != nil {
		dims = providers.Embeddings.Dimensions()
		slog.Info("embedding dimensions probed from provider", "dimensions", dims)
	}
	db, err := store.NewStore(ctx, cfg.Store.PostgresDSN, dims)
	if err != nil {
		slog.Error("failed to connect to store", "err", err)
		return 1
	}
	defer db.Close()

	// ── Knowledge base ────────────────────────────────────────────────────────
	var retriever *kb.Retriever
	if providers.Embeddings != nil {
		var kbOpts []kb.Option
		if cfg.Knowledge.ChunkSize > 0 {
			kbOpts = append(kbOpts, kb.WithChunking(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap))
		}
		if cfg.Knowledge.TopK > 0 {
			kbOpts = append(kbOpts, kb.WithTopK(cfg.Knowledge.TopK))
		}
		if cfg.Knowledge.MaxDistance > 0 {
			kbOpts = append(kbOpts, kb.WithMaxDistance(cfg.Knowledge.MaxDistance))
		}
		retriever = kb.NewRetriever(providers.Embeddings, db, kbOpts...)
	} else {
		slog.Warn("no embeddings provider configured; knowledge retrieval is disabled")
	}

	// ── Telephony control plane ───────────────────────────────────────────────
	var controller telephony.Controller
	if cfg.Telephony.AccountSID != "" {
		controller, err = twilio.New(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)
		if err != nil {
			slog.Error("failed to create telephony controller", "err", err)
			return 1
		}
	}

	// ── Call pipeline ─────────────────────────────────────────────────────────
	executor := tool.NewExecutor(controller, db, cfg.Departments)
	notifier := webhook.NewNotifier(db)
	manager := call.NewManager()
	arbiter := call.NewArbiter(arbiterConfig(cfg.Pipeline))
	detector := call.NewDetector(detectorConfig(cfg.Interrupt))
	sink := call.NewSink(providers.TTS, cfg.Providers.TTS.StringOption("voice", ""))

	var ctxRetriever call.ContextRetriever
	if retriever != nil {
		ctxRetriever = retriever
	}
	runtime := call.NewRuntime(providers.LLM, ctxRetriever, executor, notifier)

	gateway := media.NewGateway(db, providers.STT, media.Pipeline{
		Manager:  manager,
		Arbiter:  arbiter,
		Detector: detector,
		Sink:     sink,
		Runtime:  runtime,
	}, media.WithGatewayNotifier(notifier))

	// ── HTTP surface ──────────────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMediaHandler(gateway),
		server.WithHealth(health.New(health.PingChecker("database", db.Ping)).WithVersion(version)),
		server.WithSignedURLs(cfg.Server.JWTSecret),
	}
	if controller != nil {
		srvOpts = append(srvOpts, server.WithTelephony(controller, cfg.Telephony.FromNumber))
	}
	if retriever != nil {
		srvOpts = append(srvOpts, server.WithIngestor(retriever))
	}
	srv := server.NewServer(db, cfg.Server.PublicURL, srvOpts...)

	httpSrv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.DepartmentsChanged {
			executor.SetDepartments(new.Departments)
			slog.Info("department transfer numbers reloaded", "departments", len(new.Departments))
		}
		if d.PipelineChanged {
			arbiter.SetConfig(arbiterConfig(new.Pipeline))
			slog.Info("turn-taking tuning reloaded")
		}
		if d.InterruptChanged {
			detector.SetConfig(detectorConfig(new.Interrupt))
			slog.Info("barge-in tuning reloaded")
		}
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tlsCfg := cfg.Server.TLS; tlsCfg != nil {
			err = httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		manager.Shutdown()
		notifier.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the cloud LLM backends reached through any-llm-go. Each
// uses an optional APIKey + optional BaseURL.
var anyllmProviders = []string{
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		return ollamallm.New(entry.BaseURL, entry.Model)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(entry.Model))
		}
		if fallback := entry.StringOption("fallback_model", ""); fallback != "" {
			opts = append(opts, sttdeepgram.WithFallbackModel(fallback))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		return sttdeepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsdeepgram.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithBaseURL(entry.BaseURL))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// providers bundles the instantiated pipeline providers.
type providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// buildProviders instantiates the providers named in cfg. STT, TTS, and LLM
// are required (config validation enforces the names); embeddings are
// optional. An LLM fallback, when configured, is wrapped behind the primary
// in a circuit-breaker chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}
	var err error

	if ps.STT, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	ps.LLM = primary

	if name := cfg.Providers.LLMFallback.Name; name != "" {
		secondary, err := reg.CreateLLM(cfg.Providers.LLMFallback)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", name, err)
		}
		chain := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		chain.AddFallback(name, secondary)
		ps.LLM = chain
		slog.Info("provider created", "kind", "llm_fallback", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		if ps.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Config translation ────────────────────────────────────────────────────────

func arbiterConfig(p config.PipelineConfig) call.ArbiterConfig {
	return call.ArbiterConfig{
		SilenceThreshold: time.Duration(p.SilenceThresholdSec * float64(time.Second)),
		InterimMode:      p.InterimMode,
		InterimMinLength: p.InterimMinLength,
		VADTimeout:       time.Duration(p.VADTimeoutSec * float64(time.Second)),
	}
}

func detectorConfig(i config.InterruptConfig) call.DetectorConfig {
	return call.DetectorConfig{
		Enabled:        i.Enabled,
		MinEnergy:      i.MinEnergy,
		BaselineFactor: i.BaselineFactor,
		MinSpeech:      time.Duration(i.MinSpeechMs) * time.Millisecond,
		Debounce:       time.Duration(i.DebounceMs) * time.Millisecond,
		RequireText:    i.RequireText,
	}
}

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
