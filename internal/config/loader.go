package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"tts":        {"deepgram"},
	"llm":        {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"ollama", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment variable references ($VAR or ${VAR}) anywhere in the document
// are expanded before parsing, so secrets like auth tokens can be kept out of
// the file. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL == "" {
		slog.Warn("server.public_url is empty; call instruction and media stream URLs cannot be built for the carrier")
	}
	if cfg.Server.JWTSecret == "" {
		slog.Warn("server.jwt_secret is empty; signed widget URLs are disabled")
	}

	// Telephony — credentials must be all-or-nothing.
	tel := cfg.Telephony
	if (tel.AccountSID == "") != (tel.AuthToken == "") {
		errs = append(errs, errors.New("telephony.account_sid and telephony.auth_token must be set together"))
	}
	if tel.AccountSID == "" {
		slog.Warn("telephony credentials not configured; outbound calls, transfers, and hang-up will be unavailable")
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required; calls cannot be transcribed without it"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required; the agent cannot speak without it"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required; the agent cannot generate responses without it"))
	}

	// Embeddings ↔ store dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but store.embedding_dimensions is not set; dimensions will be probed from the provider")
	}
	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}

	// Knowledge
	kb := cfg.Knowledge
	if kb.ChunkSize < 0 || kb.ChunkOverlap < 0 {
		errs = append(errs, errors.New("knowledge.chunk_size and knowledge.chunk_overlap must not be negative"))
	}
	if kb.ChunkSize > 0 && kb.ChunkOverlap >= kb.ChunkSize {
		errs = append(errs, fmt.Errorf("knowledge.chunk_overlap %d must be smaller than chunk_size %d", kb.ChunkOverlap, kb.ChunkSize))
	}
	if kb.TopK < 0 {
		errs = append(errs, errors.New("knowledge.top_k must not be negative"))
	}
	if kb.MaxDistance < 0 {
		errs = append(errs, errors.New("knowledge.max_distance must not be negative"))
	}

	// Pipeline
	if cfg.Pipeline.SilenceThresholdSec < 0 || cfg.Pipeline.SilenceThresholdSec > 10 {
		errs = append(errs, fmt.Errorf("pipeline.silence_threshold_sec %.2f is out of range [0, 10]", cfg.Pipeline.SilenceThresholdSec))
	}
	if cfg.Pipeline.InterimMinLength < 0 {
		errs = append(errs, errors.New("pipeline.interim_min_length must not be negative"))
	}

	// Interrupt
	ic := cfg.Interrupt
	if ic.MinEnergy < 0 {
		errs = append(errs, errors.New("interrupt.min_energy must not be negative"))
	}
	if ic.BaselineFactor != 0 && (ic.BaselineFactor < 1 || ic.BaselineFactor > 10) {
		errs = append(errs, fmt.Errorf("interrupt.baseline_factor %.2f is out of range [1, 10]", ic.BaselineFactor))
	}
	if ic.MinSpeechMs < 0 || ic.DebounceMs < 0 {
		errs = append(errs, errors.New("interrupt.min_speech_ms and interrupt.debounce_ms must not be negative"))
	}

	// Departments
	for name, number := range cfg.Departments {
		if name == "" {
			errs = append(errs, errors.New("departments contains an entry with an empty name"))
		}
		if number == "" {
			errs = append(errs, fmt.Errorf("departments[%q] has an empty phone number", name))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
