// Package config loads the sandbox's runtime configuration from the
// environment, following the same env-driven, validate-once-at-startup
// pattern the rest of this codebase uses for secrets: one Load() call
// returns an immutable Config, or an aggregated ValidationError listing
// everything wrong with it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RunConfig holds the process-runner policy knobs.
type RunConfig struct {
	AllowedPrograms []string
	EnvAllowlist    []string
	FixedEnv        map[string]string
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	MaxOutputBytes  int64
	AuditLogPath    string // empty disables the audit log
}

// WasmConfig holds the WebAssembly runner's default limits.
type WasmConfig struct {
	MaxMemoryBytes   uint64
	MaxTableElements uint32
	DefaultFuel      uint64
}

// MicroImageConfig describes one named micro-VM image.
type MicroImageConfig struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Extension string            `json:"extension"`
	Env       map[string]string `json:"env"`
}

// MicroConfig holds the micro-VM runner's policy knobs.
type MicroConfig struct {
	Images         map[string]MicroImageConfig
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64
	BaseEnv        map[string]string
}

// AgentConfig holds the agent dispatcher's policy knobs.
type AgentConfig struct {
	LLMEndpoint     string
	DefaultModel    string
	RequestTimeout  time.Duration
	HistoryCapacity int
	MaxContextBytes int
	APIKey          string
}

// Config is the fully validated, immutable runtime configuration. Every
// field is populated once by Load and never mutated afterward.
type Config struct {
	Environment string
	Root        string
	MaxFileSize int64

	Run   RunConfig
	Wasm  WasmConfig
	Micro MicroConfig
	Agent AgentConfig

	// Transport/auth knobs for the out-of-scope RPC and persistence
	// collaborators; the core never reads these directly.
	BearerSigningKey string
	DatabaseURL      string
	RedisURL         string
	ArtifactBucket   string
}

// ValidationError aggregates every configuration problem found by Load so
// operators see the whole list in one failure instead of fixing one
// variable at a time.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid: %s", strings.Join(e.Invalid, ", ")))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// Load reads a .env file if present (silently ignored if missing, since
// production deployments set the environment directly), then populates and
// validates a Config from the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	verr := &ValidationError{}
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Root:        os.Getenv("SANDBOX_ROOT"),
		MaxFileSize: getInt64(verr, "MAX_FILE_SIZE", 10<<20),

		Run: RunConfig{
			AllowedPrograms: getList("RUN_ALLOWED_PROGRAMS"),
			EnvAllowlist:    getList("RUN_ENV_ALLOWLIST"),
			FixedEnv:        getMap("RUN_FIXED_ENV"),
			DefaultTimeout:  getDuration(verr, "RUN_DEFAULT_TIMEOUT", 10*time.Second),
			MaxTimeout:      getDuration(verr, "RUN_MAX_TIMEOUT", 2*time.Minute),
			MaxOutputBytes:  getInt64(verr, "RUN_MAX_OUTPUT_BYTES", 1<<20),
			AuditLogPath:    os.Getenv("RUN_AUDIT_LOG_PATH"),
		},
		Wasm: WasmConfig{
			MaxMemoryBytes:   getUint64(verr, "WASM_MAX_MEMORY_BYTES", 64<<20),
			MaxTableElements: uint32(getInt64(verr, "WASM_MAX_TABLE_ELEMENTS", 1024)),
			DefaultFuel:      getUint64(verr, "WASM_DEFAULT_FUEL", 5_000_000),
		},
		Micro: MicroConfig{
			Images:         getImages(verr),
			DefaultTimeout: getDuration(verr, "MICRO_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:     getDuration(verr, "MICRO_MAX_TIMEOUT", 5*time.Minute),
			MaxOutputBytes: getInt64(verr, "MICRO_MAX_OUTPUT_BYTES", 1<<20),
			BaseEnv:        getMap("MICRO_BASE_ENV"),
		},
		Agent: AgentConfig{
			LLMEndpoint:     os.Getenv("AGENT_LLM_ENDPOINT"),
			DefaultModel:    getEnv("AGENT_DEFAULT_MODEL", "gpt-4o-mini"),
			RequestTimeout:  getDuration(verr, "AGENT_REQUEST_TIMEOUT", 60*time.Second),
			HistoryCapacity: int(getInt64(verr, "AGENT_HISTORY_CAPACITY", 128)),
			MaxContextBytes: int(getInt64(verr, "AGENT_MAX_CONTEXT_BYTES", 1<<18)),
			APIKey:          os.Getenv("AGENT_API_KEY"),
		},

		BearerSigningKey: os.Getenv("BEARER_SIGNING_KEY"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ArtifactBucket:   os.Getenv("ARTIFACT_BUCKET"),
	}

	if cfg.Root == "" {
		verr.Missing = append(verr.Missing, "SANDBOX_ROOT")
	} else if !filepath.IsAbs(cfg.Root) {
		verr.Invalid = append(verr.Invalid, "SANDBOX_ROOT must be an absolute path")
	}
	if cfg.Agent.LLMEndpoint == "" {
		verr.Missing = append(verr.Missing, "AGENT_LLM_ENDPOINT")
	}
	if cfg.BearerSigningKey == "" && cfg.Environment == "production" {
		verr.Missing = append(verr.Missing, "BEARER_SIGNING_KEY")
	}
	if cfg.Run.DefaultTimeout > cfg.Run.MaxTimeout {
		verr.Invalid = append(verr.Invalid, "RUN_DEFAULT_TIMEOUT must not exceed RUN_MAX_TIMEOUT")
	}
	if cfg.Micro.DefaultTimeout > cfg.Micro.MaxTimeout {
		verr.Invalid = append(verr.Invalid, "MICRO_DEFAULT_TIMEOUT must not exceed MICRO_MAX_TIMEOUT")
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getMap parses a comma-separated KEY=VALUE list, e.g. "PATH=/usr/bin,LANG=C".
func getMap(key string) map[string]string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}

func getInt64(verr *ValidationError, key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key+" must be an integer")
		return fallback
	}
	return v
}

func getUint64(verr *ValidationError, key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key+" must be a non-negative integer")
		return fallback
	}
	return v
}

func getDuration(verr *ValidationError, key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		verr.Invalid = append(verr.Invalid, key+" must be a duration (e.g. \"30s\")")
		return fallback
	}
	return d
}
