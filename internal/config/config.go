// Package config loads the orchestrator configuration from a YAML file and
// ORCHID_* environment variables, with sane defaults for every knob.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	orcherrors "orchid/internal/errors"
	"orchid/internal/sandbox"
)

// Config is the full runtime configuration tree.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Delegation    DelegationConfig    `mapstructure:"delegation"`
	Sandbox       sandbox.Policy      `mapstructure:"sandbox"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Server        ServerConfig        `mapstructure:"server"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	RunLog        RunLogConfig        `mapstructure:"runlog"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// EngineConfig bounds a single run.
type EngineConfig struct {
	// MaxReplans caps how many times the observer may route back to planning.
	MaxReplans int `mapstructure:"max_replans"`
	// MaxIterations is the hard ceiling on plan/act cycles regardless of
	// replan budget.
	MaxIterations int           `mapstructure:"max_iterations"`
	StepTimeout   time.Duration `mapstructure:"step_timeout"`
	// RunTimeout is the whole-run wall clock limit; zero disables it.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// MaxParallel limits concurrently executing steps within one group.
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxHistoryTokens bounds the conversation window handed to the planner.
	MaxHistoryTokens int `mapstructure:"max_history_tokens"`
}

// DelegationConfig bounds recursive sub-agent runs.
type DelegationConfig struct {
	MaxDepth int           `mapstructure:"max_depth"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProviderConfig identifies one OpenAI-compatible model endpoint.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	Primary  ProviderConfig                  `mapstructure:"primary"`
	Fallback ProviderConfig                  `mapstructure:"fallback"`
	Retry    orcherrors.RetryConfig          `mapstructure:"retry"`
	Breaker  orcherrors.CircuitBreakerConfig `mapstructure:"breaker"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CatalogConfig points at the declarative capability catalogs loaded at
// startup.
type CatalogConfig struct {
	AgentsFile string `mapstructure:"agents_file"`
	SkillsFile string `mapstructure:"skills_file"`
}

// MemoryConfig configures the reflection store.
type MemoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RunLogConfig configures the append-only run log.
type RunLogConfig struct {
	Dir string `mapstructure:"dir"`
}

// ObservabilityConfig configures metrics and tracing exports.
type ObservabilityConfig struct {
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load reads configuration from path (optional), the working directory, and
// the environment. Missing files are fine; defaults cover everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("orchid")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".orchid"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_replans", 3)
	v.SetDefault("engine.max_iterations", 8)
	v.SetDefault("engine.step_timeout", "60s")
	v.SetDefault("engine.run_timeout", "300s")
	v.SetDefault("engine.max_parallel", 4)
	v.SetDefault("engine.max_history_tokens", 24000)

	v.SetDefault("delegation.max_depth", 2)
	v.SetDefault("delegation.timeout", "120s")

	defaultPolicy := sandbox.DefaultPolicy()
	v.SetDefault("sandbox.denied_imports", defaultPolicy.DeniedImports)
	v.SetDefault("sandbox.denied_patterns", defaultPolicy.DeniedPatterns)
	v.SetDefault("sandbox.wall_clock_limit", defaultPolicy.WallClockLimit.String())
	v.SetDefault("sandbox.memory_limit_mb", defaultPolicy.MemoryLimitMB)
	v.SetDefault("sandbox.allow_network", false)
	v.SetDefault("sandbox.allow_file_write", false)

	v.SetDefault("llm.primary.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.primary.model", "gpt-4o-mini")
	v.SetDefault("llm.primary.timeout", "120s")
	v.SetDefault("llm.fallback.timeout", "120s")

	retry := orcherrors.DefaultRetryConfig()
	v.SetDefault("llm.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("llm.retry.base_delay", retry.BaseDelay.String())
	v.SetDefault("llm.retry.max_delay", retry.MaxDelay.String())
	v.SetDefault("llm.retry.jitter_factor", retry.JitterFactor)

	breaker := orcherrors.DefaultCircuitBreakerConfig()
	v.SetDefault("llm.breaker.failure_threshold", breaker.FailureThreshold)
	v.SetDefault("llm.breaker.success_threshold", breaker.SuccessThreshold)
	v.SetDefault("llm.breaker.timeout", breaker.Timeout.String())

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("catalog.agents_file", "")
	v.SetDefault("catalog.skills_file", "")

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.path", defaultDataPath("reflections"))

	v.SetDefault("runlog.dir", defaultDataPath("runlog"))

	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.service_name", "orchid")
}

// Validate rejects configurations the engine cannot run safely under.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}
	if c.Engine.MaxReplans < 0 {
		return fmt.Errorf("engine.max_replans must not be negative")
	}
	if c.Engine.MaxReplans >= c.Engine.MaxIterations {
		return fmt.Errorf("engine.max_replans (%d) must stay below engine.max_iterations (%d)",
			c.Engine.MaxReplans, c.Engine.MaxIterations)
	}
	if c.Engine.RunTimeout < 0 {
		return fmt.Errorf("engine.run_timeout must not be negative")
	}
	if c.Delegation.MaxDepth < 0 {
		return fmt.Errorf("delegation.max_depth must not be negative")
	}
	if c.Delegation.Timeout <= 0 {
		return fmt.Errorf("delegation.timeout must be positive")
	}
	if c.Sandbox.WallClockLimit <= 0 {
		return fmt.Errorf("sandbox.wall_clock_limit must be positive")
	}
	return nil
}

func defaultDataPath(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "orchid", sub)
	}
	return filepath.Join(home, ".orchid", sub)
}
