// config/config.go
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. It is built once in main and
// handed to constructors; nothing else reads the environment.
type Config struct {
	Temporal  TemporalConfig  `yaml:"temporal"`
	HTTP      HTTPConfig      `yaml:"http"`
	LLM       LLMConfig       `yaml:"llm"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Validator ValidatorConfig `yaml:"validator"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Batch     BatchConfig     `yaml:"batch"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

type TemporalConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

type HTTPConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"` // openai | gemini
	OpenAIAPIKey   string  `yaml:"-"`
	GeminiAPIKey   string  `yaml:"-"`
	Model          string  `yaml:"model"` // empty picks the provider default
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

type SandboxConfig struct {
	DockerBinary string        `yaml:"docker_binary"`
	Image        string        `yaml:"image"`
	SceneName    string        `yaml:"scene_name"`
	Quality      string        `yaml:"quality"`
	Timeout      time.Duration `yaml:"timeout"`
	WorkDir      string        `yaml:"work_dir"`
}

type ValidatorConfig struct {
	FFmpegBinary  string  `yaml:"ffmpeg_binary"`
	FFprobeBinary string  `yaml:"ffprobe_binary"`
	BlankMean     float64 `yaml:"blank_mean"`
	LowContrast   float64 `yaml:"low_contrast"`
}

type KnowledgeConfig struct {
	FixThreshold       float64 `yaml:"fix_threshold"`
	KnowledgeThreshold float64 `yaml:"knowledge_threshold"`
	ReferenceTopK      int     `yaml:"reference_top_k"`
	// InMemory swaps the SQLite vector index for a process-local map.
	InMemory bool `yaml:"in_memory"`
}

type WorkflowConfig struct {
	HealLimit int           `yaml:"heal_limit"`
	Deadline  time.Duration `yaml:"deadline"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Temporal: TemporalConfig{
			Address:   "localhost:7233",
			Namespace: "default",
			TaskQueue: "newton-generation-queue",
		},
		HTTP: HTTPConfig{
			Port:           "3000",
			RequestTimeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.5,
			MaxTokens:   4096,
		},
		Sandbox: SandboxConfig{
			DockerBinary: "docker",
			Image:        "manimcommunity/manim:stable",
			SceneName:    "PhysicsScene",
			Quality:      "-qm",
			Timeout:      180 * time.Second,
			WorkDir:      "output/scenes",
		},
		Validator: ValidatorConfig{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			BlankMean:     10,
			LowContrast:   20,
		},
		Knowledge: KnowledgeConfig{
			FixThreshold:       0.85,
			KnowledgeThreshold: 0.7,
			ReferenceTopK:      5,
		},
		Workflow: WorkflowConfig{
			HealLimit: 1,
			Deadline:  30 * time.Minute,
		},
		Batch:    BatchConfig{Concurrency: 2},
		DataDir:  "data",
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// environment overrides (.env is loaded first and wins over nothing).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables or defaults")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("NEWTON_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAMLStrict(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Temporal.Address, "TEMPORAL_ADDRESS")
	setString(&cfg.Temporal.Namespace, "TEMPORAL_NAMESPACE")
	setString(&cfg.Temporal.TaskQueue, "TEMPORAL_TASK_QUEUE")
	setString(&cfg.HTTP.Port, "APP_PORT")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.Sandbox.Image, "SANDBOX_IMAGE")
	setString(&cfg.Sandbox.WorkDir, "SANDBOX_WORK_DIR")
	setString(&cfg.DataDir, "NEWTON_DATA_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if v := getenv("HEAL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workflow.HealLimit = n
		} else {
			slog.Warn("Ignoring invalid HEAL_LIMIT", "value", v)
		}
	}
	if v := getenv("SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sandbox.Timeout = d
		} else {
			slog.Warn("Ignoring invalid SANDBOX_TIMEOUT", "value", v)
		}
	}
	if v := getenv("GOOGLE_API_KEY"); v != "" && cfg.LLM.GeminiAPIKey == "" {
		cfg.LLM.GeminiAPIKey = v
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.Workflow.HealLimit < 1 {
		return fmt.Errorf("workflow.heal_limit must be >= 1")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Knowledge.FixThreshold <= 0 || c.Knowledge.FixThreshold > 1 {
		return fmt.Errorf("knowledge.fix_threshold must be in (0, 1]")
	}
	if c.Batch.Concurrency < 1 {
		c.Batch.Concurrency = 1
	}
	return nil
}

// APIKey returns the credential for the selected provider.
func (c *Config) APIKey() string {
	if c.LLM.Provider == "gemini" {
		return c.LLM.GeminiAPIKey
	}
	return c.LLM.OpenAIAPIKey
}

// Paths under DataDir.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "newton.db") }
func (c *Config) ErrorLogPath() string { return filepath.Join(c.DataDir, "errors", "error_log.jsonl") }
