package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel          = "gpt-3.5-turbo"
	DefaultVariableName   = "API"
	DefaultQuestionPrefix = "QWQ~~~"
	DefaultAnswerPrefix   = "OKOKOK~~~"
	DefaultRequestTimeout = 60
	DefaultMaxRetries     = 5
	DefaultMaxTokens      = 2000
	DefaultTemperature    = 0.7
)

type Config struct {
	Remote RemoteConfig `json:"remote"`
	AI     AIConfig     `json:"ai"`
	Bridge BridgeConfig `json:"bridge"`
	Notify NotifyConfig `json:"notify"`
}

type RemoteConfig struct {
	BaseURL        string `json:"baseUrl"`
	VariableName   string `json:"variableName"`
	QuestionPrefix string `json:"questionPrefix"`
	AnswerPrefix   string `json:"answerPrefix"`
	RequestTimeout int    `json:"requestTimeout"` // seconds
	MaxRetries     int    `json:"maxRetries"`
}

type AIConfig struct {
	URL              string  `json:"url"`
	APIKey           string  `json:"apiKey"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"maxTokens"`
	Temperature      float64 `json:"temperature"`
	SystemPromptFile string  `json:"systemPromptFile,omitempty"`
}

type BridgeConfig struct {
	WorkID int64  `json:"workId"`
	LogDir string `json:"logDir"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			VariableName:   DefaultVariableName,
			QuestionPrefix: DefaultQuestionPrefix,
			AnswerPrefix:   DefaultAnswerPrefix,
			RequestTimeout: DefaultRequestTimeout,
			MaxRetries:     DefaultMaxRetries,
		},
		AI: AIConfig{
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Bridge: BridgeConfig{
			LogDir: filepath.Join(ConfigDir(), "logs"),
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".cloudbridge")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if url := os.Getenv("CLOUDBRIDGE_API_URL"); url != "" {
		cfg.Remote.BaseURL = url
	}
	if name := os.Getenv("CLOUDBRIDGE_VAR_NAME"); name != "" {
		cfg.Remote.VariableName = name
	}
	if url := os.Getenv("CLOUDBRIDGE_AI_URL"); url != "" {
		cfg.AI.URL = url
	}
	if key := os.Getenv("CLOUDBRIDGE_AI_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = key
	}
	if model := os.Getenv("CLOUDBRIDGE_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if id := os.Getenv("CLOUDBRIDGE_WORK_ID"); id != "" {
		if parsed, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Bridge.WorkID = parsed
		}
	}
	if dir := os.Getenv("CLOUDBRIDGE_LOG_DIR"); dir != "" {
		cfg.Bridge.LogDir = dir
	}
	if token := os.Getenv("CLOUDBRIDGE_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}

	if cfg.Remote.RequestTimeout <= 0 {
		cfg.Remote.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Remote.MaxRetries <= 0 {
		cfg.Remote.MaxRetries = DefaultMaxRetries
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = DefaultMaxTokens
	}
	if cfg.AI.Temperature <= 0 {
		cfg.AI.Temperature = DefaultTemperature
	}
	if cfg.Bridge.LogDir == "" {
		cfg.Bridge.LogDir = DefaultConfig().Bridge.LogDir
	}

	return cfg, nil
}

// Validate reports every missing required field. An incomplete config is a
// startup error, never a runtime one.
func (c *Config) Validate() error {
	var missing []string
	if c.Remote.BaseURL == "" {
		missing = append(missing, "remote.baseUrl")
	}
	if c.Remote.VariableName == "" {
		missing = append(missing, "remote.variableName")
	}
	if c.Remote.QuestionPrefix == "" {
		missing = append(missing, "remote.questionPrefix")
	}
	if c.Remote.AnswerPrefix == "" {
		missing = append(missing, "remote.answerPrefix")
	}
	if c.AI.URL == "" {
		missing = append(missing, "ai.url")
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "ai.apiKey")
	}
	if c.AI.Model == "" {
		missing = append(missing, "ai.model")
	}
	if c.Bridge.WorkID <= 0 {
		missing = append(missing, "bridge.workId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Remote.RequestTimeout) * time.Second
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
