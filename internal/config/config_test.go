package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Remote.VariableName != DefaultVariableName {
		t.Errorf("variableName = %q, want %q", cfg.Remote.VariableName, DefaultVariableName)
	}
	if cfg.Remote.QuestionPrefix != DefaultQuestionPrefix {
		t.Errorf("questionPrefix = %q, want %q", cfg.Remote.QuestionPrefix, DefaultQuestionPrefix)
	}
	if cfg.Remote.AnswerPrefix != DefaultAnswerPrefix {
		t.Errorf("answerPrefix = %q, want %q", cfg.Remote.AnswerPrefix, DefaultAnswerPrefix)
	}
	if cfg.Remote.MaxRetries != DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", cfg.Remote.MaxRetries, DefaultMaxRetries)
	}
	if cfg.AI.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.AI.Model, DefaultModel)
	}
	if cfg.AI.MaxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", cfg.AI.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Bridge.LogDir == "" {
		t.Error("logDir should not be empty")
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}
	if cfg.AI.Model != DefaultModel {
		t.Errorf("expected defaults for a missing file, got model %q", cfg.AI.Model)
	}
}

func TestLoadConfigFile_FromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	fileCfg := map[string]any{
		"remote": map[string]any{
			"baseUrl":      "http://localhost:9178/api",
			"variableName": "CHAT",
		},
		"ai": map[string]any{
			"url":    "https://api.example.com/v1/chat/completions",
			"apiKey": "sk-test",
			"model":  "gpt-4",
		},
		"bridge": map[string]any{"workId": 123456},
	}
	data, _ := json.Marshal(fileCfg)
	os.WriteFile(path, data, 0644)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}
	if cfg.Remote.BaseURL != "http://localhost:9178/api" {
		t.Errorf("baseUrl = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.VariableName != "CHAT" {
		t.Errorf("variableName = %q, want CHAT", cfg.Remote.VariableName)
	}
	if cfg.AI.Model != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", cfg.AI.Model)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Remote.QuestionPrefix != DefaultQuestionPrefix {
		t.Errorf("questionPrefix = %q, want default", cfg.Remote.QuestionPrefix)
	}
	if cfg.Bridge.WorkID != 123456 {
		t.Errorf("workId = %d, want 123456", cfg.Bridge.WorkID)
	}
}

func TestLoadConfigFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLOUDBRIDGE_API_URL", "http://env.example.com/api")
	t.Setenv("CLOUDBRIDGE_AI_KEY", "sk-env")
	t.Setenv("CLOUDBRIDGE_WORK_ID", "777")

	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}
	if cfg.Remote.BaseURL != "http://env.example.com/api" {
		t.Errorf("baseUrl = %q, want env value", cfg.Remote.BaseURL)
	}
	if cfg.AI.APIKey != "sk-env" {
		t.Errorf("apiKey = %q, want env value", cfg.AI.APIKey)
	}
	if cfg.Bridge.WorkID != 777 {
		t.Errorf("workId = %d, want 777", cfg.Bridge.WorkID)
	}
}

func TestValidate_ReportsEveryMissingField(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	for _, field := range []string{
		"remote.baseUrl", "remote.variableName", "remote.questionPrefix",
		"remote.answerPrefix", "ai.url", "ai.apiKey", "ai.model", "bridge.workId",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("validation error missing %q: %v", field, err)
		}
	}
}

func TestValidate_CompleteConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.BaseURL = "http://localhost:9178/api"
	cfg.AI.URL = "https://api.example.com/v1/chat/completions"
	cfg.AI.APIKey = "sk-test"
	cfg.Bridge.WorkID = 1
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate error: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.RequestTimeout = 30
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", got)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLOUDBRIDGE_API_URL", "CLOUDBRIDGE_VAR_NAME", "CLOUDBRIDGE_AI_URL",
		"CLOUDBRIDGE_AI_KEY", "CLOUDBRIDGE_AI_MODEL", "CLOUDBRIDGE_WORK_ID",
		"CLOUDBRIDGE_LOG_DIR", "CLOUDBRIDGE_TELEGRAM_TOKEN", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}
