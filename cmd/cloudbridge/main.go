package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/cloudbridge/internal/bridge"
	"github.com/stellarlinkco/cloudbridge/internal/config"
	"github.com/stellarlinkco/cloudbridge/internal/prompt"
)

var rootCmd = &cobra.Command{
	Use:   "cloudbridge",
	Short: "cloudbridge - cloud variable to AI bridge",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge loop against the configured work",
	RunE:  runBridge,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and system prompt files",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show effective cloudbridge config",
	RunE:  runStatus,
}

var (
	workIDFlag     int64
	configPathFlag string
)

func init() {
	runCmd.Flags().Int64VarP(&workIDFlag, "work-id", "w", 0, "Work ID to attach to (overrides config)")
	runCmd.Flags().StringVarP(&configPathFlag, "config", "c", "", "Config file path")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPathFlag != "" {
		return config.LoadConfigFile(configPathFlag)
	}
	return config.LoadConfig()
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workIDFlag > 0 {
		cfg.Bridge.WorkID = workIDFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(cfg)
	return b.Run(ctx)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	promptPath := filepath.Join(cfgDir, "system_prompt.txt")
	writeIfNotExists(promptPath, prompt.DefaultSystemPrompt)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set remote.baseUrl, ai.url, ai.apiKey and bridge.workId\n", cfgPath)
	fmt.Printf("  2. Point ai.systemPromptFile at %s and edit the prompt\n", promptPath)
	fmt.Println("  3. Run 'cloudbridge run' to start the bridge")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Remote API: %s\n", cfg.Remote.BaseURL)
	fmt.Printf("Variable: %s (question %q / answer %q)\n",
		cfg.Remote.VariableName, cfg.Remote.QuestionPrefix, cfg.Remote.AnswerPrefix)
	fmt.Printf("Work ID: %d\n", cfg.Bridge.WorkID)
	fmt.Printf("AI endpoint: %s\n", cfg.AI.URL)
	fmt.Printf("AI model: %s\n", cfg.AI.Model)
	fmt.Printf("AI key: %s\n", maskKey(cfg.AI.APIKey))
	if cfg.AI.SystemPromptFile != "" {
		fmt.Printf("Prompt file: %s\n", cfg.AI.SystemPromptFile)
	} else {
		fmt.Println("Prompt file: (embedded default)")
	}
	fmt.Printf("Log dir: %s\n", cfg.Bridge.LogDir)
	fmt.Printf("Telegram alerts: enabled=%v\n", cfg.Notify.Telegram.Enabled)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nIncomplete: %v\n", err)
	}
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}
