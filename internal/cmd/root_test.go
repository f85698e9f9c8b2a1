package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2026-08-01T10:00:00Z")

	expected := "1.2.3 (built 2026-08-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
}

func TestRootCmd(t *testing.T) {
	if rootCmd.Use != "kaitadoru" {
		t.Errorf("Expected use 'kaitadoru', got %s", rootCmd.Use)
	}

	subcommands := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		subcommands[sub.Name()] = true
	}
	if !subcommands["crawl"] {
		t.Error("Expected 'crawl' subcommand to be registered")
	}
	if !subcommands["discover"] {
		t.Error("Expected 'discover' subcommand to be registered")
	}
}

func TestInitConfig(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
product_workers: 5
request_delay: 2s
user_agent: "TestAgent/1.0"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfgFile = configFile
	initConfig()

	if viper.ConfigFileUsed() != configFile {
		t.Errorf("Expected config file %s, got %s", configFile, viper.ConfigFileUsed())
	}

	cfgFile = ""
	viper.Reset()
}

func TestFlagBinding(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	expectedFlags := []string{
		"config",
		"show-config",
		"timeout",
		"delay",
		"retries",
		"user-agent",
		"discovery-workers",
		"product-workers",
		"review-workers",
		"storage-driver",
		"database",
		"brands-file",
		"log-level",
		"log-file",
	}

	for _, flagName := range expectedFlags {
		if flags.Lookup(flagName) == nil {
			t.Errorf("Expected flag %s to be defined", flagName)
		}
	}
}

func TestLoadConfigRejectsBadDriver(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("storage.driver", "oracle")

	cmd := crawlCmd
	if _, err := loadConfig(cmd); err == nil {
		t.Error("Expected an error for an unknown storage driver")
	}
}

func TestGenerateUserAgent(t *testing.T) {
	version = "1.0.0"
	if got := generateUserAgent(); got != "Kaitadoru/1.0.0" {
		t.Errorf("Expected versioned user agent, got %s", got)
	}

	version = "dev"
	if got := generateUserAgent(); got != "Kaitadoru/dev" {
		t.Errorf("Expected dev user agent, got %s", got)
	}
	version = ""
}
