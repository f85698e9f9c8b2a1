// Package cmd provides the command-line interface for the harvester.
// It handles command parsing, configuration loading, and session execution.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/kaitadoru/internal/client"
	"github.com/masahif/kaitadoru/internal/config"
	"github.com/masahif/kaitadoru/internal/crawl"
	"github.com/masahif/kaitadoru/internal/logging"
	"github.com/masahif/kaitadoru/internal/metrics"
	"github.com/masahif/kaitadoru/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kaitadoru",
	Short: "Incremental e-commerce catalog harvester",
	Long: `Kaitadoru archives an e-commerce catalog incrementally.

It discovers the product universe from the category tree, snapshots
product details whenever their content changes, and collects the review
pages attached to each snapshot.`,
}

// crawlCmd runs an incremental harvest session over the product universe
// persisted by earlier discovery runs: snapshots, then reviews.
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run an incremental harvest session",
	RunE:  runCrawl,
}

// discoverCmd runs the discovery phase only, refreshing the product
// universe without touching product details or reviews.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Refresh the product universe from the category tree",
	RunE:  runDiscover,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kaitadoru.yml)")
	rootCmd.PersistentFlags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Crawl tuning flags
	rootCmd.PersistentFlags().DurationP("timeout", "t", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().DurationP("delay", "r", 0, "Delay between requests")
	rootCmd.PersistentFlags().Int("retries", 3, "HTTP-status retry budget")
	rootCmd.PersistentFlags().StringP("user-agent", "u", "", "HTTP User-Agent header")
	rootCmd.PersistentFlags().Int("discovery-workers", 20, "Concurrent category walkers")
	rootCmd.PersistentFlags().Int("product-workers", 10, "Concurrent product fetchers")
	rootCmd.PersistentFlags().Int("review-workers", 16, "Concurrent review walkers")

	// Persistence flags
	rootCmd.PersistentFlags().String("storage-driver", "sqlite", "Storage backend: 'sqlite' or 'postgres'")
	rootCmd.PersistentFlags().StringP("database", "d", "./kaitadoru.db", "SQLite file path or Postgres conninfo")
	rootCmd.PersistentFlags().StringP("brands-file", "b", "./brands.txt", "Brand-ID allow-list file")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Log file path (empty = stderr only)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"request_timeout", "timeout"},
		{"request_delay", "delay"},
		{"max_retries", "retries"},
		{"user_agent", "user-agent"},
		{"discovery_workers", "discovery-workers"},
		{"product_workers", "product-workers"},
		{"review_workers", "review-workers"},
		{"storage.driver", "storage-driver"},
		{"storage.dsn", "database"},
		{"brands_file", "brands-file"},
		{"log_level", "log-level"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.PersistentFlags().Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(discoverCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("kaitadoru")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == "" {
		cfg.UserAgent = generateUserAgent()
	}

	if showConfig, _ := cmd.Flags().GetBool("show-config"); showConfig {
		if err := showCurrentConfig(cfg); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("Kaitadoru/%s", version)
	}
	return "Kaitadoru/dev"
}

func showCurrentConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Printf("# Current Kaitadoru Configuration\n")
	fmt.Printf("# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("# Configuration file search paths: ./kaitadoru.yml\n")
	fmt.Printf("# Environment variables prefix: KT_\n\n")

	fmt.Print(string(yamlData))

	fmt.Printf("\n# Configuration source priority:\n")
	fmt.Printf("# 1. Command-line arguments (highest priority)\n")
	fmt.Printf("# 2. Environment variables (KT_ prefix)\n")
	fmt.Printf("# 3. Configuration file (kaitadoru.yml)\n")
	fmt.Printf("# 4. Default values (lowest priority)\n")

	return nil
}

type harness struct {
	cfg    *config.Config
	client *client.Client
	store  storage.Store
	m      *metrics.Metrics
}

func (h *harness) close() {
	h.client.Close()
	_ = h.store.Close()
}

// setup builds everything both subcommands share: logging, metrics, client
// and storage. Returns (nil, nil) when --show-config already handled the
// invocation.
func setup(cmd *cobra.Command) (*harness, error) {
	cfg, err := loadConfig(cmd)
	if err != nil || cfg == nil {
		return nil, err
	}

	logCfg := *logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.FilePath = cfg.LogFile
	if err := logging.SetDefault(logCfg); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	if cfg.Storage.Driver == "sqlite" {
		dbDir := filepath.Dir(cfg.Storage.DSN)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New()
	return &harness{
		cfg:    cfg,
		client: client.New(cfg, m),
		store:  store,
		m:      m,
	}, nil
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	h, err := setup(cmd)
	if err != nil || h == nil {
		return err
	}
	defer h.close()

	brandIDs, err := config.LoadBrandIDs(h.cfg.BrandsFile)
	if err != nil {
		return fmt.Errorf("failed to load brand allow-list: %w", err)
	}

	crawler, err := crawl.New(h.cfg, h.client, h.store, h.m, nil, brandIDs)
	if err != nil {
		return err
	}

	stats, err := crawler.Run(cmd.Context())
	if err != nil {
		if stats.SessionID == "" {
			return err
		}
		return fmt.Errorf("session %s failed: %w", stats.SessionID, err)
	}
	return nil
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	h, err := setup(cmd)
	if err != nil || h == nil {
		return err
	}
	defer h.close()

	sessionID, err := h.store.BeginSession(cmd.Context(), h.cfg.SourceName)
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}

	discovery := crawl.NewDiscovery(h.client, h.store, h.m, nil, h.cfg.DiscoveryWorkers, h.cfg.BatchSize)
	stats, err := discovery.Run(cmd.Context(), sessionID)

	status := storage.StatusCompleted
	if err != nil {
		status = storage.StatusFailed
	}
	if endErr := h.store.EndSession(context.WithoutCancel(cmd.Context()), sessionID, status, stats.ProductsInserted, stats.ProductsSkipped); endErr != nil && err == nil {
		err = fmt.Errorf("failed to end session: %w", endErr)
	}
	if err != nil {
		return fmt.Errorf("discovery session %s failed: %w", sessionID, err)
	}
	return nil
}
