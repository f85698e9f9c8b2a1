// Package config provides configuration management for the harvester.
// It defines configuration structures and default values for the upstream
// API endpoints, crawl parameters and storage backends.
package config

import "time"

// Endpoints holds the upstream API URL templates. The placeholders are
// positional fmt verbs: listing takes (category id, page), product takes
// (product id), review takes (product id, page, page size).
type Endpoints struct {
	Home    string `mapstructure:"home" yaml:"home"`
	Listing string `mapstructure:"listing" yaml:"listing"`
	Product string `mapstructure:"product" yaml:"product"`
	Review  string `mapstructure:"review" yaml:"review"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // file path for sqlite, conninfo for postgres
}

// Config holds the harvester configuration.
type Config struct {
	SourceName string    `mapstructure:"source_name" yaml:"source_name"` // Provenance tag on every stored row
	Endpoints  Endpoints `mapstructure:"endpoints" yaml:"endpoints"`

	// HTTP client
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // Per-request timeout
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`         // HTTP-status retry budget
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Fixed delay between requests (0 = none)
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`

	// Worker pool widths, one per phase
	DiscoveryWorkers int `mapstructure:"discovery_workers" yaml:"discovery_workers"`
	ProductWorkers   int `mapstructure:"product_workers" yaml:"product_workers"`
	ReviewWorkers    int `mapstructure:"review_workers" yaml:"review_workers"`

	// Pagination
	ReviewPageSize int `mapstructure:"review_page_size" yaml:"review_page_size"` // Fixed by the upstream contract
	MaxReviewPages int `mapstructure:"max_review_pages" yaml:"max_review_pages"` // Hard safety ceiling per product

	// Persistence
	BatchSize  int     `mapstructure:"batch_size" yaml:"batch_size"` // Listing refs per bulk insert
	Storage    Storage `mapstructure:"storage" yaml:"storage"`
	BrandsFile string  `mapstructure:"brands_file" yaml:"brands_file"` // Brand-ID allow-list

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultConfig returns a configuration with default values. Endpoint
// defaults match the upstream mobile API contract; worker widths come from
// the later of the two production tuning passes.
func DefaultConfig() *Config {
	return &Config{
		SourceName: "hasaki",
		Endpoints: Endpoints{
			Home:    "https://hasaki.vn/wap/v2/master/?page=newHeaderHome",
			Listing: "https://hasaki.vn/wap/v2/catalog/category/get-listing-product?cat=%d&p=%d&product_list_limit=12&more_data=1&lstType=1&lstId=0",
			Product: "https://hasaki.vn/wap/v2/product/detail?id=%d",
			Review:  "https://hasaki.vn/mobile/v3/detail/product/rating-reviews?product_id=%d&page=%d&size=%d&sort=create&filter=filter_all&is_desktop=1",
		},
		RequestTimeout:   30 * time.Second,
		MaxRetries:       3,
		RequestDelay:     0,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		DiscoveryWorkers: 20,
		ProductWorkers:   10,
		ReviewWorkers:    16,
		ReviewPageSize:   5,
		MaxReviewPages:   50,
		BatchSize:        100,
		Storage: Storage{
			Driver: "sqlite",
			DSN:    "./kaitadoru.db",
		},
		BrandsFile: "./brands.txt",
		LogLevel:   "info",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.DiscoveryWorkers <= 0 || c.ProductWorkers <= 0 || c.ReviewWorkers <= 0 {
		return ErrInvalidWorkers
	}
	if c.ReviewPageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.MaxReviewPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return ErrUnknownStorageDriver
	}
	if c.Storage.DSN == "" {
		return ErrEmptyStorageDSN
	}
	return nil
}
