package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, ErrInvalidTimeout},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, ErrInvalidRetries},
		{"zero discovery workers", func(c *Config) { c.DiscoveryWorkers = 0 }, ErrInvalidWorkers},
		{"zero product workers", func(c *Config) { c.ProductWorkers = 0 }, ErrInvalidWorkers},
		{"zero review workers", func(c *Config) { c.ReviewWorkers = 0 }, ErrInvalidWorkers},
		{"zero page size", func(c *Config) { c.ReviewPageSize = 0 }, ErrInvalidPageSize},
		{"zero max pages", func(c *Config) { c.MaxReviewPages = 0 }, ErrInvalidMaxPages},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, ErrInvalidBatchSize},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, ErrUnknownStorageDriver},
		{"empty dsn", func(c *Config) { c.Storage.DSN = "" }, ErrEmptyStorageDSN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadBrandIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brands.txt")
	content := `# beauty brands
1587
2214;881
42, 77
99 # house brand
1587
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write brands file: %v", err)
	}

	ids, err := LoadBrandIDs(path)
	if err != nil {
		t.Fatalf("LoadBrandIDs failed: %v", err)
	}

	want := []int64{42, 77, 99, 881, 1587, 2214}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestLoadBrandIDsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brands.txt")
	if err := os.WriteFile(path, []byte("123\nnot-a-number\n"), 0600); err != nil {
		t.Fatalf("failed to write brands file: %v", err)
	}

	if _, err := LoadBrandIDs(path); err == nil {
		t.Error("expected error for invalid brand ID, got nil")
	}
}

func TestLoadBrandIDsMissingFile(t *testing.T) {
	if _, err := LoadBrandIDs(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
