package config

import "errors"

var (
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrInvalidRetries is returned when max_retries is negative
	ErrInvalidRetries = errors.New("max_retries cannot be negative")
	// ErrInvalidWorkers is returned when any worker pool width is not greater than 0
	ErrInvalidWorkers = errors.New("worker pool widths must be greater than 0")
	// ErrInvalidPageSize is returned when review_page_size is not greater than 0
	ErrInvalidPageSize = errors.New("review_page_size must be greater than 0")
	// ErrInvalidMaxPages is returned when max_review_pages is not greater than 0
	ErrInvalidMaxPages = errors.New("max_review_pages must be greater than 0")
	// ErrInvalidBatchSize is returned when batch_size is not greater than 0
	ErrInvalidBatchSize = errors.New("batch_size must be greater than 0")
	// ErrUnknownStorageDriver is returned for drivers other than sqlite or postgres
	ErrUnknownStorageDriver = errors.New("storage driver must be sqlite or postgres")
	// ErrEmptyStorageDSN is returned when the storage DSN is empty
	ErrEmptyStorageDSN = errors.New("storage dsn cannot be empty")
	// ErrNoBrands is returned when the brand allow-list resolves to no IDs
	ErrNoBrands = errors.New("brand allow-list is empty")
)
