package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Batch size bounds
const (
	DefaultBatchSize = 25
	MinBatchSize     = 1
	MaxBatchSize     = 500
)

// Config holds all application configuration
type Config struct {
	// Batching
	BatchSize        int           // files per archive, clamped to [1, 500]
	BatchPause       time.Duration // pause between batches
	StatusClearDelay time.Duration // delay before the completion status is cleared
	ArchivePrefix    string
	DownloadQuery    string // query appended to every download URL

	// Fetching
	FetchConcurrency int
	FetchTimeout     time.Duration // per attempt
	FetchMaxAttempts int           // total attempts, inclusive
	FetchRetryDelay  time.Duration
	FetchMaxBytes    int64 // 0 = unlimited

	// Database (run status store)
	DBURL            string
	DBEngine         string // "memory" when DB_URL is empty
	DBMaxConnections int    // connection pool size (default: 20)
	TableName        string
	KeyPrefix        string // For Redis

	// Storage
	StorageType      string // "local", "s3", "obs" or "webhook"
	StoragePath      string // For local filesystem storage
	StorageBucket    string // For s3 and obs
	StorageKeyPrefix string

	// S3
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Huawei OBS
	OBSEndpoint  string
	OBSAccessKey string
	OBSSecretKey string

	// Webhook
	WebhookURL string

	// Security
	EnforceSigning bool
	SigningSecret  []byte

	// Timeouts
	DatabaseQueryTimeout time.Duration
	StorageWriteTimeout  time.Duration

	// Resource Limits
	MaxActiveRuns int // 0 = unlimited
	MaxURLsPerRun int // 0 = unlimited

	// Retries
	StorageMaxRetries int
	StorageRetryDelay time.Duration

	// Circuit Breaker
	CircuitBreakerThreshold   int           // failures before opening
	CircuitBreakerTimeout     time.Duration // time to wait before half-open
	CircuitBreakerMaxRequests int           // max requests in half-open state

	// Callback
	CallbackMaxRetries int
	CallbackRetryDelay time.Duration

	// Server
	Port            string
	EnableHTTPS     bool
	ShutdownTimeout time.Duration // bounds the wait for in-flight runs

	// Let's Encrypt
	LetsEncryptDomains  []string
	LetsEncryptCacheDir string
	LetsEncryptEmail    string

	// Metrics
	MetricsUsername string
	MetricsPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dbURL := os.Getenv("DB_URL")
	dbEngine := "memory"
	if dbURL != "" {
		u, err := url.Parse(dbURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_URL: %w", err)
		}
		if u.Scheme == "" {
			return nil, fmt.Errorf("invalid DB_URL: missing scheme")
		}
		dbEngine = u.Scheme
	}

	fetchConcurrency := parseInt(os.Getenv("FETCH_CONCURRENCY"), 4)
	if fetchConcurrency < 1 {
		return nil, fmt.Errorf("invalid FETCH_CONCURRENCY: %d", fetchConcurrency)
	}

	fetchMaxAttempts := parseInt(os.Getenv("FETCH_MAX_ATTEMPTS"), 3)
	if fetchMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid FETCH_MAX_ATTEMPTS: %d", fetchMaxAttempts)
	}

	enforceSigning := parseBool(os.Getenv("ENFORCE_SIGNING"), false)
	enableHTTPS := parseBool(os.Getenv("ENABLE_HTTPS"), false)
	s3UsePathStyle := parseBool(os.Getenv("S3_USE_PATH_STYLE"), false)

	signingSecret := os.Getenv("SIGNING_SECRET")
	if enforceSigning && signingSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET required when ENFORCE_SIGNING=true")
	}

	archivePrefix := os.Getenv("ARCHIVE_PREFIX")
	if archivePrefix == "" {
		archivePrefix = "grok_media"
	}

	downloadQuery := os.Getenv("DOWNLOAD_QUERY")
	if downloadQuery == "" {
		downloadQuery = "cache=1&dl=1"
	}

	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		tableName = "runs"
	}

	keyPrefix := os.Getenv("KEY_PREFIX")
	if keyPrefix == "" {
		keyPrefix = "batchzip:run:"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	s3Region := os.Getenv("S3_REGION")
	if s3Region == "" {
		s3Region = "auto"
	}

	var letsEncryptDomains []string
	if enableHTTPS {
		letsEncryptDomains = parseStringList(os.Getenv("LETSENCRYPT_DOMAINS"))
		if len(letsEncryptDomains) == 0 {
			return nil, fmt.Errorf("LETSENCRYPT_DOMAINS required when ENABLE_HTTPS=true")
		}
	}

	letsEncryptCacheDir := os.Getenv("LETSENCRYPT_CACHE_DIR")
	if letsEncryptCacheDir == "" {
		letsEncryptCacheDir = "./certs"
	}

	// Determine storage type
	storageType := os.Getenv("STORAGE_TYPE")
	storagePath := os.Getenv("STORAGE_PATH")

	// Auto-detect storage type if not specified
	if storageType == "" {
		if storagePath != "" {
			storageType = "local"
		} else {
			storageType = "s3"
		}
	}

	webhookURL := os.Getenv("WEBHOOK_URL")
	if storageType == "webhook" && webhookURL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL required for webhook storage")
	}

	return &Config{
		BatchSize:                 ClampBatchSize(parseInt(os.Getenv("BATCH_SIZE"), DefaultBatchSize)),
		BatchPause:                parseDuration(os.Getenv("BATCH_PAUSE"), 2*time.Second),
		StatusClearDelay:          parseDuration(os.Getenv("STATUS_CLEAR_DELAY"), 5*time.Second),
		ArchivePrefix:             archivePrefix,
		DownloadQuery:             downloadQuery,
		FetchConcurrency:          fetchConcurrency,
		FetchTimeout:              parseDuration(os.Getenv("FETCH_TIMEOUT"), 30*time.Second),
		FetchMaxAttempts:          fetchMaxAttempts,
		FetchRetryDelay:           parseDuration(os.Getenv("FETCH_RETRY_DELAY"), 1*time.Second),
		FetchMaxBytes:             int64(parseInt(os.Getenv("FETCH_MAX_BYTES"), 0)),
		DBURL:                     dbURL,
		DBEngine:                  dbEngine,
		DBMaxConnections:          parseInt(os.Getenv("DB_MAX_CONNECTIONS"), 20),
		TableName:                 tableName,
		KeyPrefix:                 keyPrefix,
		StorageType:               storageType,
		StoragePath:               storagePath,
		StorageBucket:             os.Getenv("STORAGE_BUCKET"),
		StorageKeyPrefix:          os.Getenv("STORAGE_KEY_PREFIX"),
		S3Endpoint:                os.Getenv("S3_ENDPOINT"),
		S3Region:                  s3Region,
		S3AccessKeyID:             os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:         os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:            s3UsePathStyle,
		OBSEndpoint:               os.Getenv("OBS_ENDPOINT"),
		OBSAccessKey:              os.Getenv("OBS_AK"),
		OBSSecretKey:              os.Getenv("OBS_SK"),
		WebhookURL:                webhookURL,
		EnforceSigning:            enforceSigning,
		SigningSecret:             []byte(signingSecret),
		DatabaseQueryTimeout:      parseDuration(os.Getenv("DATABASE_QUERY_TIMEOUT"), 5*time.Second),
		StorageWriteTimeout:       parseDuration(os.Getenv("STORAGE_WRITE_TIMEOUT"), 60*time.Second),
		MaxActiveRuns:             parseInt(os.Getenv("MAX_ACTIVE_RUNS"), 0),
		MaxURLsPerRun:             parseInt(os.Getenv("MAX_URLS_PER_RUN"), 0),
		StorageMaxRetries:         parseInt(os.Getenv("STORAGE_MAX_RETRIES"), 3),
		StorageRetryDelay:         parseDuration(os.Getenv("STORAGE_RETRY_DELAY"), 1*time.Second),
		CircuitBreakerThreshold:   parseInt(os.Getenv("CIRCUIT_BREAKER_THRESHOLD"), 5),
		CircuitBreakerTimeout:     parseDuration(os.Getenv("CIRCUIT_BREAKER_TIMEOUT"), 60*time.Second),
		CircuitBreakerMaxRequests: parseInt(os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"), 2),
		CallbackMaxRetries:        parseInt(os.Getenv("CALLBACK_MAX_RETRIES"), 3),
		CallbackRetryDelay:        parseDuration(os.Getenv("CALLBACK_RETRY_DELAY"), 5*time.Second),
		Port:                      port,
		EnableHTTPS:               enableHTTPS,
		ShutdownTimeout:           parseDuration(os.Getenv("SHUTDOWN_TIMEOUT"), 30*time.Second),
		LetsEncryptDomains:        letsEncryptDomains,
		LetsEncryptCacheDir:       letsEncryptCacheDir,
		LetsEncryptEmail:          os.Getenv("LETSENCRYPT_EMAIL"),
		MetricsUsername:           os.Getenv("METRICS_USERNAME"),
		MetricsPassword:           os.Getenv("METRICS_PASSWORD"),
	}, nil
}

// ClampBatchSize bounds n to [MinBatchSize, MaxBatchSize]
func ClampBatchSize(n int) int {
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// Helper functions for parsing configuration values

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return val
}

func parseBool(s string, defaultValue bool) bool {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
