package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port int

	// Exactly one asset source is active: a local root, a remote HTTP
	// origin, or an S3 bucket. See StoreMode.
	AssetRoot         string
	AssetOrigin       string
	OriginTimeout     time.Duration
	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3AccessKeySecret string

	CacheBytes              int64
	MaxConcurrentTranscodes int
	GateWaitTimeout         time.Duration
	DefaultQuality          int

	WarmupPresets string
	WarmupWorkers int

	VipsMaxCacheMB  int
	VipsConcurrency int

	LogLevel      string
	LogEncoding   string
	UploadToken   string
	MaxUploadSize int64
	AllowedOrigin string
}

// Load builds the configuration from the environment, falling back to
// an optional YAML file named by CONFIG_FILE, then to defaults. A value
// that fails to parse falls back silently; only an unreadable config
// file is an error.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	get := func(key, defaultValue string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		if value := file[strings.ToLower(key)]; value != "" {
			return value
		}
		return defaultValue
	}

	getInt := func(key string, defaultValue int) int {
		if value := get(key, ""); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		return defaultValue
	}

	getBytes := func(key, defaultValue string) int64 {
		value := get(key, defaultValue)
		if byteValue, err := humanize.ParseBytes(value); err == nil {
			return int64(byteValue)
		}
		byteValue, _ := humanize.ParseBytes(defaultValue)
		return int64(byteValue)
	}

	getDuration := func(key, defaultValue string) time.Duration {
		value := get(key, defaultValue)
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}

	cfg := &Config{
		Port:              getInt("PORT", 80),
		AssetRoot:         get("ASSET_ROOT", "/data"),
		AssetOrigin:       get("ASSET_ORIGIN", ""),
		OriginTimeout:     getDuration("ORIGIN_TIMEOUT", "10s"),
		S3Bucket:          get("ASSET_S3_BUCKET", ""),
		S3Endpoint:        get("ASSET_S3_ENDPOINT", ""),
		S3Region:          get("ASSET_S3_REGION", "us-east-1"),
		S3AccessKeyID:     get("ASSET_S3_ACCESS_KEY_ID", ""),
		S3AccessKeySecret: get("ASSET_S3_SECRET_ACCESS_KEY", ""),

		CacheBytes:              getBytes("CACHE_BYTES", "256MiB"),
		MaxConcurrentTranscodes: getInt("MAX_CONCURRENT_TRANSCODES", runtime.NumCPU()),
		GateWaitTimeout:         getDuration("GATE_WAIT_TIMEOUT", "2s"),
		DefaultQuality:          getInt("DEFAULT_QUALITY", 82),

		WarmupPresets: get("WARMUP_PRESETS", ""),
		WarmupWorkers: getInt("WARMUP_WORKERS", 1),

		VipsMaxCacheMB:  getInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency: getInt("VIPS_CONCURRENCY", 1),

		LogLevel:      get("LOG_LEVEL", "info"),
		LogEncoding:   get("LOG_ENCODING", "json"),
		UploadToken:   get("UPLOAD_TOKEN", ""),
		MaxUploadSize: getBytes("MAX_UPLOAD_SIZE", "32MiB"),
		AllowedOrigin: get("ALLOWED_ORIGIN", ""),
	}

	if cfg.DefaultQuality < 1 || cfg.DefaultQuality > 100 {
		return nil, fmt.Errorf("default quality %d must be between 1 and 100", cfg.DefaultQuality)
	}

	return cfg, nil
}

// loadFile reads a flat YAML file whose keys are the lowercase
// environment variable names, e.g. "cache_bytes: 512MiB".
func loadFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return values, nil
}

// StoreMode selects the asset source: "s3" wins over "origin" wins
// over the local "dir" root.
func (c *Config) StoreMode() string {
	switch {
	case c.S3Bucket != "":
		return "s3"
	case c.AssetOrigin != "":
		return "origin"
	default:
		return "dir"
	}
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}
