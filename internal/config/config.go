package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Package directory configuration
	DataDir           string
	SearchPattern     string
	CheckCount        bool
	CheckModifiedDate bool
	CacheEnabled      bool

	// Response cache configuration
	ResponseCacheSize int
	ResponseTTL       time.Duration

	// Server configuration
	Port      string
	LogLevel  string
	LogFormat string // console or json
	LogColor  bool

	// S3 mirror configuration (optional; active when S3Bucket is set)
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3UseSSL          bool
	S3ForcePathStyle  bool
}

// MirrorEnabled reports whether pushed packages should also be uploaded to
// the configured S3 bucket.
func (c *Config) MirrorEnabled() bool {
	return c.S3Bucket != ""
}

func Load() *Config {
	cfg := &Config{
		DataDir:           getEnv("NUPKGD_DATA_DIR", "packages"),
		SearchPattern:     getEnv("NUPKGD_SEARCH_PATTERN", "*.nupkg"),
		CheckCount:        getBoolEnv("NUPKGD_CHECK_COUNT", true),
		CheckModifiedDate: getBoolEnv("NUPKGD_CHECK_MODIFIED_DATE", false),
		CacheEnabled:      getBoolEnv("NUPKGD_CACHE_ENABLED", true),

		ResponseCacheSize: int(getIntEnv("NUPKGD_RESPONSE_CACHE_SIZE", 16*1024*1024)), // 16MB
		ResponseTTL:       getDurationEnv("NUPKGD_RESPONSE_TTL", time.Minute),

		Port:      getEnv("PORT", "5000"),
		LogLevel:  getEnv("NUPKGD_LOGGING_LEVEL", "INFO"),
		LogFormat: getEnv("NUPKGD_LOG_FORMAT", "console"),
		LogColor:  getBoolEnv("NUPKGD_LOG_COLOR", true),

		S3Endpoint:        getEnv("AWS_ENDPOINT_URL", ""),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:          getEnv("NUPKGD_S3_BUCKET", ""),
		S3Prefix:          getEnv("NUPKGD_S3_PREFIX", "nupkgd"),
		S3UseSSL:          getBoolEnv("NUPKGD_S3_USE_SSL", true),
		S3ForcePathStyle:  getBoolEnv("NUPKGD_S3_FORCE_PATH_STYLE", false),
	}

	if cfg.MirrorEnabled() {
		if cfg.S3Endpoint == "" {
			cfg.S3Endpoint = "s3.amazonaws.com"
		}
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			panic("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set when NUPKGD_S3_BUCKET is configured")
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal) * time.Second
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value != "0" && value != "no" && value != "off" && value != "false"
}
