// Package config loads artcache settings from YAML files and ARTCACHE_*
// environment variables and validates them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	MemoryCache MemoryCacheConfig `yaml:"memory_cache"`
	DiskCache   DiskCacheConfig   `yaml:"disk_cache"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	Playlist    PlaylistConfig    `yaml:"playlist"`
	Blur        BlurConfig        `yaml:"blur"`
	Remote      RemoteConfig      `yaml:"remote"`
	Redis       RedisConfig       `yaml:"redis"`
	Library     LibraryConfig     `yaml:"library"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// MemoryCacheConfig sizes the in-memory decoded image cache
type MemoryCacheConfig struct {
	MaxSize string `yaml:"max_size"`
}

// DiskCacheConfig represents the persistent artwork store
type DiskCacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Directory    string        `yaml:"directory"`
	MaxSize      string        `yaml:"max_size"`
	Format       string        `yaml:"format"`
	JPEGQuality  int           `yaml:"jpeg_quality"`
	IndexFile    string        `yaml:"index_file"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// FetcherConfig represents background fetch settings
type FetcherConfig struct {
	Workers       int                 `yaml:"workers"`
	QueueSize     int                 `yaml:"queue_size"`
	OfflineMode   bool                `yaml:"offline_mode"`
	NegativeCache NegativeCacheConfig `yaml:"negative_cache"`
}

// NegativeCacheConfig controls remembering keys with no remote artwork.
// A zero TTL keeps entries for the life of the process.
type NegativeCacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// PlaylistConfig controls derived playlist artwork
type PlaylistConfig struct {
	StalenessWindow time.Duration `yaml:"staleness_window"`
	Store           string        `yaml:"store"`
	StoreFile       string        `yaml:"store_file"`
}

// BlurConfig controls the blurred now-playing background
type BlurConfig struct {
	Radius       float64 `yaml:"radius"`
	Passes       int     `yaml:"passes"`
	MinDimension int     `yaml:"min_dimension"`
	OverlayColor string  `yaml:"overlay_color"`
}

// RemoteConfig represents remote artwork lookup settings
type RemoteConfig struct {
	Providers      []string             `yaml:"providers"`
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	MaxImageSize   string               `yaml:"max_image_size"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	S3             S3Config             `yaml:"s3"`
}

// RetryConfig controls repeated downloads after connection failures
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// S3Config configures downloads of s3:// artwork URLs
type S3Config struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_access_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// RedisConfig configures the Redis playlist metadata store
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LibraryConfig points at the local music library
type LibraryConfig struct {
	Root         string `yaml:"root"`
	PlaylistsDir string `yaml:"playlists_dir"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	cacheDir := filepath.Join(os.TempDir(), "artcache")
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "artcache")
	}

	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		MemoryCache: MemoryCacheConfig{
			MaxSize: "16MiB",
		},
		DiskCache: DiskCacheConfig{
			Enabled:      true,
			Directory:    cacheDir,
			MaxSize:      "64MiB",
			Format:       "png",
			JPEGQuality:  90,
			IndexFile:    "index.json",
			SyncInterval: time.Minute,
		},
		Fetcher: FetcherConfig{
			Workers:   4,
			QueueSize: 64,
			NegativeCache: NegativeCacheConfig{
				Enabled:    true,
				MaxEntries: 1024,
			},
		},
		Playlist: PlaylistConfig{
			StalenessWindow: 24 * time.Hour,
			Store:           "file",
			StoreFile:       filepath.Join(cacheDir, "playlists.json"),
		},
		Blur: BlurConfig{
			Radius:       25,
			Passes:       8,
			MinDimension: 500,
			OverlayColor: "#00000066",
		},
		Remote: RemoteConfig{
			Providers:    []string{"deezer", "itunes", "musicbrainz", "lastfm"},
			Timeout:      15 * time.Second,
			UserAgent:    "artcache/1.0",
			MaxImageSize: "5MiB",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:  1,
				InitialDelay: 200 * time.Millisecond,
			},
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      9310,
			Path:      "/metrics",
			Namespace: "artcache",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ARTCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ARTCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("ARTCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("ARTCACHE_MEMORY_CACHE_SIZE"); val != "" {
		c.MemoryCache.MaxSize = val
	}
	if val := os.Getenv("ARTCACHE_DISK_CACHE_DIR"); val != "" {
		c.DiskCache.Directory = val
	}
	if val := os.Getenv("ARTCACHE_DISK_CACHE_SIZE"); val != "" {
		c.DiskCache.MaxSize = val
	}
	if val := os.Getenv("ARTCACHE_DISK_CACHE_ENABLED"); val != "" {
		c.DiskCache.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("ARTCACHE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Fetcher.Workers = workers
		}
	}
	if val := os.Getenv("ARTCACHE_OFFLINE"); val != "" {
		c.Fetcher.OfflineMode = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("ARTCACHE_PLAYLIST_STALENESS"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Playlist.StalenessWindow = duration
		}
	}
	if val := os.Getenv("ARTCACHE_PLAYLIST_STORE"); val != "" {
		c.Playlist.Store = val
	}

	if val := os.Getenv("ARTCACHE_REDIS_ADDR"); val != "" {
		c.Redis.Address = val
	}
	if val := os.Getenv("ARTCACHE_REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}

	if val := os.Getenv("ARTCACHE_LIBRARY_ROOT"); val != "" {
		c.Library.Root = val
	}

	if val := os.Getenv("ARTCACHE_S3_ENDPOINT"); val != "" {
		c.Remote.S3.Endpoint = val
	}
	if val := os.Getenv("ARTCACHE_S3_REGION"); val != "" {
		c.Remote.S3.Region = val
	}

	if val := os.Getenv("ARTCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MemoryCacheBytes returns the parsed memory cache capacity
func (c *Configuration) MemoryCacheBytes() (int64, error) {
	return parseSize("memory_cache.max_size", c.MemoryCache.MaxSize)
}

// DiskCacheBytes returns the parsed disk cache capacity
func (c *Configuration) DiskCacheBytes() (int64, error) {
	return parseSize("disk_cache.max_size", c.DiskCache.MaxSize)
}

// MaxImageBytes returns the parsed remote download cap
func (c *Configuration) MaxImageBytes() (int64, error) {
	return parseSize("remote.max_image_size", c.Remote.MaxImageSize)
}

func parseSize(field, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s must be greater than 0", field)
	}
	return int64(n), nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if _, err := c.MemoryCacheBytes(); err != nil {
		return err
	}

	if c.DiskCache.Enabled {
		if c.DiskCache.Directory == "" {
			return fmt.Errorf("disk_cache.directory is required when the disk cache is enabled")
		}
		if _, err := c.DiskCacheBytes(); err != nil {
			return err
		}
		switch strings.ToLower(c.DiskCache.Format) {
		case "png", "jpeg", "jpg":
		default:
			return fmt.Errorf("invalid disk_cache.format: %s (must be png or jpeg)", c.DiskCache.Format)
		}
		if c.DiskCache.JPEGQuality < 1 || c.DiskCache.JPEGQuality > 100 {
			return fmt.Errorf("disk_cache.jpeg_quality must be between 1 and 100")
		}
	}

	if c.Fetcher.Workers <= 0 {
		return fmt.Errorf("fetcher.workers must be greater than 0")
	}
	if c.Fetcher.QueueSize < 0 {
		return fmt.Errorf("fetcher.queue_size cannot be negative")
	}
	if c.Fetcher.NegativeCache.Enabled && c.Fetcher.NegativeCache.MaxEntries <= 0 {
		return fmt.Errorf("fetcher.negative_cache.max_entries must be greater than 0")
	}

	if c.Playlist.StalenessWindow <= 0 {
		return fmt.Errorf("playlist.staleness_window must be greater than 0")
	}
	switch c.Playlist.Store {
	case "memory", "redis":
	case "file":
		if c.Playlist.StoreFile == "" {
			return fmt.Errorf("playlist.store_file is required for the file store")
		}
	default:
		return fmt.Errorf("invalid playlist.store: %s (must be memory, file or redis)", c.Playlist.Store)
	}

	if c.Blur.Radius <= 0 || c.Blur.Passes <= 0 {
		return fmt.Errorf("blur.radius and blur.passes must be greater than 0")
	}
	if c.Blur.MinDimension < 0 {
		return fmt.Errorf("blur.min_dimension cannot be negative")
	}

	if _, err := c.MaxImageBytes(); err != nil {
		return err
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be greater than 0")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}

	return nil
}
