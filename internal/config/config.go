package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/streamdl/internal/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Timeout          time.Duration
	KeepAliveTimeout time.Duration
	UserAgent        string
	Proxy            ProxyConfig
	Headers          []string
	Workers          int
	ChunkSize        int64
	Bitrate          int64
	PlaybackRate     float64
	Retries          int
	StrictRanges     bool
	Storage          StorageConfig
	Debug            bool
	LogFile          string
}

type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// StorageConfig selects the backend for piece jobs.
type StorageConfig struct {
	Backend   string
	Root      string
	Profile   string
	Endpoint  string
	CacheSize int
	Verify    bool
}

func Default() Config {
	return Config{
		Timeout:          3 * time.Minute,
		KeepAliveTimeout: 90 * time.Second,
		UserAgent:        utils.ToolUserAgent,
		Workers:          1,
		ChunkSize:        utils.DefaultChunkSize,
		PlaybackRate:     1,
		Storage: StorageConfig{
			Backend: "dir",
			Profile: "default",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Timeout          string            `yaml:"timeout"`
	KeepAliveTimeout string            `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            ProxyConfig       `yaml:"proxy"`
	Headers          []string          `yaml:"headers"`
	Workers          int               `yaml:"workers"`
	ChunkSize        string            `yaml:"chunk_size"`
	Bitrate          string            `yaml:"bitrate"`
	PlaybackRate     float64           `yaml:"playback_rate"`
	Retries          int               `yaml:"retries"`
	StrictRanges     bool              `yaml:"strict_ranges"`
	Storage          yamlStorageConfig `yaml:"storage"`
	Debug            bool              `yaml:"debug"`
	LogFile          string            `yaml:"log_file"`
}

type yamlStorageConfig struct {
	Backend   string `yaml:"backend"`
	Root      string `yaml:"root"`
	Profile   string `yaml:"profile"`
	Endpoint  string `yaml:"endpoint"`
	CacheSize int    `yaml:"cache_size"`
	Verify    bool   `yaml:"verify"`
}

// ParseChunkSize is utils.ParseSize, plus "unbounded" and "0" for
// utils.Unbounded.
func ParseChunkSize(s string) (int64, error) {
	if v := strings.TrimSpace(strings.ToLower(s)); v == "unbounded" || v == "0" {
		return utils.Unbounded, nil
	}
	return utils.ParseSize(s)
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.KeepAliveTimeout != "" {
		d, err := time.ParseDuration(yc.KeepAliveTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse keep_alive_timeout: %w", err)
		}
		cfg.KeepAliveTimeout = d
	}
	if yc.ChunkSize != "" {
		size, err := ParseChunkSize(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.Bitrate != "" {
		rate, err := utils.ParseSize(yc.Bitrate)
		if err != nil {
			return Config{}, fmt.Errorf("parse bitrate: %w", err)
		}
		cfg.Bitrate = rate
	}
	cfg = cfg.Merge(Config{
		UserAgent:    yc.UserAgent,
		Proxy:        yc.Proxy,
		Headers:      yc.Headers,
		Workers:      yc.Workers,
		PlaybackRate: yc.PlaybackRate,
		Retries:      yc.Retries,
		StrictRanges: yc.StrictRanges,
		Storage:      StorageConfig(yc.Storage),
		Debug:        yc.Debug,
		LogFile:      yc.LogFile,
	})
	return cfg, nil
}

// LoadFromEnv applies STREAMDL_ environment variables on top of c.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("STREAMDL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("STREAMDL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("STREAMDL_PROXY"); v != "" {
		c.Proxy.URL = v
	}
	if v := os.Getenv("STREAMDL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("STREAMDL_CHUNK_SIZE"); v != "" {
		size, err := ParseChunkSize(v)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("STREAMDL_BITRATE"); v != "" {
		rate, err := utils.ParseSize(v)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_BITRATE: %w", err)
		}
		c.Bitrate = rate
	}
	if v := os.Getenv("STREAMDL_PLAYBACK_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_PLAYBACK_RATE: %w", err)
		}
		c.PlaybackRate = r
	}
	if v := os.Getenv("STREAMDL_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse STREAMDL_RETRIES: %w", err)
		}
		c.Retries = n
	}
	if v := os.Getenv("STREAMDL_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("STREAMDL_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("STREAMDL_S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}
	if v := os.Getenv("STREAMDL_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize != utils.Unbounded && c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive or unbounded")
	}
	if c.Bitrate < 0 {
		return errors.New("config: bitrate must not be negative")
	}
	if c.PlaybackRate <= 0 {
		return errors.New("config: playback_rate must be positive")
	}
	if c.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	switch c.Storage.Backend {
	case "s3", "dir":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.CacheSize < 0 {
		return errors.New("config: storage.cache_size must not be negative")
	}
	return nil
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.KeepAliveTimeout != 0 {
		c.KeepAliveTimeout = override.KeepAliveTimeout
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Proxy.URL != "" {
		c.Proxy.URL = override.Proxy.URL
	}
	if override.Proxy.Username != "" {
		c.Proxy.Username = override.Proxy.Username
	}
	if override.Proxy.Password != "" {
		c.Proxy.Password = override.Proxy.Password
	}
	if len(override.Headers) > 0 {
		c.Headers = append(append([]string(nil), c.Headers...), override.Headers...)
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Bitrate != 0 {
		c.Bitrate = override.Bitrate
	}
	if override.PlaybackRate != 0 {
		c.PlaybackRate = override.PlaybackRate
	}
	if override.Retries != 0 {
		c.Retries = override.Retries
	}
	if override.StrictRanges {
		c.StrictRanges = true
	}
	if override.Storage.Backend != "" {
		c.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.Root != "" {
		c.Storage.Root = override.Storage.Root
	}
	if override.Storage.Profile != "" {
		c.Storage.Profile = override.Storage.Profile
	}
	if override.Storage.Endpoint != "" {
		c.Storage.Endpoint = override.Storage.Endpoint
	}
	if override.Storage.CacheSize != 0 {
		c.Storage.CacheSize = override.Storage.CacheSize
	}
	if override.Storage.Verify {
		c.Storage.Verify = true
	}
	if override.Debug {
		c.Debug = true
	}
	if override.LogFile != "" {
		c.LogFile = override.LogFile
	}
	return c
}

// HTTPClientConfig builds the client settings, splitting credentials out of
// the proxy URL when no explicit username is configured.
func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUsername, proxyPassword := splitProxyAuth(c.Proxy)
	return utils.HTTPClientConfig{
		Timeout:       c.Timeout,
		KATimeout:     c.KeepAliveTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(c.Headers),
		TunedSockets:  c.ChunkSize == utils.Unbounded || c.ChunkSize >= 16*1024*1024,
	}
}

func (c Config) PieceSource() utils.PieceSource {
	return utils.PieceSource{
		Backend:   c.Storage.Backend,
		Root:      c.Storage.Root,
		Profile:   c.Storage.Profile,
		Endpoint:  c.Storage.Endpoint,
		CacheSize: c.Storage.CacheSize,
		Verify:    c.Storage.Verify,
	}
}
