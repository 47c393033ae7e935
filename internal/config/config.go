// Package config loads offline engine configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config holds every tunable of the offline engine and daemon.
type Config struct {
	Addr    string `env:"ADDR" envDefault:":8787"`
	Origin  string `env:"ORIGIN" envDefault:"http://localhost:5000"`
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	CacheBackend string `env:"CACHE_BACKEND" envDefault:"bolt"`

	// Generation names are "<prefix>-static-<version>" and "<prefix>-dynamic-<version>".
	CachePrefix  string `env:"CACHE_PREFIX" envDefault:"ecodex"`
	CacheVersion string `env:"CACHE_VERSION" envDefault:"v1.0.0"`

	// CacheMaxEntryBytes caps a stored response body; larger bodies pass
	// through uncached. Zero disables the cap.
	CacheMaxEntryBytes int64 `env:"CACHE_MAX_ENTRY_BYTES" envDefault:"10485760"`

	APIPatterns    []string `env:"API_PATTERNS" envSeparator:"," envDefault:"^/api/"`
	ShellPath      string   `env:"SHELL_PATH" envDefault:"/"`
	StaticManifest []string `env:"STATIC_MANIFEST" envSeparator:"," envDefault:"/,/static/js/bundle.js,/static/css/main.css,/manifest.json,/favicon.ico,/logo192.png,/logo512.png"`

	SubmitPath string `env:"SUBMIT_PATH" envDefault:"/api/ecodex"`
	HealthPath string `env:"HEALTH_PATH" envDefault:"/api/health"`

	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"30s"`
	SyncInterval  time.Duration `env:"SYNC_INTERVAL" envDefault:"0s"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"0"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"0s"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1h"`

	// MachineID keys the encryption of the stored auth token.
	MachineID string `env:"MACHINE_ID"`

	Standalone   bool     `env:"STANDALONE" envDefault:"false"`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	OTelEndpoint string   `env:"OTEL_ENDPOINT"`
}

// Load parses OFFLINE_-prefixed environment variables into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "OFFLINE_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration obtained with an empty environment.
func Default() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      "OFFLINE_",
		Environment: map[string]string{},
	})
	return cfg
}

// Validate checks the origin URL, backends and route patterns.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must be an absolute URL", c.Origin)
	}
	switch c.StoreBackend {
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.CacheBackend {
	case BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if _, err := c.CompiledAPIPatterns(); err != nil {
		return err
	}
	if c.CacheMaxEntryBytes < 0 {
		return fmt.Errorf("cache max entry bytes must not be negative")
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative")
	}
	return nil
}

// CompiledAPIPatterns compiles the API route patterns.
func (c *Config) CompiledAPIPatterns() ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(c.APIPatterns))
	for _, p := range c.APIPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("api pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// StaticGeneration returns the name of the stable-assets cache generation.
func (c *Config) StaticGeneration() string {
	return fmt.Sprintf("%s-static-%s", c.CachePrefix, c.CacheVersion)
}

// DynamicGeneration returns the name of the dynamic-responses cache generation.
func (c *Config) DynamicGeneration() string {
	return fmt.Sprintf("%s-dynamic-%s", c.CachePrefix, c.CacheVersion)
}

// ResolveURL joins a path onto the origin.
func (c *Config) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(c.Origin, "/") + "/" + strings.TrimPrefix(path, "/")
}

// ManifestURLs returns the static manifest resolved against the origin.
func (c *Config) ManifestURLs() []string {
	urls := make([]string, 0, len(c.StaticManifest))
	for _, p := range c.StaticManifest {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, c.ResolveURL(p))
		}
	}
	return urls
}
