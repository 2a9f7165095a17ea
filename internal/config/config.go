package config

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rohmanhakim/site-archiver/internal/build"
	"github.com/rohmanhakim/site-archiver/pkg/hashutil"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key read from the environment,
// e.g. SITE_ARCHIVER_MAXPAGES.
const EnvPrefix = "SITE_ARCHIVER"

type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Page where the crawl starts. Optional here; the CLI and the HTTP
	// front door may supply it per crawl instead.
	startURL *url.URL

	//===============
	// Limits
	//===============
	// Maximum number of pages archived per crawl
	maxPages int
	// Maximum number of asset fetches running at once within a single page
	concurrency int
	// Upper bound on the bytes read from a single response body
	maxBodySize int64

	//===============
	// Retry
	//===============
	// Randomized variation added on top of each backoff delay
	jitter time.Duration
	// Controls the random number generator used for jitter
	randomSeed int64
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single fetch request
	timeout time.Duration
	// User agent sent with every request
	userAgent string
	// Extra request headers sent with every request
	headers map[string]string

	//===============
	// Output
	//===============
	// Content hash algorithm recorded for archive entries
	hashAlgo hashutil.HashAlgo
	// Directory under which the per-crawl spool directory is created
	spoolDir string
	// Where the CLI writes the finished archive
	outputPath string
	// Address the HTTP front door listens on
	listenAddr string
}

type configDTO struct {
	StartURL               string            `mapstructure:"startUrl"`
	MaxPages               int               `mapstructure:"maxPages"`
	Concurrency            int               `mapstructure:"concurrency"`
	MaxBodySize            int64             `mapstructure:"maxBodySize"`
	Jitter                 time.Duration     `mapstructure:"jitter"`
	RandomSeed             int64             `mapstructure:"randomSeed"`
	MaxAttempt             int               `mapstructure:"maxAttempt"`
	BackoffInitialDuration time.Duration     `mapstructure:"backoffInitialDuration"`
	BackoffMultiplier      float64           `mapstructure:"backoffMultiplier"`
	BackoffMaxDuration     time.Duration     `mapstructure:"backoffMaxDuration"`
	Timeout                time.Duration     `mapstructure:"timeout"`
	UserAgent              string            `mapstructure:"userAgent"`
	Headers                map[string]string `mapstructure:"headers"`
	HashAlgo               string            `mapstructure:"hashAlgo"`
	SpoolDir               string            `mapstructure:"spoolDir"`
	OutputPath             string            `mapstructure:"outputPath"`
	ListenAddr             string            `mapstructure:"listenAddr"`
}

// configKeys lists every key bound to an environment variable.
var configKeys = []string{
	"startUrl", "maxPages", "concurrency", "maxBodySize", "jitter", "randomSeed",
	"maxAttempt", "backoffInitialDuration", "backoffMultiplier", "backoffMaxDuration",
	"timeout", "userAgent", "hashAlgo", "spoolDir", "outputPath", "listenAddr",
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg := WithDefault()

	if dto.StartURL != "" {
		startURL, err := url.Parse(dto.StartURL)
		if err != nil {
			return Config{}, fmt.Errorf("%w: startUrl: %s", ErrInvalidConfig, err.Error())
		}
		cfg.WithStartURL(*startURL)
	}

	// Only override when a non-zero value is provided
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.MaxBodySize != 0 {
		cfg.maxBodySize = dto.MaxBodySize
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if len(dto.Headers) > 0 {
		cfg.WithHeaders(dto.Headers)
	}
	if dto.HashAlgo != "" {
		cfg.hashAlgo = hashutil.HashAlgo(dto.HashAlgo)
	}
	if dto.SpoolDir != "" {
		cfg.spoolDir = dto.SpoolDir
	}
	if dto.OutputPath != "" {
		cfg.outputPath = dto.OutputPath
	}
	if dto.ListenAddr != "" {
		cfg.listenAddr = dto.ListenAddr
	}

	return cfg.Build()
}

// WithConfigFile loads a JSON, YAML or TOML file (format inferred from the
// extension). SITE_ARCHIVER_* environment variables override file values.
func WithConfigFile(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}

	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	v := newViper()
	v.SetConfigType(configType(path))
	if err := v.ReadConfig(bytes.NewReader(configContent)); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return fromViper(v)
}

// FromEnv builds a Config from defaults overridden by SITE_ARCHIVER_*
// environment variables only.
func FromEnv() (Config, error) {
	return fromViper(newViper())
}

// configType maps a file extension to a viper config type; JSON is the default.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, key := range configKeys {
		// BindEnv only fails when called without a key
		_ = v.BindEnv(key)
	}
	return v
}

func fromViper(v *viper.Viper) (Config, error) {
	dto := configDTO{}
	if err := v.Unmarshal(&dto); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}
	return newConfigFromDTO(dto)
}

// WithDefault creates a new Config with default values for every field.
func WithDefault() *Config {
	defaultConfig := Config{
		maxPages:               50,
		concurrency:            4,
		maxBodySize:            32 << 20,
		jitter:                 100 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             3,
		backoffInitialDuration: 200 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     5 * time.Second,
		timeout:                30 * time.Second,
		userAgent:              build.UserAgent(),
		headers:                map[string]string{},
		hashAlgo:               hashutil.HashAlgoBLAKE3,
		spoolDir:               os.TempDir(),
		outputPath:             "website_assets.zip",
		listenAddr:             ":8080",
	}
	return &defaultConfig
}

func (c *Config) WithStartURL(startURL url.URL) *Config {
	c.startURL = &startURL
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithMaxBodySize(size int64) *Config {
	c.maxBodySize = size
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

// WithHeaders replaces the extra request headers. Keys are canonicalized.
func (c *Config) WithHeaders(headers map[string]string) *Config {
	c.headers = make(map[string]string, len(headers))
	for k, v := range headers {
		c.headers[http.CanonicalHeaderKey(k)] = v
	}
	return c
}

func (c *Config) WithHashAlgo(algo hashutil.HashAlgo) *Config {
	c.hashAlgo = algo
	return c
}

func (c *Config) WithSpoolDir(dir string) *Config {
	c.spoolDir = dir
	return c
}

func (c *Config) WithOutputPath(path string) *Config {
	c.outputPath = path
	return c
}

func (c *Config) WithListenAddr(addr string) *Config {
	c.listenAddr = addr
	return c
}

func (c *Config) Build() (Config, error) {
	if c.startURL != nil {
		scheme := strings.ToLower(c.startURL.Scheme)
		if (scheme != "http" && scheme != "https") || c.startURL.Host == "" {
			return Config{}, fmt.Errorf("%w: startUrl must be an absolute http(s) URL", ErrInvalidConfig)
		}
	}
	if c.maxPages < 1 {
		return Config{}, fmt.Errorf("%w: maxPages must be at least 1", ErrInvalidConfig)
	}
	if c.concurrency < 1 {
		return Config{}, fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.maxAttempt < 1 {
		return Config{}, fmt.Errorf("%w: maxAttempt must be at least 1", ErrInvalidConfig)
	}
	if c.timeout <= 0 {
		return Config{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.maxBodySize <= 0 {
		return Config{}, fmt.Errorf("%w: maxBodySize must be positive", ErrInvalidConfig)
	}
	if c.backoffMultiplier < 1 {
		return Config{}, fmt.Errorf("%w: backoffMultiplier must be at least 1", ErrInvalidConfig)
	}
	if !hashutil.IsSupported(c.hashAlgo) {
		return Config{}, fmt.Errorf("%w: unsupported hashAlgo %q", ErrInvalidConfig, c.hashAlgo)
	}
	return *c, nil
}

// StartURL returns the configured start page and whether one was set.
func (c Config) StartURL() (url.URL, bool) {
	if c.startURL == nil {
		return url.URL{}, false
	}
	return *c.startURL, true
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) Concurrency() int {
	return c.concurrency
}

func (c Config) MaxBodySize() int64 {
	return c.maxBodySize
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

// Headers returns a copy of the extra request headers.
func (c Config) Headers() map[string]string {
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}
	return headers
}

func (c Config) HashAlgo() hashutil.HashAlgo {
	return c.hashAlgo
}

func (c Config) SpoolDir() string {
	return c.spoolDir
}

func (c Config) OutputPath() string {
	return c.outputPath
}

func (c Config) ListenAddr() string {
	return c.listenAddr
}
