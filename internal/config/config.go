// Package config loads almabatch settings from ~/.almabatch/config.yaml,
// applies environment overrides, and persists the small JSON state blob the
// CLI uses to remember its last run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a fresh configuration.
const (
	DefaultRegion          = "na"
	DefaultAPITimeout      = 30 * time.Second
	DefaultBatchSize       = 100
	MaxBatchSize           = 100
	DefaultPageSize        = 100
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultProgressEvery   = 1
	DefaultProgressTimeout = 2 * time.Second
	DefaultOutputDir       = "output"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultCacheTTLSeconds = 86400

	configFileName = "config.yaml"
	outputTypeFile = "file"
)

// Environment overrides.
const (
	EnvAPIKey       = "ALMA_API_KEY"
	EnvAPIURL       = "ALMA_API_URL"
	EnvAPIRegion    = "ALMA_API_REGION"
	EnvLogLevel     = "ALMABATCH_LOG_LEVEL"
	EnvLogFormat    = "ALMABATCH_LOG_FORMAT"
	EnvCacheEnabled = "ALMABATCH_CACHE_ENABLED"
	EnvHome         = "ALMABATCH_HOME"
)

// Config errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownKey    = errors.New("unknown configuration key")
)

// Config is the full almabatch configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Batch   BatchConfig   `yaml:"batch"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`

	configPath string
}

// APIConfig locates and authenticates against the Alma API.
type APIConfig struct {
	Region  string        `yaml:"region"`
	BaseURL string        `yaml:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// BatchConfig tunes chunking, retries and progress reporting.
type BatchConfig struct {
	Size            int           `yaml:"size"`
	PageSize        int           `yaml:"page_size"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ProgressEvery   int           `yaml:"progress_every"`
	ProgressTimeout time.Duration `yaml:"progress_timeout"`
}

// OutputConfig controls where reports land.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	FlushEachRow bool   `yaml:"flush_each_row"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// CacheConfig controls the record document cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir,omitempty"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// New returns the default configuration, pointed at the default config file.
// Nothing is read from disk.
func New() *Config {
	cfg := &Config{
		API: APIConfig{
			Region:  DefaultRegion,
			Timeout: DefaultAPITimeout,
		},
		Batch: BatchConfig{
			Size:            DefaultBatchSize,
			PageSize:        DefaultPageSize,
			RetryAttempts:   DefaultRetryAttempts,
			RetryDelay:      DefaultRetryDelay,
			ProgressEvery:   DefaultProgressEvery,
			ProgressTimeout: DefaultProgressTimeout,
		},
		Output: OutputConfig{
			Dir:          DefaultOutputDir,
			FlushEachRow: true,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Cache: CacheConfig{
			TTLSeconds: DefaultCacheTTLSeconds,
		},
	}
	if dir, err := GetConfigDir(); err == nil {
		cfg.configPath = filepath.Join(dir, configFileName)
		cfg.Cache.Dir = filepath.Join(dir, "cache")
	}
	return cfg
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		cfg.configPath = path
	}

	if cfg.configPath != "" {
		data, err := os.ReadFile(cfg.configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", cfg.configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", cfg.configPath, err)
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the config file in the config directory.
func LoadDefault() (*Config, error) {
	return Load("")
}

// ApplyEnv overlays the environment overrides onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIRegion); v != "" {
		c.API.Region = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvCacheEnabled); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = enabled
		}
	}
}

// Validate checks the values the engine depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Batch.Size < 1 || c.Batch.Size > MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch.size must be between 1 and %d, got %d", MaxBatchSize, c.Batch.Size))
	}
	if c.Batch.PageSize < 1 || c.Batch.PageSize > MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch.page_size must be between 1 and %d, got %d", MaxBatchSize, c.Batch.PageSize))
	}
	if c.Batch.RetryAttempts < 1 {
		problems = append(problems, "batch.retry_attempts must be at least 1")
	}
	if c.Batch.RetryDelay < 0 {
		problems = append(problems, "batch.retry_delay must not be negative")
	}
	if c.Batch.ProgressEvery < 1 {
		problems = append(problems, "batch.progress_every must be at least 1")
	}
	if c.API.Timeout < 0 {
		problems = append(problems, "api.timeout must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
		problems = append(problems, "cache.ttl_seconds must be positive when the cache is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ConfigPath returns the file Save writes to.
func (c *Config) ConfigPath() string { return c.configPath }

// SetConfigPath changes the file Save writes to.
func (c *Config) SetConfigPath(path string) { c.configPath = path }

// Save writes c as YAML to its config path.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("no config path set")
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", c.configPath, err)
	}
	return nil
}

// Get returns the value at a dotted key such as "batch.size".
func (c *Config) Get(key string) (string, error) {
	tree, err := c.tree()
	if err != nil {
		return "", err
	}
	section, leaf, err := lookup(tree, key)
	if err != nil {
		return "", err
	}
	v, ok := section[leaf]
	if !ok {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case map[string]interface{}:
		out, marshalErr := yaml.Marshal(val)
		if marshalErr != nil {
			return "", marshalErr
		}
		return strings.TrimSpace(string(out)), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// Set changes the value at a dotted key. The value is parsed as YAML, so
// "true" becomes a bool and "50" an int. The result must validate.
func (c *Config) Set(key, value string) error {
	tree, err := c.tree()
	if err != nil {
		return err
	}
	section, leaf, err := lookup(tree, key)
	if err != nil {
		return err
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}
	section[leaf] = parsed

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	next := &Config{configPath: c.configPath}
	if err := yaml.Unmarshal(data, next); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = *next
	return nil
}

// Keys lists every settable dotted key.
func (c *Config) Keys() []string {
	var keys []string
	for _, section := range []struct {
		name string
		v    interface{}
	}{
		{keyAPI, APIConfig{}},
		{keyBatch, BatchConfig{}},
		{keyOutput, OutputConfig{}},
		{keyLogging, LoggingConfig{}},
		{keyCache, CacheConfig{}},
	} {
		for _, field := range yamlFields(section.v) {
			keys = append(keys, section.name+"."+field)
		}
	}
	return keys
}

func (c *Config) tree() (map[string]interface{}, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("reading config tree: %w", err)
	}
	return tree, nil
}

// lookup resolves "section.leaf" to the section map and the leaf name.
func lookup(tree map[string]interface{}, key string) (map[string]interface{}, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || !knownTopLevelKeys[parts[0]] || !knownLeaf(parts[0], parts[1]) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	section, ok := tree[parts[0]].(map[string]interface{})
	if !ok {
		section = map[string]interface{}{}
		tree[parts[0]] = section
	}
	return section, parts[1], nil
}

func knownLeaf(section, leaf string) bool {
	for _, k := range New().Keys() {
		if k == section+"."+leaf {
			return true
		}
	}
	return false
}
