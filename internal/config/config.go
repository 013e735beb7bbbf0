package config

import (
	"errors"
	"fmt"
	u "net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tanq16/slicedl/internal/slice"
	"github.com/tanq16/slicedl/internal/transport"
	"github.com/tanq16/slicedl/internal/utils"
)

const EnvPrefix = "SLICEDL"

// Config represents the entire application configuration
type Config struct {
	Slice   SliceConfig   `mapstructure:"slice"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	S3      S3Config      `mapstructure:"s3"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SliceConfig mirrors slice.Options
type SliceConfig struct {
	Size                     int64         `mapstructure:"size"`
	MinSize                  int64         `mapstructure:"min_size"`
	Connections              int           `mapstructure:"connections"`
	Timeout                  time.Duration `mapstructure:"timeout"`
	Retry                    int           `mapstructure:"retry"`
	ErrListRetry             int           `mapstructure:"err_list_retry"`
	Cache                    bool          `mapstructure:"cache"`
	CacheDir                 string        `mapstructure:"cache_dir"`
	CacheIOLimit             int           `mapstructure:"cache_io_limit"`
	CacheEager               bool          `mapstructure:"cache_eager"`
	ReuseCacheOnProbeFailure bool          `mapstructure:"reuse_cache_on_probe_failure"`
	UseProxy                 bool          `mapstructure:"use_proxy"`
	Mode                     string        `mapstructure:"mode"`
}

type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`
	Proxy            string        `mapstructure:"proxy"`
	ProxyUsername    string        `mapstructure:"proxy_username"`
	ProxyPassword    string        `mapstructure:"proxy_password"`
	UserAgent        string        `mapstructure:"user_agent"`
	Headers          []string      `mapstructure:"headers"`
	Insecure         bool          `mapstructure:"insecure"`
	BearerToken      string        `mapstructure:"bearer_token"`
	PlainRetries     int           `mapstructure:"plain_retries"`
}

type S3Config struct {
	Profile string `mapstructure:"profile"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type LoggingConfig struct {
	Debug bool `mapstructure:"debug"`
}

// New returns a viper instance with every key defaulted and SLICEDL_* env
// overrides enabled (slice.cache_dir is read from SLICEDL_SLICE_CACHE_DIR).
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("slice.size", slice.DefaultSliceSize)
	v.SetDefault("slice.min_size", slice.DefaultSliceMinSize)
	v.SetDefault("slice.connections", slice.DefaultSliceSemaphore)
	v.SetDefault("slice.timeout", slice.DefaultSliceTimeout.String())
	v.SetDefault("slice.retry", slice.DefaultSliceRetryTimes)
	v.SetDefault("slice.err_list_retry", slice.DefaultErrListRetryTimes)
	v.SetDefault("slice.cache", false)
	v.SetDefault("slice.cache_dir", slice.DefaultCacheDir)
	v.SetDefault("slice.cache_io_limit", slice.DefaultCacheIOLimit)
	v.SetDefault("slice.cache_eager", false)
	v.SetDefault("slice.reuse_cache_on_probe_failure", false)
	v.SetDefault("slice.use_proxy", false)
	v.SetDefault("slice.mode", slice.ModeAsync)
	v.SetDefault("http.timeout", "3m")
	v.SetDefault("http.keep_alive_timeout", "90s")
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.proxy_username", "")
	v.SetDefault("http.proxy_password", "")
	v.SetDefault("http.user_agent", utils.ToolUserAgent)
	v.SetDefault("http.headers", []string{})
	v.SetDefault("http.insecure", false)
	v.SetDefault("http.bearer_token", "")
	v.SetDefault("http.plain_retries", 5)
	v.SetDefault("s3.profile", "default")
	v.SetDefault("batch.workers", 1)
	v.SetDefault("logging.debug", false)
	return v
}

// Load reads the optional config file into v and decodes the merged result.
// An explicit path must exist; otherwise ./slicedl.yaml is used when present.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("slicedl")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Slice.Size <= 0 {
		return fmt.Errorf("slice.size must be positive")
	}
	if c.Slice.MinSize < 0 {
		return fmt.Errorf("slice.min_size must not be negative")
	}
	if c.Slice.Connections <= 0 {
		return fmt.Errorf("slice.connections must be positive")
	}
	if c.Slice.Timeout <= 0 {
		return fmt.Errorf("slice.timeout must be positive")
	}
	if c.Slice.Retry <= 0 {
		return fmt.Errorf("slice.retry must be positive")
	}
	if c.Slice.ErrListRetry < 0 {
		return fmt.Errorf("slice.err_list_retry must not be negative")
	}
	if c.Slice.CacheDir == "" {
		return fmt.Errorf("slice.cache_dir is required")
	}
	switch c.Slice.Mode {
	case slice.ModeAsync, slice.ModeThread:
	default:
		return fmt.Errorf("invalid slice.mode: %s", c.Slice.Mode)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if c.HTTP.PlainRetries <= 0 {
		return fmt.Errorf("http.plain_retries must be positive")
	}
	return nil
}

// SliceOptions maps the slice section onto engine options. A configured proxy
// implies use_proxy.
func (c *Config) SliceOptions() slice.Options {
	return slice.Options{
		SliceSize:                c.Slice.Size,
		SliceMinSize:             c.Slice.MinSize,
		SliceSemaphore:           c.Slice.Connections,
		SliceTimeout:             c.Slice.Timeout,
		SliceRetryTimes:          c.Slice.Retry,
		ErrListRetryTimes:        c.Slice.ErrListRetry,
		SliceCache:               c.Slice.Cache,
		UseProxy:                 c.Slice.UseProxy || c.HTTP.Proxy != "",
		Mode:                     c.Slice.Mode,
		CacheDir:                 c.Slice.CacheDir,
		CacheIOLimit:             c.Slice.CacheIOLimit,
		CacheEager:               c.Slice.CacheEager,
		ReuseCacheOnProbeFailure: c.Slice.ReuseCacheOnProbeFailure,
	}
}

// HTTPTransportConfig builds the client settings. Credentials embedded in the
// proxy URL are moved to the username and password fields.
func (c *Config) HTTPTransportConfig() transport.HTTPConfig {
	proxyURL := c.HTTP.Proxy
	proxyUsername := c.HTTP.ProxyUsername
	proxyPassword := c.HTTP.ProxyPassword
	parsedProxy, err := u.Parse(proxyURL)
	if proxyURL != "" && err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	userAgent := c.HTTP.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	return transport.HTTPConfig{
		Timeout:            c.HTTP.Timeout,
		KATimeout:          c.HTTP.KeepAliveTimeout,
		ProxyURL:           proxyURL,
		ProxyUsername:      proxyUsername,
		ProxyPassword:      proxyPassword,
		UserAgent:          userAgent,
		InsecureSkipVerify: c.HTTP.Insecure,
		BearerToken:        c.HTTP.BearerToken,
		HighThreadMode:     c.Slice.Connections > 8,
	}
}

// BaseTask is the task template every download of a run starts from. The
// configured agent is sent on probe and slice requests.
func (c *Config) BaseTask() slice.Task {
	task := slice.NewTask("", c.SliceOptions())
	task.Header = c.RequestHeaders()
	task.UserAgent = c.HTTPTransportConfig().UserAgent
	return task
}

// RequestHeaders returns the custom headers sent with every request of a task.
func (c *Config) RequestHeaders() map[string]string {
	return utils.ParseHeaderArgs(c.HTTP.Headers)
}
