package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	HealthModeSelf    = "self"
	HealthModeCascade = "cascade"
)

// DefaultBackendURL is used when BACKEND_INTERNAL_URL is unset or empty.
const DefaultBackendURL = "http://localhost:8000"

// BackendURLEnv is the single environment setting recognized for the backend base URL.
const BackendURLEnv = "BACKEND_INTERNAL_URL"

// EnvironmentEnv selects the deployment environment and with it the
// .env.<environment> files.
const EnvironmentEnv = "SERVER_ENVIRONMENT"

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Environment     string `mapstructure:"environment"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type BackendConfig struct {
	InternalURL string `mapstructure:"internal_url"`
}

type HealthConfig struct {
	Mode string `mapstructure:"mode"`
}

type CircuitBreakerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Threshold    int    `mapstructure:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout"`
}

type ProxyConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Health  HealthConfig  `mapstructure:"health"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load reads configuration from defaults, dotenv files, an optional YAML file
// and the environment. An empty file argument searches ./config and . for
// config.yaml.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("backend.internal_url", DefaultBackendURL)
	v.SetDefault("health.mode", HealthModeSelf)
	v.SetDefault("proxy.circuit_breaker.enabled", false)
	v.SetDefault("proxy.circuit_breaker.threshold", 5)
	v.SetDefault("proxy.circuit_breaker.reset_timeout", "30s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("logging.level", LogLevelInfo)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("backend.internal_url", BackendURLEnv); err != nil {
		return nil, goerr.Wrap(err, "failed to bind backend url env")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("file", file))
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Debug("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	// The environment name decides which dotenv files apply, so it is resolved
	// first. The process environment wins, then .env.local and .env.
	environment := v.GetString("server.environment")
	if _, set := os.LookupEnv(EnvironmentEnv); !set {
		if fromDotenv := peekDotenv(".", EnvironmentEnv); fromDotenv != "" {
			environment = fromDotenv
		}
	}
	if err := LoadDotenv(".", environment); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal config")
	}

	cfg.Backend.InternalURL = NormalizeBackendURL(cfg.Backend.InternalURL)

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// LoadDotenv loads .env.<environment>.local, .env.local, .env.<environment>
// and .env from dir. Earlier files win and variables already present in the
// process environment are never overridden. Missing files are skipped.
func LoadDotenv(dir, environment string) error {
	names := []string{".env.local", ".env"}
	if environment != "" {
		names = []string{
			".env." + environment + ".local",
			".env.local",
			".env." + environment,
			".env",
		}
	}

	for _, name := range names {
		path := dotenvPath(dir, name)
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return goerr.Wrap(err, "failed to load dotenv file", goerr.V("path", path))
		}
	}

	return nil
}

// peekDotenv returns key from .env.local or .env in dir without touching the
// process environment.
func peekDotenv(dir, key string) string {
	for _, name := range []string{".env.local", ".env"} {
		values, err := godotenv.Read(dotenvPath(dir, name))
		if err != nil {
			continue
		}
		if value := values[key]; value != "" {
			return value
		}
	}
	return ""
}

func dotenvPath(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

// NormalizeBackendURL applies the fallback for an empty value and trims
// trailing slashes so joined paths never contain "//".
func NormalizeBackendURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBackendURL
	}
	trimmed := strings.TrimRight(raw, "/")
	if trimmed == "" {
		return raw
	}
	return trimmed
}

// BackendURL returns the parsed backend base URL.
func (c *Config) BackendURL() (*url.URL, error) {
	u, err := url.Parse(c.Backend.InternalURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse backend url", goerr.V("url", c.Backend.InternalURL))
	}
	return u, nil
}

// UsesFallbackBackend reports whether the backend URL is the built-in default.
func (c *Config) UsesFallbackBackend() bool {
	return c.Backend.InternalURL == DefaultBackendURL
}

// ShutdownTimeout returns the parsed graceful shutdown period.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ResetTimeoutDuration returns the parsed circuit breaker reset timeout.
func (c *CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ResetTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ShutdownTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Backend,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BackendConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BackendConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.InternalURL,
						validation.Required,
						validation.By(validateServerURL),
					),
				)
			}),
		),
		validation.Field(&c.Health,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Mode,
						validation.Required,
						validation.In(HealthModeSelf, HealthModeCascade),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				cb := pc.CircuitBreaker
				if !cb.Enabled {
					return nil
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.Threshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&cb.ResetTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				if !mc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.Path,
						validation.Required,
						validation.By(validateRoutePath),
					),
					validation.Field(&mc.BufferSize,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return validation.NewError("validation_invalid_url", "URL must not carry a query or fragment")
	}

	return nil
}

func validateRoutePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "path must start with /")
	}

	return nil
}
