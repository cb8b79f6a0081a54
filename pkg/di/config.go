package di

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// DefaultBaseURL is the catalog API of a local development server.
const DefaultBaseURL = "http://localhost:8000/api"

// Config is the complete client configuration.
type Config struct {
	BaseURL        string              `yaml:"base_url" json:"base_url"`
	RequestTimeout time.Duration       `yaml:"request_timeout" json:"request_timeout"`
	LogLevel       string              `yaml:"log_level" json:"log_level"`
	Cache          cache.Config        `yaml:"cache" json:"cache"`
	ResponseCache  ResponseCacheConfig `yaml:"response_cache" json:"response_cache"`
}

// ResponseCacheConfig enables the HTTP response cache under the transport.
type ResponseCacheConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	cacheinfra.Config `yaml:",inline"`
}

// Validate checks the embedded settings only when the cache is enabled.
func (c ResponseCacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.Config.Validate()
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		Cache:          cache.DefaultConfig(),
		ResponseCache: ResponseCacheConfig{
			Config: cacheinfra.DefaultConfig(),
		},
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.RequestTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.LogLevel, validation.By(func(any) error {
			_, err := ParseLogLevel(c.LogLevel)
			return err
		})),
		validation.Field(&c.Cache),
		validation.Field(&c.ResponseCache),
	)
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// ParseLogLevel maps debug, info, warn and error to a slog.Level. The empty
// string is info.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, errors.Newf("unknown log level %q", level)
	}
	return l, nil
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	l, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
