package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config controls freshness, retention and integrity checking for a Client.
type Config struct {
	// StaleTime is how long a successful value is served without refetching.
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time"`

	// RetentionDelay is how long an entry without subscribers is kept before
	// it is evicted. Zero evicts as soon as the last subscriber leaves.
	RetentionDelay time.Duration `yaml:"retention_delay" json:"retention_delay"`

	// StrictIntegrity panics on internal invariant violations instead of
	// logging them. Meant for development and tests.
	StrictIntegrity bool `yaml:"strict_integrity" json:"strict_integrity"`
}

// DefaultConfig returns a Config with the defaults used by the catalog client.
func DefaultConfig() Config {
	return Config{
		StaleTime:      time.Minute,
		RetentionDelay: 60 * time.Second,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.RetentionDelay, validation.Min(time.Duration(0))),
	)
}
