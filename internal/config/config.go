// Package config loads the daemon configuration from <session>/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the config file inside a session directory.
const FileName = "config.toml"

// Config represents <session>/config.toml.
type Config struct {
	LogLevel string       `toml:"log_level"`
	Flags    FlagValues   `toml:"flags"`
	Pipeline PipelineOpts `toml:"pipeline"`
	Registry RegistryOpts `toml:"registry"`
	Resend   ResendOpts   `toml:"resend"`
}

// FlagValues are the runtime switches. They can change while the daemon runs.
type FlagValues struct {
	WithholdDupes           bool `toml:"withhold_dupes"`
	WithholdPartialFailures bool `toml:"withhold_partial_failures"`
	SMSReadBuffer           bool `toml:"sms_read_buffer"`
	DropSpamMessages        bool `toml:"drop_spam_messages"`
	LogSensitivePayloads    bool `toml:"log_sensitive_payloads"`
}

type PipelineOpts struct {
	NonceTTL                Duration `toml:"nonce_ttl"`
	SubscriberBuffer        int      `toml:"subscriber_buffer"`
	SMSReadBufferCapacity   int      `toml:"sms_read_buffer_capacity"`
	ChatIdentifierCacheSize int      `toml:"chat_identifier_cache_size"`
}

type RegistryOpts struct {
	// MaxMessagesPerChat and MessageRetention bound each chat's message
	// map; zero keeps everything.
	MaxMessagesPerChat int      `toml:"max_messages_per_chat"`
	MessageRetention   Duration `toml:"message_retention"`
	LookupTimeout      Duration `toml:"lookup_timeout"`
	CorrelateTimeout   Duration `toml:"correlate_timeout"`
}

type ResendOpts struct {
	QueueSize int      `toml:"queue_size"`
	Timeout   Duration `toml:"timeout"`
}

// Duration is a time.Duration written as a Go duration string ("10m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Flags: FlagValues{
			WithholdDupes:           true,
			WithholdPartialFailures: true,
			SMSReadBuffer:           true,
			DropSpamMessages:        true,
		},
		Pipeline: PipelineOpts{
			NonceTTL:                Duration{10 * time.Minute},
			SubscriberBuffer:        256,
			SMSReadBufferCapacity:   15,
			ChatIdentifierCacheSize: 100,
		},
		Registry: RegistryOpts{
			LookupTimeout:    Duration{2 * time.Second},
			CorrelateTimeout: Duration{3 * time.Second},
		},
		Resend: ResendOpts{
			QueueSize: 64,
			Timeout:   Duration{30 * time.Second},
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
