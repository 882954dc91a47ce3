// Package config loads the layered runtime configuration (defaults,
// file, environment, flags) with spf13/viper and spf13/pflag, watched
// for hot changes with fsnotify via viper's built-in
// WatchConfig/OnConfigChange.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/webitel/ws-client-runtime/internal/codec"
	"github.com/webitel/ws-client-runtime/internal/heartbeat"
	"github.com/webitel/ws-client-runtime/internal/queue"
	"github.com/webitel/ws-client-runtime/internal/reconnect"
	"github.com/webitel/ws-client-runtime/internal/transport"
)

// Config is an immutable snapshot of the runtime's configuration
// surface. Every subsystem reads one, never a live mutable reference:
// a reload produces a new Config rather than mutating this one in
// place.
type Config struct {
	URL       string
	Protocols []string
	Adapter   transport.Variant

	Reconnect   reconnect.Config
	Heartbeat   heartbeat.Config
	Queue       queue.Config
	Encryption  codec.EncryptionConfig
	Compression codec.CompressionConfig

	Debug bool
}

// Loader owns the viper instance backing a Config so that a caller can
// both read the current snapshot and subscribe to reloads.
type Loader struct {
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("adapter", string(transport.VariantAuto))
	v.SetDefault("protocols", []string{})
	v.SetDefault("debug", false)

	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.delay", time.Second)
	v.SetDefault("reconnect.max_delay", 30*time.Second)
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.factor", 2.0)
	v.SetDefault("reconnect.jitter", 0.2)

	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.interval", 30*time.Second)
	v.SetDefault("heartbeat.timeout", 10*time.Second)
	v.SetDefault("heartbeat.pong_type", "pong")

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.max_size", 1000)
	v.SetDefault("queue.max_message", 0)
	v.SetDefault("queue.persistent", false)
	v.SetDefault("queue.storage_key", "wsrt.queue")

	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.algorithm", "AES-256-GCM")

	v.SetDefault("compression.enabled", false)
	v.SetDefault("compression.threshold", 1024)
	v.SetDefault("compression.algorithm", string(codec.CompressionGzip))
}

// Load builds a Loader from (in ascending priority) built-in
// defaults, an optional config file, environment variables prefixed
// WSRT_, and bound pflags. A missing config file is not an error; an
// unreadable/malformed one is.
func Load(configFile string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WSRT")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			// With an explicit config file, a missing path surfaces as an
			// os error rather than viper's not-found type; both mean the
			// same thing here.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	return &Loader{v: v}, nil
}

// Snapshot renders the current viper state into an immutable Config.
func (l *Loader) Snapshot() Config {
	v := l.v
	return Config{
		URL:       v.GetString("url"),
		Protocols: v.GetStringSlice("protocols"),
		Adapter:   transport.Variant(v.GetString("adapter")),
		Debug:     v.GetBool("debug"),

		Reconnect: reconnect.Config{
			Enabled:     v.GetBool("reconnect.enabled"),
			Delay:       v.GetDuration("reconnect.delay"),
			MaxDelay:    v.GetDuration("reconnect.max_delay"),
			MaxAttempts: v.GetInt("reconnect.max_attempts"),
			Factor:      v.GetFloat64("reconnect.factor"),
			Jitter:      v.GetFloat64("reconnect.jitter"),
		},
		Heartbeat: heartbeat.Config{
			Enabled:  v.GetBool("heartbeat.enabled"),
			Interval: v.GetDuration("heartbeat.interval"),
			Timeout:  v.GetDuration("heartbeat.timeout"),
			PongType: v.GetString("heartbeat.pong_type"),
		},
		Queue: queue.Config{
			Enabled:    v.GetBool("queue.enabled"),
			MaxSize:    v.GetInt("queue.max_size"),
			MaxMessage: v.GetInt("queue.max_message"),
			Persistent: v.GetBool("queue.persistent"),
			StorageKey: v.GetString("queue.storage_key"),
		},
		Encryption: codec.EncryptionConfig{
			Enabled:   v.GetBool("encryption.enabled"),
			Algorithm: v.GetString("encryption.algorithm"),
		},
		Compression: codec.CompressionConfig{
			Enabled:   v.GetBool("compression.enabled"),
			Threshold: v.GetInt("compression.threshold"),
			Algorithm: codec.CompressionAlgorithm(v.GetString("compression.algorithm")),
		},
	}
}

// Watch arms fsnotify on the backing config file (a no-op if Load was
// given no file) and invokes onChange with a fresh Snapshot every time
// it changes. It never mutates a Config already handed out.
func (l *Loader) Watch(onChange func(Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		onChange(l.Snapshot())
	})
	l.v.WatchConfig()
}
