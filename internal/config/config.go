// Package config loads settings from flags, environment, a dotenv file and
// an optional TOML file, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/errors"
)

const (
	appName          = "ecgcapture"
	defaultEnvPrefix = "ECGCAPTURE"
	defaultEnvFile   = ".env"

	DefaultLogLevel = LogLevelInfo
)

type Config struct {
	Source          string        `mapstructure:"source"`
	Port            string        `mapstructure:"port"`
	Baud            int           `mapstructure:"baud"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	SamplesPerBatch int           `mapstructure:"samples_per_batch"`

	RenderInterval     time.Duration `mapstructure:"render_interval"`
	MaxDisplaySamples  int           `mapstructure:"max_display_samples"`
	MaxSessionDuration time.Duration `mapstructure:"max_session_duration"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`

	Store          string        `mapstructure:"store"`
	ServerURL      string        `mapstructure:"server_url"`
	APIToken       string        `mapstructure:"api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DBPath         string        `mapstructure:"db_path"`

	// Listen is the monitor server address; empty disables it.
	Listen    string   `mapstructure:"listen"`
	LogLevel  LogLevel `mapstructure:"log_level"`
	Metrics   bool     `mapstructure:"metrics"`
	Predictor string   `mapstructure:"predictor"`
	PIDFile   string   `mapstructure:"pid_file"`
}

var defaults = map[string]any{
	"source":               SourceSimulator,
	"port":                 "COM3",
	"baud":                 9600,
	"sample_interval":      20 * time.Millisecond,
	"samples_per_batch":    5,
	"render_interval":      33 * time.Millisecond,
	"max_display_samples":  1500,
	"max_session_duration": acquisition.DefaultMaxDuration,
	"queue_capacity":       4096,
	"store":                StoreAPI,
	"server_url":           "http://localhost:5000/",
	"api_token":            "",
	"request_timeout":      30 * time.Second,
	"db_path":              "/var/lib/ecgcapture/ecgcapture.db",
	"listen":               "127.0.0.1:8080",
	"log_level":            string(DefaultLogLevel),
	"metrics":              true,
	"predictor":            "none",
	"pid_file":             "",
}

// Load reads the configuration. A config file named by WithConfigFile,
// --config or ECGCAPTURE_CONFIG must exist; otherwise ecgcapture.toml is
// searched for and may be absent.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix: defaultEnvPrefix,
		envFile:   defaultEnvFile,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(ErrReadConfig, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.String("config", "", "Path to the configuration file")
	fs.String("source", SourceSimulator, "Signal source: simulator or serial")
	fs.String("port", "COM3", "Serial port of the ECG device")
	fs.Int("baud", 9600, "Serial baud rate")
	fs.Duration("sample-interval", 20*time.Millisecond, "Interval between sample batches")
	fs.Int("samples-per-batch", 5, "Samples per lead in each batch")
	fs.Duration("render-interval", 33*time.Millisecond, "Display refresh interval")
	fs.Int("max-display-samples", 1500, "Samples kept on the live display per lead")
	fs.Duration("max-session-duration", acquisition.DefaultMaxDuration, "Recording stops automatically after this long (at most 3m)")
	fs.Int("queue-capacity", 4096, "Pending display samples per lead before the oldest are dropped")
	fs.String("store", StoreAPI, "Case store: api or local")
	fs.String("server-url", "http://localhost:5000/", "Base URL of the record store API")
	fs.String("api-token", "", "Bearer token for the record store API")
	fs.Duration("request-timeout", 30*time.Second, "Record store request timeout")
	fs.String("db-path", "/var/lib/ecgcapture/ecgcapture.db", "SQLite database for the local store and journal")
	fs.String("listen", "127.0.0.1:8080", "Monitor server address, empty to disable")
	fs.String("log-level", string(DefaultLogLevel), "Log level: debug, info, warning or error")
	fs.Bool("metrics", true, "Expose Prometheus metrics")
	fs.String("predictor", "none", "Prediction backend: none or mock")
	fs.String("pid-file", "", "Refuse to start if another instance holds this file")

	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	errFactory := errors.New()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errFactory.Wrap(ErrBindFlags, err)
		}
	})

	return bindErr
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(appName)
	v.SetConfigType("toml")
	v.AddConfigPath("/etc/" + appName)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/" + appName)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks ranges and the choice-valued keys.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(ErrInvalidLogLevel, string(c.LogLevel))
	}

	switch c.Source {
	case SourceSimulator, SourceSerial:
	default:
		return errFactory.WithData(ErrInvalidConfig, "source: "+c.Source)
	}
	if c.Source == SourceSerial && c.Port == "" {
		return errFactory.WithMessage(ErrMissingConfig, "serial source needs a port")
	}

	switch c.Store {
	case StoreAPI:
		if c.ServerURL == "" {
			return errFactory.WithMessage(ErrMissingConfig, "api store needs server_url")
		}
	case StoreLocal:
		if c.DBPath == "" {
			return errFactory.WithMessage(ErrMissingConfig, "local store needs db_path")
		}
	default:
		return errFactory.WithData(ErrInvalidConfig, "store: "+c.Store)
	}

	for _, d := range []time.Duration{c.SampleInterval, c.RenderInterval, c.MaxSessionDuration, c.RequestTimeout} {
		if d <= 0 {
			return errFactory.WithData(ErrInvalidInterval, d.String())
		}
	}
	if c.MaxSessionDuration > acquisition.DefaultMaxDuration {
		return errFactory.WithData(ErrInvalidInterval, "max_session_duration above "+acquisition.DefaultMaxDuration.String()+": "+c.MaxSessionDuration.String())
	}

	if c.Baud <= 0 || c.SamplesPerBatch <= 0 || c.MaxDisplaySamples <= 0 || c.QueueCapacity <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "baud, samples_per_batch, max_display_samples and queue_capacity must be positive")
	}

	switch c.Predictor {
	case "", "none", "mock":
	default:
		return errFactory.WithData(ErrInvalidConfig, "predictor: "+c.Predictor)
	}

	return nil
}
