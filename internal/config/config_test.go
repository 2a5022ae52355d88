package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/ecgcapture/internal/config"
	"codeberg.org/mutker/ecgcapture/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ecgcapture.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func load(t *testing.T, opts ...config.Option) (*config.Config, error) {
	t.Helper()

	base := []config.Option{config.WithArgs(nil), config.WithEnvFile("")}
	return config.Load(append(base, opts...)...)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
source = "serial"
port = "/dev/ttyUSB0"
baud = 115200
sample_interval = "10ms"
max_session_duration = "2m"
store = "local"
db_path = "/tmp/ecg.db"
log_level = "debug"
metrics = false
predictor = "mock"
`)
	t.Setenv("ECGCAPTURE_CONFIG", path)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, config.SourceSerial, cfg.Source)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 10*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 2*time.Minute, cfg.MaxSessionDuration)
	assert.Equal(t, config.StoreLocal, cfg.Store)
	assert.Equal(t, "/tmp/ecg.db", cfg.DBPath)
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, "mock", cfg.Predictor)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ECGCAPTURE_CONFIG", "")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, config.SourceSimulator, cfg.Source)
	assert.Equal(t, "COM3", cfg.Port)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Equal(t, 20*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 5, cfg.SamplesPerBatch)
	assert.Equal(t, 33*time.Millisecond, cfg.RenderInterval)
	assert.Equal(t, 1500, cfg.MaxDisplaySamples)
	assert.Equal(t, 3*time.Minute, cfg.MaxSessionDuration)
	assert.Equal(t, config.StoreAPI, cfg.Store)
	assert.Equal(t, "http://localhost:5000/", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := load(t, config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrReadConfig))
}

func TestMissingExplicitConfigFile(t *testing.T) {
	_, err := load(t, config.WithConfigFile(filepath.Join(t.TempDir(), "absent.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log_level = "invalid"
`)

	_, err := load(t, config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrInvalidLogLevel))
	assert.Contains(t, err.Error(), "invalid")
}

func TestLogLevelFlag(t *testing.T) {
	t.Setenv("ECGCAPTURE_CONFIG", "")

	cfg, err := load(t, config.WithArgs([]string{"--log-level", "debug"}))
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
}

func TestMaxSessionDurationFlagCannotExceedCap(t *testing.T) {
	t.Setenv("ECGCAPTURE_CONFIG", "")

	_, err := load(t, config.WithArgs([]string{"--max-session-duration=1h"}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrInvalidInterval))

	cfg, err := load(t, config.WithArgs([]string{"--max-session-duration=90s"}))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.MaxSessionDuration)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, `
baud = 19200
port = "COM7"
listen = "0.0.0.0:9000"
`)
	t.Setenv("ECGCAPTURE_PORT", "COM9")
	t.Setenv("ECGCAPTURE_LISTEN", "127.0.0.1:9100")

	cfg, err := load(t,
		config.WithConfigFile(path),
		config.WithArgs([]string{"--listen", "127.0.0.1:9200"}),
	)
	require.NoError(t, err)

	assert.Equal(t, 19200, cfg.Baud, "file beats default")
	assert.Equal(t, "COM9", cfg.Port, "env beats file")
	assert.Equal(t, "127.0.0.1:9200", cfg.Listen, "flag beats env")
}

func TestEnvFile(t *testing.T) {
	t.Setenv("ECGCAPTURE_CONFIG", "")

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ECGCAPTURE_API_TOKEN=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ECGCAPTURE_API_TOKEN") })

	cfg, err := load(t, config.WithEnvFile(envPath))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.APIToken)
}

func TestUnknownFlag(t *testing.T) {
	_, err := load(t, config.WithArgs([]string{"--no-such-flag"}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Source:             config.SourceSimulator,
			Port:               "COM3",
			Baud:               9600,
			SampleInterval:     20 * time.Millisecond,
			SamplesPerBatch:    5,
			RenderInterval:     33 * time.Millisecond,
			MaxDisplaySamples:  1500,
			MaxSessionDuration: 3 * time.Minute,
			QueueCapacity:      4096,
			Store:              config.StoreAPI,
			ServerURL:          "http://localhost:5000/",
			RequestTimeout:     30 * time.Second,
			LogLevel:           config.LogLevelInfo,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		{"log level", func(c *config.Config) { c.LogLevel = "verbose" }, config.ErrInvalidLogLevel},
		{"source", func(c *config.Config) { c.Source = "usb" }, config.ErrInvalidConfig},
		{"serial without port", func(c *config.Config) { c.Source = config.SourceSerial; c.Port = "" }, config.ErrMissingConfig},
		{"store", func(c *config.Config) { c.Store = "s3" }, config.ErrInvalidConfig},
		{"api without url", func(c *config.Config) { c.ServerURL = "" }, config.ErrMissingConfig},
		{"local without db", func(c *config.Config) { c.Store = config.StoreLocal }, config.ErrMissingConfig},
		{"zero interval", func(c *config.Config) { c.SampleInterval = 0 }, config.ErrInvalidInterval},
		{"session above cap", func(c *config.Config) { c.MaxSessionDuration = 3*time.Minute + time.Second }, config.ErrInvalidInterval},
		{"zero queue", func(c *config.Config) { c.QueueCapacity = 0 }, config.ErrInvalidConfig},
		{"predictor", func(c *config.Config) { c.Predictor = "cnn" }, config.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.True(t, errors.HasCode(c.Validate(), tt.code))
		})
	}
}
