package config

// Option adjusts how Load finds its sources.
type Option func(*options) error

type options struct {
	configPath string
	envPrefix  string
	envFile    string
	args       []string
}

// WithConfigFile specifies an explicit configuration file path.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix.
// Default is "ECGCAPTURE".
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithEnvFile loads variables from a dotenv file before reading the
// environment. A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *options) error {
		o.envFile = path
		return nil
	}
}

// WithArgs replaces os.Args[1:] as the flag source.
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}

// Source kinds.
const (
	SourceSimulator = "simulator"
	SourceSerial    = "serial"
)

// Store kinds.
const (
	StoreAPI   = "api"
	StoreLocal = "local"
)
