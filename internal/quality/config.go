package quality

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	DefaultBlurThreshold = 100.0
	DefaultMinWidth      = 800
	DefaultMinHeight     = 600
)

type Config struct {
	BlurThreshold float64
	MinWidth      int
	MinHeight     int
}

func DefaultConfig() Config {
	return Config{
		BlurThreshold: DefaultBlurThreshold,
		MinWidth:      DefaultMinWidth,
		MinHeight:     DefaultMinHeight,
	}
}

func (c Config) Validate() error {
	if c.BlurThreshold <= 0 || c.MinWidth < 0 || c.MinHeight < 0 {
		return errors.New().WithData(ErrInvalidConfig, c)
	}
	return nil
}
