package synth

import "codeberg.org/mutker/ecgcapture/internal/errors"

// Config describes the diagnostic canvas. Values are in pixels except for
// the Y range and grid steps, which are chart units.
type Config struct {
	Height      int
	MinWidth    int
	RightMargin int
	YMin        float64
	YMax        float64

	MajorXStep int
	MinorXStep int
	MajorYStep float64
	MinorYStep float64

	JPEGQuality int
}

func DefaultConfig() Config {
	return Config{
		Height:      1080,
		MinWidth:    2000,
		RightMargin: 100,
		YMin:        -14,
		YMax:        14,
		MajorXStep:  100,
		MinorXStep:  20,
		MajorYStep:  2,
		MinorYStep:  0.5,
		JPEGQuality: 90,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Height < 2 || c.MinWidth < 2:
		return errFactory.WithMessage(ErrInvalidConfig, "canvas too small")
	case c.YMax <= c.YMin:
		return errFactory.WithMessage(ErrInvalidConfig, "empty Y range")
	case c.MajorXStep <= 0 || c.MinorXStep <= 0 || c.MajorYStep <= 0 || c.MinorYStep <= 0:
		return errFactory.WithMessage(ErrInvalidConfig, "grid steps must be positive")
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return errFactory.WithData(ErrInvalidConfig, c.JPEGQuality)
	}
	return nil
}
