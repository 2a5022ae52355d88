package quality

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Gate scores image sharpness and size. It is advisory: every image gets a
// report and nothing is refused.
type Gate struct {
	cfg     Config
	metrics metrics.Collector
	logger  logger.Logger
}

func NewGate(cfg Config, collector metrics.Collector, log logger.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.Noop()
	}

	return &Gate{cfg: cfg, metrics: collector, logger: log}, nil
}

// Assess classifies img. Low resolution takes priority over blur.
func (g *Gate) Assess(img image.Image) Report {
	b := img.Bounds()

	r := Report{
		Width:     b.Dx(),
		Height:    b.Dy(),
		BlurScore: BlurScore(img),
	}
	r.IsBlurry = r.BlurScore < g.cfg.BlurThreshold

	switch {
	case r.Width < g.cfg.MinWidth || r.Height < g.cfg.MinHeight:
		r.Verdict = VerdictLowRes
	case r.IsBlurry:
		r.Verdict = VerdictBlurry
	default:
		r.Verdict = VerdictOK
	}
	r.Action = actions[r.Verdict]
	r.Recommendation = recommendations[r.Verdict]

	g.metrics.QualityAssessed(string(r.Verdict), r.BlurScore)
	g.logger.Debug().
		Str("resolution", r.Resolution()).
		Float64("blur_score", r.BlurScore).
		Str("verdict", string(r.Verdict)).
		Msg("Image quality assessed")

	return r
}

// AssessBytes decodes an encoded JPEG, PNG, GIF, BMP or WebP image and
// assesses it.
func (g *Gate) AssessBytes(data []byte) (Report, error) {
	errFactory := errors.New()

	if len(data) == 0 {
		return Report{}, errFactory.New(ErrEmptyImage)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Report{}, errFactory.Wrap(ErrDecode, err)
	}

	g.logger.Debug().Str("format", format).Int("bytes", len(data)).Msg("Decoded image for quality check")

	return g.Assess(img), nil
}

// BlurScore is the variance of the 3x3 Laplacian response over the
// grayscale image, with reflect-101 borders. Images narrower or shorter
// than 3 pixels score 0.
func BlurScore(img image.Image) float64 {
	gray := toGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.Pix[reflect101(y, h)*gray.Stride+reflect101(x, w)])
	}

	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := at(x, y-1) + at(x, y+1) + at(x-1, y) + at(x+1, y) - 4*at(x, y)
			sum += l
			sumSq += l * l
		}
	}

	n := float64(w * h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

func reflect101(i, n int) int {
	switch {
	case i < 0:
		return -i
	case i >= n:
		return 2*n - i - 2
	}
	return i
}

// toGray returns a zero-origin grayscale copy using the ITU-R 601 luma
// weights.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return out
}
