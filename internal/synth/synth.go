package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	gridColor  = drawing.ColorFromHex("FF9999")
	minorColor = gridColor.WithAlpha(128)
	traceColor = drawing.ColorBlack
	labelColor = image.NewUniform(color.Black)
)

const labelX = 4

// Synthesizer turns a recording into the composite diagnostic image. It
// holds no state between calls.
type Synthesizer struct {
	cfg Config
}

func New(cfg Config) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Synthesizer{cfg: cfg}, nil
}

// Width returns the canvas width for a reference lead of n samples.
func (s *Synthesizer) Width(n int) int {
	return max(s.cfg.MinWidth, n+s.cfg.RightMargin)
}

// Synthesize draws every lead of series onto one canvas.
func (s *Synthesizer) Synthesize(series ecg.Series) (*image.RGBA, error) {
	errFactory := errors.New()

	n := series.Len(ecg.Reference)
	if n == 0 {
		return nil, errFactory.Wrap(errors.ErrSynthesis, errFactory.New(ErrNoData))
	}

	width := s.Width(n)
	img := image.NewRGBA(image.Rect(0, 0, width, s.cfg.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	gc, err := drawing.NewRasterGraphicContext(img)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrSynthesis, errFactory.Wrap(ErrCanvas, err))
	}

	s.drawGrid(gc, width)

	gc.SetStrokeColor(traceColor)
	gc.SetLineWidth(1)
	for _, lead := range ecg.Leads {
		values := series[lead]
		if len(values) == 0 {
			continue
		}

		gc.BeginPath()
		gc.MoveTo(0, s.y(ecg.Display(lead, values[0])))
		for i := 1; i < len(values); i++ {
			gc.LineTo(float64(i), s.y(ecg.Display(lead, values[i])))
		}
		gc.Stroke()
	}

	s.drawLabels(img)

	return img, nil
}

func (s *Synthesizer) drawGrid(gc *drawing.RasterGraphicContext, width int) {
	height := float64(s.cfg.Height)

	gc.SetLineWidth(1)

	gc.SetStrokeColor(minorColor)
	gc.BeginPath()
	for x := 0; x <= width; x += s.cfg.MinorXStep {
		if x%s.cfg.MajorXStep == 0 {
			continue
		}
		gc.MoveTo(float64(x), 0)
		gc.LineTo(float64(x), height)
	}
	for v := s.cfg.YMin; v <= s.cfg.YMax; v += s.cfg.MinorYStep {
		if isMultiple(v, s.cfg.MajorYStep) {
			continue
		}
		gc.MoveTo(0, s.y(v))
		gc.LineTo(float64(width), s.y(v))
	}
	gc.Stroke()

	gc.SetStrokeColor(gridColor)
	gc.BeginPath()
	for x := 0; x <= width; x += s.cfg.MajorXStep {
		gc.MoveTo(float64(x), 0)
		gc.LineTo(float64(x), height)
	}
	for v := s.cfg.YMin; v <= s.cfg.YMax; v += s.cfg.MajorYStep {
		gc.MoveTo(0, s.y(v))
		gc.LineTo(float64(width), s.y(v))
	}
	gc.Stroke()
}

func (s *Synthesizer) drawLabels(img *image.RGBA) {
	d := &font.Drawer{Dst: img, Src: labelColor, Face: basicfont.Face7x13}

	for _, lead := range ecg.Leads {
		y := int(math.Round(s.y(ecg.BaselineOffset(lead) + 0.5)))
		d.Dot = fixed.Point26_6{X: fixed.I(labelX), Y: fixed.I(y)}
		d.DrawString(lead.String())
	}
}

// y maps a chart value onto a pixel row; YMax is the top edge.
func (s *Synthesizer) y(v float64) float64 {
	span := s.cfg.YMax - s.cfg.YMin
	return (s.cfg.YMax - v) / span * float64(s.cfg.Height-1)
}

func isMultiple(v, step float64) bool {
	r := math.Mod(math.Abs(v), step)
	return r < 1e-9 || step-r < 1e-9
}

// Encode renders img as JPEG at the configured quality.
func (s *Synthesizer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, errors.New().Wrap(errors.ErrSynthesis, errors.New().Wrap(ErrEncode, err))
	}

	return buf.Bytes(), nil
}

// EncodePNG renders img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.New().Wrap(errors.ErrSynthesis, errors.New().Wrap(ErrEncode, err))
	}

	return buf.Bytes(), nil
}

// Render synthesizes series and encodes it as JPEG.
func (s *Synthesizer) Render(series ecg.Series) ([]byte, error) {
	img, err := s.Synthesize(series)
	if err != nil {
		return nil, err
	}

	return s.Encode(img)
}

// FileName is the upload name for a diagnostic image taken at t.
func FileName(t time.Time) string {
	return "ECG_" + t.Format("20060102_150405") + ".jpg"
}
