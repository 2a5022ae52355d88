package quality

import "fmt"

type Verdict string

const (
	VerdictOK     Verdict = "ok"
	VerdictLowRes Verdict = "low-res"
	VerdictBlurry Verdict = "blurry"
)

// Action is what a caller should do with the image. The gate itself never
// blocks anything.
type Action string

const (
	ActionAccept Action = "accept"
	ActionWarn   Action = "warn"
	ActionReject Action = "reject"
)

type Report struct {
	BlurScore      float64 `json:"blurScore"`
	IsBlurry       bool    `json:"isBlurry"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Verdict        Verdict `json:"verdict"`
	Action         Action  `json:"action"`
	Recommendation string  `json:"recommendation"`
}

// Resolution formats the image size for display.
func (r Report) Resolution() string {
	return fmt.Sprintf("%d x %d", r.Width, r.Height)
}

var recommendations = map[Verdict]string{
	VerdictOK:     "Image quality is good and can be saved.",
	VerdictLowRes: "Resolution is low. Retake or rescan the image.",
	VerdictBlurry: "Image is blurred. Hold steady or refocus and retake.",
}

var actions = map[Verdict]Action{
	VerdictOK:     ActionAccept,
	VerdictLowRes: ActionWarn,
	VerdictBlurry: ActionReject,
}
