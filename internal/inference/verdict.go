package inference

// Status distinguishes a classified video from one that produced no frames
// or failed.
type Status string

const (
	StatusOK    Status = "ok"
	StatusEmpty Status = "empty"
	StatusError Status = "error"
)

// Verdict is the aggregate result for one video.
type Verdict struct {
	Video         string  `json:"video"`
	Output        string  `json:"output,omitempty"`
	Frames        int     `json:"frames"`
	ViolentFrames int     `json:"violent_frames"`
	Percentage    float64 `json:"percentage"`
	Status        Status  `json:"status"`
	Error         string  `json:"error,omitempty"`
}

// Percentage returns violent/frames*100, or 0 when frames is 0.
func Percentage(violent, frames int) float64 {
	if frames == 0 {
		return 0
	}
	return float64(violent) / float64(frames) * 100
}
