package reporter

import "time"

// StageProgress is a free-form status line within a named stage.
type StageProgress struct {
	Stage   string
	Message string
}

// VideoStartInfo announces a video about to be classified.
type VideoStartInfo struct {
	InputFile   string
	OutputFile  string
	TotalFrames int
	FPS         float64
	Resolution  string
}

// FrameProgress reports frames processed so far.
type FrameProgress struct {
	Frames      int
	TotalFrames int
	Violent     bool
}

// VideoSummary is the outcome of one video.
type VideoSummary struct {
	InputFile     string
	OutputFile    string
	Frames        int
	ViolentFrames int
	Percentage    float64
	Status        string
	Elapsed       time.Duration
}

// EpochSummary is reported after each training epoch.
type EpochSummary struct {
	Epoch        int
	Epochs       int
	TrainLoss    float64
	TrainAcc     float64
	ValLoss      float64
	ValAcc       float64
	LearningRate float64
}

// ReporterError is a user-facing error description.
type ReporterError struct {
	Title      string
	Message    string
	Context    string
	Suggestion string
}

// BatchStartInfo lists the videos of a batch.
type BatchStartInfo struct {
	TotalFiles int
	FileList   []string
	OutputDir  string
}

// BatchResult is one line of the batch summary.
type BatchResult struct {
	Filename   string
	Percentage float64
	Status     string
}

// BatchSummary is reported after the last video.
type BatchSummary struct {
	TotalFiles      int
	SuccessfulCount int
	TotalDuration   time.Duration
	ReportPath      string
	Results         []BatchResult
}
