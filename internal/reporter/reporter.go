package reporter

// Reporter defines the interface for progress reporting.
type Reporter interface {
	StageProgress(update StageProgress)
	VideoStarted(info VideoStartInfo)
	FrameProgress(progress FrameProgress)
	VideoComplete(summary VideoSummary)
	EpochComplete(summary EpochSummary)
	Warning(message string)
	Error(err ReporterError)
	OperationComplete(message string)
	BatchStarted(info BatchStartInfo)
	BatchComplete(summary BatchSummary)
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) StageProgress(StageProgress) {}
func (NullReporter) VideoStarted(VideoStartInfo) {}
func (NullReporter) FrameProgress(FrameProgress) {}
func (NullReporter) VideoComplete(VideoSummary)  {}
func (NullReporter) EpochComplete(EpochSummary)  {}
func (NullReporter) Warning(string)              {}
func (NullReporter) Error(ReporterError)         {}
func (NullReporter) OperationComplete(string)    {}
func (NullReporter) BatchStarted(BatchStartInfo) {}
func (NullReporter) BatchComplete(BatchSummary)  {}
