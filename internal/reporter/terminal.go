package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/kikiluvv/vigil/pkg/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	mu        sync.Mutex
	out       io.Writer
	errOut    io.Writer
	progress  *progressbar.ProgressBar
	lastStage string
	cyan      *color.Color
	green     *color.Color
	yellow    *color.Color
	red       *color.Color
	magenta   *color.Color
	bold      *color.Color
}

// NewTerminalReporter creates a new terminal reporter.
func NewTerminalReporter() *TerminalReporter {
	return newTerminalReporter(os.Stdout, os.Stderr)
}

func newTerminalReporter(out, errOut io.Writer) *TerminalReporter {
	return &TerminalReporter{
		out:     out,
		errOut:  errOut,
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
	}
}

func (r *TerminalReporter) finishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
	}
}

// printLabel prints a bold label with fixed width padding followed by a value.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", width, label)
	fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) section(title string) {
	fmt.Fprintln(r.out)
	_, _ = r.cyan.Fprintln(r.out, title)
}

func (r *TerminalReporter) StageProgress(update StageProgress) {
	r.mu.Lock()
	changed := r.lastStage != update.Stage
	r.lastStage = update.Stage
	r.mu.Unlock()

	if changed {
		r.section(strings.ToUpper(update.Stage))
	}
	fmt.Fprintf(r.out, "  %s %s\n", r.magenta.Sprint("›"), update.Message)
}

func (r *TerminalReporter) VideoStarted(info VideoStartInfo) {
	r.finishProgress()

	r.section("VIDEO")
	r.printLabel(11, "File:", info.InputFile)
	r.printLabel(11, "Output:", info.OutputFile)
	r.printLabel(11, "Resolution:", info.Resolution)
	r.printLabel(11, "FPS:", fmt.Sprintf("%.2f", info.FPS))

	total := int64(info.TotalFrames)
	if total <= 0 {
		total = -1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(""),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(r.errOut),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "Classifying [",
			BarEnd:        "]",
		}),
	)
}

func (r *TerminalReporter) FrameProgress(progress FrameProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress == nil {
		return
	}
	_ = r.progress.Set64(int64(progress.Frames))
	if progress.Violent {
		r.progress.Describe("[red]violence[reset]")
	} else {
		r.progress.Describe("[green]clear[reset]")
	}
}

func (r *TerminalReporter) VideoComplete(summary VideoSummary) {
	r.finishProgress()

	r.section("RESULT")
	status := r.green.Sprint(summary.Status)
	if summary.Status != "ok" {
		status = r.yellow.Sprint(summary.Status)
	}
	r.printLabel(9, "Status:", status)
	r.printLabel(9, "Frames:", fmt.Sprintf("%d (%d violent)", summary.Frames, summary.ViolentFrames))
	r.printLabel(9, "Violence:", r.bold.Sprintf("%.2f%%", summary.Percentage))
	r.printLabel(9, "Time:", util.FormatDuration(summary.Elapsed))
	if summary.OutputFile != "" {
		fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint("Saved to"), r.green.Sprint(summary.OutputFile))
	}
}

func (r *TerminalReporter) EpochComplete(summary EpochSummary) {
	fmt.Fprintf(r.out, "  %s epoch %d/%d  loss %.4f  acc %.4f  val_loss %.4f  val_acc %.4f  lr %.2e\n",
		r.magenta.Sprint("›"),
		summary.Epoch, summary.Epochs,
		summary.TrainLoss, summary.TrainAcc,
		summary.ValLoss, summary.ValAcc,
		summary.LearningRate)
}

func (r *TerminalReporter) Warning(message string) {
	fmt.Fprintln(r.out)
	_, _ = r.yellow.Fprintf(r.out, "WARN: %s\n", message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	r.finishProgress()

	_, _ = fmt.Fprintln(r.errOut)
	_, _ = r.red.Fprintf(r.errOut, "ERROR %s\n", err.Title)
	_, _ = fmt.Fprintf(r.errOut, "  %s\n", err.Message)
	if err.Context != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Suggestion: %s\n", err.Suggestion)
	}
}

func (r *TerminalReporter) OperationComplete(message string) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "%s %s\n", r.green.Add(color.Bold).Sprint("✓"), r.bold.Sprint(message))
}

func (r *TerminalReporter) BatchStarted(info BatchStartInfo) {
	r.section("BATCH")
	fmt.Fprintf(r.out, "  Processing %d videos -> %s\n", info.TotalFiles, r.bold.Sprint(info.OutputDir))
	for i, name := range info.FileList {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, name)
	}
}

func (r *TerminalReporter) BatchComplete(summary BatchSummary) {
	r.section("BATCH SUMMARY")
	fmt.Fprintf(r.out, "  %s\n", r.bold.Sprintf("%d of %d succeeded", summary.SuccessfulCount, summary.TotalFiles))
	fmt.Fprintf(r.out, "  Time: %s\n", util.FormatDuration(summary.TotalDuration))

	for _, result := range summary.Results {
		if result.Status == "ok" {
			fmt.Fprintf(r.out, "  - %s (%.2f%% violence)\n", result.Filename, result.Percentage)
		} else {
			fmt.Fprintf(r.out, "  - %s (%s)\n", result.Filename, r.yellow.Sprint(result.Status))
		}
	}
	if summary.ReportPath != "" {
		fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint("Report:"), r.green.Sprint(summary.ReportPath))
	}
}
