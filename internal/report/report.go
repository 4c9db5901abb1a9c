// Package report renders batch verdicts as a plain-text table and a JSON
// companion file.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kikiluvv/vigil/internal/inference"
)

const (
	Title      = "Violence Detection Summary Report"
	nameHeader = "Video Name"
	pctHeader  = "Violence Percentage"
	ruleWidth  = 50
)

// Report is the outcome of one batch, in processing order.
type Report struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Verdicts    []inference.Verdict `json:"verdicts"`
}

// New starts an empty report.
func New(runID string) *Report {
	return &Report{RunID: runID, GeneratedAt: time.Now().UTC()}
}

// Add appends a verdict.
func (r *Report) Add(v inference.Verdict) {
	r.Verdicts = append(r.Verdicts, v)
}

// Cell renders the percentage column for v. Videos that produced no frames
// or failed get a sentinel instead of a number.
func Cell(v inference.Verdict) string {
	switch v.Status {
	case inference.StatusOK:
		return fmt.Sprintf("%.2f%%", v.Percentage)
	case inference.StatusEmpty:
		return "unreadable"
	default:
		return "error"
	}
}

// WriteText writes the fixed-width table.
func (r *Report) WriteText(w io.Writer) error {
	width := len(nameHeader)
	for _, v := range r.Verdicts {
		if len(v.Video) > width {
			width = len(v.Video)
		}
	}
	rule := ruleWidth
	if width+3+len(pctHeader) > rule {
		rule = width + 3 + len(pctHeader)
	}

	var b strings.Builder
	b.WriteString(Title + "\n")
	b.WriteString(strings.Repeat("=", rule) + "\n\n")
	fmt.Fprintf(&b, "%-*s | %s\n", width, nameHeader, pctHeader)
	b.WriteString(strings.Repeat("-", rule) + "\n")
	for _, v := range r.Verdicts {
		fmt.Fprintf(&b, "%-*s | %s\n", width, v.Video, Cell(v))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the full verdicts including frame counts and status.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// JSONPath returns the companion path for a text report path.
func JSONPath(textPath string) string {
	return strings.TrimSuffix(textPath, ".txt") + ".json"
}

// Save writes the text report to path and the JSON companion next to it.
func (r *Report) Save(path string) error {
	if err := writeFile(path, r.WriteText); err != nil {
		return err
	}
	return writeFile(JSONPath(path), r.WriteJSON)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
