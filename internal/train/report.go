package train

import (
	"fmt"
	"os"
	"strings"

	"github.com/kikiluvv/vigil/internal/labels"
)

// ClassMetrics are precision, recall, F1 and support for one class or an
// average.
type ClassMetrics struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarizes test-set predictions.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Total       int            `json:"total"`
}

// NewClassificationReport computes per-class and averaged metrics from
// actual and predicted class indices.
func NewClassificationReport(classes []labels.Label, actual, predicted []int) *ClassificationReport {
	n := len(classes)
	tp := make([]int, n)
	fp := make([]int, n)
	support := make([]int, n)
	correct := 0
	for i := range actual {
		support[actual[i]]++
		if actual[i] == predicted[i] {
			tp[actual[i]]++
			correct++
		} else {
			fp[predicted[i]]++
		}
	}

	r := &ClassificationReport{Total: len(actual)}
	if len(actual) > 0 {
		r.Accuracy = float64(correct) / float64(len(actual))
	}

	r.MacroAvg.Name = "macro avg"
	r.WeightedAvg.Name = "weighted avg"
	for k, name := range classes {
		m := ClassMetrics{
			Name:      string(name),
			Precision: ratio(tp[k], tp[k]+fp[k]),
			Recall:    ratio(tp[k], support[k]),
			Support:   support[k],
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)

		r.MacroAvg.Precision += m.Precision / float64(n)
		r.MacroAvg.Recall += m.Recall / float64(n)
		r.MacroAvg.F1 += m.F1 / float64(n)
		if r.Total > 0 {
			w := float64(m.Support) / float64(r.Total)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	return r
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String renders the report as a fixed-width table.
func (r *ClassificationReport) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(m ClassMetrics) {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Name, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return b.String()
}

// Save writes the rendered report to path.
func (r *ClassificationReport) Save(path string) error {
	return os.WriteFile(path, []byte(r.String()), 0644)
}
