package train

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"os"
	"strconv"

	"github.com/kikiluvv/vigil/internal/video"
)

// EpochStats are the metrics recorded after one epoch.
type EpochStats struct {
	Epoch        int
	TrainLoss    float64
	TrainAcc     float64
	ValLoss      float64
	ValAcc       float64
	LearningRate float64
}

// History is the per-epoch training record.
type History struct {
	Epochs []EpochStats
}

var historyHeader = []string{"epoch", "loss", "accuracy", "val_loss", "val_accuracy", "lr"}

// WriteCSV writes one row per epoch.
func (h History) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(historyHeader); err != nil {
		return err
	}
	for _, e := range h.Epochs {
		if err := w.Write([]string{
			strconv.Itoa(e.Epoch),
			fmtFloat(e.TrainLoss),
			fmtFloat(e.TrainAcc),
			fmtFloat(e.ValLoss),
			fmtFloat(e.ValAcc),
			strconv.FormatFloat(e.LearningRate, 'e', 6, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Series returns the four loss and accuracy curves for plotting.
func (h History) Series() []video.Series {
	pick := func(f func(EpochStats) float64) []float64 {
		v := make([]float64, len(h.Epochs))
		for i, e := range h.Epochs {
			v[i] = f(e)
		}
		return v
	}
	return []video.Series{
		{Name: "train_loss", Color: color.RGBA{R: 220, G: 50, B: 50, A: 255}, Values: pick(func(e EpochStats) float64 { return e.TrainLoss })},
		{Name: "val_loss", Color: color.RGBA{R: 50, G: 50, B: 220, A: 255}, Values: pick(func(e EpochStats) float64 { return e.ValLoss })},
		{Name: "train_acc", Color: color.RGBA{R: 230, G: 140, B: 20, A: 255}, Values: pick(func(e EpochStats) float64 { return e.TrainAcc })},
		{Name: "val_acc", Color: color.RGBA{R: 40, G: 160, B: 60, A: 255}, Values: pick(func(e EpochStats) float64 { return e.ValAcc })},
	}
}
