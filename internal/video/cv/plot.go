package cv

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/kikiluvv/vigil/internal/video"
	"gocv.io/x/gocv"
)

const (
	plotWidth  = 800
	plotHeight = 600
	plotMargin = 60
)

var (
	plotAxis = color.RGBA{A: 255}
	plotText = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// Plot draws series as lines over a shared epoch axis and writes the chart
// to path.
func (b *Backend) Plot(path, title string, series []video.Series) error {
	canvas := image.NewRGBA(image.Rect(0, 0, plotWidth, plotHeight))
	for i := range canvas.Pix {
		canvas.Pix[i] = 255
	}

	mat, err := gocv.ImageToMatRGB(canvas)
	if err != nil {
		return fmt.Errorf("plot canvas: %w", err)
	}
	defer mat.Close()

	lo, hi, n := bounds(series)
	if hi == lo {
		hi = lo + 1
	}

	origin := image.Pt(plotMargin, plotHeight-plotMargin)
	gocv.Line(&mat, origin, image.Pt(plotWidth-plotMargin, origin.Y), plotAxis, 1)
	gocv.Line(&mat, origin, image.Pt(plotMargin, plotMargin), plotAxis, 1)
	gocv.PutText(&mat, title, image.Pt(plotMargin, plotMargin/2), gocv.FontHersheySimplex, 0.7, plotText, 2)
	gocv.PutText(&mat, "Epoch #", image.Pt(plotWidth/2-30, plotHeight-plotMargin/3), gocv.FontHersheySimplex, 0.5, plotText, 1)
	gocv.PutText(&mat, fmt.Sprintf("%.2f", hi), image.Pt(5, plotMargin+5), gocv.FontHersheySimplex, 0.4, plotText, 1)
	gocv.PutText(&mat, fmt.Sprintf("%.2f", lo), image.Pt(5, origin.Y), gocv.FontHersheySimplex, 0.4, plotText, 1)

	point := func(i int, v float64) image.Point {
		span := float64(plotWidth - 2*plotMargin)
		x := plotMargin
		if n > 1 {
			x += int(float64(i) / float64(n-1) * span)
		}
		y := origin.Y - int((v-lo)/(hi-lo)*float64(plotHeight-2*plotMargin))
		return image.Pt(x, y)
	}

	for si, s := range series {
		for i := 1; i < len(s.Values); i++ {
			gocv.Line(&mat, point(i-1, s.Values[i-1]), point(i, s.Values[i]), s.Color, 2)
		}
		legend := image.Pt(plotWidth-plotMargin-150, plotMargin+20*si)
		gocv.Line(&mat, legend, legend.Add(image.Pt(20, 0)), s.Color, 2)
		gocv.PutText(&mat, s.Name, legend.Add(image.Pt(25, 5)), gocv.FontHersheySimplex, 0.45, plotText, 1)
	}

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("write plot %s failed", path)
	}
	return nil
}

func bounds(series []video.Series) (lo, hi float64, n int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range series {
		if len(s.Values) > n {
			n = len(s.Values)
		}
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1, n
	}
	return lo, hi, n
}
