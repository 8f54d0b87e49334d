package liveness

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"
)

// colorStd is the population standard deviation of every channel value of
// every pixel taken as one sample
func colorStd(r *Raster) float64 {
	n := r.Pixels()
	values := make([]float64, 0, 3*n)
	for _, plane := range [][]uint8{r.B, r.G, r.R} {
		for _, v := range plane {
			values = append(values, float64(v))
		}
	}

	_, std := stat.PopMeanStdDev(values, nil)
	return std
}

// saturationStats returns the population mean and standard deviation of HSV
// saturation on the 0-255 scale
func saturationStats(r *Raster) (mean, std float64) {
	sat := make([]float64, r.Pixels())
	for i := range sat {
		c := colorful.Color{R: unit(r.R[i]), G: unit(r.G[i]), B: unit(r.B[i])}
		_, s, _ := c.Hsv()
		sat[i] = math.Round(s * 255)
	}

	return stat.PopMeanStdDev(sat, nil)
}

// lightness returns CIE L* (D65) rescaled to 0-255 and rounded per pixel
func lightness(r *Raster) []float64 {
	l := make([]float64, r.Pixels())
	for i := range l {
		c := colorful.Color{R: unit(r.R[i]), G: unit(r.G[i]), B: unit(r.B[i])}
		lstar, _, _ := c.Lab()
		l[i] = math.Round(clampFloat(lstar, 0, 1) * 255)
	}
	return l
}

// illuminationGradient is the mean absolute finite-difference gradient of the
// lightness plane, averaged over both axes. Differences are central inside the
// plane and one-sided on its border.
func illuminationGradient(r *Raster) float64 {
	l := lightness(r)
	w, h := r.Width, r.Height

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += math.Abs(gradientAt(l, x, y, w, h, 0, 1))
			sum += math.Abs(gradientAt(l, x, y, w, h, 1, 0))
		}
	}

	return sum / float64(2*w*h)
}

// gradientAt returns the derivative at (x, y) along the (dx, dy) axis
func gradientAt(p []float64, x, y, w, h, dx, dy int) float64 {
	pos, n := x, w
	if dy != 0 {
		pos, n = y, h
	}
	at := func(off int) float64 {
		return p[(y+off*dy)*w+x+off*dx]
	}

	switch {
	case pos == 0:
		return at(1) - at(0)
	case pos == n-1:
		return at(0) - at(-1)
	default:
		return (at(1) - at(-1)) / 2
	}
}

// unit maps an 8-bit channel value to [0, 1]
func unit(v uint8) float64 {
	return float64(v) / 255
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
