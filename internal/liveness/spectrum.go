package liveness

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// highFreqEnergy returns the mean of ln(1+|F|) over the central half of the
// centred magnitude spectrum of the gray plane, rows and columns from 1/4 to
// 3/4 of each dimension.
func highFreqEnergy(gray []uint8, width, height int) float64 {
	spectrum := fft2(gray, width, height)

	r0, r1 := height/4, 3*height/4
	c0, c1 := width/4, 3*width/4
	count := (r1 - r0) * (c1 - c0)
	if count <= 0 {
		return math.NaN()
	}

	var sum float64
	for y := r0; y < r1; y++ {
		sy := shiftIndex(y, height)
		for x := c0; x < c1; x++ {
			sx := shiftIndex(x, width)
			sum += math.Log1p(cmplx.Abs(spectrum[sy*width+sx]))
		}
	}

	return sum / float64(count)
}

// shiftIndex maps a position in the centred spectrum back to the unshifted one
func shiftIndex(i, n int) int {
	return (i + n - n/2) % n
}

// fft2 computes the unnormalised 2-D DFT, row transforms first
func fft2(gray []uint8, width, height int) []complex128 {
	data := make([]complex128, width*height)
	for i, v := range gray {
		data[i] = complex(float64(v), 0)
	}

	rowFFT := fourier.NewCmplxFFT(width)
	rowIn := make([]complex128, width)
	rowOut := make([]complex128, width)
	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		copy(rowIn, row)
		rowFFT.Coefficients(rowOut, rowIn)
		copy(row, rowOut)
	}

	colFFT := fourier.NewCmplxFFT(height)
	colIn := make([]complex128, height)
	colOut := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colIn[y] = data[y*width+x]
		}
		colFFT.Coefficients(colOut, colIn)
		for y := 0; y < height; y++ {
			data[y*width+x] = colOut[y]
		}
	}

	return data
}
