package liveness

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// textureBlockRows is the number of interior rows handled per goroutine
const textureBlockRows = 64

// textureVariance returns the mean, over interior pixels, of the population
// variance of each pixel's eight neighbours.
//
// With S the neighbour sum and Q the neighbour sum of squares, the variance is
// (8Q - S²)/64. Both come from separable 3x3 box sums, so every term is an
// exact integer and the result does not depend on how rows are split.
func textureVariance(gray []uint8, width, height int) float64 {
	innerW, innerH := width-2, height-2
	if innerW <= 0 || innerH <= 0 {
		return 0
	}

	// Horizontal 3-tap sums for interior columns of every row
	hs := make([]int32, height*innerW)
	hq := make([]int32, height*innerW)
	for y := 0; y < height; y++ {
		row := gray[y*width : (y+1)*width]
		out := y * innerW
		for x := 1; x < width-1; x++ {
			a, b, c := int32(row[x-1]), int32(row[x]), int32(row[x+1])
			hs[out+x-1] = a + b + c
			hq[out+x-1] = a*a + b*b + c*c
		}
	}

	blocks := (innerH + textureBlockRows - 1) / textureBlockRows
	partial := make([]int64, blocks)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for blk := 0; blk < blocks; blk++ {
		blk := blk
		g.Go(func() error {
			y0 := 1 + blk*textureBlockRows
			y1 := min(y0+textureBlockRows, height-1)
			var acc int64
			for y := y0; y < y1; y++ {
				up, mid, down := (y-1)*innerW, y*innerW, (y+1)*innerW
				for i := 0; i < innerW; i++ {
					center := int32(gray[y*width+i+1])
					s := hs[up+i] + hs[mid+i] + hs[down+i] - center
					q := hq[up+i] + hq[mid+i] + hq[down+i] - center*center
					acc += int64(8*q) - int64(s)*int64(s)
				}
			}
			partial[blk] = acc
			return nil
		})
	}
	_ = g.Wait()

	var total int64
	for _, p := range partial {
		total += p
	}

	return float64(total) / (64 * float64(innerW*innerH))
}
