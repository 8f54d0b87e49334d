package liveness

// Canny hysteresis thresholds on the 0-255 gray scale
const (
	cannyLow  = 50
	cannyHigh = 150
)

// tan(22.5°) in 15-bit fixed point, as used for sector selection
const (
	cannyShift = 15
	cannyTG22  = 13573
)

const (
	edgeNone = iota
	edgeWeak
	edgeStrong
)

// edgeDensity returns the fraction of pixels marked as edges by cannyEdges
func edgeDensity(gray []uint8, width, height int) float64 {
	edges := cannyEdges(gray, width, height)

	count := 0
	for _, e := range edges {
		if e {
			count++
		}
	}

	return float64(count) / float64(width*height)
}

// cannyEdges runs 3x3 Sobel gradients with replicated borders, non-maximum
// suppression and 8-connected hysteresis between cannyLow and cannyHigh
func cannyEdges(gray []uint8, width, height int) []bool {
	n := width * height
	dx := make([]int32, n)
	dy := make([]int32, n)
	mag := make([]int32, n)

	at := func(x, y int) int32 {
		x = clampInt(x, 0, width-1)
		y = clampInt(y, 0, height-1)
		return int32(gray[y*width+x])
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*width + x
			dx[i] = gx
			dy[i] = gy
			mag[i] = abs32(gx) + abs32(gy)
		}
	}

	// Magnitude outside the image counts as zero
	magAt := func(x, y int) int32 {
		if x < 0 || y < 0 || x >= width || y >= height {
			return 0
		}
		return mag[y*width+x]
	}

	state := make([]uint8, n)
	stack := make([]int, 0, n/8)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			m := mag[i]
			if m <= cannyLow {
				continue
			}

			xs, ys := dx[i], dy[i]
			ax := int64(abs32(xs))
			ay := int64(abs32(ys)) << cannyShift
			tg22x := ax * cannyTG22

			var isMax bool
			if ay < tg22x {
				isMax = m > magAt(x-1, y) && m >= magAt(x+1, y)
			} else {
				tg67x := tg22x + ax<<(cannyShift+1)
				if ay > tg67x {
					isMax = m > magAt(x, y-1) && m >= magAt(x, y+1)
				} else {
					s := 1
					if (xs ^ ys) < 0 {
						s = -1
					}
					isMax = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
				}
			}
			if !isMax {
				continue
			}

			if m > cannyHigh {
				state[i] = edgeStrong
				stack = append(stack, i)
			} else {
				state[i] = edgeWeak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%width, i/width
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				j := ny*width + nx
				if state[j] == edgeWeak {
					state[j] = edgeStrong
					stack = append(stack, j)
				}
			}
		}
	}

	edges := make([]bool, n)
	for i, s := range state {
		edges[i] = s == edgeStrong
	}
	return edges
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
