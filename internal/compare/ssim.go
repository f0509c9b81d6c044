package compare

// MaxWindow is the largest structural-similarity window.
const MaxWindow = 7

const (
	ssimK1    = 0.01
	ssimK2    = 0.03
	dataRange = 255.0
)

// WindowSize returns the odd comparison window for a width x height frame:
// MaxWindow clamped to the smaller dimension.
func WindowSize(width, height int) int {
	win := min(MaxWindow, width, height)
	if win%2 == 0 {
		win--
	}
	return max(win, 1)
}

// integral is a summed-area table with one row and column of zero padding.
type integral struct {
	stride int
	sum    []int64
}

func newIntegral(width, height int, at func(i int) int64) integral {
	stride := width + 1
	sum := make([]int64, stride*(height+1))
	for y := 0; y < height; y++ {
		var row int64
		for x := 0; x < width; x++ {
			row += at(y*width + x)
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + row
		}
	}
	return integral{stride: stride, sum: sum}
}

// box sums the win x win block whose top-left pixel is (x, y).
func (it integral) box(x, y, win int) int64 {
	s := it.stride
	return it.sum[(y+win)*s+x+win] - it.sum[y*s+x+win] - it.sum[(y+win)*s+x] + it.sum[y*s+x]
}

// SSIM returns the mean structural similarity of two equally sized grey
// buffers, clamped to [0, 1]. Statistics use a uniform window with sample
// covariance, averaged over every window that lies fully inside the frame.
func SSIM(a, b []uint8, width, height int) float64 {
	if width <= 0 || height <= 0 || len(a) != width*height || len(b) != width*height {
		return 1
	}
	win := WindowSize(width, height)
	np := float64(win * win)
	covNorm := 1.0
	if win > 1 {
		covNorm = np / (np - 1)
	}
	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)

	sx := newIntegral(width, height, func(i int) int64 { return int64(a[i]) })
	sy := newIntegral(width, height, func(i int) int64 { return int64(b[i]) })
	sxx := newIntegral(width, height, func(i int) int64 { return int64(a[i]) * int64(a[i]) })
	syy := newIntegral(width, height, func(i int) int64 { return int64(b[i]) * int64(b[i]) })
	sxy := newIntegral(width, height, func(i int) int64 { return int64(a[i]) * int64(b[i]) })

	var total float64
	count := 0
	for y := 0; y+win <= height; y++ {
		for x := 0; x+win <= width; x++ {
			ux := float64(sx.box(x, y, win)) / np
			uy := float64(sy.box(x, y, win)) / np
			uxx := float64(sxx.box(x, y, win)) / np
			uyy := float64(syy.box(x, y, win)) / np
			uxy := float64(sxy.box(x, y, win)) / np

			vx := covNorm * (uxx - ux*ux)
			vy := covNorm * (uyy - uy*uy)
			vxy := covNorm * (uxy - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
			count++
		}
	}

	score := total / float64(count)
	return min(max(score, 0), 1)
}
