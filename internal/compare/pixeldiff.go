package compare

// float32 machine epsilon, the class-weight cutoff of the classic 8-bit Otsu
const otsuEpsilon = 1.1920929e-07

// OtsuThreshold returns the intensity cut that maximises the between-class
// variance of the histogram. A single-valued histogram yields 0.
func OtsuThreshold(hist *[256]int) int {
	total := 0
	sum := 0.0
	for i, n := range hist {
		total += n
		sum += float64(i) * float64(n)
	}
	if total == 0 {
		return 0
	}
	mu := sum / float64(total)

	var (
		q1       float64
		cumMean  float64 // sum of i*p_i over the lower class
		maxSigma float64
		best     int
	)
	for i, n := range hist {
		p := float64(n) / float64(total)
		q1 += p
		cumMean += float64(i) * p
		q2 := 1 - q1
		if min(q1, q2) < otsuEpsilon || max(q1, q2) > 1-otsuEpsilon {
			continue
		}
		mu1 := cumMean / q1
		mu2 := (mu - q1*mu1) / q2
		sigma := q1 * q2 * (mu1 - mu2) * (mu1 - mu2)
		if sigma > maxSigma {
			maxSigma = sigma
			best = i
		}
	}
	return best
}

// AbsDiffHistogram computes |a-b| per pixel into dst and returns its histogram.
// dst must have len(a) capacity; a and b must be the same length.
func AbsDiffHistogram(a, b, dst []uint8) [256]int {
	var hist [256]int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		dst[i] = uint8(d)
		hist[d]++
	}
	return hist
}

// PixelDiffRatio returns the fraction of pixels whose absolute difference is
// above the binarisation cut, together with the cut used. A binarize value of
// 0 selects Otsu's threshold over the difference image.
func PixelDiffRatio(a, b []uint8, binarize uint8) (float64, int) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, int(binarize)
	}
	diff := make([]uint8, len(a))
	hist := AbsDiffHistogram(a, b, diff)

	cut := int(binarize)
	if binarize == 0 {
		cut = OtsuThreshold(&hist)
	}

	changed := 0
	for v := cut + 1; v < len(hist); v++ {
		changed += hist[v]
	}
	return float64(changed) / float64(len(a)), cut
}
