package peaks

// Baseline estimation. Two methods: linear interpolation between local
// valleys, and an iterative asymmetric least squares fit (Eilers/Boelens
// style) with a second-difference smoothness penalty.

func estimateBaseline(signal []float64, method string, window int) []float64 {
	switch method {
	case BaselineASLS:
		return aslsBaseline(signal, 1e4, 0.01, 10)
	default:
		return valleyBaseline(signal, window)
	}
}

// valleyBaseline connects local minima of a heavily smoothed copy of the
// signal with straight segments.
func valleyBaseline(signal []float64, window int) []float64 {
	n := len(signal)
	smooth := movingAverage(signal, 4*window+1)

	anchors := []int{0}
	for i := 1; i < n-1; i++ {
		if smooth[i] <= smooth[i-1] && smooth[i] <= smooth[i+1] {
			anchors = append(anchors, i)
		}
	}
	anchors = append(anchors, n-1)

	baseline := make([]float64, n)
	for k := 0; k < len(anchors)-1; k++ {
		i0, i1 := anchors[k], anchors[k+1]
		y0, y1 := smooth[i0], smooth[i1]
		span := float64(i1 - i0)
		for i := i0; i <= i1; i++ {
			if span == 0 {
				baseline[i] = y0
				continue
			}
			frac := float64(i-i0) / span
			baseline[i] = y0 + frac*(y1-y0)
		}
	}
	return baseline
}

// aslsBaseline solves (W + lambda*D'D) z = W y repeatedly, re-weighting points
// above the fit with p and below with 1-p so the fit hugs the valleys.
func aslsBaseline(signal []float64, lambda, p float64, iterations int) []float64 {
	n := len(signal)
	if n < 5 {
		out := make([]float64, n)
		copy(out, signal)
		return out
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	z := make([]float64, n)
	for iter := 0; iter < iterations; iter++ {
		z = solvePenalized(signal, w, lambda)
		for i := range w {
			if signal[i] > z[i] {
				w[i] = p
			} else {
				w[i] = 1 - p
			}
		}
	}
	return z
}

// solvePenalized solves the symmetric pentadiagonal system
// (diag(w) + lambda*D'D) z = diag(w) y with D the second-difference operator.
func solvePenalized(y, w []float64, lambda float64) []float64 {
	n := len(y)
	d := make([]float64, n)  // main diagonal
	a := make([]float64, n)  // first superdiagonal (i, i+1)
	b := make([]float64, n)  // second superdiagonal (i, i+2)
	c := make([]float64, n)  // first subdiagonal (i, i-1)
	e := make([]float64, n)  // second subdiagonal (i, i-2)
	rhs := make([]float64, n)

	for i := 0; i < n; i++ {
		m := 6.0
		if i == 0 || i == n-1 {
			m = 1.0
		} else if i == 1 || i == n-2 {
			m = 5.0
		}
		d[i] = w[i] + lambda*m
		rhs[i] = w[i] * y[i]
	}
	for i := 0; i < n-1; i++ {
		o := -4.0
		if i == 0 || i == n-2 {
			o = -2.0
		}
		a[i] = lambda * o
		c[i+1] = lambda * o
	}
	for i := 0; i < n-2; i++ {
		b[i] = lambda
		e[i+2] = lambda
	}

	// Pentadiagonal Thomas elimination.
	for i := 1; i < n; i++ {
		if i >= 2 && e[i] != 0 {
			m := e[i] / d[i-2]
			c[i] -= m * a[i-2]
			d[i] -= m * b[i-2]
			rhs[i] -= m * rhs[i-2]
		}
		if c[i] != 0 {
			m := c[i] / d[i-1]
			d[i] -= m * a[i-1]
			if i < n-1 {
				a[i] -= m * b[i-1]
			}
			rhs[i] -= m * rhs[i-1]
		}
	}
	z := make([]float64, n)
	z[n-1] = rhs[n-1] / d[n-1]
	if n >= 2 {
		z[n-2] = (rhs[n-2] - a[n-2]*z[n-1]) / d[n-2]
	}
	for i := n - 3; i >= 0; i-- {
		z[i] = (rhs[i] - a[i]*z[i+1] - b[i]*z[i+2]) / d[i]
	}
	return z
}

func movingAverage(signal []float64, window int) []float64 {
	n := len(signal)
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	out := make([]float64, n)
	sum := 0.0
	count := 0
	// Sliding window with clamped edges.
	for i := 0; i < n; i++ {
		lo, hi := i-half, i+half
		if i == 0 {
			for j := 0; j <= half && j < n; j++ {
				sum += signal[j]
				count++
			}
		} else {
			if hi < n {
				sum += signal[hi]
				count++
			}
			if lo-1 >= 0 {
				sum -= signal[lo-1]
				count--
			}
		}
		out[i] = sum / float64(count)
	}
	return out
}
