package flac

import (
	"math"
	"sort"
)

// An lpcFitter fits FIR linear predictors to a block of audio samples by
// solving the least-squares normal equations in IEEE double precision.
type lpcFitter struct {
	// Audio samples, widened to float64.
	samples []float64
	// lag[d] is the full-range lagged product sum of s[k]*s[k+d] over all
	// valid k. The normal equation entries of every order are derived from
	// these with endpoint adjustments of at most maxOrder terms, avoiding a
	// fresh O(n) dot product per matrix cell.
	lag []float64
}

// newLPCFitter returns an lpcFitter for the given samples, pre-computing the
// lagged product cache for deltas up to maxOrder.
func newLPCFitter(samples []int32, maxOrder int) *lpcFitter {
	f := &lpcFitter{samples: make([]float64, len(samples))}
	for i, sample := range samples {
		f.samples[i] = float64(sample)
	}
	f.lag = make([]float64, maxOrder+1)
	for d := range f.lag {
		var sum float64
		for k := 0; k+d < len(f.samples); k++ {
			sum += f.samples[k] * f.samples[k+d]
		}
		f.lag[d] = sum
	}
	return f
}

// dot returns the lagged product sum of s[k]*s[k+d] for k in [lo, hi),
// derived from the full-range cache by subtracting the head and tail terms.
func (f *lpcFitter) dot(d, lo, hi int) float64 {
	sum := f.lag[d]
	for k := 0; k < lo; k++ {
		sum -= f.samples[k] * f.samples[k+d]
	}
	for k := hi; k+d < len(f.samples); k++ {
		sum -= f.samples[k] * f.samples[k+d]
	}
	return sum
}

// solve returns the least-squares predictor coefficients of the given order,
// predicting x[i] from x[i-1] through x[i-order]. It reports ok as false when
// the normal equations are singular or the solution is not finite.
func (f *lpcFitter) solve(order int) (coeffs []float64, ok bool) {
	n := len(f.samples)
	if order >= n {
		return nil, false
	}

	// Augmented matrix [A | b] of the normal equations, where
	//
	//	A[j][k] = sum x[i-1-j]*x[i-1-k]
	//	b[j]    = sum x[i]*x[i-1-j]
	//
	// summed over i in [order, n).
	m := make([][]float64, order)
	for j := range m {
		m[j] = make([]float64, order+1)
		for k := 0; k < order; k++ {
			d := j - k
			if d < 0 {
				d = -d
			}
			mx := j
			if k > mx {
				mx = k
			}
			m[j][k] = f.dot(d, order-1-mx, n-1-mx)
		}
		m[j][order] = f.dot(1+j, order-1-j, n-1-j)
	}

	// Gauss-Jordan elimination with partial pivoting.
	for col := 0; col < order; col++ {
		piv := col
		for row := col + 1; row < order; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[piv][col]) {
				piv = row
			}
		}
		m[col], m[piv] = m[piv], m[col]
		p := m[col][col]
		if p == 0 {
			return nil, false
		}
		inv := 1 / p
		for c := col; c <= order; c++ {
			m[col][c] *= inv
		}
		for row := 0; row < order; row++ {
			if row == col {
				continue
			}
			factor := m[row][col]
			if factor == 0 {
				continue
			}
			for c := col; c <= order; c++ {
				m[row][c] -= factor * m[col][c]
			}
		}
	}

	coeffs = make([]float64, order)
	for j := range coeffs {
		coeffs[j] = m[j][order]
		if math.IsNaN(coeffs[j]) || math.IsInf(coeffs[j], 0) {
			return nil, false
		}
	}
	return coeffs, true
}

// An lpcPredictor holds the quantized coefficients of a FIR linear predictor.
type lpcPredictor struct {
	// Quantized predictor coefficients.
	coeffs []int32
	// Coefficient right-shift applied after prediction.
	shift int32
	// Coefficient precision in bits.
	prec uint
}

// Quantized coefficients use the full 15-bit precision; value 16 is reserved
// by the format.
const lpcPrecision = 15

// quantizeLPC quantizes the given predictor coefficients to 15-bit precision,
// with a right-shift chosen from the coefficient magnitudes. When nvars > 0,
// floor/ceil rounding variants of the nvars coefficients with the largest
// rounding residue are enumerated (at most 4, at most the order), so the
// caller may pick the variant of least Rice coded size. The nearest-rounded
// predictor is always first.
func quantizeLPC(raw []float64, nvars int) []lpcPredictor {
	var maxCoef float64
	for _, c := range raw {
		if a := math.Abs(c); a > maxCoef {
			maxCoef = a
		}
	}
	if maxCoef == 0 {
		return nil
	}

	// shift = precision - 1 - wholeBits, where wholeBits covers the integer
	// part of the largest coefficient. The format stores the shift as a
	// signed 5-bit value and negative shifts are invalid, so clamp to
	// [0, 15]; saturation below covers the remainder.
	wholeBits := 0
	if maxCoef >= 1 {
		wholeBits = int(math.Floor(math.Log2(maxCoef))) + 1
	}
	shift := lpcPrecision - 1 - wholeBits
	if shift > 15 {
		shift = 15
	}
	if shift < 0 {
		shift = 0
	}

	scale := float64(int64(1) << uint(shift))
	scaled := make([]float64, len(raw))
	for i, c := range raw {
		scaled[i] = c * scale
	}

	base := make([]int32, len(scaled))
	for i, c := range scaled {
		base[i] = clampCoeff(math.Round(c))
	}
	predictors := []lpcPredictor{{coeffs: base, shift: int32(shift), prec: lpcPrecision}}

	if nvars > len(raw) {
		nvars = len(raw)
	}
	if nvars > 4 {
		nvars = 4
	}
	if nvars == 0 {
		return predictors
	}

	// Pick the coefficients whose scaled value lies furthest from an
	// integer; their rounding direction is the most ambiguous.
	residue := make([]int, len(scaled))
	for i := range residue {
		residue[i] = i
	}
	sort.Slice(residue, func(a, b int) bool {
		ra := math.Abs(scaled[residue[a]] - math.Round(scaled[residue[a]]))
		rb := math.Abs(scaled[residue[b]] - math.Round(scaled[residue[b]]))
		return ra > rb
	})
	vars := residue[:nvars]

	// Enumerate the 2^nvars floor/ceil combinations; the nearest-rounded
	// predictor already heads the list, so duplicates cost nothing but a
	// redundant candidate.
	for mask := 0; mask < 1<<uint(nvars); mask++ {
		coeffs := make([]int32, len(base))
		copy(coeffs, base)
		for bit, idx := range vars {
			if mask&(1<<uint(bit)) != 0 {
				coeffs[idx] = clampCoeff(math.Ceil(scaled[idx]))
			} else {
				coeffs[idx] = clampCoeff(math.Floor(scaled[idx]))
			}
		}
		predictors = append(predictors, lpcPredictor{coeffs: coeffs, shift: int32(shift), prec: lpcPrecision})
	}
	return predictors
}

// clampCoeff saturates a quantized coefficient into the representable range
// of 15-bit two's complement.
func clampCoeff(c float64) int32 {
	const lo, hi = -(1 << (lpcPrecision - 1)), 1<<(lpcPrecision-1) - 1
	if c < lo {
		return lo
	}
	if c > hi {
		return hi
	}
	return int32(c)
}
