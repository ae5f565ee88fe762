package flac

import (
	"math/bits"

	"github.com/karlek/flac/frame"
	iobits "github.com/karlek/flac/internal/bits"
)

// analyseBlock selects the channel assignment and per-channel subframe plans
// of least total bit cost for the given block of audio samples.
//
// For two-channel blocks the four stereo modes are evaluated: independent
// left/right, left/side, side/right and mid/side. The side channel uses one
// extra bit per sample; mid and side are derived such that the
// reconstruction is exact.
func (enc *Encoder) analyseBlock(samples [][]int32) (frame.Channels, []*subframePlan, error) {
	bps := uint(enc.Info.BitsPerSample)

	// The side channel of side-coded stereo needs bps+1 bits; skip stereo
	// decorrelation when that exceeds the sample type.
	if len(samples) != 2 || bps > 31 {
		plans := make([]*subframePlan, len(samples))
		for i, channel := range samples {
			plans[i] = enc.bestPlan(channel, bps)
		}
		// Channel assignments 0 through 7 denote len(samples) independent
		// channels.
		return frame.Channels(len(samples) - 1), plans, nil
	}

	left, right := samples[0], samples[1]
	n := len(left)
	side := make([]int32, n)
	mid := make([]int32, n)
	for i := range side {
		l, r := int64(left[i]), int64(right[i])
		side[i] = int32(l - r)
		mid[i] = int32((l + r) >> 1)
	}

	planLeft := enc.bestPlan(left, bps)
	planRight := enc.bestPlan(right, bps)
	planSide := enc.bestPlan(side, bps+1)
	planMid := enc.bestPlan(mid, bps)

	// The frame header cost is identical across modes; compare subframe
	// costs only. Ties keep the earlier mode, so independent stereo wins
	// when decorrelation gains nothing.
	channels := frame.ChannelsLR
	plans := []*subframePlan{planLeft, planRight}
	cost := planLeft.cost + planRight.cost
	if c := planLeft.cost + planSide.cost; c < cost {
		channels, plans, cost = frame.ChannelsLeftSide, []*subframePlan{planLeft, planSide}, c
	}
	if c := planSide.cost + planRight.cost; c < cost {
		channels, plans, cost = frame.ChannelsSideRight, []*subframePlan{planSide, planRight}, c
	}
	if c := planMid.cost + planSide.cost; c < cost {
		channels, plans = frame.ChannelsMidSide, []*subframePlan{planMid, planSide}
	}
	return channels, plans, nil
}

// bestPlan selects the subframe encoding of least bit cost for one channel of
// one block: constant when applicable, fixed prediction of orders 0 through
// 4, FIR linear prediction of the orders admitted by the strategy, with
// verbatim as the upper bound. Wasted bits shared by all samples are factored
// out first.
func (enc *Encoder) bestPlan(samples []int32, bps uint) *subframePlan {
	n := len(samples)

	// Wasted bits: the number of trailing zero bits shared by every sample.
	var or int32
	for _, sample := range samples {
		or |= sample
	}
	var wasted uint
	if or != 0 {
		wasted = uint(bits.TrailingZeros32(uint32(or)))
	}
	if wasted > 0 {
		shifted := make([]int32, n)
		for i, sample := range samples {
			shifted[i] = sample >> wasted
		}
		samples = shifted
		bps -= wasted
	}

	// Subframe header: 1 zero-padding bit, 6 type bits, 1 wasted flag bit,
	// and the unary coded count when wasted bits are present.
	headerBits := 8
	if wasted > 0 {
		headerBits += int(wasted)
	}

	newSubframe := func(pred frame.Pred, order int) *frame.Subframe {
		return &frame.Subframe{
			SubHeader: frame.SubHeader{
				Pred:   pred,
				Order:  order,
				Wasted: wasted,
			},
			NSamples: n,
			Samples:  samples,
		}
	}

	// Constant, when every sample is equal.
	constant := true
	for _, sample := range samples[1:] {
		if sample != samples[0] {
			constant = false
			break
		}
	}
	if constant {
		return &subframePlan{
			sub:  newSubframe(frame.PredConstant, 0),
			cost: headerBits + int(bps),
		}
	}

	// Verbatim is always applicable and bounds the search from above.
	best := &subframePlan{
		sub:  newSubframe(frame.PredVerbatim, 0),
		cost: headerBits + n*int(bps),
	}

	// Fixed prediction, orders 0 through 4.
	for order := 0; order <= 4 && order <= n; order++ {
		residuals, err := computeResiduals(samples, frame.FixedCoeffs[order], 0)
		if err != nil {
			// Residuals exceed the representable range; the prediction-free
			// encodings remain applicable.
			continue
		}
		rice, riceCost := enc.bestRicePlan(residuals, n, order)
		cost := headerBits + order*int(bps) + riceCost
		if cost < best.cost {
			sub := newSubframe(frame.PredFixed, order)
			sub.ResidualCodingMethod = frame.ResidualCodingMethodRice1
			sub.RiceSubframe = rice
			best = &subframePlan{sub: sub, residuals: residuals, cost: cost}
		}
	}

	// FIR linear prediction.
	maxOrder := enc.opts.Strategy.maxLPCOrder()
	if maxOrder > n-1 {
		maxOrder = n - 1
	}
	if maxOrder >= 2 {
		fitter := newLPCFitter(samples, maxOrder)
		for order := 2; order <= maxOrder; order++ {
			raw, ok := fitter.solve(order)
			if !ok {
				continue
			}
			for _, pred := range quantizeLPC(raw, enc.opts.LPCRoundVariables) {
				residuals, err := computeResiduals(samples, pred.coeffs, uint(pred.shift))
				if err != nil {
					continue
				}
				rice, riceCost := enc.bestRicePlan(residuals, n, order)
				cost := headerBits + order*int(bps) + 4 + 5 + order*int(pred.prec) + riceCost
				if cost < best.cost {
					sub := newSubframe(frame.PredFIR, order)
					sub.CoeffPrec = pred.prec
					sub.Shift = pred.shift
					sub.Coeffs = pred.coeffs
					sub.ResidualCodingMethod = frame.ResidualCodingMethodRice1
					sub.RiceSubframe = rice
					best = &subframePlan{sub: sub, residuals: residuals, cost: cost}
				}
			}
		}
	}
	return best
}

// partStat accumulates the per-partition statistics of the Rice partition
// order search. Counts, quotient sums and magnitude ORs are additive, so the
// statistics of partition order P are pairwise sums of those of order P+1;
// the search computes them once at the deepest order and merges upward.
type partStat struct {
	// Number of residuals in the partition.
	count int
	// quoSum[k] is the sum of the unary quotients (folded >> k) of the
	// partition residuals, i.e. the unary cost of the partition under Rice
	// parameter k, excluding terminating and remainder bits.
	quoSum [15]int64
	// OR of the residual magnitudes; determines the escaped partition width.
	orAbs uint32
}

// merge combines the statistics of two adjacent partitions.
func (st partStat) merge(other partStat) partStat {
	st.count += other.count
	st.orAbs |= other.orAbs
	for k := range st.quoSum {
		st.quoSum[k] += other.quoSum[k]
	}
	return st
}

// bestParams returns the cheapest parameter choice of a partition: the Rice
// parameter of least encoded size, or the escape to unencoded two's
// complement residuals when every Rice parameter is larger.
func (st partStat) bestParams() (cost int, param uint, escWidth uint) {
	// Escaped partition: 4-bit escape code, 5-bit width, raw residuals. The
	// width field is 5 bits, so residuals of 32 or more bits cannot escape.
	escWidth = 0
	if st.orAbs != 0 {
		escWidth = uint(bits.Len32(st.orAbs)) + 1
	}
	cost = 4 + 5 + st.count*int(escWidth)
	param = 0xF
	if escWidth > 31 {
		// Force a Rice parameter below.
		cost = int(^uint(0) >> 1)
	}
	for k := 0; k < 15; k++ {
		// Rice parameter k: 4 param bits, then per residual the unary
		// quotient, its terminating one, and k remainder bits.
		c := 4 + st.count*(1+k) + int(st.quoSum[k])
		if c < cost {
			cost, param, escWidth = c, uint(k), 0
		}
	}
	return cost, param, escWidth
}

// bestRicePlan selects the Rice partition order and per-partition parameters
// of least total bit cost for the given residuals, and returns the layout
// along with the exact size in bits of the encoded residual section.
func (enc *Encoder) bestRicePlan(residuals []int32, n, order int) (*frame.RiceSubframe, int) {
	// Deepest feasible partition order: the partition count must evenly
	// divide the block size, and the first partition must accommodate the
	// warm-up samples.
	maxPartOrder := 0
	for p := 1; p <= enc.opts.MaxRiceOrder; p++ {
		nparts := 1 << p
		if n%nparts != 0 || n/nparts < order {
			break
		}
		maxPartOrder = p
	}

	// Tabulate the per-partition statistics at the deepest order.
	stats := make([]partStat, 1<<maxPartOrder)
	idx := 0
	for i := range stats {
		nsamples := n >> maxPartOrder
		if i == 0 {
			nsamples -= order
		}
		st := &stats[i]
		for j := 0; j < nsamples; j++ {
			residual := residuals[idx]
			idx++
			folded := iobits.EncodeZigZag(residual)
			st.count++
			if residual < 0 {
				st.orAbs |= uint32(-int64(residual))
			} else {
				st.orAbs |= uint32(residual)
			}
			for k := 0; k < 15; k++ {
				st.quoSum[k] += int64(folded >> k)
			}
		}
	}

	// Evaluate each order from deepest to 0, merging the statistics pairwise
	// in between.
	var bestRice *frame.RiceSubframe
	bestCost := 0
	for p := maxPartOrder; ; p-- {
		// 2 bits residual coding method, 4 bits partition order.
		cost := 2 + 4
		partitions := make([]frame.RicePartition, len(stats))
		for i, st := range stats {
			c, param, escWidth := st.bestParams()
			cost += c
			partitions[i] = frame.RicePartition{Param: param, EscapedBitsPerSample: escWidth}
		}
		if bestRice == nil || cost < bestCost {
			bestRice = &frame.RiceSubframe{PartOrder: p, Partitions: partitions}
			bestCost = cost
		}
		if p == 0 {
			break
		}
		merged := make([]partStat, len(stats)/2)
		for i := range merged {
			merged[i] = stats[2*i].merge(stats[2*i+1])
		}
		stats = merged
	}
	return bestRice, bestCost
}
