package flac

import (
	"fmt"
	"math"

	"github.com/icza/bitio"

	"github.com/karlek/flac/frame"
	iobits "github.com/karlek/flac/internal/bits"
)

// A subframePlan is the chosen encoding of one channel of one block: the
// subframe parameters, the residuals to emit for the prediction methods that
// have any, and the exact bit cost of the encoded subframe.
type subframePlan struct {
	// Subframe parameters. Samples holds the channel samples with the wasted
	// bits already shifted out.
	sub *frame.Subframe
	// Residual signal of fixed and FIR linear prediction; nil for constant
	// and verbatim subframes.
	residuals []int32
	// Exact size of the encoded subframe in bits.
	cost int
}

// encodeSubframe encodes the given planned subframe, writing to bw. The
// provided bits-per-sample is that of the channel, before the wasted bits of
// the subframe are shifted out.
func encodeSubframe(bw *bitio.Writer, plan *subframePlan, bps uint) error {
	sub := plan.sub
	if err := encodeSubframeHeader(bw, sub.SubHeader); err != nil {
		return err
	}
	bps -= sub.Wasted

	switch sub.Pred {
	case frame.PredConstant:
		// Unencoded constant value of the subblock.
		return bw.WriteBits(uint64(sub.Samples[0]), uint8(bps))
	case frame.PredVerbatim:
		// Unencoded samples of the subblock.
		for _, sample := range sub.Samples {
			if err := bw.WriteBits(uint64(sample), uint8(bps)); err != nil {
				return err
			}
		}
		return nil
	case frame.PredFixed:
		if err := encodeWarmup(bw, sub, bps); err != nil {
			return err
		}
		return encodeResiduals(bw, sub, plan.residuals)
	case frame.PredFIR:
		if err := encodeWarmup(bw, sub, bps); err != nil {
			return err
		}
		// 4 bits: (coefficient precision in bits) - 1.
		if err := bw.WriteBits(uint64(sub.CoeffPrec-1), 4); err != nil {
			return err
		}
		// 5 bits: predictor coefficient right-shift.
		if err := bw.WriteBits(uint64(sub.Shift), 5); err != nil {
			return err
		}
		// (order) * (precision) bits: quantized predictor coefficients.
		for _, coeff := range sub.Coeffs {
			if err := bw.WriteBits(uint64(coeff), uint8(sub.CoeffPrec)); err != nil {
				return err
			}
		}
		return encodeResiduals(bw, sub, plan.residuals)
	}
	return fmt.Errorf("flac.encodeSubframe: support for prediction method %v not yet implemented", sub.Pred)
}

// encodeSubframeHeader encodes the given subframe header, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#subframe_header
func encodeSubframeHeader(bw *bitio.Writer, subHdr frame.SubHeader) error {
	// 1 bit: zero-padding, to prevent sync-fooling.
	if err := bw.WriteBits(0, 1); err != nil {
		return err
	}

	// 6 bits: subframe type.
	//    000000: SUBFRAME_CONSTANT
	//    000001: SUBFRAME_VERBATIM
	//    001xxx: SUBFRAME_FIXED, xxx=order
	//    1xxxxx: SUBFRAME_LPC, xxxxx=order-1
	var bits uint64
	switch subHdr.Pred {
	case frame.PredConstant:
		bits = 0x00
	case frame.PredVerbatim:
		bits = 0x01
	case frame.PredFixed:
		bits = 0x08 | uint64(subHdr.Order)
	case frame.PredFIR:
		bits = 0x20 | uint64(subHdr.Order-1)
	}
	if err := bw.WriteBits(bits, 6); err != nil {
		return err
	}

	// 1+k bits: wasted bits-per-sample.
	//    0: no wasted bits-per-sample in the source subblock, k = 0.
	//    1: k wasted bits-per-sample in the source subblock; k-1 follows,
	//       unary coded.
	hasWastedBits := subHdr.Wasted > 0
	if err := bw.WriteBool(hasWastedBits); err != nil {
		return err
	}
	if hasWastedBits {
		if err := iobits.WriteUnary(bw, uint64(subHdr.Wasted-1)); err != nil {
			return err
		}
	}
	return nil
}

// encodeWarmup encodes the unencoded warm-up samples of the subframe,
// writing to bw.
func encodeWarmup(bw *bitio.Writer, sub *frame.Subframe, bps uint) error {
	for _, sample := range sub.Samples[:sub.Order] {
		if err := bw.WriteBits(uint64(sample), uint8(bps)); err != nil {
			return err
		}
	}
	return nil
}

// encodeResiduals encodes the residuals (prediction method error signals) of
// the subframe, writing to bw.
//
// ref: https://www.xiph.org/flac/format.html#residual
func encodeResiduals(bw *bitio.Writer, sub *frame.Subframe, residuals []int32) error {
	// 2 bits: residual coding method.
	//    00: Rice coding with a 4-bit Rice parameter.
	//    01: Rice coding with a 5-bit Rice parameter.
	if err := bw.WriteBits(uint64(sub.ResidualCodingMethod), 2); err != nil {
		return err
	}
	var paramSize uint
	var escape uint
	switch sub.ResidualCodingMethod {
	case frame.ResidualCodingMethodRice1:
		paramSize, escape = 4, 0xF
	case frame.ResidualCodingMethodRice2:
		paramSize, escape = 5, 0x1F
	default:
		return fmt.Errorf("flac.encodeResiduals: reserved residual coding method bit pattern (%02b)", uint8(sub.ResidualCodingMethod))
	}

	// 4 bits: partition order.
	rice := sub.RiceSubframe
	if err := bw.WriteBits(uint64(rice.PartOrder), 4); err != nil {
		return err
	}

	// In total 2^partOrder partitions, the first shortened by the warm-up
	// sample count.
	nparts := 1 << rice.PartOrder
	cur := 0
	for i := range rice.Partitions {
		partition := &rice.Partitions[i]
		nsamples := sub.NSamples / nparts
		if i == 0 {
			nsamples -= sub.Order
		}

		// (4 or 5) bits: Rice parameter.
		if err := bw.WriteBits(uint64(partition.Param), uint8(paramSize)); err != nil {
			return err
		}
		if partition.Param == escape {
			// Escaped partition; the residuals are stored unencoded, as
			// two's complement integers.
			//
			// 5 bits: bits-per-sample of the escaped partition.
			if err := bw.WriteBits(uint64(partition.EscapedBitsPerSample), 5); err != nil {
				return err
			}
			for j := 0; j < nsamples; j++ {
				residual := residuals[cur]
				cur++
				if partition.EscapedBitsPerSample == 0 {
					continue
				}
				if err := bw.WriteBits(uint64(residual), uint8(partition.EscapedBitsPerSample)); err != nil {
					return err
				}
			}
			continue
		}

		for j := 0; j < nsamples; j++ {
			residual := residuals[cur]
			cur++
			if err := encodeRiceResidual(bw, partition.Param, residual); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeRiceResidual encodes a Rice coded residual (error signal), writing to
// bw.
func encodeRiceResidual(bw *bitio.Writer, k uint, residual int32) error {
	// ZigZag encode.
	folded := iobits.EncodeZigZag(residual)

	// Unfold into the unary coded quotient and the k-bit remainder.
	high := folded >> k
	low := folded & (1<<k - 1)
	if err := iobits.WriteUnary(bw, uint64(high)); err != nil {
		return err
	}
	return bw.WriteBits(uint64(low), uint8(k))
}

// planSubframe returns the encoding plan of a pre-assembled subframe,
// honouring its prediction method, order and wasted bits. The Rice partition
// layout is reused when populated, and chosen anew otherwise.
func (enc *Encoder) planSubframe(sub *frame.Subframe, bps uint) (*subframePlan, error) {
	if sub.NSamples == 0 {
		sub.NSamples = len(sub.Samples)
	}
	if sub.NSamples != len(sub.Samples) {
		return nil, fmt.Errorf("flac.Encoder.planSubframe: subframe sample count mismatch; expected %d, got %d", sub.NSamples, len(sub.Samples))
	}

	plan := &subframePlan{sub: sub}
	if sub.Wasted > 0 {
		// The subframe samples of parsed frames carry their wasted bits;
		// shift them out before prediction.
		samples := make([]int32, len(sub.Samples))
		for i, sample := range sub.Samples {
			samples[i] = sample >> sub.Wasted
		}
		shifted := *sub
		shifted.Samples = samples
		plan.sub = &shifted
	}
	sub = plan.sub

	switch sub.Pred {
	case frame.PredConstant:
		for _, sample := range sub.Samples[1:] {
			if sample != sub.Samples[0] {
				return nil, fmt.Errorf("flac.Encoder.planSubframe: constant sample mismatch; expected %v, got %v", sub.Samples[0], sample)
			}
		}
		return plan, nil
	case frame.PredVerbatim:
		return plan, nil
	case frame.PredFixed:
		if sub.Order < 0 || sub.Order > 4 || sub.Order > sub.NSamples {
			return nil, fmt.Errorf("flac.Encoder.planSubframe: invalid fixed prediction order (%d)", sub.Order)
		}
		residuals, err := computeResiduals(sub.Samples, frame.FixedCoeffs[sub.Order], 0)
		if err != nil {
			return nil, err
		}
		plan.residuals = residuals
	case frame.PredFIR:
		if sub.Order < 1 || sub.Order > 32 || sub.Order > sub.NSamples {
			return nil, fmt.Errorf("flac.Encoder.planSubframe: invalid FIR prediction order (%d)", sub.Order)
		}
		if sub.Shift < 0 {
			return nil, fmt.Errorf("flac.Encoder.planSubframe: invalid negative predictor right-shift (%d)", sub.Shift)
		}
		residuals, err := computeResiduals(sub.Samples, sub.Coeffs, uint(sub.Shift))
		if err != nil {
			return nil, err
		}
		plan.residuals = residuals
	default:
		return nil, fmt.Errorf("flac.Encoder.planSubframe: support for prediction method %v not yet implemented", sub.Pred)
	}

	if sub.RiceSubframe == nil {
		rice, _ := enc.bestRicePlan(plan.residuals, sub.NSamples, sub.Order)
		sub.RiceSubframe = rice
		sub.ResidualCodingMethod = frame.ResidualCodingMethodRice1
	}
	return plan, nil
}

// computeResiduals returns the residuals (signal errors of the prediction)
// between the given audio samples and the linearly predicted audio samples,
// using the coefficients of the given polynomial and right-shift. Residuals
// exceeding the representable range are reported as an error; bestPlan then
// skips that predictor, and planSubframe returns the error.
func computeResiduals(samples []int32, coeffs []int32, shift uint) ([]int32, error) {
	order := len(coeffs)
	residuals := make([]int32, 0, len(samples)-order)
	for i := order; i < len(samples); i++ {
		var sum int64
		for j, c := range coeffs {
			sum += int64(c) * int64(samples[i-j-1])
		}
		residual := int64(samples[i]) - sum>>shift
		if residual < math.MinInt32 || residual > math.MaxInt32 {
			return nil, fmt.Errorf("flac.computeResiduals: residual (%d) exceeds representable range", residual)
		}
		residuals = append(residuals, int32(residual))
	}
	return residuals, nil
}
