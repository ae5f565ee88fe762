package frame

import (
	"errors"
	"fmt"
	"math"

	"github.com/karlek/flac/internal/bits"
)

// A Subframe contains the encoded audio samples from one channel of an audio
// frame.
//
// ref: https://www.xiph.org/flac/format.html#subframe
type Subframe struct {
	// Subframe header.
	SubHeader
	// Number of audio samples in the subframe.
	NSamples int
	// Decoded audio samples. Samples is initially nil, and gets populated by
	// the Parse method of the enclosing frame.
	Samples []int32
	// Residual coding method used by the subframe.
	ResidualCodingMethod ResidualCodingMethod
	// Rice residual layout of the subframe; populated on parse and consulted
	// by the encoder when re-emitting a parsed subframe.
	RiceSubframe *RiceSubframe
}

// A SubHeader specifies the prediction method and order of a subframe, and
// the number of wasted bits-per-sample of its source channel.
//
// ref: https://www.xiph.org/flac/format.html#subframe_header
type SubHeader struct {
	// Specifies the prediction method used to encode the audio samples of the
	// subframe.
	Pred Pred
	// Prediction order used by fixed and FIR linear prediction decoding.
	Order int
	// Wasted bits-per-sample; the number of trailing zero bits shared by all
	// samples of the source channel, factored out before prediction.
	Wasted uint
	// Precision in bits of the quantized FIR coefficients.
	CoeffPrec uint
	// Predictor coefficient right-shift of FIR linear prediction.
	Shift int32
	// Quantized FIR coefficients.
	Coeffs []int32
}

// Pred specifies the prediction method used to encode the audio samples of a
// subframe.
type Pred uint8

// Prediction methods.
const (
	// PredConstant specifies that the subframe contains a constant sound. The
	// audio samples are encoded using run-length encoding.
	//
	// ref: https://www.xiph.org/flac/format.html#subframe_constant
	PredConstant Pred = iota
	// PredVerbatim specifies that the subframe contains unencoded audio
	// samples.
	//
	// ref: https://www.xiph.org/flac/format.html#subframe_verbatim
	PredVerbatim
	// PredFixed specifies that the subframe contains linear prediction coded
	// audio samples. The coefficients of the prediction polynomial are
	// selected from a fixed set, and can represent 0th through fourth-order
	// polynomials.
	//
	// ref: https://www.xiph.org/flac/format.html#subframe_fixed
	PredFixed
	// PredFIR specifies that the subframe contains linear prediction coded
	// audio samples. The coefficients of the prediction polynomial are stored
	// in the subframe, and can represent up to 32nd-order polynomials.
	//
	// ref: https://www.xiph.org/flac/format.html#subframe_lpc
	PredFIR
)

// ResidualCodingMethod specifies a residual coding method.
type ResidualCodingMethod uint8

// Residual coding methods.
const (
	// Rice coding with a 4-bit Rice parameter.
	ResidualCodingMethodRice1 ResidualCodingMethod = 0
	// Rice coding with a 5-bit Rice parameter.
	ResidualCodingMethodRice2 ResidualCodingMethod = 1
)

// RiceSubframe holds rice-coding subframe fields used by residual coding
// methods rice1 and rice2.
type RiceSubframe struct {
	// Partition order used by fixed and FIR linear prediction decoding
	// (to determine the number of rice partitions).
	PartOrder int
	// Rice partitions.
	Partitions []RicePartition
}

// RicePartition is a partition containing a subset of the residuals of a
// subframe.
type RicePartition struct {
	// Rice parameter.
	Param uint
	// Escaped bits-per-sample; in escaped partitions the residuals are stored
	// unencoded, as two's complement integers of this width.
	EscapedBitsPerSample uint
}

// FixedCoeffs maps from prediction order to the predictor coefficients used
// by fixed linear prediction coding.
//
//	x_0[n] = 0
//	x_1[n] = x[n-1]
//	x_2[n] = 2*x[n-1] - x[n-2]
//	x_3[n] = 3*x[n-1] - 3*x[n-2] + x[n-3]
//	x_4[n] = 4*x[n-1] - 6*x[n-2] + 4*x[n-3] - x[n-4]
var FixedCoeffs = [5][]int32{
	0: {},
	1: {1},
	2: {2, -1},
	3: {3, -3, 1},
	4: {4, -6, 4, -1},
}

// parseSubframe reads and parses the header and encoded audio samples of a
// subframe, which holds bps bits per sample.
func (frame *Frame) parseSubframe(bps uint) (subframe *Subframe, err error) {
	subframe = new(Subframe)
	if err = subframe.parseHeader(frame.br); err != nil {
		return subframe, err
	}
	// Every sample of the source channel shares Wasted trailing zero bits,
	// which are factored out before prediction and restored below.
	if subframe.Wasted >= bps {
		return subframe, fmt.Errorf("frame.Frame.parseSubframe: wasted bits-per-sample (%d) exceeds sample size (%d)", subframe.Wasted, bps)
	}
	bps -= subframe.Wasted

	subframe.NSamples = int(frame.BlockSize)
	subframe.Samples = make([]int32, 0, subframe.NSamples)
	switch subframe.Pred {
	case PredConstant:
		err = subframe.decodeConstant(frame.br, bps)
	case PredVerbatim:
		err = subframe.decodeVerbatim(frame.br, bps)
	case PredFixed:
		err = subframe.decodeFixed(frame.br, bps)
	case PredFIR:
		err = subframe.decodeFIR(frame.br, bps)
	}
	if err != nil {
		return subframe, err
	}

	if subframe.Wasted > 0 {
		for i, sample := range subframe.Samples {
			subframe.Samples[i] = sample << subframe.Wasted
		}
	}
	return subframe, nil
}

// parseHeader reads and parses the header of a subframe.
//
// Subframe header format (pseudo code):
//
//	type SUBFRAME_HEADER struct {
//	   _      uint1 // zero-padding, to prevent sync-fooling.
//	   type   uint6
//	   // 0: no wasted bits-per-sample in source subblock, k = 0.
//	   // 1: k wasted bits-per-sample in source subblock, k-1 follows, unary
//	   //    coded; e.g. k=3 => 001 follows, k=7 => 0000001 follows.
//	   wasted uint1+k
//	}
//
// ref: https://www.xiph.org/flac/format.html#subframe_header
func (subframe *Subframe) parseHeader(br *bits.Reader) error {
	// 1 bit: zero-padding.
	x, err := br.Read(1)
	if err != nil {
		return unexpected(err)
	}
	if x != 0 {
		return errors.New("frame.Subframe.parseHeader: non-zero padding")
	}

	// 6 bits: subframe type.
	//    000000: SUBFRAME_CONSTANT
	//    000001: SUBFRAME_VERBATIM
	//    00001x: reserved
	//    0001xx: reserved
	//    001xxx: if(xxx <= 4) SUBFRAME_FIXED, xxx=order ; else reserved
	//    01xxxx: reserved
	//    1xxxxx: SUBFRAME_LPC, xxxxx=order-1
	if x, err = br.Read(6); err != nil {
		return unexpected(err)
	}
	switch {
	case x == 0:
		subframe.Pred = PredConstant
	case x == 1:
		subframe.Pred = PredVerbatim
	case x < 8:
		return fmt.Errorf("frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
	case x < 16:
		subframe.Pred = PredFixed
		subframe.Order = int(x & 0x07)
		if subframe.Order > 4 {
			return fmt.Errorf("frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
		}
	case x < 32:
		return fmt.Errorf("frame.Subframe.parseHeader: reserved subframe type bit pattern (%06b)", x)
	default:
		subframe.Pred = PredFIR
		subframe.Order = int(x&0x1F) + 1
	}

	// 1 bit: wasted bits-per-sample flag.
	if x, err = br.Read(1); err != nil {
		return unexpected(err)
	}
	if x != 0 {
		// k-1 follows, unary coded.
		wasted, err := br.ReadUnary(0)
		if err != nil {
			return unexpected(err)
		}
		subframe.Wasted = uint(wasted) + 1
	}
	return nil
}

// decodeConstant reads the constant sample of the subframe and replicates it
// across the block.
//
// ref: https://www.xiph.org/flac/format.html#subframe_constant
func (subframe *Subframe) decodeConstant(br *bits.Reader, bps uint) error {
	// (bits-per-sample) bits: the constant sample.
	x, err := br.Read(bps)
	if err != nil {
		return unexpected(err)
	}
	sample := int32(bits.IntN(x, bps))
	for i := 0; i < subframe.NSamples; i++ {
		subframe.Samples = append(subframe.Samples, sample)
	}
	return nil
}

// decodeVerbatim reads the unencoded audio samples of the subframe.
//
// ref: https://www.xiph.org/flac/format.html#subframe_verbatim
func (subframe *Subframe) decodeVerbatim(br *bits.Reader, bps uint) error {
	for i := 0; i < subframe.NSamples; i++ {
		x, err := br.Read(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples = append(subframe.Samples, int32(bits.IntN(x, bps)))
	}
	return nil
}

// decodeFixed reads the warm-up samples and Rice coded residuals of the
// subframe, and restores the audio samples through a fixed-coefficient linear
// predictor.
//
// ref: https://www.xiph.org/flac/format.html#subframe_fixed
func (subframe *Subframe) decodeFixed(br *bits.Reader, bps uint) error {
	if err := subframe.decodeWarmup(br, bps); err != nil {
		return err
	}
	residuals, err := subframe.decodeResiduals(br)
	if err != nil {
		return err
	}
	return subframe.restore(FixedCoeffs[subframe.Order], 0, residuals)
}

// decodeFIR reads the warm-up samples, quantized predictor coefficients and
// Rice coded residuals of the subframe, and restores the audio samples
// through the stored linear predictor.
//
// ref: https://www.xiph.org/flac/format.html#subframe_lpc
func (subframe *Subframe) decodeFIR(br *bits.Reader, bps uint) error {
	if err := subframe.decodeWarmup(br, bps); err != nil {
		return err
	}

	// 4 bits: (coefficient precision in bits) - 1.
	x, err := br.Read(4)
	if err != nil {
		return unexpected(err)
	}
	if x == 0xF {
		return errors.New("frame.Subframe.decodeFIR: reserved coefficient precision bit pattern (1111)")
	}
	subframe.CoeffPrec = uint(x) + 1

	// 5 bits: predictor coefficient right-shift, signed.
	if x, err = br.Read(5); err != nil {
		return unexpected(err)
	}
	subframe.Shift = int32(bits.IntN(x, 5))
	if subframe.Shift < 0 {
		return fmt.Errorf("frame.Subframe.decodeFIR: invalid negative predictor right-shift (%d)", subframe.Shift)
	}

	// (order) * (precision) bits: quantized predictor coefficients.
	subframe.Coeffs = make([]int32, subframe.Order)
	for i := range subframe.Coeffs {
		if x, err = br.Read(subframe.CoeffPrec); err != nil {
			return unexpected(err)
		}
		subframe.Coeffs[i] = int32(bits.IntN(x, subframe.CoeffPrec))
	}

	residuals, err := subframe.decodeResiduals(br)
	if err != nil {
		return err
	}
	return subframe.restore(subframe.Coeffs, uint(subframe.Shift), residuals)
}

// decodeWarmup reads the unencoded warm-up samples of the subframe.
func (subframe *Subframe) decodeWarmup(br *bits.Reader, bps uint) error {
	if subframe.Order > subframe.NSamples {
		return fmt.Errorf("frame.Subframe.decodeWarmup: prediction order (%d) exceeds block size (%d)", subframe.Order, subframe.NSamples)
	}
	for i := 0; i < subframe.Order; i++ {
		x, err := br.Read(bps)
		if err != nil {
			return unexpected(err)
		}
		subframe.Samples = append(subframe.Samples, int32(bits.IntN(x, bps)))
	}
	return nil
}

// decodeResiduals reads the Rice coded residuals of the subframe.
//
// Residual format (pseudo code):
//
//	type RESIDUAL struct {
//	   method     uint2 // 00: Rice1 (4-bit parameters), 01: Rice2 (5-bit).
//	   part_order uint4 // 2^part_order partitions.
//	   partitions [1 << part_order]partition
//	}
//
// ref: https://www.xiph.org/flac/format.html#residual
func (subframe *Subframe) decodeResiduals(br *bits.Reader) ([]int64, error) {
	// 2 bits: residual coding method.
	x, err := br.Read(2)
	if err != nil {
		return nil, unexpected(err)
	}
	if x > 1 {
		return nil, fmt.Errorf("frame.Subframe.decodeResiduals: reserved residual coding method bit pattern (%02b)", x)
	}
	subframe.ResidualCodingMethod = ResidualCodingMethod(x)
	paramSize := uint(4)
	escape := uint64(0xF)
	if subframe.ResidualCodingMethod == ResidualCodingMethodRice2 {
		paramSize = 5
		escape = 0x1F
	}

	// 4 bits: partition order.
	if x, err = br.Read(4); err != nil {
		return nil, unexpected(err)
	}
	partOrder := int(x)
	nparts := 1 << partOrder
	if subframe.NSamples%nparts != 0 {
		return nil, fmt.Errorf("frame.Subframe.decodeResiduals: partition count (%d) does not evenly divide block size (%d)", nparts, subframe.NSamples)
	}
	if subframe.NSamples/nparts < subframe.Order {
		return nil, fmt.Errorf("frame.Subframe.decodeResiduals: prediction order (%d) exceeds first partition length (%d)", subframe.Order, subframe.NSamples/nparts)
	}
	riceSubframe := &RiceSubframe{
		PartOrder:  partOrder,
		Partitions: make([]RicePartition, nparts),
	}
	subframe.RiceSubframe = riceSubframe

	residuals := make([]int64, 0, subframe.NSamples-subframe.Order)
	for i := range riceSubframe.Partitions {
		partition := &riceSubframe.Partitions[i]

		nsamples := subframe.NSamples / nparts
		if i == 0 {
			nsamples -= subframe.Order
		}

		// (4 or 5) bits: Rice parameter.
		param, err := br.Read(paramSize)
		if err != nil {
			return nil, unexpected(err)
		}
		if param == escape {
			// Escape code; the partition residuals are stored unencoded as
			// two's complement integers of the width that follows.
			//
			// 5 bits: bits-per-sample of the escaped partition.
			x, err := br.Read(5)
			if err != nil {
				return nil, unexpected(err)
			}
			partition.Param = uint(escape)
			partition.EscapedBitsPerSample = uint(x)
			for j := 0; j < nsamples; j++ {
				var residual int64
				if partition.EscapedBitsPerSample > 0 {
					x, err := br.Read(partition.EscapedBitsPerSample)
					if err != nil {
						return nil, unexpected(err)
					}
					residual = bits.IntN(x, partition.EscapedBitsPerSample)
				}
				residuals = append(residuals, residual)
			}
			continue
		}
		partition.Param = uint(param)

		// The magnitude of a residual is capped so that its restoration stays
		// within a 53-bit signed range; longer unary quotients signal a
		// malformed stream.
		unaryLimit := uint64(1) << (53 - uint(param))
		for j := 0; j < nsamples; j++ {
			high, err := br.ReadUnary(unaryLimit)
			if err != nil {
				if err == bits.ErrUnaryTooLarge {
					return nil, fmt.Errorf("frame.Subframe.decodeResiduals: %w", ErrResidualOverflow)
				}
				return nil, unexpected(err)
			}
			low, err := br.Read(uint(param))
			if err != nil {
				return nil, unexpected(err)
			}
			folded := high<<uint(param) | low
			// ZigZag decode.
			residuals = append(residuals, int64(folded>>1)^-int64(folded&1))
		}
	}
	return residuals, nil
}

// restore restores the audio samples of the subframe by applying the linear
// predictor with the given coefficients and right-shift to the decoded
// residuals.
//
//	x[i] = residual[i] + (sum coeffs[j]*x[i-j-1]) >> shift
func (subframe *Subframe) restore(coeffs []int32, shift uint, residuals []int64) error {
	if len(coeffs) != subframe.Order {
		return fmt.Errorf("frame.Subframe.restore: prediction order (%d) differs from number of coefficients (%d)", subframe.Order, len(coeffs))
	}
	for i := subframe.Order; i < subframe.NSamples; i++ {
		var sum int64
		for j, c := range coeffs {
			sum += int64(c) * int64(subframe.Samples[i-j-1])
		}
		sample := residuals[i-subframe.Order] + sum>>shift
		if sample < math.MinInt32 || sample > math.MaxInt32 {
			return fmt.Errorf("frame.Subframe.restore: decoded sample (%d) exceeds representable range", sample)
		}
		subframe.Samples = append(subframe.Samples, int32(sample))
	}
	return nil
}
