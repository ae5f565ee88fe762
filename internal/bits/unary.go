package bits

import (
	"errors"

	"github.com/icza/bitio"
)

// ErrUnaryTooLarge signals that a unary coded integer exceeded the limit
// supplied to ReadUnary. Decoders use the limit to reject residuals whose
// restoration would overflow.
var ErrUnaryTooLarge = errors.New("bits: unary coded integer exceeds limit")

// leadingZeros maps a byte to the number of leading zero bits before its
// first one bit; 8 for the zero byte. Computed once at process start and
// read-only thereafter.
var leadingZeros = func() (table [256]uint8) {
	for i := 1; i < 256; i++ {
		n := uint8(0)
		for bit := 0x80; i&bit == 0; bit >>= 1 {
			n++
		}
		table[i] = n
	}
	table[0] = 8
	return table
}()

// ReadUnary decodes and returns a unary coded integer, whose value is
// represented by the number of leading zeros before a one.
//
// Examples of unary coded binary on the left and decoded decimal on the
// right:
//
//	1       => 0
//	01      => 1
//	001     => 2
//	0001    => 3
//	00001   => 4
//	000001  => 5
//	0000001 => 6
//
// A non-zero limit caps the decoded value; if at least limit zeros are read
// before the terminating one, ReadUnary fails with ErrUnaryTooLarge.
//
// Whole zero bytes are skipped a byte at a time, and the leading zeros of the
// terminating byte are counted through a lookup table rather than bit by bit.
func (br *Reader) ReadUnary(limit uint64) (x uint64, err error) {
	// Scan pending bits from the last partially consumed byte.
	for br.n > 0 {
		br.n--
		bit := br.x >> br.n & 1
		br.x &= 1<<br.n - 1
		if bit == 1 {
			return x, nil
		}
		x++
		if limit != 0 && x >= limit {
			return 0, ErrUnaryTooLarge
		}
	}

	// Byte at a time from the read-ahead buffer.
	for {
		if err := br.needBytes(1); err != nil {
			return 0, err
		}
		b := br.buf[br.pos]
		br.pos++
		br.consume(br.pos-1, br.pos)
		if b == 0 {
			x += 8
			if limit != 0 && x >= limit {
				return 0, ErrUnaryTooLarge
			}
			continue
		}
		nz := uint(leadingZeros[b])
		x += uint64(nz)
		if limit != 0 && x >= limit {
			return 0, ErrUnaryTooLarge
		}
		// Buffer the bits following the terminating one.
		br.n = 8 - nz - 1
		br.x = b & (1<<br.n - 1)
		return x, nil
	}
}

// WriteUnary encodes x as a unary coded integer, whose value is represented
// by the number of leading zeros before a one.
//
// Examples of unary coded binary on the left and decoded decimal on the
// right:
//
//	0 => 1
//	1 => 01
//	2 => 001
//	3 => 0001
//	4 => 00001
//	5 => 000001
//	6 => 0000001
func WriteUnary(bw *bitio.Writer, x uint64) error {
	for ; x >= 8; x -= 8 {
		if err := bw.WriteByte(0x0); err != nil {
			return err
		}
	}
	bits := uint64(1)
	n := uint8(x + 1)
	if err := bw.WriteBits(bits, n); err != nil {
		return err
	}
	return nil
}
