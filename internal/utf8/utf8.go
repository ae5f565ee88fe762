// Package utf8 implements encoding and decoding of the "UTF-8" coded
// integers used by FLAC frame headers. The coding extends UTF-8 with 5, 6
// and 7 byte sequences to cover integers of up to 36 bits.
package utf8

import (
	"errors"

	"github.com/icza/bitio"

	"github.com/karlek/flac/internal/bits"
)

const (
	tx = 0x80 // 1000 0000
	t2 = 0xC0 // 1100 0000
	t3 = 0xE0 // 1110 0000
	t4 = 0xF0 // 1111 0000
	t5 = 0xF8 // 1111 1000
	t6 = 0xFC // 1111 1100
	t7 = 0xFE // 1111 1110

	maskx = 0x3F // 0011 1111
	mask2 = 0x1F // 0001 1111
	mask3 = 0x0F // 0000 1111
	mask4 = 0x07 // 0000 0111
	mask5 = 0x03 // 0000 0011
	mask6 = 0x01 // 0000 0001

	rune1Max = 1<<7 - 1
	rune2Max = 1<<11 - 1
	rune3Max = 1<<16 - 1
	rune4Max = 1<<21 - 1
	rune5Max = 1<<26 - 1
	rune6Max = 1<<31 - 1
	rune7Max = 1<<36 - 1
)

// ErrInvalid signals a malformed "UTF-8" coded integer.
var ErrInvalid = errors.New("utf8: invalid UTF-8 coded integer")

// Encode encodes x as a "UTF-8" coded integer, writing to bw.
func Encode(bw *bitio.Writer, x uint64) error {
	// 1-byte, 7-bit sequence?
	if x <= rune1Max {
		return bw.WriteBits(x, 8)
	}

	// Leading byte and number of continuation bytes.
	var (
		l uint
		c uint64
	)
	switch {
	case x <= rune2Max:
		// 110xxxxx; total: 11 bits (5 + 6).
		l = 1
		c = t2 | (x>>6)&mask2
	case x <= rune3Max:
		// 1110xxxx; total: 16 bits (4 + 6 + 6).
		l = 2
		c = t3 | (x>>(6*2))&mask3
	case x <= rune4Max:
		// 11110xxx; total: 21 bits (3 + 6 + 6 + 6).
		l = 3
		c = t4 | (x>>(6*3))&mask4
	case x <= rune5Max:
		// 111110xx; total: 26 bits (2 + 6 + 6 + 6 + 6).
		l = 4
		c = t5 | (x>>(6*4))&mask5
	case x <= rune6Max:
		// 1111110x; total: 31 bits (1 + 6 + 6 + 6 + 6 + 6).
		l = 5
		c = t6 | (x>>(6*5))&mask6
	case x <= rune7Max:
		// 11111110; total: 36 bits (0 + 6 + 6 + 6 + 6 + 6 + 6).
		l = 6
		c = t7
	default:
		return ErrInvalid
	}
	if err := bw.WriteBits(c, 8); err != nil {
		return err
	}

	// Continuation bytes.
	for i := int(l) - 1; i >= 0; i-- {
		c := tx | (x>>uint(6*i))&maskx
		if err := bw.WriteBits(c, 8); err != nil {
			return err
		}
	}
	return nil
}

// Decode decodes and returns a "UTF-8" coded integer, reading from br. The
// reader must be byte-aligned.
func Decode(br *bits.Reader) (x uint64, err error) {
	c0, err := br.Read(8)
	if err != nil {
		return 0, err
	}

	// Number of continuation bytes, and the value bits of c0.
	var l uint
	switch {
	case c0&tx == 0:
		// 0xxxxxxx
		return c0, nil
	case c0&t3 == t2:
		// 110xxxxx
		l = 1
		x = c0 & mask2
	case c0&t4 == t3:
		// 1110xxxx
		l = 2
		x = c0 & mask3
	case c0&t5 == t4:
		// 11110xxx
		l = 3
		x = c0 & mask4
	case c0&t6 == t5:
		// 111110xx
		l = 4
		x = c0 & mask5
	case c0&t7 == t6:
		// 1111110x
		l = 5
		x = c0 & mask6
	case c0 == t7:
		// 11111110
		l = 6
		x = 0
	default:
		// 10xxxxxx is never a valid leading byte.
		return 0, ErrInvalid
	}

	for i := uint(0); i < l; i++ {
		c, err := br.Read(8)
		if err != nil {
			return 0, err
		}
		if c&t2 != tx {
			return 0, ErrInvalid
		}
		x = x<<6 | c&maskx
	}
	return x, nil
}
