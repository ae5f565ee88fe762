// Package crc16 implements the 16-bit cyclic redundancy check of FLAC frame
// footers: the CRC-16/IBM polynomial, zero-initialised and unreflected.
//
// Unlike a general CRC library, the polynomial is fixed; FLAC never uses
// another.
package crc16

import "github.com/karlek/flac/internal/hashutil"

// Size of a CRC-16 checksum in bytes.
const Size = 2

// The IBM polynomial, x^16 + x^15 + x^2 + 1, with the implicit x^16 term
// dropped.
const ibm = 0x8005

// ibmTable is the byte-indexed remainder table of the IBM polynomial,
// computed at process start and read-only thereafter.
var ibmTable = func() (table [256]uint16) {
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ ibm
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// Update returns the result of adding the bytes in p to the crc.
func Update(crc uint16, p []byte) uint16 {
	for _, v := range p {
		crc = crc<<8 ^ ibmTable[uint8(crc>>8)^v]
	}
	return crc
}

// ChecksumIBM returns the CRC-16 checksum of data using the IBM polynomial.
func ChecksumIBM(data []byte) uint16 {
	return Update(0, data)
}

// NewIBM returns a new hashutil.Hash16 computing the CRC-16 checksum using
// the IBM polynomial.
func NewIBM() hashutil.Hash16 {
	return new(hash16)
}

// hash16 is the running state of a CRC-16 checksum.
type hash16 struct {
	crc uint16
}

func (h *hash16) Size() int { return Size }

func (h *hash16) BlockSize() int { return 1 }

func (h *hash16) Reset() { h.crc = 0 }

func (h *hash16) Write(p []byte) (n int, err error) {
	h.crc = Update(h.crc, p)
	return len(p), nil
}

func (h *hash16) Sum16() uint16 { return h.crc }

func (h *hash16) Sum(in []byte) []byte {
	return append(in, byte(h.crc>>8), byte(h.crc))
}
