// Package crc8 implements the 8-bit cyclic redundancy check of FLAC frame
// headers: the CRC-8/ATM polynomial, zero-initialised and unreflected.
//
// Unlike a general CRC library, the polynomial is fixed; FLAC never uses
// another.
package crc8

import "github.com/karlek/flac/internal/hashutil"

// Size of a CRC-8 checksum in bytes.
const Size = 1

// The ATM polynomial, x^8 + x^2 + x + 1, with the implicit x^8 term dropped.
const atm = 0x07

// atmTable is the byte-indexed remainder table of the ATM polynomial,
// computed at process start and read-only thereafter.
var atmTable = func() (table [256]uint8) {
	for i := range table {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ atm
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// Update returns the result of adding the bytes in p to the crc.
func Update(crc uint8, p []byte) uint8 {
	for _, v := range p {
		crc = atmTable[crc^v]
	}
	return crc
}

// ChecksumATM returns the CRC-8 checksum of data using the ATM polynomial.
func ChecksumATM(data []byte) uint8 {
	return Update(0, data)
}

// NewATM returns a new hashutil.Hash8 computing the CRC-8 checksum using the
// ATM polynomial.
func NewATM() hashutil.Hash8 {
	return new(hash8)
}

// hash8 is the running state of a CRC-8 checksum.
type hash8 struct {
	crc uint8
}

func (h *hash8) Size() int { return Size }

func (h *hash8) BlockSize() int { return 1 }

func (h *hash8) Reset() { h.crc = 0 }

func (h *hash8) Write(p []byte) (n int, err error) {
	h.crc = Update(h.crc, p)
	return len(p), nil
}

func (h *hash8) Sum8() uint8 { return h.crc }

func (h *hash8) Sum(in []byte) []byte {
	return append(in, h.crc)
}
