package meta

import (
	"errors"
	"io"
)

// verifyPadding verifies the body of a Padding metadata block. It should only
// contain zero-padding.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_padding
func (block *Block) verifyPadding() error {
	// Verify up to 4 KiB of padding each iteration.
	buf := make([]byte, 4096)
	for {
		n, err := block.lr.Read(buf)
		if !isAllZero(buf[:n]) {
			return errors.New("meta.Block.verifyPadding: invalid padding; must contain only zeroes")
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
