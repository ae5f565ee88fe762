package meta

import (
	"encoding/binary"
	"io"
)

// Application contains third party application specific data.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_application
type Application struct {
	// Registered application ID.
	//
	// ref: https://www.xiph.org/flac/id.html
	ID uint32
	// Application data; optional.
	Data []byte
}

// parseApplication reads and parses the body of an Application metadata
// block.
//
// Application format (pseudo code):
//
//	type METADATA_BLOCK_APPLICATION struct {
//	   id   uint32
//	   data [header.length - 4]byte
//	}
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_application
func (block *Block) parseApplication() error {
	app := new(Application)
	block.Body = app

	// 32 bits: ID.
	if err := binary.Read(block.lr, binary.BigEndian, &app.ID); err != nil {
		return unexpected(err)
	}

	// Check if the Application block only contains an ID.
	if block.Length == 4 {
		return nil
	}
	var err error
	app.Data, err = io.ReadAll(block.lr)
	return err
}
