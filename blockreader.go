package ntfs

import "encoding/binary"

// ntfsByteOrder is threaded through every binary.ByteOrder read in this
// package.
var ntfsByteOrder = binary.LittleEndian

// BlockReader is a random-access, byte-addressable reader over the image
// backing a volume (a file or a block device). It is intentionally the
// narrowest possible contract — `io.ReaderAt` rather than `io.ReadSeeker` —
// since position-independent reads need to be safely shared across
// concurrent callers; `ReadAt` carries that guarantee in its contract
// while `Seek`+`Read` does not. Any `*os.File` already satisfies this.
type BlockReader interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// readFullAt reads exactly len(p) bytes at the given offset, translating
// any I/O failure (including a short read) into an ErrIo.
func readFullAt(br BlockReader, p []byte, off int64) {
	read := 0
	for read < len(p) {
		n, err := br.ReadAt(p[read:], off+int64(read))
		read += n

		if err != nil {
			if read >= len(p) {
				break
			}

			wrapf(ErrIo, err, "short read at offset (%d): got (%d) of (%d) bytes", off, read, len(p))
		}
	}
}
