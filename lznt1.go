package ntfs

// Lznt1Decompressor implements the Decompressor contract for NTFS's LZNT1
// scheme, the default in-package decompressor for compressed $DATA: a
// from-scratch implementation of the documented chunked LZ77 variant
// Windows uses for transparent file compression (see DESIGN.md).
//
// A compressed on-disk payload is a sequence of independently-compressed
// 4096-byte chunks, each preceded by a 2-byte header: bits 0-11 hold
// (compressed_chunk_size - 1), bits 12-14 are a fixed signature (0b011),
// bit 15 marks whether the chunk is actually compressed.
type Lznt1Decompressor struct{}

const (
	lznt1ChunkSize       = 4096
	lznt1HeaderSignature = 0x3000
	lznt1HeaderSizeMask  = 0x0fff
	lznt1HeaderCompBit   = 0x8000
)

func (Lznt1Decompressor) Decompress(src []byte, dst []byte) (int, error) {
	written := 0
	si := 0

	for si+2 <= len(src) && written < len(dst) {
		header := ntfsByteOrder.Uint16(src[si:])
		si += 2

		chunkSize := int(header&lznt1HeaderSizeMask) + 1
		isCompressed := header&lznt1HeaderCompBit != 0

		if si+chunkSize > len(src) {
			return written, &Error{Kind: ErrDecompressionFailed, Message: "lznt1 chunk runs past end of source"}
		}

		chunk := src[si : si+chunkSize]
		si += chunkSize

		outChunkCap := lznt1ChunkSize
		if len(dst)-written < outChunkCap {
			outChunkCap = len(dst) - written
		}

		if isCompressed != true {
			n := copy(dst[written:written+min(outChunkCap, len(chunk))], chunk)
			written += n
			continue
		}

		n, err := decompressLznt1Chunk(chunk, dst[written:written+outChunkCap])
		if err != nil {
			return written, err
		}

		written += n
	}

	return written, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// decompressLznt1Chunk decompresses one 4096-byte (or shorter, for the
// final chunk) LZNT1 chunk.
func decompressLznt1Chunk(src []byte, dst []byte) (int, error) {
	si := 0
	di := 0

	for si < len(src) && di < len(dst) {
		flags := src[si]
		si++

		for bit := 0; bit < 8 && si < len(src) && di < len(dst); bit++ {
			if flags&(1<<uint(bit)) == 0 {
				dst[di] = src[si]
				si++
				di++

				continue
			}

			if si+2 > len(src) {
				return di, &Error{Kind: ErrDecompressionFailed, Message: "lznt1 token truncated"}
			}

			token := ntfsByteOrder.Uint16(src[si:])
			si += 2

			displacementBits := lznt1SplitBits(di)
			lengthBits := 16 - displacementBits
			lengthMask := uint16(1)<<lengthBits - 1

			length := int(token&lengthMask) + 3
			displacement := int(token>>lengthBits) + 1

			start := di - displacement
			if start < 0 {
				return di, &Error{Kind: ErrDecompressionFailed, Message: "lznt1 back-reference underflows chunk start"}
			}

			for i := 0; i < length && di < len(dst); i++ {
				dst[di] = dst[start+i]
				di++
			}
		}
	}

	return di, nil
}

// lznt1SplitBits returns the number of displacement bits for a
// back-reference token encoded at decompressed offset `pos` within the
// current chunk: the displacement field widens (and the complementary
// length field narrows) as the chunk fills up, since a displacement can
// never exceed the bytes already produced.
func lznt1SplitBits(pos int) uint {
	bits := uint(4)

	threshold := 0x10
	for pos > threshold && bits < 12 {
		threshold <<= 1
		bits++
	}

	return bits
}
