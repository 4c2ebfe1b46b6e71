package ntfs

import "fmt"

// WofAlgorithm is the compression format named in a WOF file-provider
// reparse record.
type WofAlgorithm uint32

const (
	WofAlgorithmXpress4K  WofAlgorithm = 0
	WofAlgorithmLzx       WofAlgorithm = 1
	WofAlgorithmXpress8K  WofAlgorithm = 2
	WofAlgorithmXpress16K WofAlgorithm = 3
)

func (wa WofAlgorithm) String() string {
	switch wa {
	case WofAlgorithmXpress4K:
		return "XPRESS4K"
	case WofAlgorithmLzx:
		return "LZX"
	case WofAlgorithmXpress8K:
		return "XPRESS8K"
	case WofAlgorithmXpress16K:
		return "XPRESS16K"
	}

	return fmt.Sprintf("WofAlgorithm(%d)", uint32(wa))
}

const (
	wofAlternateStreamName = "WofCompressedData"

	// WOF_EXTERNAL_INFO + FILE_PROVIDER_EXTERNAL_INFO_V1, per the public
	// Windows Overlay Filter documentation.
	wofOffsetProvider      = 0x04
	wofProviderFile        = 1
	wofFileInfoOffset      = 0x08
	wofFileInfoOffsetAlgo  = 0x04
	wofFileInfoMinSize     = 0x0c
)

// WofConfiguration is the decoded {compression_format, uncompressed_size}
// configuration of a WOF-compressed file.
type WofConfiguration struct {
	Algorithm        WofAlgorithm
	UncompressedSize uint64
}

// ParseWofConfiguration decodes a WOF reparse point's resident data.
func ParseWofConfiguration(rp *ReparsePoint, attr *MftAttribute, unnamedDataSize uint64) (*WofConfiguration, error) {
	if rp.Tag != ReparseTagWof {
		return nil, &Error{Kind: ErrInvalidRecord, Message: "reparse point is not tagged WOF"}
	}

	data := attr.ResidentData()
	if len(data) < reparseDataStart+wofFileInfoOffset+wofFileInfoMinSize {
		return nil, &Error{Kind: ErrInvalidRecord, Message: "WOF reparse record truncated"}
	}

	reparseData := data[reparseDataStart:]

	provider := ntfsByteOrder.Uint32(reparseData[wofOffsetProvider:])
	if provider != wofProviderFile {
		return nil, &Error{Kind: ErrUnsupported, Message: fmt.Sprintf("unsupported WOF provider (%d)", provider)}
	}

	fileInfo := reparseData[wofFileInfoOffset:]
	algorithm := WofAlgorithm(ntfsByteOrder.Uint32(fileInfo[wofFileInfoOffsetAlgo:]))

	return &WofConfiguration{
		Algorithm:        algorithm,
		UncompressedSize: unnamedDataSize,
	}, nil
}

// decompressorFor selects a Decompressor for the given WOF algorithm.
// XPRESS4K (plain LZ77, no entropy coding) is implemented directly; the
// Huffman-coded variants (LZX, XPRESS8K, XPRESS16K) are not — they need a
// full canonical-Huffman table builder, so they are left as an explicit
// Unsupported rather than a guessed, untestable implementation.
func decompressorFor(algorithm WofAlgorithm) (Decompressor, error) {
	switch algorithm {
	case WofAlgorithmXpress4K:
		return Xpress4KDecompressor{}, nil
	default:
		return nil, &Error{Kind: ErrUnsupported, Message: fmt.Sprintf("wof algorithm (%s) is not supported", algorithm)}
	}
}

// Xpress4KDecompressor implements the "plain LZ77" variant of [MS-XCA]
// used by WOF's XPRESS4K algorithm: a single indicator-bitfield-driven
// token stream with no entropy coding stage, as opposed to LZX/XPRESS8K's
// and XPRESS16K's canonical-Huffman-coded variant.
type Xpress4KDecompressor struct{}

func (Xpress4KDecompressor) Decompress(src []byte, dst []byte) (int, error) {
	si := 0
	di := 0

	var indicator uint32
	var indicatorBits uint

	nextBit := func() (uint32, error) {
		if indicatorBits == 0 {
			if si+4 > len(src) {
				return 0, &Error{Kind: ErrDecompressionFailed, Message: "xpress4k indicator bitfield truncated"}
			}

			indicator = ntfsByteOrder.Uint32(src[si:])
			si += 4
			indicatorBits = 32
		}

		bit := (indicator >> 31) & 1
		indicator <<= 1
		indicatorBits--

		return bit, nil
	}

	for si < len(src) && di < len(dst) {
		bit, err := nextBit()
		if err != nil {
			return di, err
		}

		if bit == 0 {
			dst[di] = src[si]
			si++
			di++

			continue
		}

		if si+2 > len(src) {
			return di, &Error{Kind: ErrDecompressionFailed, Message: "xpress4k match truncated"}
		}

		matchBytes := ntfsByteOrder.Uint16(src[si:])
		si += 2

		length := int(matchBytes & 0x0f)
		displacement := int(matchBytes>>4) + 1

		if length == 0x0f {
			if si >= len(src) {
				return di, &Error{Kind: ErrDecompressionFailed, Message: "xpress4k extended length truncated"}
			}

			extra := int(src[si])
			si++
			length += extra

			if extra == 0xff {
				if si+2 > len(src) {
					return di, &Error{Kind: ErrDecompressionFailed, Message: "xpress4k 16-bit extended length truncated"}
				}

				length = int(ntfsByteOrder.Uint16(src[si:]))
				si += 2
			}
		}

		length += 3

		start := di - displacement
		if start < 0 {
			return di, &Error{Kind: ErrDecompressionFailed, Message: "xpress4k back-reference underflows output start"}
		}

		for i := 0; i < length && di < len(dst); i++ {
			dst[di] = dst[start+i]
			di++
		}
	}

	return di, nil
}

// isWofCompressed reports whether a file entry's default data stream is
// backed by a WOF alternate stream rather than its own unnamed $DATA.
func isWofCompressed(entry *MftEntry) (*MftAttribute, bool) {
	reparseAttr, found := entry.FindAttribute(AttributeTypeReparsePoint, "")
	if found != true {
		return nil, false
	}

	rp := ParseReparsePoint(reparseAttr)
	if rp.Tag != ReparseTagWof {
		return nil, false
	}

	wofAttr, found := entry.FindAlternateDataAttribute(wofAlternateStreamName)
	if found != true {
		return nil, false
	}

	return wofAttr, true
}
