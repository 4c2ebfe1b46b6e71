package ntfs

import "bytes"

// This file reads a multi-sector-transfer record (an MFT entry or an
// index-allocation node) and reverses the per-sector update-sequence
// substitution NTFS uses to detect torn writes: read the fixed-size
// region first, then walk it in sector-sized strides.

const (
	fixupArrayOffsetOffset = 0x04
	fixupArrayCountOffset  = 0x06
	fixupArrayStart        = 0x06
)

// readFixedUp reads and un-fixes-up a record in place. `signature`
// is the 4-byte record-type tag ("FILE" or "INDX"); `recordSize` and
// `sectorSize` must both be non-zero multiples of each other.
func readFixedUp(raw []byte, signature []byte, recordSize, sectorSize uint32) []byte {
	if uint32(len(raw)) != recordSize {
		panicKind(ErrInvalidRecord, "fixed-up record buffer size (%d) does not match record-size (%d)", len(raw), recordSize)
	}

	if isAllZero(raw) == true {
		// Tolerate fully-zeroed records: treat as empty, not an error.
		return raw
	}

	if bytes.Equal(raw[:4], signature) != true {
		panicKind(ErrInvalidSignature, "record signature mismatch: got (%x), want (%x)", raw[:4], signature)
	}

	fixupArrayOffset := ntfsByteOrder.Uint16(raw[fixupArrayOffsetOffset:])
	fixupArrayCount := ntfsByteOrder.Uint16(raw[fixupArrayCountOffset:])

	expectedCount := recordSize/sectorSize + 1
	if uint32(fixupArrayCount) != expectedCount {
		panicKind(ErrInvalidRecord, "fixup-array count (%d) does not match expected (%d)", fixupArrayCount, expectedCount)
	}

	arrayEnd := uint32(fixupArrayOffset) + uint32(fixupArrayCount)*2
	if arrayEnd > uint32(len(raw)) {
		panicKind(ErrInvalidRecord, "fixup array extends past end of record: (%d) > (%d)", arrayEnd, len(raw))
	}

	updateSequenceNumber := raw[fixupArrayOffset : fixupArrayOffset+2]
	fixupValues := raw[fixupArrayOffset+2 : arrayEnd]

	sectorCount := recordSize / sectorSize

	if uint32(fixupArrayCount)-1 != sectorCount {
		panicKind(ErrInvalidRecord, "fixup-array does not cover all (%d) sectors", sectorCount)
	}

	fixedUp := make([]byte, len(raw))
	copy(fixedUp, raw)

	for i := uint32(0); i < sectorCount; i++ {
		sectorTailOffset := (i+1)*sectorSize - 2

		sectorTail := raw[sectorTailOffset : sectorTailOffset+2]
		if bytes.Equal(sectorTail, updateSequenceNumber) != true {
			panicKind(ErrTornWrite, "update-sequence mismatch at sector (%d)", i)
		}

		original := fixupValues[i*2 : i*2+2]
		copy(fixedUp[sectorTailOffset:sectorTailOffset+2], original)
	}

	return fixedUp
}

// readFixedUpRecord reads `recordSize` bytes at `offset` via the given block
// reader and applies readFixedUp.
func readFixedUpRecord(br BlockReader, offset int64, signature []byte, recordSize, sectorSize uint32) []byte {
	raw := make([]byte, recordSize)
	readFullAt(br, raw, offset)

	return readFixedUp(raw, signature, recordSize, sectorSize)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}

	return true
}
