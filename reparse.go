package ntfs

// ReparseTag identifies the kind of reparse point, per the well-known
// Windows IO_REPARSE_TAG_* constants.
type ReparseTag uint32

const (
	ReparseTagMountPoint ReparseTag = 0xA0000003
	ReparseTagSymlink    ReparseTag = 0xA000000C
	ReparseTagWof        ReparseTag = 0x80000017
)

const (
	reparseOffsetTag        = 0x00
	reparseOffsetDataLength = 0x04
	reparseDataStart        = 0x08

	// Symlink/mount-point REPARSE_DATA_BUFFER layout, relative to the start
	// of reparse_data (i.e. reparseDataStart).
	reparseOffsetSubstituteNameOffset = 0x00
	reparseOffsetSubstituteNameLength = 0x02
	reparseOffsetPrintNameOffset      = 0x04
	reparseOffsetPrintNameLength      = 0x06
	reparseSymlinkPathBufferStart     = 0x0c // after the symlink-only Flags (u32)
	reparseMountPointPathBufferStart  = 0x08
)

// ReparsePoint is the decoded content of a $REPARSE_POINT attribute.
type ReparsePoint struct {
	Tag             ReparseTag
	SubstituteName  string
	PrintName       string
}

// ParseReparsePoint decodes a resident $REPARSE_POINT attribute. Symlink
// and mount-point substitute/print names follow the standard Windows
// REPARSE_DATA_BUFFER layout. Unrecognized tags (including WOF, handled
// separately by wof.go) yield a ReparsePoint with only Tag populated.
func ParseReparsePoint(attr *MftAttribute) *ReparsePoint {
	if attr.attrType != AttributeTypeReparsePoint {
		panicKind(ErrInvalidRecord, "not a $REPARSE_POINT attribute: (%s)", attr.attrType)
	}

	data := attr.ResidentData()
	if len(data) < reparseDataStart {
		panicKind(ErrInvalidRecord, "$REPARSE_POINT attribute truncated")
	}

	tag := ReparseTag(ntfsByteOrder.Uint32(data[reparseOffsetTag:]))
	dataLength := int(ntfsByteOrder.Uint16(data[reparseOffsetDataLength:]))

	if reparseDataStart+dataLength > len(data) {
		panicKind(ErrInvalidRecord, "$REPARSE_POINT data length (%d) out of bounds", dataLength)
	}

	rp := &ReparsePoint{Tag: tag}

	if tag != ReparseTagSymlink && tag != ReparseTagMountPoint {
		return rp
	}

	reparseData := data[reparseDataStart : reparseDataStart+dataLength]

	pathBufferStart := reparseMountPointPathBufferStart
	if tag == ReparseTagSymlink {
		pathBufferStart = reparseSymlinkPathBufferStart
	}

	if len(reparseData) < pathBufferStart {
		panicKind(ErrInvalidRecord, "reparse data too small for its path buffer header")
	}

	substituteOffset := int(ntfsByteOrder.Uint16(reparseData[reparseOffsetSubstituteNameOffset:]))
	substituteLength := int(ntfsByteOrder.Uint16(reparseData[reparseOffsetSubstituteNameLength:]))
	printOffset := int(ntfsByteOrder.Uint16(reparseData[reparseOffsetPrintNameOffset:]))
	printLength := int(ntfsByteOrder.Uint16(reparseData[reparseOffsetPrintNameLength:]))

	pathBuffer := reparseData[pathBufferStart:]

	if substituteOffset+substituteLength > len(pathBuffer) || printOffset+printLength > len(pathBuffer) {
		panicKind(ErrInvalidRecord, "reparse substitute/print name out of bounds")
	}

	rp.SubstituteName = decodeUtf16Le(pathBuffer[substituteOffset : substituteOffset+substituteLength])
	rp.PrintName = decodeUtf16Le(pathBuffer[printOffset : printOffset+printLength])

	return rp
}
