package ntfs

import "fmt"

// AttributeType identifies the kind of one MFT attribute.
type AttributeType uint32

const (
	AttributeTypeStandardInformation AttributeType = 0x10
	AttributeTypeAttributeList       AttributeType = 0x20
	AttributeTypeFileName            AttributeType = 0x30
	AttributeTypeObjectId            AttributeType = 0x40
	AttributeTypeSecurityDescriptor  AttributeType = 0x50
	AttributeTypeVolumeName          AttributeType = 0x60
	AttributeTypeVolumeInformation   AttributeType = 0x70
	AttributeTypeData                AttributeType = 0x80
	AttributeTypeIndexRoot           AttributeType = 0x90
	AttributeTypeIndexAllocation     AttributeType = 0xA0
	AttributeTypeBitmap              AttributeType = 0xB0
	AttributeTypeReparsePoint        AttributeType = 0xC0
	AttributeTypeEaInformation       AttributeType = 0xD0
	AttributeTypeEa                  AttributeType = 0xE0
	AttributeTypeLoggedUtilityStream AttributeType = 0x100

	attributeTypeSentinel AttributeType = 0xFFFFFFFF
)

func (at AttributeType) String() string {
	switch at {
	case AttributeTypeStandardInformation:
		return "$STANDARD_INFORMATION"
	case AttributeTypeAttributeList:
		return "$ATTRIBUTE_LIST"
	case AttributeTypeFileName:
		return "$FILE_NAME"
	case AttributeTypeObjectId:
		return "$OBJECT_ID"
	case AttributeTypeSecurityDescriptor:
		return "$SECURITY_DESCRIPTOR"
	case AttributeTypeVolumeName:
		return "$VOLUME_NAME"
	case AttributeTypeVolumeInformation:
		return "$VOLUME_INFORMATION"
	case AttributeTypeData:
		return "$DATA"
	case AttributeTypeIndexRoot:
		return "$INDEX_ROOT"
	case AttributeTypeIndexAllocation:
		return "$INDEX_ALLOCATION"
	case AttributeTypeBitmap:
		return "$BITMAP"
	case AttributeTypeReparsePoint:
		return "$REPARSE_POINT"
	case AttributeTypeEaInformation:
		return "$EA_INFORMATION"
	case AttributeTypeEa:
		return "$EA"
	case AttributeTypeLoggedUtilityStream:
		return "$LOGGED_UTILITY_STREAM"
	}

	return fmt.Sprintf("AttributeType(0x%x)", uint32(at))
}

// DataFlags is the attribute header's data_flags bit-field.
type DataFlags uint16

const (
	dataFlagsCompressionMask DataFlags = 0x00ff
	DataFlagCompressedLznt1  DataFlags = 0x0001
	DataFlagEncrypted        DataFlags = 0x4000
	DataFlagSparse           DataFlags = 0x8000
)

func (df DataFlags) IsCompressed() bool {
	return df&dataFlagsCompressionMask != 0
}

func (df DataFlags) IsEncrypted() bool {
	return df&DataFlagEncrypted != 0
}

func (df DataFlags) IsSparse() bool {
	return df&DataFlagSparse != 0
}

const (
	attributeCommonHeaderSize = 0x10

	attrOffsetType            = 0x00
	attrOffsetSize            = 0x04
	attrOffsetNonResidentFlag = 0x08
	attrOffsetNameSize        = 0x09
	attrOffsetNameOffset      = 0x0a
	attrOffsetDataFlags       = 0x0c
	attrOffsetIdentifier      = 0x0e

	attrOffsetResidentContentSize   = 0x10
	attrOffsetResidentContentOffset = 0x14
	attrOffsetResidentIndexedFlag   = 0x16

	attrOffsetFirstVcn           = 0x10
	attrOffsetLastVcn            = 0x18
	attrOffsetDataRunsOffset     = 0x20
	attrOffsetCompressionUnitExp = 0x22
	attrOffsetAllocatedSize      = 0x28
	attrOffsetDataSize           = 0x30
	attrOffsetValidDataSize      = 0x38
)

// MftAttribute is one parsed attribute header+body from an MFT entry: a
// fixed common header followed by a resident or non-resident variant body.
type MftAttribute struct {
	attrType     AttributeType
	size         uint32
	isResident   bool
	dataFlags    DataFlags
	identifier   uint16
	name         string

	// resident
	residentData []byte

	// non-resident
	firstVcn               uint64
	lastVcn                uint64
	compressionUnitExponent uint16
	compressionUnitSize     uint32
	allocatedSize           uint64
	dataSize                uint64
	validDataSize           uint64
	dataRuns                *DataRunList

	next *MftAttribute
}

// parseMftAttribute parses one attribute at `raw[offset:]`. It returns
// (nil, true) at the end-sentinel. `clusterSize` is required to derive
// compression_unit_size for non-resident attributes.
func parseMftAttribute(raw []byte, offset int, clusterSize uint32) (*MftAttribute, bool) {
	if offset+4 > len(raw) {
		panicKind(ErrInvalidRecord, "attribute header at (%d) runs past end of entry", offset)
	}

	rawType := ntfsByteOrder.Uint32(raw[offset+attrOffsetType:])
	if AttributeType(rawType) == attributeTypeSentinel {
		return nil, true
	}

	if offset+attributeCommonHeaderSize > len(raw) {
		panicKind(ErrInvalidRecord, "attribute common header at (%d) runs past end of entry", offset)
	}

	size := ntfsByteOrder.Uint32(raw[offset+attrOffsetSize:])
	if size < attributeCommonHeaderSize || uint64(offset)+uint64(size) > uint64(len(raw)) {
		panicKind(ErrInvalidRecord, "attribute size (%d) at offset (%d) out of bounds", size, offset)
	}

	body := raw[offset : offset+int(size)]

	isResident := body[attrOffsetNonResidentFlag] == 0
	nameSize := int(body[attrOffsetNameSize])
	nameOffset := int(ntfsByteOrder.Uint16(body[attrOffsetNameOffset:]))
	dataFlags := DataFlags(ntfsByteOrder.Uint16(body[attrOffsetDataFlags:]))
	identifier := ntfsByteOrder.Uint16(body[attrOffsetIdentifier:])

	var name string
	if nameSize > 0 {
		nameBytes := nameOffset + nameSize*2
		if nameBytes > len(body) {
			panicKind(ErrInvalidRecord, "attribute name runs past end of attribute body")
		}

		name = decodeUtf16Le(body[nameOffset:nameBytes])
	}

	attr := &MftAttribute{
		attrType:   AttributeType(rawType),
		size:       size,
		isResident: isResident,
		dataFlags:  dataFlags,
		identifier: identifier,
		name:       name,
	}

	if isResident {
		if attrOffsetResidentContentOffset+2 > len(body) {
			panicKind(ErrInvalidRecord, "resident attribute header truncated")
		}

		contentSize := ntfsByteOrder.Uint32(body[attrOffsetResidentContentSize:])
		contentOffset := int(ntfsByteOrder.Uint16(body[attrOffsetResidentContentOffset:]))

		if contentOffset+int(contentSize) > len(body) {
			panicKind(ErrInvalidRecord, "resident content (%d..%d) out of bounds of attribute body (%d)", contentOffset, contentOffset+int(contentSize), len(body))
		}

		attr.residentData = body[contentOffset : contentOffset+int(contentSize)]

		return attr, false
	}

	if attrOffsetValidDataSize+8 > len(body) {
		panicKind(ErrInvalidRecord, "non-resident attribute header truncated")
	}

	firstVcn := ntfsByteOrder.Uint64(body[attrOffsetFirstVcn:])
	lastVcn := ntfsByteOrder.Uint64(body[attrOffsetLastVcn:])

	if firstVcn > lastVcn && !(firstVcn == 0 && lastVcn == 0) {
		panicKind(ErrInvalidRecord, "non-resident attribute has first_vcn (%d) > last_vcn (%d)", firstVcn, lastVcn)
	}

	dataRunsOffset := int(ntfsByteOrder.Uint16(body[attrOffsetDataRunsOffset:]))
	compressionUnitExponent := ntfsByteOrder.Uint16(body[attrOffsetCompressionUnitExp:])
	allocatedSize := ntfsByteOrder.Uint64(body[attrOffsetAllocatedSize:])
	dataSize := ntfsByteOrder.Uint64(body[attrOffsetDataSize:])
	validDataSize := ntfsByteOrder.Uint64(body[attrOffsetValidDataSize:])

	if validDataSize > dataSize || dataSize > allocatedSize {
		panicKind(ErrInvalidRecord, "non-resident size invariant violated: valid(%d) data(%d) allocated(%d)", validDataSize, dataSize, allocatedSize)
	}

	if allocatedSize%uint64(clusterSize) != 0 {
		panicKind(ErrInvalidRecord, "allocated_size (%d) is not a multiple of cluster_size (%d)", allocatedSize, clusterSize)
	}

	var compressionUnitSize uint32
	if compressionUnitExponent != 0 {
		compressionUnitSize = clusterSize << compressionUnitExponent
	}

	if dataRunsOffset > len(body) {
		panicKind(ErrInvalidRecord, "data-runs-offset (%d) out of bounds of attribute body (%d)", dataRunsOffset, len(body))
	}

	dataRuns := parseDataRuns(body[dataRunsOffset:])

	if dataRuns.TotalClusters() != allocatedSize/uint64(clusterSize) {
		panicKind(ErrInvalidRecord, "data-run total clusters (%d) does not match allocated_size/cluster_size (%d)", dataRuns.TotalClusters(), allocatedSize/uint64(clusterSize))
	}

	attr.firstVcn = firstVcn
	attr.lastVcn = lastVcn
	attr.compressionUnitExponent = compressionUnitExponent
	attr.compressionUnitSize = compressionUnitSize
	attr.allocatedSize = allocatedSize
	attr.dataSize = dataSize
	attr.validDataSize = validDataSize
	attr.dataRuns = dataRuns

	return attr, false
}

func (attr *MftAttribute) Type() AttributeType { return attr.attrType }
func (attr *MftAttribute) Name() string        { return attr.name }
func (attr *MftAttribute) DataFlags() DataFlags { return attr.dataFlags }
func (attr *MftAttribute) Identifier() uint16   { return attr.identifier }
func (attr *MftAttribute) IsResident() bool     { return attr.isResident }

// DataSize returns the logical size of the attribute's data, whether
// resident or not.
func (attr *MftAttribute) DataSize() uint64 {
	if attr.isResident {
		return uint64(len(attr.residentData))
	}

	return attr.dataSize
}

func (attr *MftAttribute) ValidDataSize() uint64 {
	if attr.isResident {
		return uint64(len(attr.residentData))
	}

	return attr.validDataSize
}

func (attr *MftAttribute) AllocatedSize() uint64 {
	if attr.isResident {
		return uint64(len(attr.residentData))
	}

	return attr.allocatedSize
}

// VcnRange returns (first_vcn, last_vcn); valid only for non-resident
// attributes.
func (attr *MftAttribute) VcnRange() (uint64, uint64) {
	return attr.firstVcn, attr.lastVcn
}

func (attr *MftAttribute) CompressionUnitSize() uint32 {
	return attr.compressionUnitSize
}

// ResidentData returns the resident content bytes. Panics with
// ErrUnsupported if the attribute is non-resident.
func (attr *MftAttribute) ResidentData() []byte {
	if attr.isResident != true {
		panicKind(ErrUnsupported, "attribute (%s) is non-resident", attr.attrType)
	}

	return attr.residentData
}

// DataRuns returns the decoded data-run list. Panics if the attribute is
// resident.
func (attr *MftAttribute) DataRuns() *DataRunList {
	if attr.isResident {
		panicKind(ErrUnsupported, "attribute (%s) is resident", attr.attrType)
	}

	return attr.dataRuns
}

// Next returns the next attribute in this attribute's chain, or nil.
func (attr *MftAttribute) Next() *MftAttribute {
	return attr.next
}

// Chain returns the full chain starting at attr, in first_vcn order.
func (attr *MftAttribute) Chain() []*MftAttribute {
	chain := make([]*MftAttribute, 0, 1)
	for cur := attr; cur != nil; cur = cur.next {
		chain = append(chain, cur)
	}

	return chain
}

// AppendToChain inserts `other` into the sorted-by-first-vcn chain headed
// by attr. `other` must share (type, name) with attr; this is the glue
// used to merge attribute-list fragments into one chain.
func (attr *MftAttribute) AppendToChain(other *MftAttribute) {
	if other.attrType != attr.attrType || other.name != attr.name {
		panicKind(ErrInvalidRecord, "cannot chain attribute (%s:%s) onto (%s:%s)", other.attrType, other.name, attr.attrType, attr.name)
	}

	if attr.isResident || other.isResident {
		panicKind(ErrInvalidRecord, "cannot chain resident attributes")
	}

	var prev *MftAttribute
	cur := attr

	for cur != nil && cur.firstVcn < other.firstVcn {
		prev = cur
		cur = cur.next
	}

	if cur != nil && cur.firstVcn == other.firstVcn {
		panicKind(ErrInvalidRecord, "duplicate first_vcn (%d) in attribute chain (%s:%s)", other.firstVcn, attr.attrType, attr.name)
	}

	other.next = cur

	if prev != nil {
		prev.next = other
	}
}

func (attr *MftAttribute) String() string {
	if attr.isResident {
		return fmt.Sprintf("MftAttribute<TYPE=(%s) RESIDENT SIZE=(%d)>", attr.attrType, len(attr.residentData))
	}

	return fmt.Sprintf("MftAttribute<TYPE=(%s) NON-RESIDENT VCN=(%d-%d) DATA-SIZE=(%d)>", attr.attrType, attr.firstVcn, attr.lastVcn, attr.dataSize)
}
