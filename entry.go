package ntfs

import "fmt"

// FileReference is NTFS's 64-bit file identifier: a 48-bit MFT record index
// plus a 16-bit sequence number that is bumped each time the slot is
// reused, letting a stale reference be detected cheaply.
type FileReference uint64

func (fr FileReference) MftIndex() uint64 {
	return uint64(fr) & 0x0000ffffffffffff
}

func (fr FileReference) SequenceNumber() uint16 {
	return uint16(uint64(fr) >> 48)
}

func (fr FileReference) String() string {
	return fmt.Sprintf("FileReference<INDEX=(%d) SEQ=(%d)>", fr.MftIndex(), fr.SequenceNumber())
}

// EntryFlags is the MFT entry header's flags field.
type EntryFlags uint16

const (
	EntryFlagInUse      EntryFlags = 0x0001
	EntryFlagDirectory  EntryFlags = 0x0002
)

func (ef EntryFlags) IsInUse() bool     { return ef&EntryFlagInUse != 0 }
func (ef EntryFlags) IsDirectory() bool { return ef&EntryFlagDirectory != 0 }

const (
	entrySignature = "FILE"

	entryOffsetSequenceNumber     = 0x10
	entryOffsetReferenceCount     = 0x12
	entryOffsetAttributesOffset   = 0x14
	entryOffsetFlags              = 0x16
	entryOffsetUsedSize           = 0x18
	entryOffsetTotalSize          = 0x1c
	entryOffsetBaseRecordRef      = 0x20
	entryOffsetNextAttributeId    = 0x28
	entryHeaderMinSize            = 0x2a
)

// MftEntry is one parsed MFT record, with fixups applied, its attribute
// sequence decoded, and the canonical attributes classified as they're
// read.
type MftEntry struct {
	index uint64

	isEmpty        bool
	sequenceNumber uint16
	referenceCount uint16
	flags          EntryFlags
	usedSize       uint32
	totalSize      uint32
	baseRecordRef  FileReference
	nextAttrId     uint16

	attributes []*MftAttribute

	standardInformation *MftAttribute
	fileName             *MftAttribute
	unnamedData          *MftAttribute
	attributeList        *MftAttribute
	indexRoot            *MftAttribute
}

// parseMftEntry parses a fixed-up MFT record buffer (already validated by
// readFixedUpRecord) belonging to the given mft_index.
func parseMftEntry(raw []byte, index uint64, clusterSize uint32) *MftEntry {
	entry := &MftEntry{index: index}

	if isAllZero(raw) {
		entry.isEmpty = true
		return entry
	}

	if string(raw[:4]) != entrySignature {
		panicKind(ErrInvalidSignature, "mft entry (%d) has bad signature (%q)", index, raw[:4])
	}

	if len(raw) < entryHeaderMinSize {
		panicKind(ErrInvalidRecord, "mft entry (%d) buffer too small for header", index)
	}

	flags := EntryFlags(ntfsByteOrder.Uint16(raw[entryOffsetFlags:]))

	if flags.IsInUse() != true {
		entry.isEmpty = true
		entry.flags = flags
		return entry
	}

	sequenceNumber := ntfsByteOrder.Uint16(raw[entryOffsetSequenceNumber:])
	referenceCount := ntfsByteOrder.Uint16(raw[entryOffsetReferenceCount:])
	attributesOffset := ntfsByteOrder.Uint16(raw[entryOffsetAttributesOffset:])
	usedSize := ntfsByteOrder.Uint32(raw[entryOffsetUsedSize:])
	totalSize := ntfsByteOrder.Uint32(raw[entryOffsetTotalSize:])
	baseRecordRef := FileReference(ntfsByteOrder.Uint64(raw[entryOffsetBaseRecordRef:]))
	nextAttrId := ntfsByteOrder.Uint16(raw[entryOffsetNextAttributeId:])

	if usedSize > totalSize || uint64(totalSize) > uint64(len(raw)) {
		panicKind(ErrInvalidRecord, "mft entry (%d) size invariant violated: used(%d) total(%d) buf(%d)", index, usedSize, totalSize, len(raw))
	}

	entry.sequenceNumber = sequenceNumber
	entry.referenceCount = referenceCount
	entry.flags = flags
	entry.usedSize = usedSize
	entry.totalSize = totalSize
	entry.baseRecordRef = baseRecordRef
	entry.nextAttrId = nextAttrId

	offset := int(attributesOffset)
	for uint32(offset) < usedSize {
		attr, isSentinel := parseMftAttribute(raw, offset, clusterSize)
		if isSentinel {
			break
		}

		entry.attributes = append(entry.attributes, attr)
		entry.classify(attr)

		offset += int(attr.size)
	}

	return entry
}

func (entry *MftEntry) classify(attr *MftAttribute) {
	switch attr.attrType {
	case AttributeTypeStandardInformation:
		if entry.standardInformation == nil {
			entry.standardInformation = attr
		}

	case AttributeTypeFileName:
		if entry.fileName == nil {
			entry.fileName = attr
			return
		}

		// Preference order: 3 (Win32&DOS), 1 (Win32), 0 (POSIX); ignore 2
		// (DOS) when a non-DOS alternative exists.
		existingNamespace := fileNameNamespace(entry.fileName)
		candidateNamespace := fileNameNamespace(attr)

		if namespacePriority(candidateNamespace) > namespacePriority(existingNamespace) {
			entry.fileName = attr
		}

	case AttributeTypeData:
		if attr.name == "" && entry.unnamedData == nil {
			entry.unnamedData = attr
		}

	case AttributeTypeAttributeList:
		entry.attributeList = attr

	case AttributeTypeIndexRoot:
		if attr.name == "$I30" {
			entry.indexRoot = attr
		}
	}
}

// fileNameNamespace reads the namespace byte (offset 0x41) of a resident
// $FILE_NAME attribute; see filename.go for the full layout.
func fileNameNamespace(attr *MftAttribute) byte {
	data := attr.ResidentData()
	if len(data) <= fileNameOffsetNamespace {
		panicKind(ErrInvalidRecord, "$FILE_NAME attribute too small to hold its namespace byte")
	}

	return data[fileNameOffsetNamespace]
}

func namespacePriority(ns byte) int {
	switch ns {
	case 3:
		return 3
	case 1:
		return 2
	case 0:
		return 1
	case 2:
		return 0
	}

	return -1
}

func (entry *MftEntry) Index() uint64 { return entry.index }

func (entry *MftEntry) IsAllocated() bool {
	return entry.isEmpty != true
}

func (entry *MftEntry) IsDirectory() bool {
	return entry.flags.IsDirectory()
}

func (entry *MftEntry) SequenceNumber() uint16 { return entry.sequenceNumber }

func (entry *MftEntry) FileReference() FileReference {
	return FileReference(entry.index | uint64(entry.sequenceNumber)<<48)
}

// BaseRecordReference returns the reference this entry carries in its
// header. A zero reference, or one naming this entry, marks a base record;
// any other value marks an extension record (see IsExtensionRecord).
func (entry *MftEntry) BaseRecordReference() FileReference {
	return entry.baseRecordRef
}

func (entry *MftEntry) IsExtensionRecord() bool {
	return entry.baseRecordRef.MftIndex() != 0 && entry.baseRecordRef.MftIndex() != entry.index
}

func (entry *MftEntry) Attributes() []*MftAttribute {
	return entry.attributes
}

func (entry *MftEntry) Attribute(i int) *MftAttribute {
	if i < 0 || i >= len(entry.attributes) {
		panicKind(ErrOutOfBounds, "attribute index (%d) out of range (%d)", i, len(entry.attributes))
	}

	return entry.attributes[i]
}

// FindAttribute returns the first attribute matching `attrType` and, when
// name is non-empty, the given name.
func (entry *MftEntry) FindAttribute(attrType AttributeType, name string) (*MftAttribute, bool) {
	for _, attr := range entry.attributes {
		if attr.attrType == attrType && (name == "" || attr.name == name) {
			return attr, true
		}
	}

	return nil, false
}

// FindAlternateDataAttribute returns the named (non-empty) $DATA attribute.
func (entry *MftEntry) FindAlternateDataAttribute(name string) (*MftAttribute, bool) {
	if name == "" {
		panicKind(ErrInvalidRecord, "alternate data stream name must be non-empty")
	}

	return entry.FindAttribute(AttributeTypeData, name)
}

func (entry *MftEntry) StandardInformation() (*MftAttribute, bool) {
	return entry.standardInformation, entry.standardInformation != nil
}

func (entry *MftEntry) PrimaryFileName() (*MftAttribute, bool) {
	return entry.fileName, entry.fileName != nil
}

func (entry *MftEntry) UnnamedData() (*MftAttribute, bool) {
	return entry.unnamedData, entry.unnamedData != nil
}

func (entry *MftEntry) AttributeList() (*MftAttribute, bool) {
	return entry.attributeList, entry.attributeList != nil
}

func (entry *MftEntry) IndexRoot() (*MftAttribute, bool) {
	return entry.indexRoot, entry.indexRoot != nil
}

func (entry *MftEntry) String() string {
	return fmt.Sprintf("MftEntry<INDEX=(%d) ALLOCATED=(%v) DIR=(%v) ATTRS=(%d)>",
		entry.index, entry.IsAllocated(), entry.IsDirectory(), len(entry.attributes))
}
