package ntfs

// attributeListEntry is one descriptor decoded from an $ATTRIBUTE_LIST
// attribute's data.
type attributeListEntry struct {
	attrType   AttributeType
	name       string
	startVcn   uint64
	fileRef    FileReference
	identifier uint16
}

const (
	alOffsetType          = 0x00
	alOffsetRecordLength  = 0x04
	alOffsetNameLength    = 0x06
	alOffsetNameOffset    = 0x07
	alOffsetStartVcn      = 0x08
	alOffsetFileReference = 0x10
	alOffsetIdentifier    = 0x18
	alMinRecordLength     = 0x1a
)

// parseAttributeList decodes the raw bytes of an $ATTRIBUTE_LIST attribute
// (its resident data, or the fully-read bytes of its ClusterStream) into a
// sequence of descriptor entries.
func parseAttributeList(raw []byte) []attributeListEntry {
	entries := make([]attributeListEntry, 0)

	offset := 0
	for offset < len(raw) {
		if offset+alMinRecordLength > len(raw) {
			panicKind(ErrInvalidRecord, "$ATTRIBUTE_LIST record at (%d) runs past end of data", offset)
		}

		recordLength := int(ntfsByteOrder.Uint16(raw[offset+alOffsetRecordLength:]))
		if recordLength < alMinRecordLength || offset+recordLength > len(raw) {
			panicKind(ErrInvalidRecord, "$ATTRIBUTE_LIST record length (%d) at offset (%d) out of bounds", recordLength, offset)
		}

		record := raw[offset : offset+recordLength]

		attrType := AttributeType(ntfsByteOrder.Uint32(record[alOffsetType:]))
		nameLength := int(record[alOffsetNameLength])
		nameOffset := int(record[alOffsetNameOffset])
		startVcn := ntfsByteOrder.Uint64(record[alOffsetStartVcn:])
		fileRef := FileReference(ntfsByteOrder.Uint64(record[alOffsetFileReference:]))
		identifier := ntfsByteOrder.Uint16(record[alOffsetIdentifier:])

		var name string
		if nameLength > 0 {
			nameEnd := nameOffset + nameLength*2
			if nameEnd > len(record) {
				panicKind(ErrInvalidRecord, "$ATTRIBUTE_LIST record name runs past record bounds")
			}

			name = decodeUtf16Le(record[nameOffset:nameEnd])
		}

		entries = append(entries, attributeListEntry{
			attrType:   attrType,
			name:       name,
			startVcn:   startVcn,
			fileRef:    fileRef,
			identifier: identifier,
		})

		offset += recordLength
	}

	return entries
}

// mergeAttributeList resolves every extension-record reference named by an
// entry's $ATTRIBUTE_LIST, loading each referenced entry through `loadEntry`
// and merging its attributes into `entry`'s chains via AppendToChain. A
// dangling or stale reference is tolerated: the affected descriptor's
// attribute is simply treated as absent.
func mergeAttributeList(entry *MftEntry, listData []byte, loadEntry func(mftIndex uint64) (*MftEntry, error)) {
	descriptors := parseAttributeList(listData)

	byChain := make(map[string]*MftAttribute)
	for _, attr := range entry.attributes {
		key := attributeChainKey(attr.attrType, attr.name)
		if _, exists := byChain[key]; !exists {
			byChain[key] = attr
		}
	}

	for _, desc := range descriptors {
		if desc.fileRef.MftIndex() == entry.index {
			// Already present in the base record; nothing to merge.
			continue
		}

		extEntry, err := loadEntry(desc.fileRef.MftIndex())
		if err != nil {
			continue
		}

		if extEntry.SequenceNumber() != desc.fileRef.SequenceNumber() {
			// StaleReference: treated as "attribute absent".
			continue
		}

		for _, attr := range extEntry.attributes {
			if attr.attrType != desc.attrType || attr.name != desc.name {
				continue
			}

			key := attributeChainKey(attr.attrType, attr.name)

			head, exists := byChain[key]
			if !exists {
				byChain[key] = attr
				entry.attributes = append(entry.attributes, attr)
				entry.classify(attr)

				continue
			}

			head.AppendToChain(attr)
		}
	}
}

func attributeChainKey(attrType AttributeType, name string) string {
	return name + "\x00" + attrType.String()
}
