package ntfs

import (
	"github.com/goburrow/cache"
)

// CollationType is the $INDEX_ROOT collation rule.
type CollationType uint32

const (
	CollationBinary       CollationType = 0x00
	CollationFilename     CollationType = 0x01
	CollationUnicodeString CollationType = 0x02
	CollationUlong        CollationType = 0x10
	CollationSid          CollationType = 0x11
	CollationSecurityHash CollationType = 0x12
	CollationUlongs       CollationType = 0x13
)

const (
	indexRootOffsetAttrType       = 0x00
	indexRootOffsetCollationType  = 0x04
	indexRootOffsetEntrySize      = 0x08
	indexRootOffsetClusterCount   = 0x0c
	indexRootOffsetNodeHeader     = 0x10

	indexNodeHeaderSize             = 0x10
	indexNodeHeaderOffsetEntriesOff = 0x00
	indexNodeHeaderOffsetIndexSize  = 0x04
	indexNodeHeaderOffsetAllocSize  = 0x08
	indexNodeHeaderOffsetFlags      = 0x0c

	indexAllocationNodeHeaderStart = 0x18
	indexAllocationSignature       = "INDX"
	indexAllocationOffsetVcn       = 0x10

	indexEntryOffsetDataOffset = 0x00
	indexEntryOffsetDataSize   = 0x02
	indexEntryOffsetEntrySize  = 0x08
	indexEntryOffsetKeySize    = 0x0a
	indexEntryOffsetFlags      = 0x0c
	indexEntryHeaderSize       = 0x10

	indexEntryFlagHasSubnode = 0x0001
	indexEntryFlagIsLast     = 0x0002

	indexMaxRecursionDepth = 32
)

// IndexEntry is one decoded entry of an NTFS index node: its generic
// header fields plus the opaque key/value bytes, left for callers to
// interpret according to the index's collation type.
type IndexEntry struct {
	Key        []byte
	Value      []byte
	HasSubnode bool
	IsLast     bool
	SubnodeVcn uint64
}

// indexNode is one decoded $INDEX_ROOT or $INDEX_ALLOCATION node.
type indexNode struct {
	entries []IndexEntry
}

func parseIndexNode(raw []byte, headerStart int, collation CollationType) *indexNode {
	if headerStart+indexNodeHeaderSize > len(raw) {
		panicKind(ErrCorruptIndex, "index node header runs past end of node buffer")
	}

	header := raw[headerStart:]

	entriesOffset := ntfsByteOrder.Uint32(header[indexNodeHeaderOffsetEntriesOff:])
	indexSize := ntfsByteOrder.Uint32(header[indexNodeHeaderOffsetIndexSize:])

	entriesStart := headerStart + int(entriesOffset)
	entriesEnd := headerStart + int(indexSize)

	if entriesStart > len(raw) || entriesEnd > len(raw) || entriesStart > entriesEnd {
		panicKind(ErrCorruptIndex, "index node entries region [%d,%d) out of bounds (buf=%d)", entriesStart, entriesEnd, len(raw))
	}

	node := &indexNode{}

	offset := entriesStart
	for offset < entriesEnd {
		if offset+indexEntryHeaderSize > entriesEnd {
			panicKind(ErrCorruptIndex, "index entry header at (%d) runs past entries region", offset)
		}

		entryBytes := raw[offset:]

		// The first 8 bytes of an index entry are a union: a direct child
		// MFT_REF for directory (FILENAME-collation) indices, or a
		// (data_offset, data_size) pair for view indices ($SII, $SDH, ...).
		dataOffset := int(ntfsByteOrder.Uint16(entryBytes[indexEntryOffsetDataOffset:]))
		dataSize := int(ntfsByteOrder.Uint16(entryBytes[indexEntryOffsetDataSize:]))
		entrySize := int(ntfsByteOrder.Uint16(entryBytes[indexEntryOffsetEntrySize:]))
		keySize := int(ntfsByteOrder.Uint16(entryBytes[indexEntryOffsetKeySize:]))
		flags := ntfsByteOrder.Uint16(entryBytes[indexEntryOffsetFlags:])

		if entrySize < indexEntryHeaderSize || offset+entrySize > entriesEnd {
			panicKind(ErrCorruptIndex, "index entry size (%d) at offset (%d) out of bounds", entrySize, offset)
		}

		entry := IndexEntry{
			HasSubnode: flags&indexEntryFlagHasSubnode != 0,
			IsLast:     flags&indexEntryFlagIsLast != 0,
		}

		if entry.IsLast != true {
			if indexEntryHeaderSize+keySize > entrySize {
				panicKind(ErrCorruptIndex, "index entry key (%d bytes) does not fit in entry (%d bytes)", keySize, entrySize)
			}

			entry.Key = entryBytes[indexEntryHeaderSize : indexEntryHeaderSize+keySize]

			if collation == CollationFilename {
				entry.Value = entryBytes[0:8]
			} else if dataSize > 0 {
				if dataOffset+dataSize > entrySize {
					panicKind(ErrCorruptIndex, "index entry value runs past entry bounds")
				}

				entry.Value = entryBytes[dataOffset : dataOffset+dataSize]
			}
		}

		if entry.HasSubnode {
			if entrySize < 8 {
				panicKind(ErrCorruptIndex, "index entry too small to hold a subnode vcn")
			}

			entry.SubnodeVcn = ntfsByteOrder.Uint64(entryBytes[entrySize-8 : entrySize])
		}

		node.entries = append(node.entries, entry)

		offset += entrySize
	}

	return node
}

// IndexBitmap is the set of allocated child-node VCNs decoded from an
// index's $BITMAP attribute.
type IndexBitmap []byte

func (ib IndexBitmap) isAllocated(vcn uint64) bool {
	byteIndex := vcn / 8
	if byteIndex >= uint64(len(ib)) {
		return false
	}

	return ib[byteIndex]&(1<<(vcn%8)) != 0
}

// IndexEngine represents one named NTFS index ($I30, $SII, $SDH, ...): a
// B+-tree descent over $INDEX_ROOT/$INDEX_ALLOCATION with a
// collation-parameterized comparator.
type IndexEngine struct {
	upcase        UpcaseTable
	attrType      AttributeType
	collation     CollationType
	nodeSize      uint32
	sectorSize    uint32
	root          *indexNode
	childStream   *ClusterStream
	bitmap        IndexBitmap
	hasAllocation bool

	nodeCache cache.LoadingCache
}

// OpenIndexEngine builds an IndexEngine from an MftEntry's $INDEX_ROOT
// (named indexName, e.g. "$I30") plus its optional $INDEX_ALLOCATION and
// $BITMAP companions.
func OpenIndexEngine(vol *Volume, upcase UpcaseTable, entry *MftEntry, indexName string, cacheSize int) (engine *IndexEngine, err error) {
	defer recoverAsError(&err)

	if cacheSize <= 0 {
		cacheSize = defaultMftCacheSize
	}

	rootAttr, found := entry.FindAttribute(AttributeTypeIndexRoot, indexName)
	if found != true {
		panicKind(ErrNotFound, "entry (%d) has no $INDEX_ROOT named (%s)", entry.Index(), indexName)
	}

	rootData := rootAttr.ResidentData()
	if len(rootData) < indexRootOffsetNodeHeader+indexNodeHeaderSize {
		panicKind(ErrCorruptIndex, "$INDEX_ROOT attribute truncated")
	}

	collation := CollationType(ntfsByteOrder.Uint32(rootData[indexRootOffsetCollationType:]))
	nodeSize := ntfsByteOrder.Uint32(rootData[indexRootOffsetEntrySize:])

	switch collation {
	case CollationFilename, CollationUlong, CollationSecurityHash:
	default:
		panicKind(ErrUnsupported, "unsupported index collation (0x%x)", uint32(collation))
	}

	engine = &IndexEngine{
		upcase:     upcase,
		attrType:   AttributeType(ntfsByteOrder.Uint32(rootData[indexRootOffsetAttrType:])),
		collation:  collation,
		nodeSize:   nodeSize,
		sectorSize: vol.SectorSize(),
		root:       parseIndexNode(rootData, indexRootOffsetNodeHeader, collation),
	}

	allocAttr, hasAlloc := entry.FindAttribute(AttributeTypeIndexAllocation, indexName)
	if hasAlloc {
		engine.hasAllocation = true
		engine.childStream = newClusterStream(vol, allocAttr)
		engine.nodeCache = cache.NewLoadingCache(engine.loadChildNode, cache.WithMaximumSize(cacheSize))
	}

	if bitmapAttr, hasBitmap := entry.FindAttribute(AttributeTypeBitmap, indexName); hasBitmap {
		if bitmapAttr.IsResident() {
			engine.bitmap = IndexBitmap(bitmapAttr.ResidentData())
		} else {
			bitmapStream := newClusterStream(vol, bitmapAttr)
			buf := make([]byte, bitmapStream.Size())
			bitmapStream.readFullAt(buf, 0)
			engine.bitmap = IndexBitmap(buf)
		}
	}

	return engine, nil
}

func (ie *IndexEngine) loadChildNode(key cache.Key) (cache.Value, error) {
	vcn := key.(uint64)

	if ie.bitmap != nil && ie.bitmap.isAllocated(vcn) != true {
		return nil, &Error{Kind: ErrNotFound, Message: "child node vcn is marked free in $BITMAP"}
	}

	raw := make([]byte, ie.nodeSize)
	ie.childStream.readFullAt(raw, int64(vcn)*int64(ie.nodeSize))

	fixedUp := readFixedUp(raw, []byte(indexAllocationSignature), ie.nodeSize, ie.sectorSize)

	recordedVcn := ntfsByteOrder.Uint64(fixedUp[indexAllocationOffsetVcn:])
	if recordedVcn != vcn {
		panicKind(ErrCorruptIndex, "index node vcn mismatch: expected (%d) got (%d)", vcn, recordedVcn)
	}

	return parseIndexNode(fixedUp, indexAllocationNodeHeaderStart, ie.collation), nil
}

func (ie *IndexEngine) childNode(vcn uint64) (*indexNode, error) {
	if ie.hasAllocation != true {
		return nil, &Error{Kind: ErrNotFound, Message: "index has no $INDEX_ALLOCATION"}
	}

	value, err := ie.nodeCache.Get(vcn)
	if err != nil {
		return nil, err
	}

	return value.(*indexNode), nil
}

// compareKeys implements the collation rule selected at construction.
func (ie *IndexEngine) compareKeys(probe []byte, entryKey []byte) int {
	switch ie.collation {
	case CollationFilename:
		probeName := parseFileNameData(probe)
		entryName := parseFileNameData(entryKey)

		return ie.upcase.CompareFilenames(probeName.Name, entryName.Name)

	case CollationUlong:
		a := ntfsByteOrder.Uint32(probe)
		b := ntfsByteOrder.Uint32(entryKey)

		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}

	case CollationSecurityHash:
		ah := ntfsByteOrder.Uint32(probe)
		bh := ntfsByteOrder.Uint32(entryKey)

		if ah != bh {
			if ah < bh {
				return -1
			}

			return 1
		}

		aid := ntfsByteOrder.Uint32(probe[4:])
		bid := ntfsByteOrder.Uint32(entryKey[4:])

		switch {
		case aid < bid:
			return -1
		case aid > bid:
			return 1
		default:
			return 0
		}
	}

	panicKind(ErrUnsupported, "unsupported index collation (0x%x)", uint32(ie.collation))
	return 0
}

// Find descends the index, returning the matching entry's value bytes.
func (ie *IndexEngine) Find(key []byte) (value []byte, err error) {
	defer recoverAsError(&err)

	entry, found := ie.descend(ie.root, key, 0)
	if found != true {
		return nil, &Error{Kind: ErrNotFound, Message: "key not found in index"}
	}

	return entry.Value, nil
}

func (ie *IndexEngine) descend(node *indexNode, key []byte, depth int) (IndexEntry, bool) {
	if depth > indexMaxRecursionDepth {
		panicKind(ErrCorruptIndex, "index descent exceeded recursion depth (%d)", indexMaxRecursionDepth)
	}

	for _, entry := range node.entries {
		if entry.IsLast {
			if entry.HasSubnode {
				child, err := ie.childNode(entry.SubnodeVcn)
				if err != nil {
					return IndexEntry{}, false
				}

				return ie.descend(child, key, depth+1)
			}

			return IndexEntry{}, false
		}

		cmp := ie.compareKeys(key, entry.Key)

		switch {
		case cmp == 0:
			return entry, true

		case cmp < 0:
			if entry.HasSubnode != true {
				return IndexEntry{}, false
			}

			child, err := ie.childNode(entry.SubnodeVcn)
			if err != nil {
				return IndexEntry{}, false
			}

			return ie.descend(child, key, depth+1)
		}
	}

	return IndexEntry{}, false
}

// Walk performs an in-order traversal of every entry in the index,
// invoking visit(key, value) for each. Traversal stops early if visit
// returns false.
func (ie *IndexEngine) Walk(visit func(key, value []byte) bool) error {
	_, err := ie.walkNode(ie.root, 0, visit)
	return err
}

func (ie *IndexEngine) walkNode(node *indexNode, depth int, visit func(key, value []byte) bool) (bool, error) {
	if depth > indexMaxRecursionDepth {
		return false, &Error{Kind: ErrCorruptIndex, Message: "index walk exceeded recursion depth"}
	}

	for _, entry := range node.entries {
		if entry.HasSubnode {
			child, err := ie.childNode(entry.SubnodeVcn)
			if err != nil {
				return false, err
			}

			cont, err := ie.walkNode(child, depth+1, visit)
			if err != nil {
				return false, err
			}

			if cont != true {
				return false, nil
			}
		}

		if entry.IsLast {
			continue
		}

		if visit(entry.Key, entry.Value) != true {
			return false, nil
		}
	}

	return true, nil
}
