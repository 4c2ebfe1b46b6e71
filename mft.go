package ntfs

import (
	"github.com/goburrow/cache"
)

const defaultMftCacheSize = 8

// Mft is the logical vector of MFT entries, indexed by mft_index and
// backed by a ClusterStream over $MFT's own $DATA attribute. Bootstrapping
// reads entry #0 directly from the boot sector's MFT start LCN, and its
// own $DATA data runs are then used for every subsequent entry (including
// entry #0 itself, read again through the stream for consistency). Entry
// lookups are served through an LRU-bounded index→entry cache.
type Mft struct {
	vol         *Volume
	entrySize   uint32
	stream      *ClusterStream
	numEntries  uint64
	entryCache  cache.LoadingCache
}

// OpenMft bootstraps the $MFT from the volume's boot sector.
func OpenMft(vol *Volume, cacheSize int) (mft *Mft, err error) {
	defer recoverAsError(&err)

	if cacheSize <= 0 {
		cacheSize = defaultMftCacheSize
	}

	bootstrapOffset := vol.ClusterOffset(vol.MftStartLcn())
	bootstrapRaw := readFixedUpRecord(vol.BlockReader(), bootstrapOffset, []byte(entrySignature), vol.MftEntrySize(), vol.SectorSize())

	bootstrapEntry := parseMftEntry(bootstrapRaw, 0, vol.ClusterSize())
	if bootstrapEntry.IsAllocated() != true {
		panicKind(ErrInvalidRecord, "mft entry #0 is not marked in-use")
	}

	// $MFT's own record is not attribute-list merged here: doing so would
	// need a working Mft to resolve extension records, which does not
	// exist yet during bootstrap. In practice $MFT's own $STANDARD_INFORMATION/
	// $FILE_NAME/$DATA fit in entry #0 without externalisation.

	dataAttr, found := bootstrapEntry.UnnamedData()
	if found != true {
		panicKind(ErrInvalidRecord, "mft entry #0 has no unnamed $DATA attribute")
	}

	if dataAttr.IsResident() {
		panicKind(ErrInvalidRecord, "$MFT's $DATA attribute must be non-resident")
	}

	stream := newClusterStream(vol, dataAttr)

	mft = &Mft{
		vol:        vol,
		entrySize:  vol.MftEntrySize(),
		stream:     stream,
		numEntries: dataAttr.AllocatedSize() / uint64(vol.MftEntrySize()),
	}

	mft.entryCache = cache.NewLoadingCache(mft.loadEntryForCache, cache.WithMaximumSize(cacheSize))

	return mft, nil
}

// NumberOfEntries is `allocated_size($DATA) / mft_entry_size`.
func (mft *Mft) NumberOfEntries() uint64 {
	return mft.numEntries
}

func (mft *Mft) loadEntryForCache(key cache.Key) (cache.Value, error) {
	index := key.(uint64)

	entry, err := mft.readEntryUncached(index)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (mft *Mft) readEntryUncached(index uint64) (entry *MftEntry, err error) {
	defer recoverAsError(&err)

	if index >= mft.numEntries {
		panicKind(ErrOutOfBounds, "mft index (%d) >= number of entries (%d)", index, mft.numEntries)
	}

	raw := make([]byte, mft.entrySize)
	mft.stream.readFullAt(raw, int64(index)*int64(mft.entrySize))

	fixedUp := readFixedUp(raw, []byte(entrySignature), mft.entrySize, mft.vol.SectorSize())

	parsed := parseMftEntry(fixedUp, index, mft.vol.ClusterSize())

	if parsed.IsAllocated() && parsed.attributeList != nil {
		listData := attributeListBytes(mft.vol, parsed.attributeList)
		mergeAttributeList(parsed, listData, mft.Entry)
	}

	return parsed, nil
}

// Entry returns the cached MftEntry for the given index, parsing and
// caching it on first access.
func (mft *Mft) Entry(index uint64) (*MftEntry, error) {
	value, err := mft.entryCache.Get(index)
	if err != nil {
		return nil, err
	}

	return value.(*MftEntry), nil
}

// FreshEntry re-reads the entry bypassing the cache.
func (mft *Mft) FreshEntry(index uint64) (*MftEntry, error) {
	return mft.readEntryUncached(index)
}

// attributeListBytes reads an $ATTRIBUTE_LIST attribute's full content,
// whether resident or spread across a data-run chain.
func attributeListBytes(vol *Volume, attr *MftAttribute) []byte {
	if attr.IsResident() {
		return attr.ResidentData()
	}

	cs := newClusterStream(vol, attr)

	buf := make([]byte, cs.Size())
	cs.readFullAt(buf, 0)

	return buf
}
