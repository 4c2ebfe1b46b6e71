package ntfs

import (
	"strings"
	"sync"
)

const (
	rootDirectoryMftIndex   = 5
	bitmapMftIndex          = 6
	pathHintRecursionCap    = 256
	orphanPath              = `\$Orphan`
)

// Options configures a FileSystem's cache sizes and optional features.
type Options struct {
	MftCacheSize             int
	IndexNodeCacheSize       int
	CompressionUnitCacheSize int
	ParseBitmap              bool
	Decompressor             Decompressor
}

// DefaultOptions returns the engine's default configuration.
func DefaultOptions() Options {
	return Options{
		MftCacheSize:             defaultMftCacheSize,
		IndexNodeCacheSize:       defaultMftCacheSize,
		CompressionUnitCacheSize: defaultCompressionUnitCacheSize,
		ParseBitmap:              true,
		Decompressor:             Lznt1Decompressor{},
	}
}

// FileSystem is the top-level entry point: it binds a volume, its MFT,
// and the supporting $UpCase/$Secure/$BITMAP structures, and exposes
// navigation from the root directory.
type FileSystem struct {
	vol     *Volume
	mft     *Mft
	opts    Options
	upcase  UpcaseTable
	secure  *SecurityDescriptorStore
	bitmap  *VolumeBitmap

	pathHintMu sync.Mutex
	pathHints  map[FileReference]string
}

// Open parses the boot sector, bootstraps the MFT, and optionally loads
// $Secure and $BITMAP.
func Open(br BlockReader, opts Options) (fs *FileSystem, err error) {
	defer recoverAsError(&err)

	vol, verr := OpenVolume(br)
	if verr != nil {
		return nil, verr
	}

	mft, merr := OpenMft(vol, opts.MftCacheSize)
	if merr != nil {
		return nil, merr
	}

	fs = &FileSystem{
		vol:       vol,
		mft:       mft,
		opts:      opts,
		pathHints: make(map[FileReference]string),
	}

	fs.loadUpcaseTable()

	if opts.ParseBitmap {
		if bitmap, berr := loadVolumeBitmap(vol, mft); berr == nil {
			fs.bitmap = bitmap
		}
	}

	if secureEntry, serr := mft.Entry(secureMftIndex); serr == nil && secureEntry.IsAllocated() {
		if store, serr2 := OpenSecurityDescriptorStore(vol, mft, fs.upcase); serr2 == nil {
			fs.secure = store
		}
	}

	return fs, nil
}

const upcaseMftIndex = 10

// loadUpcaseTable reads MFT entry #10's ($UpCase) unnamed $DATA into an
// UpcaseTable, best-effort: a volume missing or unable to supply it falls
// back to ASCII-only folding (utf16.go's upcaseAsciiFold).
func (fs *FileSystem) loadUpcaseTable() {
	entry, err := fs.mft.Entry(upcaseMftIndex)
	if err != nil || entry.IsAllocated() != true {
		return
	}

	dataAttr, found := entry.UnnamedData()
	if found != true {
		return
	}

	var raw []byte

	if dataAttr.IsResident() {
		raw = dataAttr.ResidentData()
	} else {
		stream := newClusterStream(fs.vol, dataAttr)
		raw = make([]byte, stream.Size())
		stream.readFullAt(raw, 0)
	}

	table := make(UpcaseTable, len(raw)/2)
	for i := range table {
		table[i] = ntfsByteOrder.Uint16(raw[i*2:])
	}

	fs.upcase = table
}

// Root returns the root directory's FileEntry (MFT #5).
func (fs *FileSystem) Root() (*FileEntry, error) {
	return fs.FileEntryByReference(FileReference(rootDirectoryMftIndex))
}

// FileEntryByReference resolves a FileReference to a FileEntry, verifying
// the sequence number matches (a stale reference to a recycled slot is
// reported as NotFound rather than silently returning the new occupant).
func (fs *FileSystem) FileEntryByReference(ref FileReference) (fe *FileEntry, err error) {
	defer recoverAsError(&err)

	entry, eerr := fs.mft.Entry(ref.MftIndex())
	if eerr != nil {
		return nil, eerr
	}

	if ref.SequenceNumber() != 0 && entry.SequenceNumber() != ref.SequenceNumber() {
		return nil, &Error{Kind: ErrNotFound, Message: "file reference sequence number does not match"}
	}

	return newFileEntry(fs, entry)
}

// FileEntryByUtf16Path resolves a `\`-separated path (case-insensitive per
// the FILENAME collation) starting at the root directory.
func (fs *FileSystem) FileEntryByUtf16Path(path string) (*FileEntry, error) {
	current, err := fs.Root()
	if err != nil {
		return nil, err
	}

	path = strings.Trim(path, `\`)
	if path == "" {
		return current, nil
	}

	for _, component := range strings.Split(path, `\`) {
		current, err = current.ChildByName(component)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// pathHintFor returns a memoized, recursively-resolved path for a file
// reference.
func (fs *FileSystem) pathHintFor(ref FileReference) (string, error) {
	fs.pathHintMu.Lock()
	defer fs.pathHintMu.Unlock()

	return fs.pathHintForLocked(ref, 0)
}

func (fs *FileSystem) pathHintForLocked(ref FileReference, depth int) (string, error) {
	if ref.MftIndex() == rootDirectoryMftIndex {
		return `\`, nil
	}

	if cached, ok := fs.pathHints[ref]; ok {
		return cached, nil
	}

	if depth > pathHintRecursionCap {
		return orphanPath, nil
	}

	entry, err := fs.mft.Entry(ref.MftIndex())
	if err != nil || entry.IsAllocated() != true {
		return orphanPath, nil
	}

	fileNameAttr, found := findNonDosFileName(entry)
	if found != true {
		return orphanPath, nil
	}

	fn := ParseFileName(fileNameAttr)

	parentPath, err := fs.pathHintForLocked(fn.ParentDirectory, depth+1)
	if err != nil {
		return orphanPath, nil
	}

	var full string
	if parentPath == `\` {
		full = `\` + fn.Name
	} else {
		full = parentPath + `\` + fn.Name
	}

	fs.pathHints[ref] = full

	return full, nil
}

func findNonDosFileName(entry *MftEntry) (*MftAttribute, bool) {
	for _, attr := range entry.attributes {
		if attr.attrType != AttributeTypeFileName {
			continue
		}

		ns := fileNameNamespace(attr)
		if ns != byte(NamespaceDos) {
			return attr, true
		}
	}

	if fn, found := entry.PrimaryFileName(); found {
		return fn, true
	}

	return nil, false
}

// VolumeBitmap is the decoded $BITMAP of the volume's cluster allocation
// (MFT entry #6), kept only for diagnostics.
type VolumeBitmap struct {
	bits        []byte
	clusterSize uint32
}

func loadVolumeBitmap(vol *Volume, mft *Mft) (*VolumeBitmap, error) {
	entry, err := mft.Entry(bitmapMftIndex)
	if err != nil {
		return nil, err
	}

	dataAttr, found := entry.UnnamedData()
	if found != true {
		return nil, &Error{Kind: ErrNotFound, Message: "mft entry #6 has no unnamed $DATA"}
	}

	var raw []byte
	if dataAttr.IsResident() {
		raw = dataAttr.ResidentData()
	} else {
		stream := newClusterStream(vol, dataAttr)
		raw = make([]byte, stream.Size())
		stream.readFullAt(raw, 0)
	}

	return &VolumeBitmap{bits: raw, clusterSize: vol.ClusterSize()}, nil
}

// IsAllocated reports whether the given LCN is marked in-use.
func (vb *VolumeBitmap) IsAllocated(lcn uint64) bool {
	byteIndex := lcn / 8
	if byteIndex >= uint64(len(vb.bits)) {
		return false
	}

	return vb.bits[byteIndex]&(1<<(lcn%8)) != 0
}

// AllocatedClusterRanges returns contiguous [start, end) LCN ranges marked
// allocated, for diagnostic reporting.
func (vb *VolumeBitmap) AllocatedClusterRanges() [][2]uint64 {
	var ranges [][2]uint64

	var rangeStart uint64
	inRange := false

	totalClusters := uint64(len(vb.bits)) * 8

	for lcn := uint64(0); lcn < totalClusters; lcn++ {
		allocated := vb.IsAllocated(lcn)

		switch {
		case allocated && !inRange:
			rangeStart = lcn
			inRange = true

		case !allocated && inRange:
			ranges = append(ranges, [2]uint64{rangeStart, lcn})
			inRange = false
		}
	}

	if inRange {
		ranges = append(ranges, [2]uint64{rangeStart, totalClusters})
	}

	return ranges
}
