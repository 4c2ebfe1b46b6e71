package ntfs

import "time"

// AlternateDataStream names one non-default named $DATA attribute.
type AlternateDataStream struct {
	name string
	attr *MftAttribute
	fs   *FileSystem
}

func (ads *AlternateDataStream) Name() string { return ads.name }

// ReadAt reads len(p) bytes from the stream at the given offset.
func (ads *AlternateDataStream) ReadAt(p []byte, off int64) (int, error) {
	return readAttributeData(ads.fs, ads.attr, p, off)
}

func (ads *AlternateDataStream) Size() uint64 { return ads.attr.DataSize() }

// FileEntry is the per-file facade built from a (FileSystem, MftEntry)
// pair: one handle per filesystem object, reaching its children through
// its own $I30 index and its streams through its $DATA attributes.
type FileEntry struct {
	fs    *FileSystem
	entry *MftEntry
}

func newFileEntry(fs *FileSystem, entry *MftEntry) (*FileEntry, error) {
	if entry.IsExtensionRecord() {
		return nil, &Error{Kind: ErrInvalidRecord, Message: "cannot build a FileEntry for an extension mft record"}
	}

	return &FileEntry{fs: fs, entry: entry}, nil
}

func (fe *FileEntry) FileReference() FileReference {
	return fe.entry.FileReference()
}

func (fe *FileEntry) ParentFileReference() (FileReference, bool) {
	fn, found := findNonDosFileName(fe.entry)
	if found != true {
		return 0, false
	}

	return ParseFileName(fn).ParentDirectory, true
}

func (fe *FileEntry) IsDirectory() bool  { return fe.entry.IsDirectory() }
func (fe *FileEntry) IsAllocated() bool  { return fe.entry.IsAllocated() }
func (fe *FileEntry) IsEmpty() bool      { return fe.entry.IsAllocated() != true }

func (fe *FileEntry) HasDefaultDataStream() bool {
	_, found := fe.entry.UnnamedData()
	return found
}

// Name returns the preferred display name per the $FILE_NAME namespace
// preference order (see entry.go's classify and namespacePriority).
func (fe *FileEntry) Name() string {
	fn, found := fe.entry.PrimaryFileName()
	if found != true {
		return ""
	}

	return ParseFileName(fn).Name
}

func (fe *FileEntry) NameUtf16() []byte {
	return encodeUtf16Le(fe.Name())
}

func (fe *FileEntry) standardInformation() *StandardInformationAttribute {
	if si, found := fe.entry.StandardInformation(); found {
		return ParseStandardInformation(si)
	}

	return nil
}

// timeOrFallback returns a $STANDARD_INFORMATION timestamp, falling back
// to the primary $FILE_NAME's copy when $STANDARD_INFORMATION is absent.
func (fe *FileEntry) timeOrFallback(fromStd func(*StandardInformationAttribute) time.Time, fromName func(*FileNameAttribute) time.Time) time.Time {
	if si := fe.standardInformation(); si != nil {
		return fromStd(si)
	}

	if fn, found := fe.entry.PrimaryFileName(); found {
		return fromName(ParseFileName(fn))
	}

	return time.Time{}
}

func (fe *FileEntry) CreationTime() time.Time {
	return fe.timeOrFallback(
		func(si *StandardInformationAttribute) time.Time { return si.CreationTime },
		func(fn *FileNameAttribute) time.Time { return fn.CreationTime })
}

func (fe *FileEntry) ModificationTime() time.Time {
	return fe.timeOrFallback(
		func(si *StandardInformationAttribute) time.Time { return si.ModificationTime },
		func(fn *FileNameAttribute) time.Time { return fn.ModificationTime })
}

func (fe *FileEntry) AccessTime() time.Time {
	return fe.timeOrFallback(
		func(si *StandardInformationAttribute) time.Time { return si.AccessTime },
		func(fn *FileNameAttribute) time.Time { return fn.AccessTime })
}

func (fe *FileEntry) EntryModificationTime() time.Time {
	return fe.timeOrFallback(
		func(si *StandardInformationAttribute) time.Time { return si.MftChangeTime },
		func(fn *FileNameAttribute) time.Time { return fn.MftChangeTime })
}

func (fe *FileEntry) FileAttributeFlags() FileAttributes {
	if si := fe.standardInformation(); si != nil {
		return si.FileAttributes
	}

	if fn, found := fe.entry.PrimaryFileName(); found {
		return ParseFileName(fn).FileAttributes
	}

	return 0
}

// SecurityDescriptor returns the raw descriptor bytes for this entry's
// security_id, if both a $STANDARD_INFORMATION security_id and a
// SecurityDescriptorStore are available.
func (fe *FileEntry) SecurityDescriptor() ([]byte, bool) {
	si, found := fe.entry.StandardInformation()
	if found != true || fe.fs.secure == nil {
		return nil, false
	}

	// The v3.x trailer starts with owner_id (u32) at 0x30, followed by
	// security_id (u32) at 0x34.
	data := si.ResidentData()
	if len(data) < stdInfoMinSize+8 {
		return nil, false
	}

	securityId := ntfsByteOrder.Uint32(data[stdInfoMinSize+4:])

	descriptor, err := fe.fs.secure.Get(securityId)
	if err != nil {
		return nil, false
	}

	return descriptor, true
}

// Size is the unnamed $DATA's data_size, or 0 for directories/special
// entries with no unnamed $DATA.
func (fe *FileEntry) Size() uint64 {
	dataAttr, found := fe.entry.UnnamedData()
	if found != true {
		return 0
	}

	return dataAttr.DataSize()
}

// readAttributeData reads len(p) bytes at offset `off` from `attr`'s
// logical data, choosing among resident bytes, a plain ClusterStream, or a
// CompressedBlockStream. WOF-backed entries are not handled here; see
// DataStream.
func readAttributeData(fs *FileSystem, attr *MftAttribute, p []byte, off int64) (n int, err error) {
	defer recoverAsError(&err)

	if attr.IsResident() {
		data := attr.ResidentData()
		if off < 0 || int(off) > len(data) {
			panicKind(ErrOutOfBounds, "offset (%d) outside resident data (%d bytes)", off, len(data))
		}

		return copy(p, data[off:]), nil
	}

	if attr.DataFlags().IsEncrypted() {
		panicKind(ErrUnsupported, "attribute is encrypted")
	}

	if attr.DataFlags().IsCompressed() {
		decompressor := fs.opts.Decompressor
		if decompressor == nil {
			decompressor = Lznt1Decompressor{}
		}

		cbs := NewCompressedBlockStream(fs.vol, attr, decompressor, fs.opts.CompressionUnitCacheSize)
		cbs.ReadAt(p, off)

		return len(p), nil
	}

	cs := newClusterStream(fs.vol, attr)
	cs.readFullAt(p, off)

	return len(p), nil
}

// DataStream returns a ReaderAt over the entry's default data: the
// unnamed $DATA attribute, or (when the entry is a WOF reparse point) the
// transparently-decoded "WofCompressedData" alternate stream.
func (fe *FileEntry) DataStream() (BlockReader, error) {
	if wofAttr, isWof := isWofCompressed(fe.entry); isWof {
		reparseAttr, _ := fe.entry.FindAttribute(AttributeTypeReparsePoint, "")
		rp := ParseReparsePoint(reparseAttr)

		unnamedSize := fe.Size()

		cfg, err := ParseWofConfiguration(rp, reparseAttr, unnamedSize)
		if err != nil {
			return nil, err
		}

		decompressor, err := decompressorFor(cfg.Algorithm)
		if err != nil {
			return nil, err
		}

		return &wofDataStream{fe: fe, wofAttr: wofAttr, decompressor: decompressor}, nil
	}

	dataAttr, found := fe.entry.UnnamedData()
	if found != true {
		return nil, &Error{Kind: ErrNotFound, Message: "entry has no unnamed $DATA attribute"}
	}

	return &attributeDataStream{fs: fe.fs, attr: dataAttr}, nil
}

type attributeDataStream struct {
	fs   *FileSystem
	attr *MftAttribute
}

func (ads *attributeDataStream) ReadAt(p []byte, off int64) (int, error) {
	return readAttributeData(ads.fs, ads.attr, p, off)
}

// wofDataStream adapts the WofCompressedData alternate attribute plus its
// chosen Decompressor into a plain BlockReader over the logical
// (uncompressed) bytes.
type wofDataStream struct {
	fe           *FileEntry
	wofAttr      *MftAttribute
	decompressor Decompressor
}

func (ws *wofDataStream) ReadAt(p []byte, off int64) (n int, err error) {
	defer recoverAsError(&err)

	cbs := NewCompressedBlockStream(ws.fe.fs.vol, ws.wofAttr, ws.decompressor, ws.fe.fs.opts.CompressionUnitCacheSize)
	cbs.ReadAt(p, off)

	return len(p), nil
}

// AlternateDataStreams returns every named (non-default) $DATA attribute.
func (fe *FileEntry) AlternateDataStreams() []AlternateDataStream {
	var streams []AlternateDataStream

	for _, attr := range fe.entry.attributes {
		if attr.attrType == AttributeTypeData && attr.name != "" {
			streams = append(streams, AlternateDataStream{name: attr.name, attr: attr, fs: fe.fs})
		}
	}

	return streams
}

// Children enumerates this directory's $I30 index.
func (fe *FileEntry) Children() ([]*FileEntry, error) {
	engine, err := fe.indexEngine()
	if err != nil {
		return nil, err
	}

	var children []*FileEntry

	engine.Walk(func(key, value []byte) bool {
		fileRef := FileReference(ntfsByteOrder.Uint64(value))

		childEntry, eerr := fe.fs.mft.Entry(fileRef.MftIndex())
		if eerr != nil || childEntry.IsAllocated() != true {
			return true
		}

		if childEntry.SequenceNumber() != fileRef.SequenceNumber() {
			return true
		}

		child, cerr := newFileEntry(fe.fs, childEntry)
		if cerr != nil {
			return true
		}

		children = append(children, child)

		return true
	})

	return children, nil
}

// ChildByName looks up a single child by name via the $I30 index.
func (fe *FileEntry) ChildByName(name string) (*FileEntry, error) {
	engine, err := fe.indexEngine()
	if err != nil {
		return nil, err
	}

	probe := fileNameSearchKey(name)

	value, err := engine.Find(probe)
	if err != nil {
		return nil, &Error{Kind: ErrNotFound, Message: "no child named " + name}
	}

	fileRef := FileReference(ntfsByteOrder.Uint64(value))

	childEntry, err := fe.fs.mft.Entry(fileRef.MftIndex())
	if err != nil {
		return nil, err
	}

	if childEntry.IsAllocated() != true || childEntry.SequenceNumber() != fileRef.SequenceNumber() {
		return nil, &Error{Kind: ErrStaleReference, Message: "file reference sequence number does not match"}
	}

	return newFileEntry(fe.fs, childEntry)
}

func (fe *FileEntry) indexEngine() (*IndexEngine, error) {
	if fe.entry.IsDirectory() != true {
		return nil, &Error{Kind: ErrInvalidRecord, Message: "not a directory"}
	}

	return OpenIndexEngine(fe.fs.vol, fe.fs.upcase, fe.entry, "$I30", fe.fs.opts.IndexNodeCacheSize)
}

// fileNameSearchKey builds a minimal $FILE_NAME-shaped probe key (name
// field populated, sizes/times zeroed) for the FILENAME collation.
func fileNameSearchKey(name string) []byte {
	nameBytes := encodeUtf16Le(name)

	key := make([]byte, fileNameOffsetName+len(nameBytes))
	key[fileNameOffsetNameLength] = byte(len(nameBytes) / 2)
	copy(key[fileNameOffsetName:], nameBytes)

	return key
}

func (fe *FileEntry) ReparsePointTag() (ReparseTag, bool) {
	attr, found := fe.entry.FindAttribute(AttributeTypeReparsePoint, "")
	if found != true {
		return 0, false
	}

	return ParseReparsePoint(attr).Tag, true
}

func (fe *FileEntry) ReparseSubstituteName() (string, bool) {
	attr, found := fe.entry.FindAttribute(AttributeTypeReparsePoint, "")
	if found != true {
		return "", false
	}

	return ParseReparsePoint(attr).SubstituteName, true
}

func (fe *FileEntry) ReparsePrintName() (string, bool) {
	attr, found := fe.entry.FindAttribute(AttributeTypeReparsePoint, "")
	if found != true {
		return "", false
	}

	return ParseReparsePoint(attr).PrintName, true
}

// Path returns the cached/recursively-resolved path hint for this entry.
func (fe *FileEntry) Path() (string, error) {
	return fe.fs.pathHintFor(fe.FileReference())
}
