package ntfs

const (
	sdsRecordHeaderSize = 20

	sdsOffsetHash   = 0x00
	sdsOffsetId     = 0x04
	sdsOffsetOffset = 0x08
	sdsOffsetSize   = 0x10

	siiOffsetId       = 0x04
	secureMftIndex    = 9
)

// SecurityDescriptorStore resolves a security_id (as carried by
// $STANDARD_INFORMATION) to its raw descriptor bytes via MFT entry #9's
// $Secure $SII index and $SDS stream: a numeric-collation IndexEngine
// lookup followed by a secondary byte-stream read.
type SecurityDescriptorStore struct {
	sii *IndexEngine
	sds *ClusterStream
}

// OpenSecurityDescriptorStore builds the store from MFT entry #9.
func OpenSecurityDescriptorStore(vol *Volume, mft *Mft, upcase UpcaseTable) (store *SecurityDescriptorStore, err error) {
	defer recoverAsError(&err)

	secureEntry, ferr := mft.Entry(secureMftIndex)
	if ferr != nil {
		return nil, ferr
	}

	if secureEntry.IsAllocated() != true {
		panicKind(ErrNotFound, "mft entry #9 ($Secure) is not allocated")
	}

	sii, ierr := OpenIndexEngine(vol, upcase, secureEntry, "$SII", 0)
	if ierr != nil {
		return nil, ierr
	}

	sdsAttr, found := secureEntry.FindAttribute(AttributeTypeData, "$SDS")
	if found != true {
		panicKind(ErrNotFound, "mft entry #9 has no named $SDS $DATA attribute")
	}

	return &SecurityDescriptorStore{
		sii: sii,
		sds: newClusterStream(vol, sdsAttr),
	}, nil
}

// Get resolves security_id to the raw descriptor payload (self-relative
// SECURITY_DESCRIPTOR bytes), excluding the 20-byte $SDS record header.
func (store *SecurityDescriptorStore) Get(securityId uint32) (data []byte, err error) {
	defer recoverAsError(&err)

	probe := make([]byte, 4)
	ntfsByteOrder.PutUint32(probe, securityId)

	value, ferr := store.sii.Find(probe)
	if ferr != nil {
		return nil, ferr
	}

	if len(value) < 20 {
		panicKind(ErrInvalidRecord, "$SII value too small to hold (data_offset, data_size)")
	}

	dataOffset := ntfsByteOrder.Uint64(value[8:])
	dataSize := uint64(ntfsByteOrder.Uint32(value[16:]))

	if dataSize < sdsRecordHeaderSize {
		panicKind(ErrInvalidRecord, "$SDS record size (%d) smaller than its own header", dataSize)
	}

	record := make([]byte, dataSize)
	store.sds.readFullAt(record, int64(dataOffset))

	recordId := ntfsByteOrder.Uint32(record[sdsOffsetId:])
	recordSize := uint64(ntfsByteOrder.Uint32(record[sdsOffsetSize:]))

	if recordId != securityId || recordSize != dataSize {
		panicKind(ErrInvalidRecord, "$SDS record header mismatch: id(%d/%d) size(%d/%d)", recordId, securityId, recordSize, dataSize)
	}

	return record[sdsRecordHeaderSize:], nil
}
