package ntfs

import (
	"bytes"
	"fmt"
	"math"
)

const (
	bootSectorSize = 512

	offsetOemId              = 0x03
	offsetBytesPerSector     = 0x0b
	offsetSectorsPerCluster  = 0x0d
	offsetTotalSectors       = 0x28
	offsetMftStartLcn        = 0x30
	offsetMftMirrorStartLcn  = 0x38
	offsetMftRecordSizeRaw   = 0x40
	offsetIndexRecordSizeRaw = 0x44
	offsetVolumeSerialNumber = 0x48
)

var (
	requiredOemId = []byte("NTFS    ")
)

// Volume binds a BlockReader and parses the boot sector, exposing cluster
// and sector geometry. Most of an NTFS boot sector is BIOS-parameter-block
// filler and a trailing boot-strap loader this engine never touches, so
// the handful of meaningful fields are read directly by offset instead of
// unpacked wholesale.
type Volume struct {
	br BlockReader

	sectorSize        uint32
	sectorsPerCluster uint32
	clusterSize       uint32
	mftEntrySize      uint32
	indexEntrySize    uint32
	mftStartLcn       uint64
	mftMirrorStartLcn uint64
	serialNumber      uint64
}

// OpenVolume parses the boot sector of the given block reader and returns a
// Volume describing its geometry. A malformed boot sector is the only
// failure that fails the entire open outright.
func OpenVolume(br BlockReader) (vol *Volume, err error) {
	defer recoverAsError(&err)

	raw := make([]byte, bootSectorSize)
	readFullAt(br, raw, 0)

	oemId := raw[offsetOemId : offsetOemId+8]
	if bytes.Equal(oemId, requiredOemId) != true {
		panicKind(ErrInvalidSignature, "not an NTFS volume: oem-id (%x)", oemId)
	}

	sectorSize := uint32(ntfsByteOrder.Uint16(raw[offsetBytesPerSector:]))
	if sectorSize == 0 || (sectorSize&(sectorSize-1)) != 0 {
		panicKind(ErrInvalidRecord, "bytes-per-sector not a power of two: (%d)", sectorSize)
	}

	sectorsPerCluster := uint32(raw[offsetSectorsPerCluster])
	clusterSize := sectorsPerCluster * sectorSize

	if clusterSize < sectorSize || (clusterSize&(clusterSize-1)) != 0 {
		panicKind(ErrInvalidRecord, "cluster-size not a power-of-two multiple of sector-size: (%d)", clusterSize)
	}

	mftRecordSizeRaw := int8(raw[offsetMftRecordSizeRaw])
	mftEntrySize := decodeRecordSizeExponent(mftRecordSizeRaw, clusterSize)

	if mftEntrySize%sectorSize != 0 {
		panicKind(ErrInvalidRecord, "mft-entry-size not a multiple of sector-size: (%d)", mftEntrySize)
	}

	indexRecordSizeRaw := int8(raw[offsetIndexRecordSizeRaw])
	indexEntrySize := decodeRecordSizeExponent(indexRecordSizeRaw, clusterSize)

	mftStartLcn := ntfsByteOrder.Uint64(raw[offsetMftStartLcn:])
	mftMirrorStartLcn := ntfsByteOrder.Uint64(raw[offsetMftMirrorStartLcn:])
	serialNumber := ntfsByteOrder.Uint64(raw[offsetVolumeSerialNumber:])

	vol = &Volume{
		br: br,

		sectorSize:        sectorSize,
		sectorsPerCluster: sectorsPerCluster,
		clusterSize:       clusterSize,
		mftEntrySize:      mftEntrySize,
		indexEntrySize:    indexEntrySize,
		mftStartLcn:       mftStartLcn,
		mftMirrorStartLcn: mftMirrorStartLcn,
		serialNumber:      serialNumber,
	}

	return vol, nil
}

// decodeRecordSizeExponent implements NTFS's signed int8 exponent
// convention: positive values are a count of clusters, negative values
// are 2^|x| bytes.
func decodeRecordSizeExponent(raw int8, clusterSize uint32) uint32 {
	if raw >= 0 {
		if raw == 0 {
			return clusterSize
		}

		return uint32(raw) * clusterSize
	}

	return uint32(math.Pow(2, float64(-raw)))
}

// SectorSize is the volume's sector size in bytes.
func (vol *Volume) SectorSize() uint32 {
	return vol.sectorSize
}

// SectorsPerCluster is the volume's sectors-per-cluster count.
func (vol *Volume) SectorsPerCluster() uint32 {
	return vol.sectorsPerCluster
}

// ClusterSize is the volume's cluster size in bytes.
func (vol *Volume) ClusterSize() uint32 {
	return vol.clusterSize
}

// MftEntrySize is the configured size, in bytes, of one MFT record.
func (vol *Volume) MftEntrySize() uint32 {
	return vol.mftEntrySize
}

// IndexEntrySize is the configured size, in bytes, of one index-allocation
// node.
func (vol *Volume) IndexEntrySize() uint32 {
	return vol.indexEntrySize
}

// MftStartLcn is the LCN of the first cluster of $MFT.
func (vol *Volume) MftStartLcn() uint64 {
	return vol.mftStartLcn
}

// MftMirrorStartLcn is the LCN of the first cluster of $MFTMirr.
func (vol *Volume) MftMirrorStartLcn() uint64 {
	return vol.mftMirrorStartLcn
}

// SerialNumber is the volume's serial number.
func (vol *Volume) SerialNumber() uint64 {
	return vol.serialNumber
}

// ClusterOffset returns the byte offset of the given LCN.
func (vol *Volume) ClusterOffset(lcn uint64) int64 {
	return int64(lcn) * int64(vol.clusterSize)
}

// BlockReader returns the underlying block reader.
func (vol *Volume) BlockReader() BlockReader {
	return vol.br
}

// String returns a descriptive summary of the volume's geometry.
func (vol *Volume) String() string {
	return fmt.Sprintf(
		"Volume<SN=(0x%016x) SECTOR-SIZE=(%d) CLUSTER-SIZE=(%d) MFT-ENTRY-SIZE=(%d)>",
		vol.serialNumber, vol.sectorSize, vol.clusterSize, vol.mftEntrySize)
}
