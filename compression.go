package ntfs

import (
	"github.com/goburrow/cache"
)

const defaultCompressionUnitCacheSize = 4

// BucketClassification is the per-compression-unit classification: whether
// a unit's clusters are entirely present (uncompressed), entirely absent
// (sparse), or a present prefix followed by a sparse tail (compressed).
type BucketClassification int

const (
	BucketUncompressed BucketClassification = iota
	BucketSparse
	BucketCompressed
)

// CompressionBucket is one fixed-size (except possibly the last) grouping
// of a compressed attribute's data runs.
type CompressionBucket struct {
	unitIndex      uint64
	firstVcn       uint64
	clusterCount   uint64 // clusters actually covered by data runs (may be < unit size for the final, short bucket)
	classification BucketClassification

	// onDiskExtents holds the present (non-sparse) runs making up the
	// bucket's on-disk payload, in VCN order. Empty for a sparse bucket.
	onDiskExtents []DataRun
}

// CompressionUnitPlan groups a compressed non-resident attribute's data
// runs into fixed-size compression-unit buckets, following the
// DataRunList/ClusterStream idiom used elsewhere in this package.
type CompressionUnitPlan struct {
	clusterSize          uint32
	unitClusters         uint64
	unitBytes            uint64
	allocatedSize         uint64
	buckets              []CompressionBucket
}

// buildCompressionUnitPlan walks the chain's merged data runs and buckets
// them. `attr` must be the chain head of a compressed non-resident
// attribute.
func buildCompressionUnitPlan(vol *Volume, attr *MftAttribute) *CompressionUnitPlan {
	if attr.IsResident() {
		panicKind(ErrInvalidRecord, "cannot build a compression plan over a resident attribute")
	}

	if attr.CompressionUnitSize() == 0 {
		panicKind(ErrInvalidRecord, "attribute (%s) has no compression unit size", attr.attrType)
	}

	clusterSize := vol.ClusterSize()
	unitBytes := uint64(attr.CompressionUnitSize())
	unitClusters := unitBytes / uint64(clusterSize)

	plan := &CompressionUnitPlan{
		clusterSize:   clusterSize,
		unitClusters:  unitClusters,
		unitBytes:     unitBytes,
		allocatedSize: attr.AllocatedSize(),
	}

	// Flatten the whole chain's runs into one VCN-ordered sequence.
	var allRuns []DataRun
	for _, frag := range attr.Chain() {
		allRuns = append(allRuns, frag.DataRuns().Runs()...)
	}

	totalClusters := plan.allocatedSize / uint64(clusterSize)

	var vcn uint64
	runIdx := 0
	runOffset := uint64(0) // clusters already consumed from allRuns[runIdx]

	for vcn < totalClusters {
		unitIndex := vcn / unitClusters
		bucketClusters := unitClusters
		if vcn+bucketClusters > totalClusters {
			bucketClusters = totalClusters - vcn
		}

		bucket := CompressionBucket{
			unitIndex: unitIndex,
			firstVcn:  vcn,
		}

		remaining := bucketClusters
		anyPresent := false
		anySparse := false

		for remaining > 0 {
			if runIdx >= len(allRuns) {
				panicKind(ErrInvalidRecord, "data runs do not cover the attribute's allocated size")
			}

			run := allRuns[runIdx]
			availableInRun := run.Length - runOffset
			take := availableInRun
			if take > remaining {
				take = remaining
			}

			if run.IsSparse {
				anySparse = true
			} else {
				anyPresent = true

				bucket.onDiskExtents = append(bucket.onDiskExtents, DataRun{
					Lcn:      run.Lcn + runOffset,
					Length:   take,
					IsSparse: false,
				})
			}

			runOffset += take
			remaining -= take
			bucket.clusterCount += take

			if runOffset == run.Length {
				runIdx++
				runOffset = 0
			}
		}

		switch {
		case !anySparse:
			bucket.classification = BucketUncompressed
		case !anyPresent:
			bucket.classification = BucketSparse
		default:
			bucket.classification = BucketCompressed
		}

		plan.buckets = append(plan.buckets, bucket)

		vcn += bucketClusters
	}

	return plan
}

// BucketFor returns the bucket covering the given VCN.
func (plan *CompressionUnitPlan) BucketFor(vcn uint64) (CompressionBucket, bool) {
	unitIndex := vcn / plan.unitClusters
	if unitIndex >= uint64(len(plan.buckets)) {
		return CompressionBucket{}, false
	}

	return plan.buckets[unitIndex], true
}

// CompressedBlockStream is a byte stream over a compressed attribute,
// backed by a CompressionUnitPlan and an LRU of decompressed unit buffers.
type CompressedBlockStream struct {
	vol           *Volume
	attr          *MftAttribute
	plan          *CompressionUnitPlan
	decompressor  Decompressor
	dataSize      uint64
	validDataSize uint64

	unitCache cache.LoadingCache
}

// Decompressor is the pluggable codec contract backing compressed $DATA
// reads: LZNT1 for ordinary attribute compression, LZXPRESS-family
// variants for WOF reparse-point payloads. If written < len(dst),
// CompressedBlockStream zero-fills the remainder of the unit buffer
// (Windows behaviour); implementations need not do so themselves.
type Decompressor interface {
	Decompress(src []byte, dst []byte) (written int, err error)
}

// NewCompressedBlockStream builds a stream over `attr` (the chain head of
// a compressed non-resident attribute) using the given decompressor and
// LRU cache size (0 selects the spec's default of 4 units).
func NewCompressedBlockStream(vol *Volume, attr *MftAttribute, decompressor Decompressor, cacheSize int) *CompressedBlockStream {
	if cacheSize <= 0 {
		cacheSize = defaultCompressionUnitCacheSize
	}

	cbs := &CompressedBlockStream{
		vol:           vol,
		attr:          attr,
		plan:          buildCompressionUnitPlan(vol, attr),
		decompressor:  decompressor,
		dataSize:      attr.DataSize(),
		validDataSize: attr.ValidDataSize(),
	}

	cbs.unitCache = cache.NewLoadingCache(cbs.loadUnit, cache.WithMaximumSize(cacheSize))

	return cbs
}

func (cbs *CompressedBlockStream) Size() uint64 {
	return cbs.dataSize
}

func (cbs *CompressedBlockStream) loadUnit(key cache.Key) (cache.Value, error) {
	unitIndex := key.(uint64)
	bucket := cbs.plan.buckets[unitIndex]

	unitBuf := make([]byte, cbs.plan.unitBytes)

	if bucket.classification != BucketCompressed {
		panicKind(ErrInvalidRecord, "loadUnit called on a non-compressed bucket (%d)", unitIndex)
	}

	onDiskSize := uint64(0)
	for _, extent := range bucket.onDiskExtents {
		onDiskSize += extent.Length * uint64(cbs.plan.clusterSize)
	}

	src := make([]byte, onDiskSize)

	pos := uint64(0)
	for _, extent := range bucket.onDiskExtents {
		extentBytes := extent.Length * uint64(cbs.plan.clusterSize)
		offset := cbs.vol.ClusterOffset(extent.Lcn)

		readFullAt(cbs.vol.BlockReader(), src[pos:pos+extentBytes], offset)

		pos += extentBytes
	}

	written, err := cbs.decompressor.Decompress(src, unitBuf)
	if err != nil {
		return nil, &Error{Kind: ErrDecompressionFailed, Message: err.Error(), Wrapped: err}
	}

	if uint64(written) < cbs.plan.unitBytes {
		zeroFill(unitBuf[written:])
	}

	return unitBuf, nil
}

// ReadAt reads len(p) bytes starting at logical byte offset `off`,
// producing zeroes for sparse buckets and for any region beyond
// valid_data_size.
func (cbs *CompressedBlockStream) ReadAt(p []byte, off int64) {
	if off < 0 || uint64(off)+uint64(len(p)) > cbs.dataSize {
		panicKind(ErrOutOfBounds, "read [%d,%d) is outside stream size (%d)", off, uint64(off)+uint64(len(p)), cbs.dataSize)
	}

	clusterSize := uint64(cbs.plan.clusterSize)

	read := 0
	for read < len(p) {
		pos := uint64(off) + uint64(read)

		if pos >= cbs.validDataSize {
			zeroFill(p[read:])
			return
		}

		vcn := pos / clusterSize
		offsetInCluster := pos % clusterSize

		bucket, found := cbs.plan.BucketFor(vcn)
		if found != true {
			panicKind(ErrOutOfBounds, "vcn (%d) has no compression bucket", vcn)
		}

		unitOffsetInCluster := vcn - bucket.firstVcn
		posInUnit := unitOffsetInCluster*clusterSize + offsetInCluster
		availableInBucket := cbs.plan.unitBytes - posInUnit

		toCopy := uint64(len(p) - read)
		if toCopy > availableInBucket {
			toCopy = availableInBucket
		}
		if pos+toCopy > cbs.validDataSize {
			toCopy = cbs.validDataSize - pos
		}

		switch bucket.classification {
		case BucketSparse:
			zeroFill(p[read : uint64(read)+toCopy])

		case BucketUncompressed:
			cbs.readUncompressedBucket(p[read:uint64(read)+toCopy], bucket, posInUnit)

		case BucketCompressed:
			value, err := cbs.unitCache.Get(bucket.unitIndex)
			if err != nil {
				panic(err)
			}

			unitBuf := value.([]byte)
			copy(p[read:uint64(read)+toCopy], unitBuf[posInUnit:posInUnit+toCopy])
		}

		read += int(toCopy)
	}
}

// readUncompressedBucket issues direct, uncached reads through the
// underlying extents.
func (cbs *CompressedBlockStream) readUncompressedBucket(dst []byte, bucket CompressionBucket, posInUnit uint64) {
	clusterSize := uint64(cbs.plan.clusterSize)

	var consumed uint64
	read := 0

	for _, extent := range bucket.onDiskExtents {
		extentBytes := extent.Length * clusterSize

		if consumed+extentBytes <= posInUnit {
			consumed += extentBytes
			continue
		}

		extentStart := uint64(0)
		if posInUnit > consumed {
			extentStart = posInUnit - consumed
		}

		available := extentBytes - extentStart
		toCopy := uint64(len(dst) - read)
		if toCopy > available {
			toCopy = available
		}

		offset := cbs.vol.ClusterOffset(extent.Lcn) + int64(extentStart)
		readFullAt(cbs.vol.BlockReader(), dst[read:uint64(read)+toCopy], offset)

		read += int(toCopy)
		consumed += extentBytes

		if read >= len(dst) {
			return
		}
	}
}
