package ntfs

// ClusterStream is a byte-addressable stream over a non-resident
// attribute's (possibly chained) data runs: an RLE data-run list that may
// itself be split across several chained MftAttribute fragments (merged
// in from an $ATTRIBUTE_LIST).
type ClusterStream struct {
	vol           *Volume
	chain         []*MftAttribute
	size          uint64
	validDataSize uint64
}

// newClusterStream builds a stream over the full chain headed by attr.
func newClusterStream(vol *Volume, attr *MftAttribute) *ClusterStream {
	if attr.IsResident() {
		panicKind(ErrInvalidRecord, "cannot open a ClusterStream over a resident attribute")
	}

	return &ClusterStream{
		vol:           vol,
		chain:         attr.Chain(),
		size:          attr.DataSize(),
		validDataSize: attr.ValidDataSize(),
	}
}

// Size is the logical data_size of the stream.
func (cs *ClusterStream) Size() uint64 {
	return cs.size
}

// fragmentFor returns the chain fragment covering the given vcn.
func (cs *ClusterStream) fragmentFor(vcn uint64) *MftAttribute {
	for _, frag := range cs.chain {
		first, last := frag.VcnRange()
		if vcn >= first && vcn <= last {
			return frag
		}
	}

	return nil
}

// readFullAt reads len(p) bytes starting at logical byte offset `off`,
// zero-filling sparse regions and any region beyond valid_data_size but
// within data_size (NTFS defines that tail as logically zero).
func (cs *ClusterStream) readFullAt(p []byte, off int64) {
	if off < 0 || uint64(off)+uint64(len(p)) > cs.size {
		panicKind(ErrOutOfBounds, "read [%d,%d) is outside stream size (%d)", off, uint64(off)+uint64(len(p)), cs.size)
	}

	clusterSize := uint64(cs.vol.ClusterSize())

	read := 0
	for read < len(p) {
		pos := uint64(off) + uint64(read)

		if pos >= cs.validDataSize {
			zeroFill(p[read:])
			return
		}

		vcn := pos / clusterSize
		offsetInCluster := pos % clusterSize

		frag := cs.fragmentFor(vcn)
		if frag == nil {
			panicKind(ErrInvalidRecord, "vcn (%d) is not covered by any fragment in the attribute chain", vcn)
		}

		localVcn := vcn - frag.firstVcn

		extent, err := frag.DataRuns().Map(localVcn)
		if err != nil {
			panic(err)
		}

		available := extent.Remaining*clusterSize - offsetInCluster
		toCopy := uint64(len(p) - read)
		if toCopy > available {
			toCopy = available
		}
		if pos+toCopy > cs.validDataSize {
			toCopy = cs.validDataSize - pos
		}

		if extent.IsSparse {
			zeroFill(p[read : uint64(read)+toCopy])
		} else {
			clusterOffset := cs.vol.ClusterOffset(extent.Lcn)
			readFullAt(cs.vol.BlockReader(), p[read:uint64(read)+toCopy], clusterOffset+int64(offsetInCluster))
		}

		read += int(toCopy)
	}
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
