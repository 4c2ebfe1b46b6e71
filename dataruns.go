package ntfs

import "fmt"

// DataRun is one extent of a non-resident attribute's data-run list:
// `length` clusters either at absolute LCN `Lcn` or sparse (`IsSparse`).
type DataRun struct {
	Lcn      uint64
	Length   uint64
	IsSparse bool
}

// DataRunList decodes the RLE-encoded extent list of a non-resident
// attribute into a sequence of DataRuns and answers VCN→(LCN, remaining
// run length) queries.
type DataRunList struct {
	runs []DataRun

	// vcnOffsets[i] is the VCN at which runs[i] begins; built once so that
	// Map can binary-search instead of re-walking linearly on every call.
	vcnOffsets []uint64
}

// parseDataRuns decodes the RLE-encoded run list. `raw` is the byte
// region starting at the attribute's `data_runs_offset`; parsing stops at
// the first zero header byte or at the end of `raw`, whichever comes
// first.
func parseDataRuns(raw []byte) *DataRunList {
	runs := make([]DataRun, 0)

	var previousLcn uint64
	var havePreviousLcn bool

	offset := 0
	for offset < len(raw) {
		header := raw[offset]
		if header == 0 {
			break
		}

		lengthByteCount := int(header & 0x0f)
		offsetByteCount := int(header >> 4)

		if lengthByteCount < 1 || lengthByteCount > 8 || offsetByteCount > 8 {
			panicKind(ErrInvalidRecord, "invalid data-run header byte: (0x%02x)", header)
		}

		offset++

		if offset+lengthByteCount+offsetByteCount > len(raw) {
			panicKind(ErrInvalidRecord, "data-run extends past end of data-runs area")
		}

		length := decodeUnsignedLe(raw[offset : offset+lengthByteCount])
		offset += lengthByteCount

		var run DataRun
		run.Length = length

		if offsetByteCount == 0 {
			run.IsSparse = true
		} else {
			delta := decodeSignedLe(raw[offset : offset+offsetByteCount])
			offset += offsetByteCount

			if havePreviousLcn == false && delta < 0 {
				panicKind(ErrInvalidRecord, "first data-run has a negative absolute LCN")
			}

			newLcn := int64(previousLcn) + delta
			if newLcn < 0 {
				panicKind(ErrInvalidRecord, "data-run LCN underflowed to a negative value")
			}

			run.Lcn = uint64(newLcn)
			previousLcn = run.Lcn
			havePreviousLcn = true
		}

		runs = append(runs, run)
	}

	return newDataRunList(runs)
}

func newDataRunList(runs []DataRun) *DataRunList {
	vcnOffsets := make([]uint64, len(runs))

	var vcn uint64
	for i, run := range runs {
		vcnOffsets[i] = vcn
		vcn += run.Length
	}

	return &DataRunList{
		runs:       runs,
		vcnOffsets: vcnOffsets,
	}
}

func decodeUnsignedLe(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}

	return v
}

func decodeSignedLe(b []byte) int64 {
	v := decodeUnsignedLe(b)

	// Sign-extend from the width actually encoded.
	bits := uint(len(b) * 8)
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}

	return int64(v)
}

// Runs returns the decoded extents, in on-disk order.
func (drl *DataRunList) Runs() []DataRun {
	return drl.runs
}

// TotalClusters returns the sum of all run lengths, in clusters.
func (drl *DataRunList) TotalClusters() uint64 {
	var total uint64
	for _, run := range drl.runs {
		total += run.Length
	}

	return total
}

// MappedExtent describes the result of mapping one VCN: either a sparse
// region or a present LCN, plus how many clusters remain in that run from
// the queried VCN onward.
type MappedExtent struct {
	IsSparse  bool
	Lcn       uint64
	Remaining uint64
}

// Map resolves a virtual cluster number to (lcn | Sparse, remaining run
// length).
func (drl *DataRunList) Map(vcn uint64) (MappedExtent, error) {
	// Binary search for the run containing vcn.
	lo, hi := 0, len(drl.runs)-1
	found := -1

	for lo <= hi {
		mid := (lo + hi) / 2

		start := drl.vcnOffsets[mid]
		end := start + drl.runs[mid].Length

		switch {
		case vcn < start:
			hi = mid - 1
		case vcn >= end:
			lo = mid + 1
		default:
			found = mid
			lo = hi + 1 // break
		}
	}

	if found == -1 {
		return MappedExtent{}, &Error{Kind: ErrOutOfBounds, Message: fmt.Sprintf("vcn (%d) is beyond the attribute's data runs", vcn)}
	}

	run := drl.runs[found]
	offsetInRun := vcn - drl.vcnOffsets[found]
	remaining := run.Length - offsetInRun

	if run.IsSparse == true {
		return MappedExtent{IsSparse: true, Remaining: remaining}, nil
	}

	return MappedExtent{Lcn: run.Lcn + offsetInRun, Remaining: remaining}, nil
}
