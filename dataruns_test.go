package ntfs

import (
	"testing"

	"github.com/dsoprea/go-logging"
)

// buildDataRun encodes one data-run entry using the minimal byte-width
// needed to hold length and signedDelta, mirroring what a real NTFS
// attribute encoder would emit.
func buildDataRun(length uint64, signedDelta int64, isSparse bool) []byte {
	lengthBytes := minimalUnsignedBytes(length)

	if isSparse {
		header := byte(len(lengthBytes))
		return append([]byte{header}, lengthBytes...)
	}

	deltaBytes := minimalSignedBytes(signedDelta)
	header := byte(len(lengthBytes)) | byte(len(deltaBytes)<<4)

	out := []byte{header}
	out = append(out, lengthBytes...)
	out = append(out, deltaBytes...)

	return out
}

func minimalUnsignedBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}

	var out []byte
	for v > 0 {
		out = append(out, byte(v))
		v >>= 8
	}

	return out
}

func minimalSignedBytes(v int64) []byte {
	var out []byte

	for {
		out = append(out, byte(v))
		v >>= 8

		if (v == 0 && out[len(out)-1]&0x80 == 0) || (v == -1 && out[len(out)-1]&0x80 != 0) {
			break
		}
	}

	return out
}

func TestDataRunsSingleRun(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)
			log.PrintError(err)
			t.Fatalf("panic: %v", err)
		}
	}()

	raw := buildDataRun(10, 1000, false)
	raw = append(raw, 0x00)

	drl := parseDataRuns(raw)

	if drl.TotalClusters() != 10 {
		t.Fatalf("expected total clusters (10), got (%d)", drl.TotalClusters())
	}

	extent, err := drl.Map(0)
	log.PanicIf(err)

	if extent.IsSparse == true || extent.Lcn != 1000 || extent.Remaining != 10 {
		t.Fatalf("unexpected extent at vcn 0: %+v", extent)
	}

	extent, err = drl.Map(9)
	log.PanicIf(err)

	if extent.Lcn != 1009 || extent.Remaining != 1 {
		t.Fatalf("unexpected extent at vcn 9: %+v", extent)
	}

	_, err = drl.Map(10)
	if err == nil || KindOf(err) != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds mapping vcn past the end, got (%v)", err)
	}
}

func TestDataRunsSparseAndRelativeOffsets(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)
			log.PrintError(err)
			t.Fatalf("panic: %v", err)
		}
	}()

	var raw []byte
	raw = append(raw, buildDataRun(5, 2000, false)...)
	raw = append(raw, buildDataRun(3, 0, true)...)
	raw = append(raw, buildDataRun(4, 500, false)...) // relative delta: next LCN = 2000+500 = 2500
	raw = append(raw, 0x00)

	drl := parseDataRuns(raw)

	if drl.TotalClusters() != 12 {
		t.Fatalf("expected total clusters (12), got (%d)", drl.TotalClusters())
	}

	// First segment's last_vcn is 4; second segment's first_vcn must be 5.
	runs := drl.Runs()
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got (%d)", len(runs))
	}

	extent, err := drl.Map(5)
	log.PanicIf(err)

	if extent.IsSparse != true || extent.Remaining != 3 {
		t.Fatalf("unexpected sparse extent at vcn 5: %+v", extent)
	}

	extent, err = drl.Map(8)
	log.PanicIf(err)

	if extent.IsSparse == true || extent.Lcn != 2500 {
		t.Fatalf("unexpected extent at vcn 8: %+v", extent)
	}
}

func TestDataRunsTerminatesOnZeroHeader(t *testing.T) {
	raw := []byte{0x00, 0xff, 0xff, 0xff}

	drl := parseDataRuns(raw)

	if len(drl.Runs()) != 0 {
		t.Fatalf("expected no runs, got (%d)", len(drl.Runs()))
	}
}
