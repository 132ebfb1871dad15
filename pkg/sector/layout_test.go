package sector

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Common{
		NewHeaderCommon(1),
		{SectorMagic: Magic, Sequence: 42, Started: false, Finalized: true, RecordCount: recordCountMask, DataSize: dataSizeMask},
		{SectorMagic: Magic, Sequence: 42, Started: false, Finalized: false, RecordCount: 3, DataSize: 120},
		{SectorMagic: Magic, Sequence: 7, Started: false, Finalized: false, Corrupted: true, RecordCount: 0, DataSize: 0},
	}

	for i, c := range cases {
		buf := EncodeHeader(c)
		got := DecodeHeader(buf[:])
		if got != c {
			t.Errorf("case %d: round trip mismatch: want %+v, got %+v", i, c, got)
		}
	}
}

func TestErasedHeaderDecodesAllOnes(t *testing.T) {
	buf := [HeaderSize]byte{
		0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF,
	}
	c := DecodeHeader(buf[:])
	if c.SectorMagic != ErasedMagic {
		t.Errorf("expected erased magic, got %#x", c.SectorMagic)
	}
	if !c.Started || !c.Finalized || c.Corrupted {
		t.Error("expected all flag bits set (STARTED, FINALIZED, and CORRUPTED not observed) on a fully erased header")
	}
	if c.RecordCount != recordCountMask || c.DataSize != dataSizeMask {
		t.Error("expected record_count and data_size sentinels on erased header")
	}
}

func TestFreshHeaderFlags(t *testing.T) {
	c := NewHeaderCommon(5)
	if !c.Started || !c.Finalized {
		t.Error("a freshly written header must have STARTED and FINALIZED set")
	}
	if c.Corrupted {
		t.Error("a freshly written header must not be CORRUPTED")
	}
	if c.RecordCount != recordCountMask || c.DataSize != dataSizeMask {
		t.Error("a freshly written header's record_count/data_size must read as unset")
	}
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	cases := []RecordCommon{
		{Size: 0, Read: true},
		{Size: 4094, Read: true},
		{Size: 17, Read: false},
	}
	for i, rc := range cases {
		buf := EncodeRecordHeader(rc)
		got := DecodeRecordHeader(buf[:])
		if got != rc {
			t.Errorf("case %d: round trip mismatch: want %+v, got %+v", i, rc, got)
		}
	}
}

func TestIsErasedRecordHeader(t *testing.T) {
	erased := [RecordHeaderSize]byte{0xFF, 0xFF}
	if !IsErasedRecordHeader(erased[:]) {
		t.Error("expected all-ones record header to read as erased")
	}

	written := EncodeRecordHeader(RecordCommon{Size: 10, Read: true})
	if IsErasedRecordHeader(written[:]) {
		t.Error("expected a written record header to not read as erased")
	}
}
