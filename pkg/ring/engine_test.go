package ring

import (
	"errors"
	"testing"

	"github.com/flashring/flashring/pkg/config"
	"github.com/flashring/flashring/pkg/flashio"
	"github.com/flashring/flashring/pkg/ringcache"
	"github.com/flashring/flashring/pkg/sector"
)

const testSectorSize = 256

func newTestEngine(t *testing.T, sectorCount uint32) (*Engine, []sector.Common, *ringcache.Cache) {
	t.Helper()
	dev := flashio.NewMemDevice(testSectorSize*sectorCount, testSectorSize, 16)
	cfg := &config.Config{AddrStart: 0, AddrEnd: testSectorSize * sectorCount, SectorSize: testSectorSize, SectorCacheSize: 4}
	e := NewEngine(dev, cfg, nil, nil)
	meta := make([]sector.Common, sectorCount)
	cache := ringcache.New(4)
	return e, meta, cache
}

func TestEngine_WriteSectorHeaderAndReadHeader(t *testing.T) {
	e, meta, cache := newTestEngine(t, 3)

	if err := e.WriteSectorHeader(0, true, 7, meta, cache); err != nil {
		t.Fatalf("WriteSectorHeader: %v", err)
	}

	got, err := e.ReadHeader(0)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.SectorMagic != sector.Magic {
		t.Errorf("magic = 0x%08X, want 0x%08X", got.SectorMagic, sector.Magic)
	}
	if got.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", got.Sequence)
	}
	if !got.IsFresh() {
		t.Errorf("freshly written sector should be fresh")
	}
	if got.IsSealed() {
		t.Errorf("freshly written sector should not be sealed (FINALIZED still set)")
	}
}

func TestEngine_AppendRecordFillsSector(t *testing.T) {
	e, meta, cache := newTestEngine(t, 2)
	if err := e.WriteSectorHeader(0, true, 1, meta, cache); err != nil {
		t.Fatalf("WriteSectorHeader: %v", err)
	}

	s, err := e.ReadSector(0, meta)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}

	payload := []byte("hello flash")
	ok, err := e.AppendRecord(s, payload, true, meta, cache)
	if err != nil || !ok {
		t.Fatalf("AppendRecord: ok=%v err=%v", ok, err)
	}
	if meta[0].IsFresh() {
		t.Errorf("sector should no longer be fresh after first append")
	}
	if len(s.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(s.Records))
	}

	// Exhaust remaining space with oversized payloads until AppendRecord
	// reports the sector full.
	big := make([]byte, testSectorSize)
	appended := true
	for i := 0; i < 50 && appended; i++ {
		appended, err = e.AppendRecord(s, big, true, meta, cache)
		if err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}
	if appended {
		t.Fatalf("expected sector to report full eventually")
	}

	if err := e.FinalizeSector(s, meta, cache); err != nil {
		t.Fatalf("FinalizeSector: %v", err)
	}
	if !meta[0].IsSealed() {
		t.Errorf("finalized sector should be sealed")
	}
	if int(meta[0].RecordCount) != len(s.Records) {
		t.Errorf("stamped record_count = %d, want %d", meta[0].RecordCount, len(s.Records))
	}
}

func TestEngine_ReadRecordRoundTrip(t *testing.T) {
	e, meta, cache := newTestEngine(t, 2)
	if err := e.WriteSectorHeader(0, true, 1, meta, cache); err != nil {
		t.Fatalf("WriteSectorHeader: %v", err)
	}
	s, err := e.ReadSector(0, meta)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}

	want := []byte("payload bytes")
	if ok, err := e.AppendRecord(s, want, true, meta, cache); err != nil || !ok {
		t.Fatalf("AppendRecord: ok=%v err=%v", ok, err)
	}

	buf, rc, err := e.ReadRecord(s, 0)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if string(buf.Bytes()) != string(want) {
		t.Errorf("payload = %q, want %q", buf.Bytes(), want)
	}
	if !rc.Read {
		t.Errorf("record should still be unread")
	}

	if err := e.SetRecordRead(s, 0); err != nil {
		t.Fatalf("SetRecordRead: %v", err)
	}
	if s.Records[0].Read {
		t.Errorf("record should be marked read in-memory")
	}

	reread, err := e.ReadSector(0, meta)
	if err != nil {
		t.Fatalf("ReadSector after ack: %v", err)
	}
	if reread.Records[0].Read {
		t.Errorf("record should read back as acked from flash")
	}
}

func TestEngine_ReadSectorDetectsCorruption(t *testing.T) {
	e, meta, cache := newTestEngine(t, 1)
	if err := e.WriteSectorHeader(0, true, 1, meta, cache); err != nil {
		t.Fatalf("WriteSectorHeader: %v", err)
	}

	// Hand-craft a record header claiming a size larger than the sector
	// can hold, directly on the underlying device.
	dev := e.device.(*flashio.MemDevice)
	badHeader := sector.EncodeRecordHeader(sector.RecordCommon{Size: 0xFFE, Read: true})
	if err := dev.Program(sector.HeaderSize, badHeader[:]); err != nil {
		t.Fatalf("Program: %v", err)
	}

	_, err := e.ReadSector(0, meta)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("ReadSector err = %v, want ErrCorrupted", err)
	}
	if !meta[0].Corrupted {
		t.Errorf("meta should be marked corrupted")
	}
}

func TestEngine_ValidateSectorMismatch(t *testing.T) {
	e, meta, cache := newTestEngine(t, 1)
	if err := e.WriteSectorHeader(0, true, 1, meta, cache); err != nil {
		t.Fatalf("WriteSectorHeader: %v", err)
	}
	s, err := e.ReadSector(0, meta)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}

	if _, err := e.AppendRecord(s, []byte("x"), true, meta, cache); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	// Stamp a record_count that disagrees with the actual index, then
	// validate directly.
	s.Common.Finalized = false
	s.Common.RecordCount = 99
	if err := e.ValidateSector(s, meta); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("ValidateSector err = %v, want ErrCorrupted", err)
	}
	if !meta[0].Corrupted {
		t.Errorf("meta should be marked corrupted after mismatch")
	}
}
