package ring

import (
	"context"
	"errors"
	"fmt"

	"github.com/flashring/flashring/pkg/common/log"
	"github.com/flashring/flashring/pkg/config"
	"github.com/flashring/flashring/pkg/databuffer"
	"github.com/flashring/flashring/pkg/flashio"
	"github.com/flashring/flashring/pkg/ringcache"
	"github.com/flashring/flashring/pkg/sector"
)

// ErrCorrupted is returned by engine operations that observe structural
// corruption in a sector: an out-of-range record size, a record whose
// header claims more space than the sector has left, or stamped
// record_count/data_size values that disagree with the record index. Bad
// magic is detected by Buffer.Load, not by the engine.
var ErrCorrupted = errors.New("ring: sector corrupted")

// Engine implements the sector-level operations spec.md §4.3 names:
// read_sector, write_sector_header, append_record, finalize_sector,
// read_record, validate_sector. It holds no metadata-table or cache state
// of its own — every call takes those explicitly, so the engine can be
// unit-tested against flashio.MemDevice without a buffer controller.
type Engine struct {
	device  flashio.Device
	cfg     *config.Config
	logger  log.Logger
	metrics RingMetrics
}

// NewEngine constructs an Engine over device using cfg's geometry.
func NewEngine(device flashio.Device, cfg *config.Config, logger log.Logger, metrics RingMetrics) *Engine {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if metrics == nil {
		metrics = NewNoopRingMetrics()
	}
	return &Engine{device: device, cfg: cfg, logger: logger, metrics: metrics}
}

// addr returns the flash byte offset of sector num.
func (e *Engine) addr(num uint16) uint32 {
	return e.cfg.AddrStart + uint32(num)*e.cfg.SectorSize
}

// ReadHeader reads just sector num's 12-byte header, without walking its
// record index. This is the O(sector_count) scan Load performs.
func (e *Engine) ReadHeader(num uint16) (sector.Common, error) {
	var buf [sector.HeaderSize]byte
	if err := e.device.Read(e.addr(num), buf[:]); err != nil {
		return sector.Common{}, fmt.Errorf("ring: read header sector %d: %w", num, err)
	}
	return sector.DecodeHeader(buf[:]), nil
}

// ReadSector reads sector num's header and walks its record index, marking
// the sector CORRUPTED in meta and returning ErrCorrupted if a record
// header is out of range.
func (e *Engine) ReadSector(num uint16, meta []sector.Common) (*sector.Sector, error) {
	buf := make([]byte, e.cfg.SectorSize)
	if err := e.device.Read(e.addr(num), buf); err != nil {
		return nil, fmt.Errorf("ring: read sector %d: %w", num, err)
	}

	common := sector.DecodeHeader(buf[:sector.HeaderSize])
	s := &sector.Sector{Num: num, Common: common}

	offset := uint32(sector.HeaderSize)
	for offset+sector.RecordHeaderSize <= e.cfg.SectorSize {
		hdr := buf[offset : offset+sector.RecordHeaderSize]
		if sector.IsErasedRecordHeader(hdr) {
			break
		}
		rc := sector.DecodeRecordHeader(hdr)

		maxSize := e.cfg.SectorSize - sector.HeaderSize - sector.RecordHeaderSize
		nextOffset := offset + sector.RecordHeaderSize + uint32(rc.Size)
		if uint32(rc.Size) > maxSize || nextOffset > e.cfg.SectorSize {
			common.Corrupted = true
			meta[num] = common
			s.Common = common
			e.logger.Error("sector %d corrupted: record at offset %d claims size %d, out of range", num, offset, rc.Size)
			e.metrics.RecordCorruption(context.Background(), num, "record out of range")
			return s, ErrCorrupted
		}

		s.Records = append(s.Records, sector.Record{Offset: offset, RecordCommon: rc})
		offset = nextOffset
	}

	meta[num] = common
	return s, nil
}

// WriteSectorHeader erases (if requested) and (re)programs sector num's
// 12-byte header with a clean encoding at sequence, then mirrors the new
// state into meta and the cache, discarding any cached record index.
func (e *Engine) WriteSectorHeader(num uint16, erase bool, sequence uint32, meta []sector.Common, cache *ringcache.Cache) error {
	if erase {
		if err := e.device.EraseSector(e.addr(num)); err != nil {
			return fmt.Errorf("ring: erase sector %d: %w", num, err)
		}
	}

	common := sector.NewHeaderCommon(sequence)
	header := sector.EncodeHeader(common)
	if err := e.device.Program(e.addr(num), header[:]); err != nil {
		return fmt.Errorf("ring: write header sector %d: %w", num, err)
	}

	meta[num] = common
	cache.Put(&sector.Sector{Num: num, Common: common})
	return nil
}

// AppendRecord appends payload to s with the given unread state, returning
// (false, nil) if the sector has no room left ("sector full" per spec.md
// §4.3 step 2), or (true, nil) on success.
func (e *Engine) AppendRecord(s *sector.Sector, payload []byte, unread bool, meta []sector.Common, cache *ringcache.Cache) (bool, error) {
	offset := s.UsedBytes()
	spaceLeft := e.cfg.SectorSize - offset
	if uint32(len(payload))+sector.RecordHeaderSize > spaceLeft {
		return false, nil
	}

	if s.Common.Started {
		s.Common.Started = false
		if err := e.writeTailWord(s.Num, s.Common); err != nil {
			return false, err
		}
		meta[s.Num] = s.Common
	}

	rc := sector.RecordCommon{Size: uint16(len(payload)), Read: unread}
	hdr := sector.EncodeRecordHeader(rc)
	if err := e.device.Program(e.addr(s.Num)+offset, hdr[:]); err != nil {
		return false, fmt.Errorf("ring: write record header sector %d: %w", s.Num, err)
	}
	if len(payload) > 0 {
		if err := e.device.Program(e.addr(s.Num)+offset+sector.RecordHeaderSize, payload); err != nil {
			return false, fmt.Errorf("ring: write record payload sector %d: %w", s.Num, err)
		}
	}

	s.Records = append(s.Records, sector.Record{Offset: offset, RecordCommon: rc})
	cache.Put(s)
	return true, nil
}

// FinalizeSector seals s: clears FINALIZED, stamps record_count/data_size
// from the current record index, and validates the result.
func (e *Engine) FinalizeSector(s *sector.Sector, meta []sector.Common, cache *ringcache.Cache) error {
	s.Common.Finalized = false
	s.Common.RecordCount = uint16(len(s.Records))
	s.Common.DataSize = uint16(s.DataSize())

	if err := e.writeTailWord(s.Num, s.Common); err != nil {
		return err
	}
	meta[s.Num] = s.Common
	cache.Put(s)

	return e.ValidateSector(s, meta)
}

// ReadRecord returns the payload and header of the record at index within
// s, reading it from flash.
func (e *Engine) ReadRecord(s *sector.Sector, index int) (databuffer.Buffer, sector.RecordCommon, error) {
	if index < 0 || index >= len(s.Records) {
		return databuffer.Buffer{}, sector.RecordCommon{}, fmt.Errorf("ring: record index %d out of range (sector %d has %d records)", index, s.Num, len(s.Records))
	}
	rec := s.Records[index]

	var buf databuffer.Buffer
	payload := buf.Allocate(int(rec.Size))
	if rec.Size > 0 {
		addr := e.addr(s.Num) + rec.Offset + sector.RecordHeaderSize
		if err := e.device.Read(addr, payload); err != nil {
			return databuffer.Buffer{}, sector.RecordCommon{}, fmt.Errorf("ring: read record %d sector %d: %w", index, s.Num, err)
		}
	}
	return buf, rec.RecordCommon, nil
}

// SetRecordRead clears the READ bit of the record at index within s,
// in place on flash, and mirrors the change into s.Records.
func (e *Engine) SetRecordRead(s *sector.Sector, index int) error {
	rec := s.Records[index]
	rec.Read = false
	hdr := sector.EncodeRecordHeader(rec.RecordCommon)
	addr := e.addr(s.Num) + rec.Offset
	if err := e.device.Program(addr, hdr[:]); err != nil {
		return fmt.Errorf("ring: ack record %d sector %d: %w", index, s.Num, err)
	}
	s.Records[index] = rec
	return nil
}

// ValidateSector checks internal consistency of a finalized sector: its
// stamped record_count/data_size must match its actual record index, and
// its used bytes must not exceed the sector size. A mismatch marks the
// sector CORRUPTED in meta and returns ErrCorrupted.
func (e *Engine) ValidateSector(s *sector.Sector, meta []sector.Common) error {
	if s.UsedBytes() > e.cfg.SectorSize {
		return e.markCorrupted(s, meta, "used bytes exceed sector size")
	}
	if !s.Common.Finalized {
		if int(s.Common.RecordCount) != len(s.Records) {
			return e.markCorrupted(s, meta, "record_count mismatch")
		}
		if uint32(s.Common.DataSize) != s.DataSize() {
			return e.markCorrupted(s, meta, "data_size mismatch")
		}
	}
	return nil
}

func (e *Engine) markCorrupted(s *sector.Sector, meta []sector.Common, reason string) error {
	s.Common.Corrupted = true
	meta[s.Num] = s.Common
	e.logger.Error("sector %d validation failed: %s", s.Num, reason)
	e.metrics.RecordCorruption(context.Background(), s.Num, reason)
	return ErrCorrupted
}

// writeTailWord reprograms just the 4-byte flags/reserved/record_count/
// data_size word (bytes 8..12 of the header) to reflect c, exploiting NOR
// AND-semantics rather than rewriting the whole header.
func (e *Engine) writeTailWord(num uint16, c sector.Common) error {
	tail := sector.EncodeTailWord(c)
	if err := e.device.Program(e.addr(num)+8, tail[:]); err != nil {
		return fmt.Errorf("ring: write tail word sector %d: %w", num, err)
	}
	return nil
}
