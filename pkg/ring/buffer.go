// Package ring implements the append-only, wrap-around record log over a
// NOR flash partition: the sector engine (engine.go) and the buffer
// controller (this file), exposed to applications as the Buffer type.
package ring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flashring/flashring/pkg/common/log"
	"github.com/flashring/flashring/pkg/config"
	"github.com/flashring/flashring/pkg/flashio"
	"github.com/flashring/flashring/pkg/ringcache"
	"github.com/flashring/flashring/pkg/sector"
	"github.com/flashring/flashring/pkg/stats"
	"github.com/flashring/flashring/pkg/telemetry"
)

// maxReadRetries bounds read_data's self-healing retry loop (spec.md
// §4.5 step 3) so a pathological chain of fully-drained, unerased sectors
// cannot spin forever.
const maxReadRetries = 4

// ErrNotLoaded names the state of a buffer before a successful Load or
// Format, or after it has been marked invalid by a structural failure.
// Buffer's own operations report that state by returning false; they do
// not return this error.
var ErrNotLoaded = errors.New("ring: buffer not loaded")

// Buffer is the public ring buffer controller: spec.md §4.5's load,
// format, fsck, write_data, read_data, mark_as_read, usage_stats, plus the
// sequence arithmetic and wrap policy. A single Buffer instance must own
// its partition exclusively; two instances over the same range are
// undefined behavior (spec.md §9).
type Buffer struct {
	mu recursiveMutex

	device flashio.Device
	cfg    *config.Config
	engine *Engine

	logger    log.Logger
	telemetry telemetry.Telemetry
	metrics   RingMetrics
	stats     stats.Collector
	archiver  Archiver

	meta  []sector.Common
	cache *ringcache.Cache

	firstSequence uint32
	writeSequence uint32
	lastSequence  uint32
	isValid       bool
}

// New constructs a Buffer over device spanning [addrStart, addrEnd), both
// of which must be sector-aligned. The returned Buffer is unusable until
// Load or Format succeeds.
func New(device flashio.Device, addrStart, addrEnd uint32, opts ...Option) (*Buffer, error) {
	cfg := config.NewDefault(addrStart, addrEnd)
	if device != nil && device.SectorSize() != 0 {
		cfg.SectorSize = device.SectorSize()
	}

	built := buildOptions{
		sectorCacheSize: cfg.SectorCacheSize,
		logger:          log.NewNoopLogger(),
		telemetry:       telemetry.NewNoop(),
		stats:           stats.NewAtomicCollector(),
	}
	for _, opt := range opts {
		opt(&built)
	}
	cfg.SectorCacheSize = built.sectorCacheSize

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Buffer{
		device:    device,
		cfg:       cfg,
		logger:    built.logger,
		telemetry: built.telemetry,
		metrics:   NewRingMetrics(built.telemetry),
		stats:     built.stats,
		archiver:  built.archiver,
		meta:      make([]sector.Common, cfg.SectorCount()),
		cache:     ringcache.New(cfg.SectorCacheSize),
	}
	b.engine = NewEngine(device, cfg, b.logger, b.metrics)
	return b, nil
}

// Lock acquires the buffer's recursive mutex for a critical section
// spanning multiple calls.
func (b *Buffer) Lock() { b.mu.Lock() }

// TryLock attempts to acquire the buffer's recursive mutex without
// blocking.
func (b *Buffer) TryLock() bool { return b.mu.TryLock() }

// Unlock releases the buffer's recursive mutex.
func (b *Buffer) Unlock() { b.mu.Unlock() }

// Stats returns the current operation statistics snapshot.
func (b *Buffer) Stats() map[string]interface{} { return b.stats.GetStats() }

// Load scans every physical sector's header, rebuilds sector_meta, and
// recomputes first/write/last_sequence, per spec.md §4.5.
func (b *Buffer) Load() bool {
	b.Lock()
	defer b.Unlock()

	start := b.stats.StartRecovery()

	n := b.cfg.SectorCount()
	var scanned, corrupted uint64
	var anyCorrupted bool

	for i := uint32(0); i < n; i++ {
		num := uint16(i)
		common, err := b.engine.ReadHeader(num)
		scanned++
		if err != nil {
			b.logger.Error("load: read header failed for sector %d: %v", num, err)
			b.isValid = false
			b.stats.FinishRecovery(start, scanned, corrupted)
			return false
		}
		if common.SectorMagic != sector.Magic {
			common.Corrupted = true
			corrupted++
			anyCorrupted = true
			b.logger.Warn("load: sector %d has bad magic 0x%08X", num, common.SectorMagic)
		}
		b.meta[num] = common
	}

	b.stats.FinishRecovery(start, scanned, corrupted)
	b.metrics.RecordFsck(context.Background(), time.Since(start), scanned, corrupted)

	if anyCorrupted {
		b.isValid = false
		b.logger.Error("load: partition has %d corrupted sectors", corrupted)
		return false
	}

	first, write, last, ok := b.computeSequences()
	if !ok {
		b.isValid = false
		b.logger.Error("load: sequence chain invalid")
		return false
	}

	b.firstSequence, b.writeSequence, b.lastSequence = first, write, last
	b.cache.Clear()
	b.stats.TrackCachedSectors(0)
	b.isValid = true
	return true
}

// computeSequences derives first/write/last_sequence from b.meta and
// validates the sequence chain invariant (spec.md §4.5 step 4).
func (b *Buffer) computeSequences() (first, write, last uint32, ok bool) {
	n := len(b.meta)
	if n == 0 {
		return 0, 0, 0, false
	}

	first = b.meta[0].Sequence
	last = b.meta[0].Sequence
	write = 0
	haveWrite := false

	for _, c := range b.meta {
		if c.Sequence < first {
			first = c.Sequence
		}
		if c.Sequence > last {
			last = c.Sequence
		}
		if !c.IsSealed() {
			if !haveWrite || c.Sequence < write {
				write = c.Sequence
				haveWrite = true
			}
		}
	}
	if !haveWrite {
		return 0, 0, 0, false
	}
	if !(first <= write && write <= last) {
		return 0, 0, 0, false
	}
	if uint64(last)-uint64(first)+1 != uint64(n) {
		return 0, 0, 0, false
	}

	startNum, ok := b.findSectorBySequence(first)
	if !ok {
		return 0, 0, 0, false
	}
	for i := 0; i < n; i++ {
		num := (int(startNum) + i) % n
		want := first + uint32(i)
		if b.meta[num].Sequence != want {
			return 0, 0, 0, false
		}
	}

	return first, write, last, true
}

// Format erases and rewrites every sector's header with sequences 1..n,
// then calls Load to establish the in-RAM scalars — a literal re-entrant
// call into the recursive mutex, per spec.md §5/§9.
func (b *Buffer) Format() bool {
	b.Lock()
	defer b.Unlock()

	n := b.cfg.SectorCount()
	for i := uint32(0); i < n; i++ {
		num := uint16(i)
		if err := b.engine.WriteSectorHeader(num, true, i+1, b.meta, b.cache); err != nil {
			b.logger.Error("format: write header failed for sector %d: %v", num, err)
			b.isValid = false
			return false
		}
	}

	b.stats.TrackOperation(stats.OpFormat)
	return b.Load()
}

// Fsck re-runs Load and, if repair is true, reclaims every sector marked
// CORRUPTED by assigning it a fresh sequence past last_sequence.
func (b *Buffer) Fsck(repair bool) bool {
	b.Lock()
	defer b.Unlock()

	b.stats.TrackOperation(stats.OpFsck)
	ok := b.Load()
	if ok || !repair {
		return ok
	}

	repaired := false
	for i, c := range b.meta {
		if !c.Corrupted {
			continue
		}
		num := uint16(i)
		b.lastSequence++
		if err := b.engine.WriteSectorHeader(num, true, b.lastSequence, b.meta, b.cache); err != nil {
			b.logger.Error("fsck: repair failed for sector %d: %v", num, err)
			return false
		}
		b.logger.Warn("fsck: reclaimed corrupted sector %d at sequence %d", num, b.lastSequence)
		repaired = true
	}
	if !repaired {
		return false
	}
	return b.Load()
}

// WriteData appends payload as a new record, per spec.md §4.5's
// write_data: finalizing and reclaiming as needed when the write sector
// has no room left.
func (b *Buffer) WriteData(payload []byte) bool {
	b.Lock()
	defer b.Unlock()

	start := time.Now()
	if !b.isValid {
		return false
	}
	if uint32(len(payload)) > b.cfg.MaxRecordSize() {
		b.logger.Warn("write_data: payload of %d bytes exceeds max record size", len(payload))
		return false
	}

	num, ok := b.findSectorBySequence(b.writeSequence)
	if !ok {
		b.logger.Error("write_data: no sector holds write_sequence %d", b.writeSequence)
		b.isValid = false
		return false
	}

	s, err := b.getSector(num)
	if err != nil {
		b.isValid = false
		return false
	}

	reclaimed := false
	appended, err := b.engine.AppendRecord(s, payload, true, b.meta, b.cache)
	if err != nil {
		b.isValid = false
		return false
	}

	if !appended {
		if err := b.engine.FinalizeSector(s, b.meta, b.cache); err != nil {
			b.isValid = false
			return false
		}
		b.writeSequence++

		nextNum := uint16((int(num) + 1) % len(b.meta))
		next := b.meta[nextNum]

		if !next.IsFresh() {
			reclaimed = true
			if err := b.reclaimSector(nextNum, next); err != nil {
				b.isValid = false
				return false
			}
		}

		nextSector, err := b.getSector(nextNum)
		if err != nil {
			b.isValid = false
			return false
		}
		appended, err = b.engine.AppendRecord(nextSector, payload, true, b.meta, b.cache)
		if err != nil {
			b.isValid = false
			return false
		}
		if !appended {
			// Impossible by construction: reclamation always frees exactly
			// one sector per write cycle (spec.md §7 kind 5).
			b.logger.Error("write_data: retry append failed after reclaim on sector %d", nextNum)
			b.isValid = false
			return false
		}
	}

	b.stats.TrackOperationWithLatency(stats.OpWrite, uint64(time.Since(start).Nanoseconds()))
	b.stats.TrackBytes(true, uint64(len(payload)))
	b.stats.TrackCachedSectors(uint64(b.cache.Len()))
	b.metrics.RecordWrite(context.Background(), time.Since(start), int64(len(payload)), reclaimed)
	return true
}

// reclaimSector archives (if an Archiver is configured) and erases num,
// assigning it a new sequence past last_sequence, per spec.md §4.5's
// reclamation clause.
func (b *Buffer) reclaimSector(num uint16, common sector.Common) error {
	if common.Sequence == b.firstSequence {
		b.firstSequence++
	}

	discarded := 0
	if s, err := b.getSector(num); err == nil {
		discarded = s.UnreadCount()
		if b.archiver != nil {
			var records []ArchivedRecord
			for i, r := range s.Records {
				buf, _, err := b.engine.ReadRecord(s, i)
				if err != nil {
					continue
				}
				records = append(records, ArchivedRecord{
					Sequence: common.Sequence,
					Index:    i,
					Payload:  buf.Bytes(),
					Unread:   r.Read,
				})
			}
			if len(records) > 0 {
				if err := b.archiver.Archive(num, common.Sequence, records); err != nil {
					b.logger.Warn("reclaim: archive failed for sector %d: %v", num, err)
				}
			}
		}
	}

	b.lastSequence++
	if err := b.engine.WriteSectorHeader(num, true, b.lastSequence, b.meta, b.cache); err != nil {
		return err
	}
	b.logger.Debug("reclaim: sector %d erased and reassigned sequence %d", num, b.lastSequence)
	b.stats.TrackReclaim()
	b.metrics.RecordReclaim(context.Background(), num, common.Sequence, discarded)
	return nil
}

// ReadData returns the oldest unread record, per spec.md §4.5's
// read_data, self-healing past fully-drained-but-unerased sectors up to
// maxReadRetries times.
func (b *Buffer) ReadData() (ReadInfo, bool) {
	b.Lock()
	defer b.Unlock()

	start := time.Now()
	if !b.isValid {
		return ReadInfo{}, false
	}

	for attempt := 0; attempt < maxReadRetries; attempt++ {
		num, ok := b.findSectorBySequence(b.firstSequence)
		if !ok {
			b.logger.Error("read_data: no sector holds first_sequence %d", b.firstSequence)
			b.isValid = false
			return ReadInfo{}, false
		}

		s, err := b.getSector(num)
		if err != nil {
			b.isValid = false
			return ReadInfo{}, false
		}

		if idx := s.FirstUnread(); idx >= 0 {
			payload, rc, err := b.engine.ReadRecord(s, idx)
			if err != nil {
				b.isValid = false
				return ReadInfo{}, false
			}
			info := ReadInfo{
				SectorNum:    num,
				SectorCommon: s.Common,
				Index:        idx,
				RecordCommon: rc,
				Payload:      payload,
			}
			b.stats.TrackOperationWithLatency(stats.OpRead, uint64(time.Since(start).Nanoseconds()))
			b.stats.TrackBytes(false, uint64(payload.Len()))
			b.metrics.RecordRead(context.Background(), time.Since(start), true)
			return info, true
		}

		if !s.Common.IsSealed() {
			b.metrics.RecordRead(context.Background(), time.Since(start), false)
			return ReadInfo{}, false
		}

		// Fully drained but not yet erased (e.g. a crash between the last
		// mark_as_read and its erase); advance and retry.
		b.firstSequence++
		b.lastSequence++
		if err := b.engine.WriteSectorHeader(num, true, b.lastSequence, b.meta, b.cache); err != nil {
			b.isValid = false
			return ReadInfo{}, false
		}
	}

	b.logger.Warn("read_data: exceeded retry bound of %d", maxReadRetries)
	return ReadInfo{}, false
}

// MarkAsRead acknowledges the record described by info, per spec.md
// §4.5's mark_as_read. It returns false without mutating state if the
// sector was reclaimed since ReadData produced info.
func (b *Buffer) MarkAsRead(info ReadInfo) bool {
	b.Lock()
	defer b.Unlock()

	start := time.Now()
	if !b.isValid {
		return false
	}

	s, err := b.getSector(info.SectorNum)
	if err != nil {
		b.isValid = false
		return false
	}
	if s.Common.Sequence != info.SectorCommon.Sequence {
		b.metrics.RecordMarkRead(context.Background(), time.Since(start), false)
		return false
	}

	isLast := info.Index == len(s.Records)-1
	if isLast && s.Common.IsSealed() {
		b.firstSequence++
		b.lastSequence++
		if err := b.engine.WriteSectorHeader(info.SectorNum, true, b.lastSequence, b.meta, b.cache); err != nil {
			b.isValid = false
			return false
		}
	} else {
		if err := b.engine.SetRecordRead(s, info.Index); err != nil {
			b.isValid = false
			return false
		}
	}

	b.stats.TrackOperationWithLatency(stats.OpMarkRead, uint64(time.Since(start).Nanoseconds()))
	b.metrics.RecordMarkRead(context.Background(), time.Since(start), true)
	return true
}

// UsageStats reports record_count, data_size, and free_sectors, per
// spec.md §4.5's usage_stats.
func (b *Buffer) UsageStats() (UsageStats, bool) {
	b.Lock()
	defer b.Unlock()

	if !b.isValid {
		return UsageStats{}, false
	}

	readNum, haveRead := b.findSectorBySequence(b.firstSequence)
	writeNum, haveWrite := b.findSectorBySequence(b.writeSequence)

	var usage UsageStats
	for i, c := range b.meta {
		num := uint16(i)
		if c.Corrupted {
			continue
		}
		if c.IsFresh() {
			usage.FreeSectors++
			continue
		}
		if c.IsSealed() && num != readNum {
			usage.RecordCount += uint32(c.RecordCount)
			usage.DataSize += uint32(c.DataSize)
		}
	}

	scanned := make(map[uint16]bool)
	scan := func(num uint16, have bool) error {
		if !have || scanned[num] {
			return nil
		}
		scanned[num] = true
		if num != readNum && b.meta[num].IsSealed() {
			return nil // already counted via stamped totals above
		}
		s, err := b.getSector(num)
		if err != nil {
			return err
		}
		for _, r := range s.Records {
			if r.Read {
				usage.RecordCount++
				usage.DataSize += uint32(r.Size)
			}
		}
		return nil
	}
	if err := scan(readNum, haveRead); err != nil {
		b.isValid = false
		return UsageStats{}, false
	}
	if err := scan(writeNum, haveWrite); err != nil {
		b.isValid = false
		return UsageStats{}, false
	}

	return usage, true
}

// findSectorBySequence linear-scans b.meta for the sector holding seq,
// per spec.md's documented O(sector_count) lookup.
func (b *Buffer) findSectorBySequence(seq uint32) (uint16, bool) {
	for i, c := range b.meta {
		if c.Sequence == seq && !c.Corrupted {
			return uint16(i), true
		}
	}
	return 0, false
}

// getSector returns the cached sector num, populating the cache from
// flash (a full record-index read) on a miss.
func (b *Buffer) getSector(num uint16) (*sector.Sector, error) {
	if s := b.cache.Get(num); s != nil {
		return s, nil
	}
	s, err := b.engine.ReadSector(num, b.meta)
	if err != nil && !errors.Is(err, ErrCorrupted) {
		return nil, fmt.Errorf("ring: read sector %d: %w", num, err)
	}
	b.cache.Put(s)
	b.stats.TrackCachedSectors(uint64(b.cache.Len()))
	if errors.Is(err, ErrCorrupted) {
		return s, ErrCorrupted
	}
	return s, nil
}
