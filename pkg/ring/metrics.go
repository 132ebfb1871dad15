// ABOUTME: Ring buffer telemetry metrics interface and implementation for tracking sector operations
// ABOUTME: Provides instrumentation for append, reclaim, read, mark-read, corruption, and fsck operations

package ring

import (
	"context"
	"time"

	"github.com/flashring/flashring/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// RingMetrics defines the interface for ring buffer telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type RingMetrics interface {
	telemetry.ComponentMetrics

	// RecordWrite records metrics for a write_data call.
	RecordWrite(ctx context.Context, duration time.Duration, bytes int64, reclaimed bool)

	// RecordRead records metrics for a read_data call.
	RecordRead(ctx context.Context, duration time.Duration, found bool)

	// RecordMarkRead records metrics for a mark_as_read call.
	RecordMarkRead(ctx context.Context, duration time.Duration, accepted bool)

	// RecordReclaim records a sector reclamation, including unread records
	// that were about to be discarded.
	RecordReclaim(ctx context.Context, sectorNum uint16, sequence uint32, discardedRecords int)

	// RecordCorruption records when sector corruption is detected.
	RecordCorruption(ctx context.Context, sectorNum uint16, reason string)

	// RecordFsck records a load/fsck scan.
	RecordFsck(ctx context.Context, duration time.Duration, sectorsScanned, sectorsCorrupted uint64)
}

// ringMetrics implements RingMetrics using the telemetry interface.
type ringMetrics struct {
	tel telemetry.Telemetry
}

// NewRingMetrics creates a new ring buffer metrics implementation. If tel is
// nil, returns a no-op implementation.
func NewRingMetrics(tel telemetry.Telemetry) RingMetrics {
	if tel == nil {
		return &noopRingMetrics{}
	}
	return &ringMetrics{tel: tel}
}

// NewNoopRingMetrics creates a no-op ring buffer metrics implementation for
// tests.
func NewNoopRingMetrics() RingMetrics {
	return &noopRingMetrics{}
}

func (m *ringMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64, reclaimed bool) {
	m.tel.RecordHistogram(ctx, "flashring.write.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeWrite),
		attribute.Bool("reclaimed", reclaimed),
	)
	m.tel.RecordCounter(ctx, "flashring.write.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
	)
	m.tel.RecordCounter(ctx, "flashring.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeWrite),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *ringMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {
	m.tel.RecordHistogram(ctx, "flashring.read.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRead),
		attribute.Bool("found", found),
	)
	m.tel.RecordCounter(ctx, "flashring.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRead),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *ringMetrics) RecordMarkRead(ctx context.Context, duration time.Duration, accepted bool) {
	m.tel.RecordHistogram(ctx, "flashring.mark_read.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeMarkRead),
		attribute.Bool("accepted", accepted),
	)
	status := telemetry.StatusSuccess
	if !accepted {
		status = telemetry.StatusError
	}
	m.tel.RecordCounter(ctx, "flashring.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeMarkRead),
		attribute.String(telemetry.AttrStatus, status),
	)
}

func (m *ringMetrics) RecordReclaim(ctx context.Context, sectorNum uint16, sequence uint32, discardedRecords int) {
	m.tel.RecordCounter(ctx, "flashring.reclaim.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentReclaim),
		attribute.Int64(telemetry.AttrSectorNum, int64(sectorNum)),
		attribute.Int64(telemetry.AttrSequence, int64(sequence)),
	)
	m.tel.RecordCounter(ctx, "flashring.reclaim.discarded_records", int64(discardedRecords),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentReclaim),
		attribute.Int64(telemetry.AttrSectorNum, int64(sectorNum)),
	)
}

func (m *ringMetrics) RecordCorruption(ctx context.Context, sectorNum uint16, reason string) {
	m.tel.RecordCounter(ctx, "flashring.corruption.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSector),
		attribute.Int64(telemetry.AttrSectorNum, int64(sectorNum)),
		attribute.String(telemetry.AttrReason, reason),
	)
}

func (m *ringMetrics) RecordFsck(ctx context.Context, duration time.Duration, sectorsScanned, sectorsCorrupted uint64) {
	m.tel.RecordHistogram(ctx, "flashring.fsck.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeFsck),
	)
	m.tel.RecordCounter(ctx, "flashring.fsck.sectors_scanned", int64(sectorsScanned),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
	)
	m.tel.RecordCounter(ctx, "flashring.fsck.sectors_corrupted", int64(sectorsCorrupted),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRing),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *ringMetrics) Close() error {
	return nil
}

// noopRingMetrics provides a no-operation implementation for tests or
// disabled telemetry.
type noopRingMetrics struct{}

func (n *noopRingMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64, reclaimed bool) {
}
func (n *noopRingMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {}
func (n *noopRingMetrics) RecordMarkRead(ctx context.Context, duration time.Duration, accepted bool) {
}
func (n *noopRingMetrics) RecordReclaim(ctx context.Context, sectorNum uint16, sequence uint32, discardedRecords int) {
}
func (n *noopRingMetrics) RecordCorruption(ctx context.Context, sectorNum uint16, reason string) {}
func (n *noopRingMetrics) RecordFsck(ctx context.Context, duration time.Duration, sectorsScanned, sectorsCorrupted uint64) {
}
func (n *noopRingMetrics) Close() error { return nil }

var (
	_ RingMetrics = (*ringMetrics)(nil)
	_ RingMetrics = (*noopRingMetrics)(nil)
)
