package ring

import (
	"github.com/flashring/flashring/pkg/common/log"
	"github.com/flashring/flashring/pkg/databuffer"
	"github.com/flashring/flashring/pkg/sector"
	"github.com/flashring/flashring/pkg/stats"
	"github.com/flashring/flashring/pkg/telemetry"
)

// ReadInfo is the value-typed result of ReadData: a snapshot of the sector
// and record a caller must present back to MarkAsRead. It remains valid
// independent of the controller's internal cache or mutex scope — callers
// own it outright.
type ReadInfo struct {
	SectorNum    uint16
	SectorCommon sector.Common
	Index        int
	RecordCommon sector.RecordCommon
	Payload      databuffer.Buffer
}

// UsageStats is the result of Buffer.UsageStats.
type UsageStats struct {
	RecordCount uint32
	DataSize    uint32
	FreeSectors int
}

// Option configures a Buffer at construction time.
type Option func(*buildOptions)

type buildOptions struct {
	sectorCacheSize int
	logger          log.Logger
	telemetry       telemetry.Telemetry
	stats           stats.Collector
	archiver        Archiver
}

// WithSectorCacheSize overrides Config.SectorCacheSize (default 8).
func WithSectorCacheSize(n int) Option {
	return func(o *buildOptions) { o.sectorCacheSize = n }
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l log.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithTelemetry overrides the default no-op Telemetry.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(o *buildOptions) { o.telemetry = t }
}

// WithStatsCollector overrides the default stats.AtomicCollector.
func WithStatsCollector(c stats.Collector) Option {
	return func(o *buildOptions) { o.stats = c }
}

// WithArchiver installs an Archiver invoked immediately before a reclaim
// erases a sector that holds records; it receives every record, each
// flagged as read or unread. Nil (the default) is spec.md's exact
// silent-discard behavior.
func WithArchiver(a Archiver) Option {
	return func(o *buildOptions) { o.archiver = a }
}
