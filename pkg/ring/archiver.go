package ring

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
)

// ArchivedRecord is one record handed to an Archiver immediately before its
// sector is erased for reclamation.
type ArchivedRecord struct {
	Sequence uint32 // the sector's sequence at the time of reclaim
	Index    int    // the record's position within the sector
	Payload  []byte
	Unread   bool // true if the record had not been acknowledged
}

// Archiver receives the still-live records of a sector the controller is
// about to reclaim, so an operator can recover what is otherwise silently
// discarded per spec.md §9. Archive errors are logged and otherwise
// ignored: the reclaim this accompanies must never be blocked or failed by
// an archive sink.
type Archiver interface {
	Archive(sectorNum uint16, sequence uint32, records []ArchivedRecord) error
}

// GzipArchiver writes reclaimed records to an io.Writer as a gzip-
// compressed stream of length-prefixed frames, each followed by an
// xxhash64 checksum of its payload so a reader can detect truncation or
// corruption in the archive itself.
//
// Frame layout (all little-endian): sector_num u16, sequence u32,
// index u32, unread u8, payload_len u32, payload, checksum u64.
type GzipArchiver struct {
	mu sync.Mutex
	gz *gzip.Writer
}

// NewGzipArchiver wraps w with a gzip writer. Close flushes and closes the
// underlying gzip stream.
func NewGzipArchiver(w io.Writer) *GzipArchiver {
	return &GzipArchiver{gz: gzip.NewWriter(w)}
}

// Archive writes one frame per record in records.
func (a *GzipArchiver) Archive(sectorNum uint16, sequence uint32, records []ArchivedRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range records {
		var head [2 + 4 + 4 + 1 + 4]byte
		binary.LittleEndian.PutUint16(head[0:2], sectorNum)
		binary.LittleEndian.PutUint32(head[2:6], sequence)
		binary.LittleEndian.PutUint32(head[6:10], uint32(rec.Index))
		if rec.Unread {
			head[10] = 1
		}
		binary.LittleEndian.PutUint32(head[11:15], uint32(len(rec.Payload)))

		if _, err := a.gz.Write(head[:]); err != nil {
			return fmt.Errorf("ring: archive frame header: %w", err)
		}
		if len(rec.Payload) > 0 {
			if _, err := a.gz.Write(rec.Payload); err != nil {
				return fmt.Errorf("ring: archive frame payload: %w", err)
			}
		}

		var checksum [8]byte
		binary.LittleEndian.PutUint64(checksum[:], xxhash.Sum64(rec.Payload))
		if _, err := a.gz.Write(checksum[:]); err != nil {
			return fmt.Errorf("ring: archive frame checksum: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the underlying gzip stream.
func (a *GzipArchiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gz.Close()
}

var _ Archiver = (*GzipArchiver)(nil)
