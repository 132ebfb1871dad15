package sector

// Record is the in-RAM record index entry: a decoded RecordCommon plus its
// byte offset within the sector (header start), so the engine does not
// need to recompute the running offset to read or rewrite a given record.
type Record struct {
	Offset uint32 // offset of this record's 2-byte header within the sector
	RecordCommon
}

// Sector is the in-RAM representation of one physical sector: its header
// state plus an ordered index of the records packed into it. Sector
// entries are owned by the sector cache; callers receive short-lived
// references valid only for the duration of the controller call that
// produced them.
type Sector struct {
	Num     uint16
	Common  Common
	Records []Record
}

// UsedBytes returns the number of bytes occupied by the header plus every
// indexed record (header + payload), i.e. the offset at which the next
// record would be appended.
func (s *Sector) UsedBytes() uint32 {
	offset := uint32(HeaderSize)
	for _, r := range s.Records {
		offset += RecordHeaderSize + uint32(r.Size)
	}
	return offset
}

// DataSize returns the sum of payload sizes of every indexed record.
func (s *Sector) DataSize() uint32 {
	var n uint32
	for _, r := range s.Records {
		n += uint32(r.Size)
	}
	return n
}

// UnreadCount returns the number of indexed records whose READ bit is
// still set (i.e. not yet acknowledged).
func (s *Sector) UnreadCount() int {
	n := 0
	for _, r := range s.Records {
		if r.Read {
			n++
		}
	}
	return n
}

// FirstUnread returns the index of the first record whose READ bit is
// still set, or -1 if every record has been acknowledged.
func (s *Sector) FirstUnread() int {
	for i, r := range s.Records {
		if r.Read {
			return i
		}
	}
	return -1
}

// IsFresh reports whether c describes a sector with no appended records
// since its last erase (STARTED bit still set).
func (c Common) IsFresh() bool {
	return c.Started
}

// IsSealed reports whether c describes a finalized (sealed) sector, i.e.
// the FINALIZED bit has been cleared.
func (c Common) IsSealed() bool {
	return !c.Finalized
}
