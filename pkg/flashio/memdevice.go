package flashio

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// MemDevice is an in-memory Device that enforces NOR program/erase
// semantics, with optional snapshot persistence to a backing file. It is
// used by tests and by the CLI in place of a real SPI/QSPI driver.
type MemDevice struct {
	mu sync.Mutex

	data       []byte
	sectorSize uint32
	pageSize   uint32
	jedecID    uint32
	path       string
	valid      bool
}

// NewMemDevice returns a MemDevice of the given size, erased (all 0xFF).
func NewMemDevice(size, sectorSize, pageSize uint32) *MemDevice {
	d := &MemDevice{
		data:       make([]byte, size),
		sectorSize: sectorSize,
		pageSize:   pageSize,
		jedecID:    0x000000, // simulated device, no real manufacturer ID
		valid:      true,
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return d
}

// OpenMemDevice loads a MemDevice snapshot from path if it exists, or
// creates a fresh erased one of the given size otherwise. Save persists
// the current contents back to path.
func OpenMemDevice(path string, size, sectorSize, pageSize uint32) (*MemDevice, error) {
	d := NewMemDevice(size, sectorSize, pageSize)
	d.path = path

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("flashio: read snapshot: %w", err)
	}
	if uint32(len(raw)) != size {
		return nil, fmt.Errorf("flashio: snapshot %s is %d bytes, want %d", path, len(raw), size)
	}
	copy(d.data, raw)
	return d, nil
}

// Save writes the current contents to the backing file given to
// OpenMemDevice. It is a no-op if the device was created with NewMemDevice.
func (d *MemDevice) Save() error {
	if d.path == "" {
		return nil
	}
	d.mu.Lock()
	snapshot := bytes.Clone(d.data)
	d.mu.Unlock()

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0644); err != nil {
		return fmt.Errorf("flashio: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("flashio: rename snapshot: %w", err)
	}
	return nil
}

// Read copies len(buf) bytes starting at addr into buf.
func (d *MemDevice) Read(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(buf, d.data[addr:addr+uint32(len(buf))])
	return nil
}

// Program ANDs buf into the existing bytes starting at addr, the same
// bit-clearing-only semantics a real NOR part enforces in hardware.
func (d *MemDevice) Program(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	for i, b := range buf {
		d.data[addr+uint32(i)] &= b
	}
	return nil
}

// EraseSector sets every byte in the sector starting at addr to 0xFF. addr
// must be sector-aligned; an unaligned addr is rejected with an error.
func (d *MemDevice) EraseSector(addr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sectorSize == 0 || addr%d.sectorSize != 0 {
		return fmt.Errorf("flashio: erase addr %d not sector-aligned (sector size %d)", addr, d.sectorSize)
	}
	if err := d.bounds(addr, d.sectorSize); err != nil {
		return err
	}
	sector := d.data[addr : addr+d.sectorSize]
	for i := range sector {
		sector[i] = 0xFF
	}
	return nil
}

// SectorSize reports the device's erase granularity in bytes.
func (d *MemDevice) SectorSize() uint32 { return d.sectorSize }

// PageSize reports the device's program granularity in bytes.
func (d *MemDevice) PageSize() uint32 { return d.pageSize }

// JEDECID reports the JEDEC manufacturer/device ID, or 0 if unknown.
func (d *MemDevice) JEDECID() uint32 { return d.jedecID }

// IsValid always reports true for a constructed MemDevice.
func (d *MemDevice) IsValid() bool { return d.valid }

func (d *MemDevice) bounds(addr, length uint32) error {
	if length == 0 {
		return nil
	}
	if addr >= uint32(len(d.data)) || uint32(len(d.data))-addr < length {
		return fmt.Errorf("flashio: access [%d, %d) out of range [0, %d)", addr, addr+length, len(d.data))
	}
	return nil
}

var _ Device = (*MemDevice)(nil)
