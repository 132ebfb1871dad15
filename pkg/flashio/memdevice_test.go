package flashio

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestNewMemDeviceErased(t *testing.T) {
	d := NewMemDevice(4096, 4096, 256)
	buf := make([]byte, 16)
	if err := d.Read(0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := bytes.Repeat([]byte{0xFF}, 16)
	if !bytes.Equal(buf, want) {
		t.Errorf("fresh device not all-ones: %x", buf)
	}
}

func TestProgramClearsBitsOnly(t *testing.T) {
	d := NewMemDevice(4096, 4096, 256)

	if err := d.Program(0, []byte{0x0F, 0xF0}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	buf := make([]byte, 2)
	d.Read(0, buf)
	if !bytes.Equal(buf, []byte{0x0F, 0xF0}) {
		t.Fatalf("got %x, want 0f f0", buf)
	}

	// Programming again can only clear further bits, never set them.
	if err := d.Program(0, []byte{0xFF, 0x00}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	d.Read(0, buf)
	if !bytes.Equal(buf, []byte{0x0F, 0x00}) {
		t.Fatalf("second program got %x, want 0f 00", buf)
	}
}

func TestEraseSectorResetsToOnes(t *testing.T) {
	d := NewMemDevice(8192, 4096, 256)
	d.Program(100, []byte{0x00, 0x00})

	if err := d.EraseSector(0); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	buf := make([]byte, 2)
	d.Read(100, buf)
	if !bytes.Equal(buf, []byte{0xFF, 0xFF}) {
		t.Errorf("sector not erased: %x", buf)
	}
}

func TestEraseSectorRejectsUnaligned(t *testing.T) {
	d := NewMemDevice(8192, 4096, 256)
	if err := d.EraseSector(1); err == nil {
		t.Fatal("expected error for unaligned erase address")
	}
}

func TestReadProgramOutOfRange(t *testing.T) {
	d := NewMemDevice(4096, 4096, 256)
	buf := make([]byte, 16)
	if err := d.Read(4090, buf); err == nil {
		t.Fatal("expected out-of-range error on Read")
	}
	if err := d.Program(4090, buf); err == nil {
		t.Fatal("expected out-of-range error on Program")
	}
}

func TestOpenMemDeviceSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flash.img")

	d1, err := OpenMemDevice(path, 8192, 4096, 256)
	if err != nil {
		t.Fatalf("OpenMemDevice: %v", err)
	}
	d1.Program(16, []byte{0x00, 0x01})
	if err := d1.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	d2, err := OpenMemDevice(path, 8192, 4096, 256)
	if err != nil {
		t.Fatalf("OpenMemDevice reload: %v", err)
	}
	buf := make([]byte, 2)
	d2.Read(16, buf)
	if !bytes.Equal(buf, []byte{0x00, 0x01}) {
		t.Errorf("reloaded snapshot mismatch: %x", buf)
	}
}

func TestOpenMemDeviceSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flash.img")

	d1, err := OpenMemDevice(path, 4096, 4096, 256)
	if err != nil {
		t.Fatalf("OpenMemDevice: %v", err)
	}
	if err := d1.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := OpenMemDevice(path, 8192, 4096, 256); err == nil {
		t.Fatal("expected size mismatch error")
	}
}
