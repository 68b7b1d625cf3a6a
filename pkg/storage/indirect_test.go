package storage

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/vfs"
)

func encodeIndirectEntry(virt, phys int64, storageIndex int32) []byte {
	buf := make([]byte, IndirectEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(virt))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(phys))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(storageIndex))
	return buf
}

// newIndirectTable builds a single-entry-set bucket tree over entries,
// laid out exactly as driver.go's composer expects (L1 node then one entry
// set, both IndirectNodeSize-sized).
func newIndirectTable(endOffset int64, entries [][]byte) (vfs.File, vfs.File) {
	l1 := bktr.EncodeInteriorNode(IndirectNodeSize, bktr.NodeHeader{Index: 0, Count: 1, Offset: endOffset}, []int64{0})
	set := bktr.EncodeEntrySetNode(IndirectNodeSize, bktr.NodeHeader{Index: 0, Count: int32(len(entries)), Offset: endOffset}, IndirectEntrySize, entries)
	return vfs.NewArrayFile(l1), vfs.NewArrayFile(set)
}

func constantFile(b byte, size int) vfs.File {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return vfs.NewArrayFile(buf)
}

// TestIndirectStoragePatchOverlay implements spec §8 Scenario D.
func TestIndirectStoragePatchOverlay(t *testing.T) {
	data0 := constantFile('A', 0x2000)
	data1 := constantFile('B', 0x2000)

	nodeFile, entryFile := newIndirectTable(0x2000, [][]byte{
		encodeIndirectEntry(0, 0, 0),
		encodeIndirectEntry(0x800, 0, 1),
	})

	ind, err := NewIndirectStorage(nodeFile, entryFile, 2, data0, data1)
	if err != nil {
		t.Fatalf("NewIndirectStorage: %v", err)
	}

	buf := make([]byte, 0x1000)
	n, err := ind.Read(buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 0x1000 {
		t.Fatalf("read returned %d bytes, want 0x1000", n)
	}

	want := append(bytes.Repeat([]byte{'A'}, 0x800), bytes.Repeat([]byte{'B'}, 0x800)...)
	if !bytes.Equal(buf, want) {
		t.Errorf("overlay mismatch:\ngot  %q\nwant %q", buf[:32], want[:32])
	}
}

// TestIndirectStorageAllStorage0IsIdentity implements spec §8 property 11:
// an indirect storage whose entries all reference storage 0 is
// byte-identical to storage 0 within [start_offset, end_offset).
func TestIndirectStorageAllStorage0IsIdentity(t *testing.T) {
	original := make([]byte, 0x1000)
	for i := range original {
		original[i] = byte(i)
	}
	data0 := vfs.NewArrayFile(original)
	data1 := constantFile('Z', 0x1000)

	nodeFile, entryFile := newIndirectTable(0x1000, [][]byte{
		encodeIndirectEntry(0, 0, 0),
	})

	ind, err := NewIndirectStorage(nodeFile, entryFile, 1, data0, data1)
	if err != nil {
		t.Fatalf("NewIndirectStorage: %v", err)
	}

	buf := make([]byte, 0x1000)
	if _, err := ind.Read(buf, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, original) {
		t.Errorf("indirect read diverged from storage 0")
	}
}
