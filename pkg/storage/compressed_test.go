package storage

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pierrec/lz4/v4"

	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/vfs"
)

func encodeCompressedEntry(virt, phys int64, compType CompressionType, physSize uint32) []byte {
	buf := make([]byte, CompressedEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(virt))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(phys))
	buf[16] = byte(compType)
	binary.LittleEndian.PutUint32(buf[20:24], physSize)
	return buf
}

// TestCompressedStorageZerosAndNone implements spec §8 Scenario E.
func TestCompressedStorageZerosAndNone(t *testing.T) {
	const endOffset = 0x800
	entries := [][]byte{
		encodeCompressedEntry(0, 0, CompressionZeros, 0),
		encodeCompressedEntry(0x400, 0, CompressionNone, 0x400),
	}
	l1 := bktr.EncodeInteriorNode(CompressedNodeSize, bktr.NodeHeader{Index: 0, Count: 1, Offset: endOffset}, []int64{0})
	set := bktr.EncodeEntrySetNode(CompressedNodeSize, bktr.NodeHeader{Index: 0, Count: int32(len(entries)), Offset: endOffset}, CompressedEntrySize, entries)

	data := make([]byte, 0x400)
	for i := range data {
		data[i] = 0xCC
	}

	comp, err := NewCompressedStorage(vfs.NewArrayFile(l1), vfs.NewArrayFile(set), int32(len(entries)), vfs.NewArrayFile(data), NewDefaultDecompressors())
	if err != nil {
		t.Fatalf("NewCompressedStorage: %v", err)
	}

	buf := make([]byte, 0x800)
	n, err := comp.Read(buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 0x800 {
		t.Fatalf("read returned %d bytes, want 0x800", n)
	}

	want := append(make([]byte, 0x400), bytes.Repeat([]byte{0xCC}, 0x400)...)
	if !bytes.Equal(buf, want) {
		t.Errorf("compressed read mismatch")
	}
}

// TestCompressedStorageLz4MidEntryRead exercises the Lz4 branch of
// CompressedStorage.Read with a request that starts partway through the
// entry's virtual range (dataOffset != 0): the storage must decompress the
// whole block regardless and slice out the requested sub-range, rather than
// rejecting the read.
func TestCompressedStorageLz4MidEntryRead(t *testing.T) {
	plaintext := make([]byte, 0x400)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	packed := make([]byte, lz4.CompressBlockBound(len(plaintext)))
	n, err := lz4.CompressBlock(plaintext, packed, nil)
	if err != nil {
		t.Fatalf("lz4.CompressBlock: %v", err)
	}
	packed = packed[:n]

	const endOffset = 0x400
	entries := [][]byte{
		encodeCompressedEntry(0, 0, CompressionLz4, uint32(len(packed))),
	}
	l1 := bktr.EncodeInteriorNode(CompressedNodeSize, bktr.NodeHeader{Index: 0, Count: 1, Offset: endOffset}, []int64{0})
	set := bktr.EncodeEntrySetNode(CompressedNodeSize, bktr.NodeHeader{Index: 0, Count: int32(len(entries)), Offset: endOffset}, CompressedEntrySize, entries)

	comp, err := NewCompressedStorage(vfs.NewArrayFile(l1), vfs.NewArrayFile(set), int32(len(entries)), vfs.NewArrayFile(packed), NewDefaultDecompressors())
	if err != nil {
		t.Fatalf("NewCompressedStorage: %v", err)
	}

	const readOffset = 0x100
	buf := make([]byte, 0x40)
	got, err := comp.Read(buf, readOffset)
	if err != nil {
		t.Fatalf("mid-entry read: %v", err)
	}
	if got != len(buf) {
		t.Fatalf("read returned %d bytes, want %d", got, len(buf))
	}
	if !bytes.Equal(buf, plaintext[readOffset:readOffset+len(buf)]) {
		t.Errorf("mid-entry Lz4 read mismatch:\ngot  %x\nwant %x", buf, plaintext[readOffset:readOffset+len(buf)])
	}
}
