package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/bktr"
	"github.com/falk/nca-go/pkg/vfs"
)

// encodeCtrExEntry builds one {virt_offset, encryption_value, reserved,
// generation} entry, matching decodeCtrExEntry's layout.
func encodeCtrExEntry(virtOffset int64, encryption ctrExEncryption, counter uint32) []byte {
	buf := make([]byte, CtrExEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(virtOffset))
	buf[8] = byte(encryption)
	binary.LittleEndian.PutUint32(buf[12:16], counter)
	return buf
}

func newCtrExTable(endOffset int64, entries [][]byte) (vfs.File, vfs.File) {
	l1 := bktr.EncodeInteriorNode(CtrExNodeSize, bktr.NodeHeader{Index: 0, Count: 1, Offset: endOffset}, []int64{0})
	set := bktr.EncodeEntrySetNode(CtrExNodeSize, bktr.NodeHeader{Index: 0, Count: int32(len(entries)), Offset: endOffset}, CtrExEntrySize, entries)
	return vfs.NewArrayFile(l1), vfs.NewArrayFile(set)
}

// TestAesCtrExStorageEncryptedEntryDecrypts exercises the CtrExEncrypted
// branch: the subsection's bytes are real AES-CTR ciphertext, keyed by the
// entry's own Counter in place of the usual fixed generation word, and must
// decrypt back to the known plaintext.
func TestAesCtrExStorageEncryptedEntryDecrypts(t *testing.T) {
	var key aescrypto.Key128
	for i := range key {
		key[i] = byte(i)
	}
	upper := aescrypto.UpperIv{Generation: 0, SecureValue: 0x12345678}

	const counter = 0x2A
	plaintext := []byte("CTR-Ex plaintxt")
	if len(plaintext) != 16 {
		t.Fatalf("test plaintext must be one AES block, got %d bytes", len(plaintext))
	}

	entryUpper := upper
	entryUpper.Generation = counter
	iv := aescrypto.MakeCtrIv(entryUpper.Bytes(), 0)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	ciphertext := make([]byte, 16)
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, plaintext)

	base := vfs.NewArrayFile(ciphertext)
	nodeFile, entryFile := newCtrExTable(16, [][]byte{
		encodeCtrExEntry(0, CtrExEncrypted, counter),
	})

	s, err := NewAesCtrExStorage(base, nodeFile, entryFile, 1, key, upper, 0)
	if err != nil {
		t.Fatalf("NewAesCtrExStorage: %v", err)
	}

	got := make([]byte, 16)
	n, err := s.Read(got, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Fatalf("read returned %d bytes, want 16", n)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

// TestAesCtrExStorageNotEncryptedEntryPassesThrough exercises the
// CtrExNotEncrypted branch: the subsection is plaintext on disk and must
// come back unchanged, with no XOR applied.
func TestAesCtrExStorageNotEncryptedEntryPassesThrough(t *testing.T) {
	var key aescrypto.Key128
	for i := range key {
		key[i] = byte(0x80 + i)
	}
	upper := aescrypto.UpperIv{Generation: 1, SecureValue: 2}

	plaintext := []byte("not encrypted !!")
	if len(plaintext) != 16 {
		t.Fatalf("test plaintext must be one AES block, got %d bytes", len(plaintext))
	}

	base := vfs.NewArrayFile(append([]byte(nil), plaintext...))
	nodeFile, entryFile := newCtrExTable(16, [][]byte{
		encodeCtrExEntry(0, CtrExNotEncrypted, 0),
	})

	s, err := NewAesCtrExStorage(base, nodeFile, entryFile, 1, key, upper, 0)
	if err != nil {
		t.Fatalf("NewAesCtrExStorage: %v", err)
	}

	got := make([]byte, 16)
	n, err := s.Read(got, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Fatalf("read returned %d bytes, want 16", n)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("pass-through bytes = %q, want %q (unmodified)", got, plaintext)
	}
}
