package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/vfs"
)

// TestAesCtrStorageDecryptsScenarioA implements spec §8 Scenario A: a known
// key/upper-IV/plaintext pair, encrypted with the CTR counter the storage
// itself derives from the absolute byte offset, must decrypt back exactly.
func TestAesCtrStorageDecryptsScenarioA(t *testing.T) {
	var key aescrypto.Key128
	for i := range key {
		key[i] = byte(i)
	}
	upper := aescrypto.UpperIv{Generation: 0xAABBCCDD, SecureValue: 0xEEFF0011}.Bytes()

	const offset = 0x20
	plaintext := []byte("Hello, Switch!!\x00")
	if len(plaintext) != 16 {
		t.Fatalf("test plaintext must be one AES block, got %d bytes", len(plaintext))
	}

	iv := aescrypto.MakeCtrIv(upper, offset)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	ciphertext := make([]byte, 16)
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, plaintext)

	base := make([]byte, offset+16)
	copy(base[offset:], ciphertext)

	storage := NewAesCtrStorage(vfs.NewArrayFile(base), key, upper, 0)

	got := make([]byte, 16)
	n, err := storage.Read(got, offset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Fatalf("read returned %d bytes, want 16", n)
	}
	if string(got) != string(plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

// TestAddCounterCarriesLikeBigEndianU128 implements spec §8 property 7.
func TestAddCounterCarriesLikeBigEndianU128(t *testing.T) {
	var c [16]byte
	c[15] = 0xFF
	c[14] = 0xFF

	got := aescrypto.AddCounter(c, 1)

	want := [16]byte{}
	want[13] = 0x01
	if got != want {
		t.Errorf("AddCounter carried wrong: got %x, want %x", got, want)
	}
}

// TestAesCtrStorageCountersAdvancePerBlock implements spec §8 property 8:
// reading [o, n) with o 16-aligned decrypts with counters u+o/16, u+o/16+1, ...
func TestAesCtrStorageCountersAdvancePerBlock(t *testing.T) {
	var key aescrypto.Key128
	for i := range key {
		key[i] = byte(0x10 + i)
	}
	upper := aescrypto.UpperIv{Generation: 1, SecureValue: 2}.Bytes()

	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}

	const baseOffset = 0x40
	plaintext := make([]byte, 48) // three blocks
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	iv := aescrypto.MakeCtrIv(upper, baseOffset)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, plaintext)

	base := make([]byte, baseOffset+len(plaintext))
	copy(base[baseOffset:], ciphertext)

	storage := NewAesCtrStorage(vfs.NewArrayFile(base), key, upper, 0)

	got := make([]byte, len(plaintext))
	if _, err := storage.Read(got, baseOffset); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("decrypted = %x, want %x", got, plaintext)
	}
}
