package storage

import (
	"testing"

	"github.com/falk/nca-go/pkg/vfs"
)

// TestSparseStorageEmptyTreeZeroFill implements spec §8 Scenario C and
// property 10: a sparse storage with an empty tree and declared size S
// returns S zero bytes for read(0, S).
func TestSparseStorageEmptyTreeZeroFill(t *testing.T) {
	const size = 0x1234
	data0 := vfs.NewArrayFile(make([]byte, size))

	sparse, err := NewSparseStorage(nil, nil, 0, data0)
	if err != nil {
		t.Fatalf("NewSparseStorage: %v", err)
	}
	if got := sparse.Size(); got != size {
		t.Fatalf("Size() = 0x%x, want 0x%x", got, size)
	}

	buf := make([]byte, size)
	n, err := sparse.Read(buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != size {
		t.Fatalf("read returned %d bytes, want %d", n, size)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %x, want 0", i, b)
		}
	}
}
