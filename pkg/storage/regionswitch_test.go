package storage

import (
	"bytes"
	"testing"

	"github.com/falk/nca-go/pkg/vfs"
)

// TestRegionSwitchStorageNoOpWhenInsideEqualsOutside implements spec §8
// property 12: a region-switch storage composed with inside == outside is
// a no-op, regardless of the configured region boundary.
func TestRegionSwitchStorageNoOpWhenInsideEqualsOutside(t *testing.T) {
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	same := vfs.NewArrayFile(data)

	s := NewRegionSwitchStorage(same, same, Region{Offset: 40, Size: 20})

	got := make([]byte, 128)
	n, err := s.Read(got, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 128 {
		t.Fatalf("read returned %d bytes, want 128", n)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("region-switch over identical storages changed the bytes")
	}
}
