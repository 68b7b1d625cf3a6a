package storage

import (
	"bytes"
	"testing"

	"github.com/falk/nca-go/pkg/vfs"
)

// TestAlignmentMatchingStorageMatchesAlignedRead implements spec §8
// property 9: reading through an alignment-matching wrapper returns the
// same bytes as a single aligned base read sliced to [offset, offset+size).
func TestAlignmentMatchingStorageMatchesAlignedRead(t *testing.T) {
	const dataAlign = 16
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	base := vfs.NewArrayFile(data)

	cases := []struct {
		offset, size int64
	}{
		{0, 16},
		{3, 10},
		{16, 16},
		{5, 37},
		{200, 56},
		{250, 6},
	}

	for _, c := range cases {
		aligned := NewAlignmentMatchingStorage(base, dataAlign, 1)
		got := make([]byte, c.size)
		n, err := aligned.Read(got, c.offset)
		if err != nil {
			t.Fatalf("offset=%d size=%d: read: %v", c.offset, c.size, err)
		}
		got = got[:n]

		alignedStart := floorAlign(c.offset, dataAlign)
		alignedEnd := ceilAlign(c.offset+c.size, dataAlign)
		full := make([]byte, alignedEnd-alignedStart)
		if _, err := base.Read(full, alignedStart); err != nil {
			t.Fatalf("base read: %v", err)
		}
		want := full[c.offset-alignedStart : c.offset-alignedStart+c.size]

		if !bytes.Equal(got, want) {
			t.Errorf("offset=%d size=%d: got %x, want %x", c.offset, c.size, got, want)
		}
	}
}
