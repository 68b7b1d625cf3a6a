package bktr

import (
	"encoding/binary"
	"testing"

	"github.com/falk/nca-go/pkg/ncaerr"
	"github.com/falk/nca-go/pkg/vfs"
)

// buildEntry returns a 16-byte entry whose first 8 bytes are the little
// endian virtual offset, matching every entry layout in spec §3.
func buildEntry(virt int64, tag uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(virt))
	binary.LittleEndian.PutUint64(buf[8:16], tag)
	return buf
}

// newScenarioBTree builds the three-entry, single entry-set tree Scenario B
// describes: node_size=1KiB, entry_size=16, entries at 0, 0x1000, 0x3000,
// end_offset=0x5000.
func newScenarioBTree(t *testing.T) *Tree {
	t.Helper()
	const nodeSize = 1024
	const entrySize = 16
	const endOffset = 0x5000

	l1 := EncodeInteriorNode(nodeSize, NodeHeader{Index: 0, Count: 1, Offset: endOffset}, []int64{0})
	entrySet := EncodeEntrySetNode(nodeSize, NodeHeader{Index: 0, Count: 3, Offset: endOffset}, entrySize, [][]byte{
		buildEntry(0, 0),
		buildEntry(0x1000, 1),
		buildEntry(0x3000, 2),
	})

	tree, err := Initialize(vfs.NewArrayFile(l1), vfs.NewArrayFile(entrySet), nodeSize, entrySize, 3)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return tree
}

func TestTreeFindScenarioB(t *testing.T) {
	tree := newScenarioBTree(t)

	v, err := tree.Find(0x2FFF)
	if err != nil {
		t.Fatalf("find(0x2FFF): %v", err)
	}
	if got := v.VirtualOffset(); got != 0x1000 {
		t.Errorf("find(0x2FFF).virt_ofs = 0x%x, want 0x1000", got)
	}

	v, err = tree.Find(0x3000)
	if err != nil {
		t.Fatalf("find(0x3000): %v", err)
	}
	if got := v.VirtualOffset(); got != 0x3000 {
		t.Errorf("find(0x3000).virt_ofs = 0x%x, want 0x3000", got)
	}

	if _, err := tree.Find(0x5000); err != ncaerr.ErrOutOfRange {
		t.Errorf("find(0x5000) err = %v, want ErrOutOfRange", err)
	}
}

// TestTreeFindCoversEveryEntry exercises property 4: find(v) for every v in
// [start_offset, end_offset) lands on an entry e with e.virt_ofs <= v <
// next_entry.virt_ofs (or end_offset for the last entry).
func TestTreeFindCoversEveryEntry(t *testing.T) {
	tree := newScenarioBTree(t)
	bounds := []struct{ lo, hi int64 }{
		{0, 0x1000},
		{0x1000, 0x3000},
		{0x3000, 0x5000},
	}
	for _, b := range bounds {
		for _, v := range []int64{b.lo, b.hi - 1} {
			visitor, err := tree.Find(v)
			if err != nil {
				t.Fatalf("find(0x%x): %v", v, err)
			}
			if got := visitor.VirtualOffset(); got != b.lo {
				t.Errorf("find(0x%x).virt_ofs = 0x%x, want 0x%x", v, got, b.lo)
			}
		}
	}
}

// TestTreeMoveNextMatchesFind exercises property 5: find(v).move_next()
// followed by find(v'.virt_ofs) yields the same entry.
func TestTreeMoveNextMatchesFind(t *testing.T) {
	tree := newScenarioBTree(t)

	v, err := tree.Find(0)
	if err != nil {
		t.Fatalf("find(0): %v", err)
	}
	if err := v.MoveNext(); err != nil {
		t.Fatalf("move_next: %v", err)
	}
	advanced := v.VirtualOffset()

	refetched, err := tree.Find(advanced)
	if err != nil {
		t.Fatalf("find(0x%x): %v", advanced, err)
	}
	if refetched.VirtualOffset() != advanced {
		t.Errorf("refetched.virt_ofs = 0x%x, want 0x%x", refetched.VirtualOffset(), advanced)
	}
}

// TestTreeEmptyReportsConfiguredEnd exercises property 6.
func TestTreeEmptyReportsConfiguredEnd(t *testing.T) {
	tree := InitializeEmpty(1024, 0x9000)
	offs, err := tree.GetOffsets()
	if err != nil {
		t.Fatalf("get_offsets: %v", err)
	}
	if offs.End != 0x9000 {
		t.Errorf("end_offset = 0x%x, want 0x9000", offs.End)
	}
	if _, err := tree.Find(0); err != ncaerr.ErrOutOfRange {
		t.Errorf("find on empty tree err = %v, want ErrOutOfRange", err)
	}
}
