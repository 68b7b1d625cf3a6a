package vfs

import "testing"

// TestArrayFileReadIsPure implements spec §8 property 1: two reads of the
// same (offset, size) return identical bytes.
func TestArrayFileReadIsPure(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	f := NewArrayFile(data)

	a := make([]byte, 10)
	b := make([]byte, 10)
	if _, err := f.Read(a, 4); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := f.Read(b, 4); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("reads diverged: %q != %q", a, b)
	}
}

// TestArrayFileTailBehavior implements spec §8 property 2: for a file of
// size S, read(S-1, 2) returns exactly 1 byte; read(S, 10) returns 0 bytes.
func TestArrayFileTailBehavior(t *testing.T) {
	data := []byte("0123456789")
	f := NewArrayFile(data)
	size := f.Size()

	buf := make([]byte, 2)
	n, err := f.Read(buf, size-1)
	if err != nil {
		t.Fatalf("read(S-1, 2): %v", err)
	}
	if n != 1 {
		t.Errorf("read(S-1, 2) returned %d bytes, want 1", n)
	}

	n, err = f.Read(buf, size)
	if err != nil {
		t.Fatalf("read(S, 10): %v", err)
	}
	if n != 0 {
		t.Errorf("read(S, 10) returned %d bytes, want 0", n)
	}
}

// TestOffsetFileMatchesBaseSlice implements spec §8 property 3:
// offset_slice(f, start, len).read(o, n) == f.read(start+o, n) for o+n <=
// len.
func TestOffsetFileMatchesBaseSlice(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	base := NewArrayFile(data)

	const start, length = 20, 50
	slice := NewOffsetFile(base, start, length)

	for _, c := range []struct{ o, n int64 }{
		{0, 10},
		{5, 45},
		{49, 1},
		{0, 50},
	} {
		got := make([]byte, c.n)
		if _, err := slice.Read(got, c.o); err != nil {
			t.Fatalf("slice.read(%d, %d): %v", c.o, c.n, err)
		}
		want := make([]byte, c.n)
		if _, err := base.Read(want, start+c.o); err != nil {
			t.Fatalf("base.read(%d, %d): %v", start+c.o, c.n, err)
		}
		if string(got) != string(want) {
			t.Errorf("o=%d n=%d: slice=%x base=%x", c.o, c.n, got, want)
		}
	}
}

// TestOffsetFileConstructionBoundsCheck exercises the panic-at-construction
// contract NewOffsetFile documents.
func TestOffsetFileConstructionBoundsCheck(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when start+length exceeds base size")
		}
	}()
	base := NewArrayFile(make([]byte, 10))
	NewOffsetFile(base, 5, 10)
}
