package message

import "testing"

type point2D struct {
	X int32
	Y int32
}

func TestPushPopRoundTrip(t *testing.T) {
	m := New(1)
	if err := Push(m, uint32(0xCAFEBABE)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if int(m.Header.Size) != m.Len() {
		t.Fatalf("P1 violated: header.size=%d len(body)=%d", m.Header.Size, m.Len())
	}
	before := m.Len()
	var out uint32
	if err := Pop(m, &out); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if out != 0xCAFEBABE {
		t.Fatalf("expected 0xCAFEBABE, got %x", out)
	}
	// P2: pop immediately after push restores prior body length.
	if m.Len() != before-4 {
		t.Fatalf("expected body length %d, got %d", before-4, m.Len())
	}
}

func TestPopUnderflow(t *testing.T) {
	m := New(1)
	var out uint64
	if err := Pop(m, &out); err == nil {
		t.Fatalf("expected error popping from empty body")
	}
}

func TestPushContainerFlatRoundTrip(t *testing.T) {
	m := New(2)
	pts := []point2D{{1, 9}, {1, 0}}
	if err := PushContainerFlat(m, pts); err != nil {
		t.Fatalf("push container: %v", err)
	}
	got, err := PopContainerFlat[point2D](m)
	if err != nil {
		t.Fatalf("pop container: %v", err)
	}
	if len(got) != len(pts) {
		t.Fatalf("expected %d points, got %d", len(pts), len(got))
	}
	for i := range pts {
		if got[i] != pts[i] {
			t.Fatalf("point %d mismatch: %+v != %+v", i, got[i], pts[i])
		}
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty body after full pop, got %d bytes", m.Len())
	}
}

// TestTypedRoundTrip mirrors the spec's seed scenario #3: push a string,
// then a flat list of 2D points, then a nested list of two such lists; pop
// in the reverse order (nested list, flat list, string) and reconstruct
// identical values.
func TestTypedRoundTrip(t *testing.T) {
	m := New(3)

	if err := PushString(m, "Hello"); err != nil {
		t.Fatalf("push string: %v", err)
	}

	flatList := []point2D{{1, 9}, {1, 0}}
	if err := PushContainerFlat(m, flatList); err != nil {
		t.Fatalf("push flat list: %v", err)
	}

	nested := [][]point2D{
		{{1, 9}, {1, 0}},
		{{2, 2}, {3, 3}},
	}
	pushList := func(mm *Message, l []point2D) error { return PushContainerFlat(mm, l) }
	if err := PushContainer(m, nested, pushList); err != nil {
		t.Fatalf("push nested: %v", err)
	}

	if int(m.Header.Size) != m.Len() {
		t.Fatalf("P1 violated before I/O handoff")
	}

	// Pop in reverse order.
	popList := func(mm *Message) ([]point2D, error) { return PopContainerFlat[point2D](mm) }
	gotNested, err := PopContainer(m, popList)
	if err != nil {
		t.Fatalf("pop nested: %v", err)
	}
	if len(gotNested) != len(nested) {
		t.Fatalf("expected %d nested lists, got %d", len(nested), len(gotNested))
	}
	for i := range nested {
		if len(gotNested[i]) != len(nested[i]) {
			t.Fatalf("nested list %d length mismatch", i)
		}
		for j := range nested[i] {
			if gotNested[i][j] != nested[i][j] {
				t.Fatalf("nested[%d][%d] mismatch: %+v != %+v", i, j, gotNested[i][j], nested[i][j])
			}
		}
	}

	gotFlat, err := PopContainerFlat[point2D](m)
	if err != nil {
		t.Fatalf("pop flat list: %v", err)
	}
	for i := range flatList {
		if gotFlat[i] != flatList[i] {
			t.Fatalf("flat[%d] mismatch: %+v != %+v", i, gotFlat[i], flatList[i])
		}
	}

	gotStr, err := PopString(m)
	if err != nil {
		t.Fatalf("pop string: %v", err)
	}
	if gotStr != "Hello" {
		t.Fatalf("expected Hello, got %q", gotStr)
	}

	if m.Len() != 0 {
		t.Fatalf("expected empty body after full reverse pop, got %d bytes", m.Len())
	}
}

func TestZeroBodyMessage(t *testing.T) {
	m := New(4)
	if m.Header.Size != 0 || m.Len() != 0 {
		t.Fatalf("expected empty message to have zero size")
	}
}
