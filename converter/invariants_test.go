// This file is part of symcache.
//
// symcache is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// symcache is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with symcache.  If not, see <https://www.gnu.org/licenses/>.

package converter

import (
	"testing"

	"github.com/crashlog/symcache/ir"
)

func TestInsertStringIdempotent(t *testing.T) {
	c := New(Options{})
	a := c.InsertString("hello")
	b := c.InsertString("hello")
	if a != b {
		t.Errorf("got %d and %d, want equal indices for equal strings", a, b)
	}
	if len(c.strings) != 1 {
		t.Errorf("got %d interned strings, want 1", len(c.strings))
	}

	c.InsertString("world")
	if len(c.strings) != 2 {
		t.Errorf("got %d interned strings, want 2", len(c.strings))
	}
}

func TestInsertFileIdempotent(t *testing.T) {
	c := New(Options{})
	dir := "/src"
	a := c.InsertFile("a.c", &dir, nil)
	b := c.InsertFile("a.c", &dir, nil)
	if a != b {
		t.Errorf("got %d and %d, want equal indices for an equal file record", a, b)
	}
}

func TestInsertSourceLocationIdempotent(t *testing.T) {
	c := New(Options{})
	sl := ir.SourceLocation{File: 0, Line: 5, Function: 0, InlinedInto: ir.SourceLocationIndex(ir.Absent)}
	a := c.InsertSourceLocation(sl)
	b := c.InsertSourceLocation(sl)
	if a != b {
		t.Errorf("got %d and %d, want equal indices for an equal source location", a, b)
	}
}

// Range keys must remain strictly ascending regardless of insertion order,
// since Serialize writes rangeKeys verbatim and Lookup binary searches it.
func TestRangeKeysStayAscending(t *testing.T) {
	c := New(Options{})
	sl := c.InsertSourceLocation(ir.SourceLocation{InlinedInto: ir.SourceLocationIndex(ir.Absent)})

	order := []uint32{500, 100, 300, 200, 400}
	for _, addr := range order {
		c.InsertRange(addr, sl)
	}

	if len(c.rangeKeys) != len(order) {
		t.Fatalf("got %d range keys, want %d", len(c.rangeKeys), len(order))
	}
	for i := 1; i < len(c.rangeKeys); i++ {
		if c.rangeKeys[i-1] >= c.rangeKeys[i] {
			t.Errorf("range keys not strictly ascending at %d: %v", i, c.rangeKeys)
		}
	}
}

// Every table index handed out by an Insert* method is either a valid index
// into that table or the Absent sentinel, never something in between.
func TestInsertedIndicesAreValidOrAbsent(t *testing.T) {
	c := New(Options{})
	idx := c.InsertString("x")
	if uint32(idx) >= uint32(len(c.strings)) {
		t.Errorf("string index %d out of range for table of length %d", idx, len(c.strings))
	}

	fnIdx := c.InsertFunction("f", nil, 0)
	if uint32(fnIdx) != ir.Absent && uint32(fnIdx) >= uint32(len(c.functions)) {
		t.Errorf("function index %d out of range for table of length %d", fnIdx, len(c.functions))
	}
}

func TestOffsetAddrRejectsBelowThresholdAndOverflow(t *testing.T) {
	c := New(Options{RangeThreshold: 0x1000})
	if _, ok := c.OffsetAddr(0x500); ok {
		t.Errorf("expected OffsetAddr to reject an address below the threshold")
	}
	if _, ok := c.OffsetAddr(0x1000); !ok {
		t.Errorf("expected OffsetAddr to accept an address exactly at the threshold")
	}
	huge := uint64(0x1000) + uint64(1)<<33
	if _, ok := c.OffsetAddr(huge); ok {
		t.Errorf("expected OffsetAddr to reject an offset that does not fit in 32 bits")
	}
}
