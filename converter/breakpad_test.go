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

package converter_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/crashlog/symcache/converter"
	"github.com/crashlog/symcache/format"
	"github.com/crashlog/symcache/ir"
)

// serializeAligned serializes c and copies the result into a freshly made
// byte slice, since the Reader requires an 8 byte aligned buffer and a
// byte slice returned by make is suitably aligned, unlike the tail of a
// growing bytes.Buffer.
func serializeAligned(t *testing.T, c *converter.Converter) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := c.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func mustParse(t *testing.T, buf []byte) *format.Reader {
	t.Helper()
	r, err := format.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return r
}

func oneFrame(t *testing.T, it format.FrameIterator) format.Frame {
	t.Helper()
	f, ok := it.Next()
	if !ok {
		t.Fatalf("expected at least one frame, got none")
	}
	if _, ok := it.Next(); ok {
		t.Fatalf("expected exactly one frame, got more than one")
	}
	return f
}

// Scenario 1: simple function.
func TestEndToEndSimpleFunction(t *testing.T) {
	c := converter.New(converter.Options{})
	input := "FUNC d20 20 0 foo\nFILE 0 a.c\nLINE d20 10 5 0\n"
	if err := c.ProcessBreakpad(strings.NewReader(input), nil); err != nil {
		t.Fatalf("ProcessBreakpad: %v", err)
	}

	r := mustParse(t, serializeAligned(t, c))
	it := r.Lookup(0xd24)
	frame := oneFrame(t, it)

	if frame.Line() != 5 {
		t.Errorf("line = %d, want 5", frame.Line())
	}
	fn, ok, err := frame.Function()
	if err != nil || !ok {
		t.Fatalf("Function: ok=%v err=%v", ok, err)
	}
	name, err := fn.Name()
	if err != nil || name != "foo" {
		t.Errorf("function name = %q, err=%v, want foo", name, err)
	}
	file, ok, err := frame.File()
	if err != nil || !ok {
		t.Fatalf("File: ok=%v err=%v", ok, err)
	}
	path, err := file.FullPath()
	if err != nil || path != "a.c" {
		t.Errorf("file path = %q, err=%v, want a.c", path, err)
	}
}

// Scenario 2: PUBLIC-symbol fallback, no line information.
func TestEndToEndPublicSymbolFallback(t *testing.T) {
	c := converter.New(converter.Options{})
	input := "FUNC d20 20 0 foo\nPUBLIC d80 0 bar\n"
	if err := c.ProcessBreakpad(strings.NewReader(input), nil); err != nil {
		t.Fatalf("ProcessBreakpad: %v", err)
	}

	r := mustParse(t, serializeAligned(t, c))
	frame := oneFrame(t, r.Lookup(0xd90))

	if frame.Line() != 0 {
		t.Errorf("line = %d, want 0", frame.Line())
	}
	fn, ok, err := frame.Function()
	if err != nil || !ok {
		t.Fatalf("Function: ok=%v err=%v", ok, err)
	}
	name, err := fn.Name()
	if err != nil || name != "bar" {
		t.Errorf("function name = %q, err=%v, want bar", name, err)
	}
}

// Scenario 4: address below the range threshold misses.
func TestEndToEndAddressBelowThreshold(t *testing.T) {
	c := converter.New(converter.Options{RangeThreshold: 0x1000})
	input := "FUNC 1000 20 0 foo\n"
	if err := c.ProcessBreakpad(strings.NewReader(input), nil); err != nil {
		t.Fatalf("ProcessBreakpad: %v", err)
	}

	r := mustParse(t, serializeAligned(t, c))

	below := r.Lookup(0x800)
	if _, ok := below.Next(); ok {
		t.Errorf("expected empty iterator for address below threshold")
	}
	atThreshold := r.Lookup(0x1000)
	if _, ok := atThreshold.Next(); !ok {
		t.Errorf("expected a frame for an address exactly at the threshold")
	}
}

// Scenario 5: idempotent function interning.
func TestIdempotentFunctionInterning(t *testing.T) {
	c := converter.New(converter.Options{})
	pc := uint32(0x10)
	first := c.InsertFunction("foo", &pc, 0)
	before := numFunctions(t, c)

	second := c.InsertFunction("foo", &pc, 0)
	after := numFunctions(t, c)

	if first != second {
		t.Errorf("expected equal indices for equal function records, got %d and %d", first, second)
	}
	if after != before {
		t.Errorf("expected function count unchanged by duplicate insert, got %d then %d", before, after)
	}
}

// numFunctions exercises Serialize and Parse purely to observe the function
// count via the wire header, matching how a real caller would corroborate
// size after a round trip.
func numFunctions(t *testing.T, c *converter.Converter) int {
	t.Helper()
	r := mustParse(t, serializeAligned(t, c))
	n := 0
	it := r.Functions()
	for {
		_, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Functions: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	return n
}

// Scenario 6: range first-writer-wins.
func TestRangeFirstWriterWins(t *testing.T) {
	c := converter.New(converter.Options{})

	slA := c.InsertSourceLocation(ir.SourceLocation{Line: 1, File: ir.FileIndex(ir.Absent), Function: ir.FunctionIndex(ir.Absent), InlinedInto: ir.SourceLocationIndex(ir.Absent)})
	slB := c.InsertSourceLocation(ir.SourceLocation{Line: 2, File: ir.FileIndex(ir.Absent), Function: ir.FunctionIndex(ir.Absent), InlinedInto: ir.SourceLocationIndex(ir.Absent)})

	c.InsertRange(0x200, slA)
	c.InsertRange(0x200, slB)

	r := mustParse(t, serializeAligned(t, c))
	frame := oneFrame(t, r.Lookup(0x200))
	if frame.Line() != 1 {
		t.Errorf("line = %d, want 1 (first writer)", frame.Line())
	}
}

// Supplemental: Breakpad INLINE/INLINE_ORIGIN splice an inline chain onto a
// row the same way a DWARF inlined_subroutine does.
func TestEndToEndBreakpadInlineChain(t *testing.T) {
	c := converter.New(converter.Options{})
	input := strings.Join([]string{
		"FUNC 1000 100 0 caller",
		"FILE 0 caller.c",
		"LINE 1000 40 17 0",
		"LINE 1040 40 17 0",
		"INLINE_ORIGIN 0 callee",
		"INLINE 0 17 0 0 1040 40",
	}, "\n") + "\n"

	if err := c.ProcessBreakpad(strings.NewReader(input), nil); err != nil {
		t.Fatalf("ProcessBreakpad: %v", err)
	}

	r := mustParse(t, serializeAligned(t, c))
	it := r.Lookup(0x1050)

	inner, ok := it.Next()
	if !ok {
		t.Fatalf("expected an inner frame")
	}
	innerFn, ok, err := inner.Function()
	if err != nil || !ok {
		t.Fatalf("inner Function: ok=%v err=%v", ok, err)
	}
	innerName, err := innerFn.Name()
	if err != nil || innerName != "callee" {
		t.Errorf("inner function = %q, err=%v, want callee", innerName, err)
	}

	outer, ok := it.Next()
	if !ok {
		t.Fatalf("expected an outer (caller) frame")
	}
	if outer.Line() != 17 {
		t.Errorf("outer line = %d, want 17", outer.Line())
	}
	outerFn, ok, err := outer.Function()
	if err != nil || !ok {
		t.Fatalf("outer Function: ok=%v err=%v", ok, err)
	}
	outerName, err := outerFn.Name()
	if err != nil || outerName != "caller" {
		t.Errorf("outer function = %q, err=%v, want caller", outerName, err)
	}

	if _, ok := it.Next(); ok {
		t.Errorf("expected exactly two frames in the inline chain")
	}
}

func TestMalformedRecordsReportedToSink(t *testing.T) {
	c := converter.New(converter.Options{})
	var diagnostics []error
	sink := func(err error) { diagnostics = append(diagnostics, err) }

	input := "FUNC not-hex 20 0 foo\n"
	if err := c.ProcessBreakpad(strings.NewReader(input), sink); err != nil {
		t.Fatalf("ProcessBreakpad: %v", err)
	}
	if len(diagnostics) == 0 {
		t.Errorf("expected a diagnostic for a malformed FUNC address")
	}
}
