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
	"io"

	"github.com/crashlog/symcache/curated"
	"github.com/crashlog/symcache/ir"
)

// breakpadState is the module-local working state, mirroring the DWARF
// ingester's per-CU cuState: ranges are staged here, mutable in place by
// INLINE records, and only merged into the converter-global range map
// (first-writer-wins) once the whole module has been scanned.
type breakpadState struct {
	ranges map[uint32]ir.SourceLocation
	keys   []uint32

	files       map[uint64]ir.FileIndex
	originFuncs map[uint64]ir.FunctionIndex

	currentFunc ir.FunctionIndex
	haveFunc    bool
}

func (st *breakpadState) setRange(addr uint32, sl ir.SourceLocation) {
	if _, exists := st.ranges[addr]; !exists {
		st.keys = insertSortedUint32(st.keys, addr)
	}
	st.ranges[addr] = sl
}

func (st *breakpadState) mutateRange(addr uint32, fn func(ir.SourceLocation) ir.SourceLocation) (ir.SourceLocation, bool) {
	sl, ok := st.ranges[addr]
	if !ok {
		return ir.SourceLocation{}, false
	}
	sl = fn(sl)
	st.ranges[addr] = sl
	return sl, true
}

func skipMultipleFlag(s *breakpadScanner, start int) int {
	if s.Field(start) == "m" {
		return start + 1
	}
	return start
}

// ProcessBreakpad reads a Breakpad text symbol file from r, recognizing
// MODULE, FILE, FUNC, PUBLIC and LINE records plus the supplemental
// INLINE_ORIGIN/INLINE records carrying inline call chains. It is not a
// complete Breakpad grammar: unrecognized record kinds (eg STACK CFI) are
// skipped.
func (c *Converter) ProcessBreakpad(r io.Reader, sink ErrorSink) error {
	sink = ensureSink(sink)

	st := &breakpadState{
		ranges:      make(map[uint32]ir.SourceLocation),
		files:       make(map[uint64]ir.FileIndex),
		originFuncs: make(map[uint64]ir.FunctionIndex),
	}

	s := newBreakpadScanner(r)
	for s.Scan() {
		switch s.Keyword() {
		case "MODULE":
			// object/arch/debug-id identification, assumed already known
			// by the caller via Options; not modeled here.
		case "FILE":
			c.breakpadFile(st, s, sink)
		case "FUNC":
			c.breakpadFunc(st, s, sink)
		case "PUBLIC":
			c.breakpadPublic(st, s, sink)
		case "LINE":
			c.breakpadLine(st, s, sink)
		case "INLINE_ORIGIN":
			c.breakpadInlineOrigin(st, s, sink)
		case "INLINE":
			c.breakpadInline(st, s, sink)
		}
	}
	if err := s.Err(); err != nil {
		return curated.Errorf("breakpad: scanning symbol file: %v", err)
	}

	for _, addr := range st.keys {
		slIdx := c.InsertSourceLocation(st.ranges[addr])
		c.InsertRange(addr, slIdx)
	}
	return nil
}

func (c *Converter) breakpadFile(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	if s.NumFields() < 3 {
		sink(curated.Errorf("breakpad: malformed FILE record"))
		return
	}
	id, ok := parseUint(s.Field(1))
	if !ok {
		sink(curated.Errorf("breakpad: malformed FILE id %q", s.Field(1)))
		return
	}
	st.files[id] = c.InsertFile(s.Rest(2), nil, nil)
}

func (c *Converter) breakpadFunc(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	i := skipMultipleFlag(s, 1)
	if s.NumFields() < i+4 {
		sink(curated.Errorf("breakpad: malformed FUNC record"))
		return
	}
	addr, ok := parseHexAddr(s.Field(i))
	if !ok {
		sink(curated.Errorf("breakpad: malformed FUNC address %q", s.Field(i)))
		return
	}
	relAddr, ok := c.OffsetAddr(addr)
	if !ok {
		st.haveFunc = false
		return
	}

	entryPC := relAddr
	fnIdx := c.InsertFunction(s.Rest(i+3), &entryPC, 0)
	st.currentFunc = fnIdx
	st.haveFunc = true

	if _, exists := st.ranges[relAddr]; !exists {
		st.setRange(relAddr, ir.SourceLocation{
			File:        ir.FileIndex(ir.Absent),
			Function:    fnIdx,
			InlinedInto: ir.SourceLocationIndex(ir.Absent),
		})
	}
}

func (c *Converter) breakpadPublic(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	i := skipMultipleFlag(s, 1)
	if s.NumFields() < i+3 {
		sink(curated.Errorf("breakpad: malformed PUBLIC record"))
		return
	}
	addr, ok := parseHexAddr(s.Field(i))
	if !ok {
		sink(curated.Errorf("breakpad: malformed PUBLIC address %q", s.Field(i)))
		return
	}
	relAddr, ok := c.OffsetAddr(addr)
	if !ok {
		return
	}

	entryPC := relAddr
	fnIdx := c.InsertFunction(s.Rest(i+2), &entryPC, 0)

	if _, exists := st.ranges[relAddr]; !exists {
		st.setRange(relAddr, ir.SourceLocation{
			File:        ir.FileIndex(ir.Absent),
			Function:    fnIdx,
			InlinedInto: ir.SourceLocationIndex(ir.Absent),
		})
	}
}

func (c *Converter) breakpadLine(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	if s.NumFields() < 5 {
		sink(curated.Errorf("breakpad: malformed LINE record"))
		return
	}
	addr, ok := parseHexAddr(s.Field(1))
	if !ok {
		sink(curated.Errorf("breakpad: malformed LINE address %q", s.Field(1)))
		return
	}
	relAddr, ok := c.OffsetAddr(addr)
	if !ok {
		return
	}
	lineNum, ok := parseUint(s.Field(3))
	if !ok {
		sink(curated.Errorf("breakpad: malformed LINE line number %q", s.Field(3)))
		return
	}
	fileID, ok := parseUint(s.Field(4))
	if !ok {
		sink(curated.Errorf("breakpad: malformed LINE file id %q", s.Field(4)))
		return
	}

	fileIdx, ok := st.files[fileID]
	if !ok {
		fileIdx = ir.FileIndex(ir.Absent)
	}

	fn := ir.FunctionIndex(ir.Absent)
	if st.haveFunc {
		fn = st.currentFunc
	}

	st.setRange(relAddr, ir.SourceLocation{
		File:        fileIdx,
		Line:        uint32(lineNum),
		Function:    fn,
		InlinedInto: ir.SourceLocationIndex(ir.Absent),
	})
}

func (c *Converter) breakpadInlineOrigin(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	i := skipMultipleFlag(s, 1)
	if s.NumFields() < i+2 {
		sink(curated.Errorf("breakpad: malformed INLINE_ORIGIN record"))
		return
	}
	id, ok := parseUint(s.Field(i))
	if !ok {
		sink(curated.Errorf("breakpad: malformed INLINE_ORIGIN id %q", s.Field(i)))
		return
	}
	st.originFuncs[id] = c.InsertFunction(s.Rest(i+1), nil, 0)
}

// breakpadInline handles "INLINE depth call_line call_file origin_id
// address size [address size ...]": for each (address, size) pair, the row
// at exactly that address is re-attributed to the inlined function, with a
// caller source location spliced in exactly as a DWARF inlined_subroutine
// does for the equivalent row. The size is not read: rows at later
// addresses inside the pair's range keep their existing attribution.
func (c *Converter) breakpadInline(st *breakpadState, s *breakpadScanner, sink ErrorSink) {
	if s.NumFields() < 7 {
		sink(curated.Errorf("breakpad: malformed INLINE record"))
		return
	}
	callLine, ok := parseUint(s.Field(2))
	if !ok {
		sink(curated.Errorf("breakpad: malformed INLINE call_line %q", s.Field(2)))
		return
	}
	callFileID, ok := parseUint(s.Field(3))
	if !ok {
		sink(curated.Errorf("breakpad: malformed INLINE call_file %q", s.Field(3)))
		return
	}
	originID, ok := parseUint(s.Field(4))
	if !ok {
		sink(curated.Errorf("breakpad: malformed INLINE origin_id %q", s.Field(4)))
		return
	}
	calleeFn, ok := st.originFuncs[originID]
	if !ok {
		sink(curated.Errorf("breakpad: INLINE references unknown origin %d", originID))
		return
	}
	callFile := ir.FileIndex(ir.Absent)
	if idx, ok := st.files[callFileID]; ok {
		callFile = idx
	}

	pairs := s.fields[5:]
	for i := 0; i+1 < len(pairs); i += 2 {
		addr, ok := parseHexAddr(pairs[i])
		if !ok {
			sink(curated.Errorf("breakpad: malformed INLINE address %q", pairs[i]))
			continue
		}
		relAddr, ok := c.OffsetAddr(addr)
		if !ok {
			continue
		}

		_, mutated := st.mutateRange(relAddr, func(row ir.SourceLocation) ir.SourceLocation {
			caller := ir.SourceLocation{
				File:        callFile,
				Line:        uint32(callLine),
				Function:    row.Function,
				InlinedInto: row.InlinedInto,
			}
			callerIdx := c.InsertSourceLocation(caller)
			row.Function = calleeFn
			row.InlinedInto = callerIdx
			return row
		})
		if !mutated {
			// no row exists yet at this address (no preceding FUNC/LINE);
			// synthesize one rooted directly at the inlined function.
			caller := ir.SourceLocation{File: callFile, Line: uint32(callLine), Function: ir.FunctionIndex(ir.Absent), InlinedInto: ir.SourceLocationIndex(ir.Absent)}
			callerIdx := c.InsertSourceLocation(caller)
			st.setRange(relAddr, ir.SourceLocation{File: ir.FileIndex(ir.Absent), Function: calleeFn, InlinedInto: callerIdx})
		}
	}
}
