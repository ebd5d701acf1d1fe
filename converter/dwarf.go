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
	"debug/dwarf"
	"fmt"
	"io"
	"sort"

	"github.com/crashlog/symcache/curated"
	"github.com/crashlog/symcache/ir"
)

// ProcessDWARF walks every compilation unit in d, seeding the range map
// from each unit's line program and then attributing function and inline
// identity to those rows from the DIE tree. Each compilation unit's
// processing is independently fallible: a failure confined to one unit is
// reported to sink and does not affect the others.
func (c *Converter) ProcessDWARF(d *dwarf.Data, sink ErrorSink) {
	sink = ensureSink(sink)

	top := d.Reader()
	for {
		entry, err := top.Next()
		if err != nil {
			sink(curated.Errorf("dwarf: reading top-level entry: %v", err))
			return
		}
		if entry == nil {
			return
		}
		if entry.Tag != dwarf.TagCompileUnit {
			top.SkipChildren()
			continue
		}
		c.processCompileUnit(d, entry, sink)
		top.SkipChildren()
	}
}

// cuState bundles the per-compilation-unit working state: the unit's
// line-program rows, the file-index cache and the DIE-offset to
// function-index cache. A fresh cuState is allocated for every unit; its
// maps are not reused from one unit to the next.
type cuState struct {
	lineRanges map[uint32]ir.SourceLocation
	keys       []uint32

	files     []*dwarf.LineFile
	fileCache map[*dwarf.LineFile]ir.FileIndex

	compDir *string
	lang    uint8

	byOffset  map[dwarf.Offset]*dwarf.Entry
	funcCache map[dwarf.Offset]ir.FunctionIndex
}

func (c *Converter) processCompileUnit(d *dwarf.Data, cu *dwarf.Entry, sink ErrorSink) {
	st := &cuState{
		lineRanges: make(map[uint32]ir.SourceLocation),
		fileCache:  make(map[*dwarf.LineFile]ir.FileIndex),
		byOffset:   make(map[dwarf.Offset]*dwarf.Entry),
		funcCache:  make(map[dwarf.Offset]ir.FunctionIndex),
		compDir:    compDirAttr(cu),
		lang:       languageTag(cu),
	}

	lr, err := d.LineReader(cu)
	if err != nil {
		sink(curated.Errorf("dwarf: compilation unit %#x: line reader: %v", cu.Offset, err))
	}
	if lr != nil {
		st.files = lr.Files()
		c.seedLineProgram(st, lr, sink)
	}

	if !cu.Children {
		c.mergeRanges(st)
		return
	}

	// First pass: collect every subprogram DIE by offset so that
	// abstract_origin references can be resolved regardless of whether
	// the concrete use or the abstract definition is encountered first.
	collector := d.Reader()
	collector.Seek(cu.Offset)
	if _, err := collector.Next(); err != nil {
		sink(curated.Errorf("dwarf: compilation unit %#x: %v", cu.Offset, err))
		return
	}
	if err := collectSubprograms(collector, st.byOffset); err != nil {
		sink(curated.Errorf("dwarf: compilation unit %#x: collecting subprograms: %v", cu.Offset, err))
	}

	// Second pass: depth-first walk attributing rows to functions and
	// inline call chains.
	walker := d.Reader()
	walker.Seek(cu.Offset)
	if _, err := walker.Next(); err != nil {
		sink(curated.Errorf("dwarf: compilation unit %#x: %v", cu.Offset, err))
		c.mergeRanges(st)
		return
	}
	c.walkCompileUnit(d, walker, st, sink)

	c.mergeRanges(st)
}

// mergeRanges copies a unit's line_program_ranges into the converter-global
// range map, first-writer-wins.
func (c *Converter) mergeRanges(st *cuState) {
	for _, addr := range st.keys {
		sl := st.lineRanges[addr]
		slIdx := c.InsertSourceLocation(sl)
		c.InsertRange(addr, slIdx)
	}
}

func collectSubprograms(r *dwarf.Reader, byOffset map[dwarf.Offset]*dwarf.Entry) error {
	depth := 0
	for {
		entry, err := r.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if entry.Tag == 0 {
			if depth == 0 {
				return nil
			}
			depth--
			continue
		}
		if entry.Tag == dwarf.TagSubprogram {
			byOffset[entry.Offset] = entry
		}
		if entry.Children {
			depth++
		}
	}
}

func (c *Converter) walkCompileUnit(d *dwarf.Data, r *dwarf.Reader, st *cuState, sink ErrorSink) {
	depth := 0
	for {
		entry, err := r.Next()
		if err != nil {
			sink(curated.Errorf("dwarf: entry: %v", err))
			return
		}
		if entry == nil {
			return
		}
		if entry.Tag == 0 {
			if depth == 0 {
				return
			}
			depth--
			continue
		}

		switch entry.Tag {
		case dwarf.TagSubprogram:
			c.ensureFunctionForDIE(entry.Offset, d, st, sink)
		case dwarf.TagInlinedSubroutine:
			c.processInlinedSubroutine(d, entry, st, sink)
		}

		if entry.Children {
			depth++
		}
	}
}

// seedLineProgram materializes the line program into sequences of rows and
// inserts each row into the unit's working line-program range map.
func (c *Converter) seedLineProgram(st *cuState, lr *dwarf.LineReader, sink ErrorSink) {
	for _, seq := range materializeLineProgram(c, st, lr, sink) {
		for _, row := range seq.rows {
			if _, exists := st.lineRanges[row.addr]; !exists {
				st.keys = insertSortedUint32(st.keys, row.addr)
			}
			st.lineRanges[row.addr] = ir.SourceLocation{
				File:        row.file,
				Line:        row.line,
				Function:    ir.FunctionIndex(ir.Absent),
				InlinedInto: ir.SourceLocationIndex(ir.Absent),
			}
		}
	}
}

type lineRow struct {
	addr    uint32
	rawAddr uint64 // pre-OffsetAddr address, for the sequence-discard check
	file    ir.FileIndex
	line    uint32
}

type lineSequence struct {
	rows []lineRow
}

// materializeLineProgram fully executes lr, applying the classic DWARF
// line-program state-machine rules: end-sequence closes a sequence
// (discarding it if its first row sits at address zero), consecutive rows
// at the same address collapse to the terminating row's content, and a row
// whose content matches the previous row is omitted outright.
func materializeLineProgram(c *Converter, st *cuState, lr *dwarf.LineReader, sink ErrorSink) []lineSequence {
	var sequences []lineSequence
	var cur lineSequence
	var prev lineRow
	havePrev := false

	flush := func() {
		// A sequence whose first instruction sits at raw address zero is a
		// placeholder emitted by some toolchains for unreachable code; this
		// is checked against the address as it appeared in the debug info,
		// before OffsetAddr subtracts the range threshold, since a real
		// sequence can legitimately start exactly at the threshold (the
		// first function in .text, say) and land on a relative address of
		// zero without being a placeholder.
		if len(cur.rows) > 0 && cur.rows[0].rawAddr != 0 {
			sequences = append(sequences, cur)
		}
		cur = lineSequence{}
		havePrev = false
	}

	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err != nil {
			if err == io.EOF {
				break
			}
			sink(curated.Errorf("dwarf: line program: %v", err))
			break
		}

		if le.EndSequence {
			flush()
			continue
		}

		relAddr, ok := c.OffsetAddr(le.Address)
		if !ok {
			continue
		}

		fileIdx := resolveLineFile(c, st, le.File)
		row := lineRow{addr: relAddr, rawAddr: le.Address, file: fileIdx, line: uint32(le.Line)}

		switch {
		case len(cur.rows) > 0 && cur.rows[len(cur.rows)-1].addr == row.addr:
			cur.rows[len(cur.rows)-1] = row
		case havePrev && prev.file == row.file && prev.line == row.line:
			// identical content at a new address: omitted
		default:
			cur.rows = append(cur.rows, row)
		}
		prev = row
		havePrev = true
	}
	flush()

	sort.Slice(sequences, func(i, j int) bool {
		return sequences[i].rows[0].addr < sequences[j].rows[0].addr
	})
	return sequences
}

func resolveLineFile(c *Converter, st *cuState, lf *dwarf.LineFile) ir.FileIndex {
	if lf == nil {
		return ir.FileIndex(ir.Absent)
	}
	if idx, ok := st.fileCache[lf]; ok {
		return idx
	}
	idx := c.InsertFile(lf.Name, nil, st.compDir)
	st.fileCache[lf] = idx
	return idx
}

func resolveFileByIndex(c *Converter, st *cuState, dwarfIdx int64) ir.FileIndex {
	if dwarfIdx < 0 || int(dwarfIdx) >= len(st.files) {
		return ir.FileIndex(ir.Absent)
	}
	return resolveLineFile(c, st, st.files[dwarfIdx])
}

func languageTag(cu *dwarf.Entry) uint8 {
	fld := cu.AttrField(dwarf.AttrLanguage)
	if fld == nil {
		return 0
	}
	v, ok := fld.Val.(int64)
	if !ok || v < 0 || v > 255 {
		return 0
	}
	return uint8(v)
}

func compDirAttr(cu *dwarf.Entry) *string {
	fld := cu.AttrField(dwarf.AttrCompDir)
	if fld == nil {
		return nil
	}
	s, ok := fld.Val.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// dieName prefers AttrLinkageName, falling back to AttrName.
func dieName(entry *dwarf.Entry) string {
	if fld := entry.AttrField(dwarf.AttrLinkageName); fld != nil {
		if s, ok := fld.Val.(string); ok && s != "" {
			return s
		}
	}
	if fld := entry.AttrField(dwarf.AttrName); fld != nil {
		if s, ok := fld.Val.(string); ok {
			return s
		}
	}
	return ""
}

// dieRanges returns the (begin, end) address pairs covered by entry,
// preferring an explicit ranges attribute and otherwise falling back to
// low-pc/high-pc, handling both the DWARF4 high-pc-as-offset
// (dwarf.ClassConstant) and the DWARF2 high-pc-as-address
// (dwarf.ClassAddress) encodings.
func dieRanges(d *dwarf.Data, entry *dwarf.Entry) ([][2]uint64, error) {
	if entry.AttrField(dwarf.AttrRanges) != nil {
		return d.Ranges(entry)
	}

	lowFld := entry.AttrField(dwarf.AttrLowpc)
	if lowFld == nil {
		return nil, nil
	}
	lowpc, ok := lowFld.Val.(uint64)
	if !ok {
		return nil, fmt.Errorf("low_pc has unexpected value type at offset %#x", entry.Offset)
	}

	highFld := entry.AttrField(dwarf.AttrHighpc)
	if highFld == nil {
		return nil, fmt.Errorf("low_pc without high_pc at offset %#x", entry.Offset)
	}

	var highpc uint64
	switch highFld.Class {
	case dwarf.ClassAddress:
		highpc, ok = highFld.Val.(uint64)
		if !ok {
			return nil, fmt.Errorf("high_pc has unexpected value type at offset %#x", entry.Offset)
		}
	case dwarf.ClassConstant:
		off, ok := highFld.Val.(int64)
		if !ok {
			return nil, fmt.Errorf("high_pc has unexpected value type at offset %#x", entry.Offset)
		}
		highpc = lowpc + uint64(off)
	default:
		return nil, fmt.Errorf("high_pc has unsupported class at offset %#x", entry.Offset)
	}

	return [][2]uint64{{lowpc, highpc}}, nil
}

// resolveEntryPC prefers an explicit DW_AT_entry_pc attribute, falling back
// to the lowest address among ranges.
func resolveEntryPC(entry *dwarf.Entry, ranges [][2]uint64) (uint64, bool) {
	if fld := entry.AttrField(dwarf.AttrEntrypc); fld != nil {
		if v, ok := fld.Val.(uint64); ok {
			return v, true
		}
	}
	if len(ranges) == 0 {
		return 0, false
	}
	lowest := ranges[0][0]
	for _, r := range ranges[1:] {
		if r[0] < lowest {
			lowest = r[0]
		}
	}
	return lowest, true
}

// keysInRange returns the slice of keys (sorted ascending) with values in
// the half-open range [begin, end). The excluded upper bound keeps a row
// exactly at end out of the range it logically does not belong to.
func keysInRange(keys []uint32, begin, end uint32) []uint32 {
	lo := sort.Search(len(keys), func(i int) bool { return keys[i] >= begin })
	hi := sort.Search(len(keys), func(i int) bool { return keys[i] >= end })
	if hi < lo {
		hi = lo
	}
	return keys[lo:hi]
}

// ensureFunctionForDIE returns the Function index for the subprogram DIE at
// offset, inserting it (and marking the rows it covers) on first encounter
// and returning the cached index on subsequent calls, regardless of
// traversal order.
func (c *Converter) ensureFunctionForDIE(offset dwarf.Offset, d *dwarf.Data, st *cuState, sink ErrorSink) (ir.FunctionIndex, bool) {
	if idx, ok := st.funcCache[offset]; ok {
		return idx, idx != ir.FunctionIndex(ir.Absent)
	}

	entry, ok := st.byOffset[offset]
	if !ok {
		sink(curated.Errorf("dwarf: abstract_origin %#x not found", offset))
		return ir.FunctionIndex(ir.Absent), false
	}

	name := dieName(entry)
	if name == "" {
		st.funcCache[offset] = ir.FunctionIndex(ir.Absent)
		return ir.FunctionIndex(ir.Absent), false
	}

	ranges, err := dieRanges(d, entry)
	if err != nil {
		sink(curated.Errorf("dwarf: subprogram %#x: %v", offset, err))
	}

	var entryPCPtr *uint32
	if abs, ok := resolveEntryPC(entry, ranges); ok {
		if rel, ok := c.OffsetAddr(abs); ok {
			entryPCPtr = &rel
		}
	}

	fnIdx := c.InsertFunction(name, entryPCPtr, st.lang)
	st.funcCache[offset] = fnIdx

	if len(ranges) == 0 {
		return fnIdx, true
	}

	if entryPCPtr != nil {
		if _, covered := st.lineRanges[*entryPCPtr]; !covered {
			st.lineRanges[*entryPCPtr] = ir.SourceLocation{
				File:        ir.FileIndex(ir.Absent),
				Line:        0,
				Function:    fnIdx,
				InlinedInto: ir.SourceLocationIndex(ir.Absent),
			}
			st.keys = insertSortedUint32(st.keys, *entryPCPtr)
		}
	}

	for _, rg := range ranges {
		relBegin, ok1 := c.OffsetAddr(rg[0])
		relEnd, ok2 := c.OffsetAddr(rg[1])
		if !ok1 || !ok2 {
			sink(curated.Errorf("dwarf: subprogram %#x: range not representable", offset))
			continue
		}
		for _, key := range keysInRange(st.keys, relBegin, relEnd) {
			row := st.lineRanges[key]
			row.Function = fnIdx
			st.lineRanges[key] = row
		}
	}

	return fnIdx, true
}

// processInlinedSubroutine attributes the rows covered by an
// inlined_subroutine DIE to its abstract_origin function, chaining each
// row's existing source location in as the new caller frame.
func (c *Converter) processInlinedSubroutine(d *dwarf.Data, entry *dwarf.Entry, st *cuState, sink ErrorSink) {
	originFld := entry.AttrField(dwarf.AttrAbstractOrigin)
	if originFld == nil {
		sink(curated.Errorf("dwarf: inlined_subroutine %#x: missing abstract_origin", entry.Offset))
		return
	}
	originOffset, ok := originFld.Val.(dwarf.Offset)
	if !ok {
		sink(curated.Errorf("dwarf: inlined_subroutine %#x: abstract_origin has unexpected type", entry.Offset))
		return
	}

	calleeFn, ok := c.ensureFunctionForDIE(originOffset, d, st, sink)
	if !ok {
		sink(curated.Errorf("dwarf: inlined_subroutine %#x: could not resolve abstract_origin %#x", entry.Offset, originOffset))
		return
	}

	callFile := ir.FileIndex(ir.Absent)
	if fld := entry.AttrField(dwarf.AttrCallFile); fld != nil {
		if v, ok := fld.Val.(int64); ok {
			callFile = resolveFileByIndex(c, st, v)
		}
	}
	callLine := uint32(0)
	if fld := entry.AttrField(dwarf.AttrCallLine); fld != nil {
		if v, ok := fld.Val.(int64); ok {
			callLine = uint32(v)
		}
	}

	ranges, err := dieRanges(d, entry)
	if err != nil {
		sink(curated.Errorf("dwarf: inlined_subroutine %#x: %v", entry.Offset, err))
		return
	}

	for _, rg := range ranges {
		relBegin, ok1 := c.OffsetAddr(rg[0])
		relEnd, ok2 := c.OffsetAddr(rg[1])
		if !ok1 || !ok2 {
			sink(curated.Errorf("dwarf: inlined_subroutine %#x: range not representable", entry.Offset))
			continue
		}
		for _, key := range keysInRange(st.keys, relBegin, relEnd) {
			row := st.lineRanges[key]
			caller := ir.SourceLocation{
				File:        callFile,
				Line:        callLine,
				Function:    row.Function,
				InlinedInto: row.InlinedInto,
			}
			callerIdx := c.InsertSourceLocation(caller)
			row.Function = calleeFn
			row.InlinedInto = callerIdx
			st.lineRanges[key] = row
		}
	}
}
