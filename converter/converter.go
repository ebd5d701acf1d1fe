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

// Package converter builds the intermediate representation (package ir)
// from DWARF or Breakpad debug information and serializes it into the
// symcache binary format. A Converter is a one-shot builder: entities are
// inserted via interning (deduplicating) methods, never removed, and the
// whole thing is consumed by Serialize.
package converter

import (
	"math"

	"github.com/crashlog/symcache/ir"
	"github.com/crashlog/symcache/logger"
)

// ErrorSink receives non-fatal diagnostics encountered while ingesting
// debug information. It is called synchronously from the ingester and,
// if shared across goroutines, must be reentrant-safe itself. A nil sink
// passed to ProcessDWARF or ProcessBreakpad is replaced by a sink that logs
// through package logger.
type ErrorSink func(err error)

func defaultSink(err error) {
	logger.Log("converter", err)
}

// Options configures a new Converter. It is the only configuration surface
// the Converter has; there is no file, flag or environment driven config,
// matching the library's role as a pure builder with no CLI of its own.
type Options struct {
	// RangeThreshold is subtracted from every absolute address before it
	// is stored, so that addresses fit in 32 bits. Typically the image's
	// load bias or lowest mapped address.
	RangeThreshold uint64

	// Arch is an opaque architecture tag copied verbatim into the header.
	Arch uint32

	// DebugID is an opaque 16 byte identifier copied verbatim into the
	// header, typically a build id or similar.
	DebugID [16]byte
}

// maxTableLen is the largest number of entries a table may hold. Absent is
// reserved as a sentinel, so valid indices run from 0 to maxTableLen-1.
const maxTableLen = ir.Absent

// Converter accumulates a deduplicated intermediate representation ready
// for Serialize. The zero value is not usable; create one with New.
type Converter struct {
	opts Options

	stringBytes []byte
	strings     []ir.String
	stringIndex map[string]ir.StringIndex

	files      []ir.File
	fileIndex  map[ir.File]ir.FileIndex

	functions     []ir.Function
	functionIndex map[functionKey]ir.FunctionIndex

	sourceLocations []ir.SourceLocation
	sourceLocationIndex map[ir.SourceLocation]ir.SourceLocationIndex

	ranges    map[uint32]ir.SourceLocationIndex
	rangeKeys []uint32 // maintained sorted; used by Serialize
}

type functionKey struct {
	Name    ir.StringIndex
	EntryPC uint32
	Lang    uint8
}

// New creates an empty Converter configured by opts.
func New(opts Options) *Converter {
	return &Converter{
		opts:                 opts,
		stringIndex:          make(map[string]ir.StringIndex),
		fileIndex:            make(map[ir.File]ir.FileIndex),
		functionIndex:        make(map[functionKey]ir.FunctionIndex),
		sourceLocationIndex:  make(map[ir.SourceLocation]ir.SourceLocationIndex),
		ranges:               make(map[uint32]ir.SourceLocationIndex),
	}
}

func ensureSink(sink ErrorSink) ErrorSink {
	if sink == nil {
		return defaultSink
	}
	return sink
}

// OffsetAddr converts an absolute address into the 32-bit relative address
// space rooted at the converter's RangeThreshold. It returns false if the
// address precedes the threshold or the offset does not fit in 32 bits;
// per the format's design this is a hard rejection, never a truncation.
func (c *Converter) OffsetAddr(absolute uint64) (uint32, bool) {
	if absolute < c.opts.RangeThreshold {
		return 0, false
	}
	rel := absolute - c.opts.RangeThreshold
	if rel > math.MaxUint32 {
		return 0, false
	}
	return uint32(rel), true
}

// InsertString interns s, returning the existing index if s was already
// present and appending it to string_bytes otherwise.
func (c *Converter) InsertString(s string) ir.StringIndex {
	if idx, ok := c.stringIndex[s]; ok {
		return idx
	}
	if len(c.strings) >= int(maxTableLen) {
		return ir.StringIndex(ir.Absent)
	}

	offset := len(c.stringBytes)
	c.stringBytes = append(c.stringBytes, s...)

	idx := ir.StringIndex(len(c.strings))
	c.strings = append(c.strings, ir.String{Offset: uint32(offset), Length: uint32(len(s))})
	c.stringIndex[s] = idx
	return idx
}

// internOptional interns s if non-nil, returning ir.Absent otherwise.
func (c *Converter) internOptional(s *string) ir.StringIndex {
	if s == nil {
		return ir.StringIndex(ir.Absent)
	}
	return c.InsertString(*s)
}

// InsertFile interns a File built from pathName (required) and the
// optional directory and compDir fragments, returning the existing index
// on an exact (path_name, directory, comp_dir) match.
func (c *Converter) InsertFile(pathName string, directory, compDir *string) ir.FileIndex {
	f := ir.File{
		PathName:  c.InsertString(pathName),
		Directory: c.internOptional(directory),
		CompDir:   c.internOptional(compDir),
	}
	if idx, ok := c.fileIndex[f]; ok {
		return idx
	}
	if len(c.files) >= int(maxTableLen) {
		return ir.FileIndex(ir.Absent)
	}
	idx := ir.FileIndex(len(c.files))
	c.files = append(c.files, f)
	c.fileIndex[f] = idx
	return idx
}

// InsertFunction interns a Function keyed by (name, entry_pc, lang); entryPC
// nil means the function carries no address of its own (an inline-only
// abstract origin).
func (c *Converter) InsertFunction(name string, entryPC *uint32, lang uint8) ir.FunctionIndex {
	nameIdx := c.InsertString(name)
	pc := ir.Absent
	if entryPC != nil {
		pc = *entryPC
	}
	key := functionKey{Name: nameIdx, EntryPC: pc, Lang: lang}
	if idx, ok := c.functionIndex[key]; ok {
		return idx
	}
	if len(c.functions) >= int(maxTableLen) {
		return ir.FunctionIndex(ir.Absent)
	}
	idx := ir.FunctionIndex(len(c.functions))
	c.functions = append(c.functions, ir.Function{Name: nameIdx, EntryPC: pc, Lang: lang})
	c.functionIndex[key] = idx
	return idx
}

// InsertSourceLocation interns sl, returning the existing index on an exact
// field-for-field match.
func (c *Converter) InsertSourceLocation(sl ir.SourceLocation) ir.SourceLocationIndex {
	if idx, ok := c.sourceLocationIndex[sl]; ok {
		return idx
	}
	if len(c.sourceLocations) >= int(maxTableLen) {
		return ir.SourceLocationIndex(ir.Absent)
	}
	idx := ir.SourceLocationIndex(len(c.sourceLocations))
	c.sourceLocations = append(c.sourceLocations, sl)
	c.sourceLocationIndex[sl] = idx
	return idx
}

// InsertRange maps addr to sl in the range table. A later insert at an
// address already present is silently ignored: first-writer-wins, matching
// the ambiguous behavior of overlapping DWARF line records.
func (c *Converter) InsertRange(addr uint32, sl ir.SourceLocationIndex) {
	if _, exists := c.ranges[addr]; exists {
		return
	}
	if len(c.ranges) >= int(maxTableLen) {
		return
	}
	c.ranges[addr] = sl
	c.rangeKeys = insertSortedUint32(c.rangeKeys, addr)
}

func insertSortedUint32(keys []uint32, v uint32) []uint32 {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	keys = append(keys, 0)
	copy(keys[lo+1:], keys[lo:])
	keys[lo] = v
	return keys
}
