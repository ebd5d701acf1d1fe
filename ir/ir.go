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

// Package ir is the intermediate representation built by the converter
// before it is serialised to the on-disk symcache format. Every entity is
// referred to by a 32 bit index into its table; a dedicated sentinel value,
// Absent, stands in for "no such entity" everywhere a reference is optional.
//
// The tables are append-only and content-addressed: inserting the same
// value twice returns the same index rather than growing the table, which
// is what keeps the serialised cache small when a binary references the
// same file or function from thousands of call sites.
package ir

import "math"

// StringIndex refers to an entry in the string table.
type StringIndex uint32

// FileIndex refers to an entry in the file table.
type FileIndex uint32

// FunctionIndex refers to an entry in the function table.
type FunctionIndex uint32

// SourceLocationIndex refers to an entry in the source location table.
type SourceLocationIndex uint32

// Absent is the sentinel index meaning "no such entity". It is the maximum
// value of a 32 bit index, matching the on-disk format's encoding of an
// optional reference.
const Absent uint32 = math.MaxUint32

// String is a reference into the converter's monolithic string_bytes blob:
// the byte range [Offset, Offset+Length) holds the UTF-8 encoded text.
type String struct {
	Offset uint32
	Length uint32
}

// File describes a source file as three optional string references:
// the file's own path, the directory it was compiled relative to, and
// the compilation directory of the owning unit. All three may be Absent;
// a reader rebuilds a usable path from whichever are present.
type File struct {
	PathName StringIndex
	Directory StringIndex
	CompDir StringIndex
}

// Function describes a named routine. EntryPC is the function's entry
// address (an explicit entry_pc if the debug info has one, otherwise its
// lowest address), relative to the range threshold; it is Absent for functions
// that exist only as the target of inlining (their DWARF abstract origin
// carries no code of its own).
type Function struct {
	Name    StringIndex
	EntryPC uint32
	Lang    uint8
}

// entryPCAbsent is the sentinel stored in Function.EntryPC when a function
// has no address of its own.
const entryPCAbsent = Absent

// HasEntryPC reports whether f has a concrete entry address.
func (f Function) HasEntryPC() bool {
	return f.EntryPC != entryPCAbsent
}

// SourceLocation ties an address range to a file, line, and the function it
// was attributed to. InlinedInto chains to the SourceLocation of the call
// site that inlined this one, Absent if this location is not the product of
// inlining. The chain is acyclic by construction: a location can only point
// to a location inserted before it.
type SourceLocation struct {
	File        FileIndex
	Line        uint32
	Function    FunctionIndex
	InlinedInto SourceLocationIndex
}

// IsInlined reports whether sl is the callee side of an inlined call.
func (sl SourceLocation) IsInlined() bool {
	return sl.InlinedInto != SourceLocationIndex(Absent)
}
