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
	"encoding/binary"
	"io"

	"github.com/crashlog/symcache/format"
	"github.com/crashlog/symcache/ir"
)

// Stats reports what Serialize actually wrote, for callers that want to
// log or assert on cache size without re-parsing it.
type Stats struct {
	NumStrings         uint32
	NumFiles           uint32
	NumFunctions       uint32
	NumSourceLocations uint32
	NumRanges          uint32
	StringBytes        uint32
	BytesWritten       int64
}

// sectionWriter accumulates bytes written and pads each section to the
// format's alignment boundary before the next one begins.
type sectionWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (sw *sectionWriter) write(b []byte) {
	if sw.err != nil {
		return
	}
	n, err := sw.w.Write(b)
	sw.n += int64(n)
	sw.err = err
}

func (sw *sectionWriter) u32(v uint32) {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	sw.write(b[:])
}

func (sw *sectionWriter) u64(v uint64) {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	sw.write(b[:])
}

func (sw *sectionWriter) u8(v uint8) {
	sw.write([]byte{v})
}

func (sw *sectionWriter) padTo(boundary int) {
	if sw.err != nil {
		return
	}
	rem := int(sw.n) % boundary
	if rem == 0 {
		return
	}
	sw.write(make([]byte, boundary-rem))
}

// Serialize consumes c's intermediate representation and writes the
// symcache binary format to w, section by section, each padded to an 8
// byte boundary. The range map's values are appended to the
// source-location table a second time, in ascending key order, so that a
// reader can derive the range-owned portion of the table purely from
// num_source_locations - num_ranges.
func (c *Converter) Serialize(w io.Writer) (Stats, error) {
	sw := &sectionWriter{w: w}

	numSourceLocations := len(c.sourceLocations) + len(c.rangeKeys)

	sw.u32(format.Magic)
	sw.u32(format.Version)
	sw.padTo(format.PreambleSize)

	sw.u32(uint32(len(c.strings)))
	sw.u32(uint32(len(c.files)))
	sw.u32(uint32(len(c.functions)))
	sw.u32(uint32(numSourceLocations))
	sw.u32(uint32(len(c.rangeKeys)))
	sw.u32(uint32(len(c.stringBytes)))
	sw.u64(c.opts.RangeThreshold)
	sw.write(c.opts.DebugID[:])
	sw.u32(c.opts.Arch)
	sw.padTo(format.Align)

	for _, s := range c.strings {
		sw.u32(s.Offset)
		sw.u32(s.Length)
	}
	sw.padTo(format.Align)

	for _, f := range c.files {
		sw.u32(uint32(f.CompDir))
		sw.u32(uint32(f.Directory))
		sw.u32(uint32(f.PathName))
	}
	sw.padTo(format.Align)

	for _, fn := range c.functions {
		sw.u32(uint32(fn.Name))
		sw.u32(fn.EntryPC)
		sw.u8(fn.Lang)
		sw.write([]byte{0, 0, 0})
	}
	sw.padTo(format.Align)

	writeSourceLocation := func(sl ir.SourceLocation) {
		sw.u32(uint32(sl.File))
		sw.u32(sl.Line)
		sw.u32(uint32(sl.Function))
		sw.u32(uint32(sl.InlinedInto))
	}
	for _, sl := range c.sourceLocations {
		writeSourceLocation(sl)
	}
	for _, addr := range c.rangeKeys {
		writeSourceLocation(c.sourceLocations[c.ranges[addr]])
	}
	sw.padTo(format.Align)

	for _, addr := range c.rangeKeys {
		sw.u32(addr)
	}
	sw.padTo(format.Align)

	sw.write(c.stringBytes)
	sw.padTo(format.Align)

	if sw.err != nil {
		return Stats{}, sw.err
	}

	return Stats{
		NumStrings:         uint32(len(c.strings)),
		NumFiles:           uint32(len(c.files)),
		NumFunctions:       uint32(len(c.functions)),
		NumSourceLocations: uint32(numSourceLocations),
		NumRanges:          uint32(len(c.rangeKeys)),
		StringBytes:        uint32(len(c.stringBytes)),
		BytesWritten:       sw.n,
	}, nil
}
