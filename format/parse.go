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

package format

import (
	"encoding/binary"
	"math/bits"
	"unicode/utf8"
	"unsafe"
)

// Reader is an immutable, zero-copy view over a parsed symcache blob: it
// holds only slices into the caller-owned buffer passed to Parse, decoding
// records on demand. It is safe for concurrent use by multiple goroutines,
// since a lookup touches no mutable state.
type Reader struct {
	buf    []byte
	header Header

	stringRefs     []byte
	files          []byte
	functions      []byte
	sourceLocations []byte
	ranges         []byte
	stringBytes    []byte
}

func isAligned(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%Align == 0
}

// Parse validates and wraps buf. buf must outlive the returned Reader and
// must be 8-byte aligned; a bad magic, version, or truncated header is
// fatal here. Out-of-bounds cross-references inside the sections are only
// discovered lazily, the first time an accessor touches them.
func Parse(buf []byte) (*Reader, error) {
	if !isAligned(buf) {
		return nil, newError(ErrBufferNotAligned)
	}
	if len(buf) < PreambleSize+HeaderSize {
		return nil, newError(ErrHeaderTooSmall)
	}

	magic := binary.NativeEndian.Uint32(buf[0:4])
	switch magic {
	case Magic:
		// ok
	case bits.ReverseBytes32(Magic):
		return nil, newError(ErrWrongEndianness)
	default:
		return nil, newError(ErrWrongFormat)
	}

	version := binary.NativeEndian.Uint32(buf[4:8])
	if version != Version {
		return nil, newError(ErrWrongVersion)
	}

	p := buf[PreambleSize:]
	h := Header{
		NumStrings:         binary.NativeEndian.Uint32(p[0:4]),
		NumFiles:           binary.NativeEndian.Uint32(p[4:8]),
		NumFunctions:       binary.NativeEndian.Uint32(p[8:12]),
		NumSourceLocations: binary.NativeEndian.Uint32(p[12:16]),
		NumRanges:          binary.NativeEndian.Uint32(p[16:20]),
		StringBytes:        binary.NativeEndian.Uint32(p[20:24]),
		RangeThreshold:     binary.NativeEndian.Uint64(p[24:32]),
		Arch:               binary.NativeEndian.Uint32(p[48:52]),
	}
	copy(h.DebugID[:], p[32:48])

	off := PreambleSize + HeaderSize
	sizes := []int{
		int(h.NumStrings) * StringRecordSize,
		int(h.NumFiles) * FileRecordSize,
		int(h.NumFunctions) * FunctionRecordSize,
		int(h.NumSourceLocations) * SourceLocationRecordSize,
		int(h.NumRanges) * RangeRecordSize,
		int(h.StringBytes),
	}

	parts := make([][]byte, len(sizes))
	for i, size := range sizes {
		if off+size > len(buf) {
			return nil, newError(ErrBadFormatLength)
		}
		parts[i] = buf[off : off+size]
		off += PadTo(size)
	}

	return &Reader{
		buf:             buf,
		header:          h,
		stringRefs:      parts[0],
		files:           parts[1],
		functions:       parts[2],
		sourceLocations: parts[3],
		ranges:          parts[4],
		stringBytes:     parts[5],
	}, nil
}

// Arch returns the opaque architecture tag stored in the header.
func (r *Reader) Arch() uint32 { return r.header.Arch }

// DebugID returns the opaque 16 byte debug identifier stored in the header.
func (r *Reader) DebugID() [16]byte { return r.header.DebugID }

// Version returns the format version of the parsed blob.
func (r *Reader) Version() uint32 { return Version }

// HasLineInfo reports whether the cache carries any address ranges.
func (r *Reader) HasLineInfo() bool { return r.header.NumRanges > 0 }

// HasFileInfo reports whether the cache carries any files.
func (r *Reader) HasFileInfo() bool { return r.header.NumFiles > 0 }

func (r *Reader) stringRecord(idx uint32) (offset, length uint32, err error) {
	if idx >= r.header.NumStrings {
		return 0, 0, newIndexError(ErrInvalidStringReference, idx)
	}
	b := r.stringRefs[idx*StringRecordSize:]
	return binary.NativeEndian.Uint32(b[0:4]), binary.NativeEndian.Uint32(b[4:8]), nil
}

// String resolves the string table entry at idx.
func (r *Reader) String(idx uint32) (string, error) {
	offset, length, err := r.stringRecord(idx)
	if err != nil {
		return "", err
	}
	end := uint64(offset) + uint64(length)
	if end > uint64(len(r.stringBytes)) {
		return "", newIndexError(ErrInvalidStringDataReference, offset)
	}
	b := r.stringBytes[offset:end]
	if !utf8.Valid(b) {
		return "", &Error{Kind: ErrInvalidStringData, Index: offset, Err: firstInvalidUTF8(b)}
	}
	return string(b), nil
}

type fileRecord struct {
	CompDir, Directory, PathName uint32
}

func (r *Reader) fileRecord(idx uint32) (fileRecord, error) {
	if idx >= r.header.NumFiles {
		return fileRecord{}, newIndexError(ErrInvalidFileReference, idx)
	}
	b := r.files[idx*FileRecordSize:]
	return fileRecord{
		CompDir:   binary.NativeEndian.Uint32(b[0:4]),
		Directory: binary.NativeEndian.Uint32(b[4:8]),
		PathName:  binary.NativeEndian.Uint32(b[8:12]),
	}, nil
}

type functionRecord struct {
	Name    uint32
	EntryPC uint32
	Lang    uint8
}

func (r *Reader) functionRecord(idx uint32) (functionRecord, error) {
	if idx >= r.header.NumFunctions {
		return functionRecord{}, newIndexError(ErrInvalidFunctionReference, idx)
	}
	b := r.functions[idx*FunctionRecordSize:]
	return functionRecord{
		Name:    binary.NativeEndian.Uint32(b[0:4]),
		EntryPC: binary.NativeEndian.Uint32(b[4:8]),
		Lang:    b[8],
	}, nil
}

type sourceLocationRecord struct {
	File, Line, Function, InlinedInto uint32
}

func (r *Reader) sourceLocationRecord(idx uint32) (sourceLocationRecord, error) {
	if idx >= r.header.NumSourceLocations {
		return sourceLocationRecord{}, newIndexError(ErrInvalidSourceLocationReference, idx)
	}
	b := r.sourceLocations[idx*SourceLocationRecordSize:]
	return sourceLocationRecord{
		File:        binary.NativeEndian.Uint32(b[0:4]),
		Line:        binary.NativeEndian.Uint32(b[4:8]),
		Function:    binary.NativeEndian.Uint32(b[8:12]),
		InlinedInto: binary.NativeEndian.Uint32(b[12:16]),
	}, nil
}

func (r *Reader) rangeAddr(i int) uint32 {
	b := r.ranges[i*RangeRecordSize:]
	return binary.NativeEndian.Uint32(b[0:4])
}

func (r *Reader) numRanges() int {
	return int(r.header.NumRanges)
}

// sourceLocationBase is the index into the source location table at which
// range-owned source locations begin: they were appended, in ascending
// range-key order, after every standalone source location.
func (r *Reader) sourceLocationBase() uint32 {
	return r.header.NumSourceLocations - r.header.NumRanges
}
