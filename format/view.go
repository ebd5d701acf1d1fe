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

import "github.com/crashlog/symcache/ir"

// FileView resolves a File record's three optional string references on
// demand.
type FileView struct {
	r   *Reader
	rec fileRecord
}

// PathName returns the file's own path fragment, or "" if absent.
func (v FileView) PathName() (string, error) {
	return v.r.optionalString(v.rec.PathName)
}

// Directory returns the directory fragment, or "" if absent.
func (v FileView) Directory() (string, error) {
	return v.r.optionalString(v.rec.Directory)
}

// CompDir returns the compilation directory fragment, or "" if absent.
func (v FileView) CompDir() (string, error) {
	return v.r.optionalString(v.rec.CompDir)
}

// FullPath joins comp_dir, directory and path_name with POSIX semantics
// (a later absolute fragment replaces the prefix that precedes it) and
// cleans the result.
func (v FileView) FullPath() (string, error) {
	compDir, err := v.CompDir()
	if err != nil {
		return "", err
	}
	directory, err := v.Directory()
	if err != nil {
		return "", err
	}
	pathName, err := v.PathName()
	if err != nil {
		return "", err
	}
	joined := ir.JoinPath(compDir, ir.JoinPath(directory, pathName))
	return ir.CleanPath(joined), nil
}

func (r *Reader) optionalString(idx uint32) (string, error) {
	if idx == Absent {
		return "", nil
	}
	return r.String(idx)
}

// File resolves the file at idx into a FileView.
func (r *Reader) File(idx uint32) (FileView, error) {
	rec, err := r.fileRecord(idx)
	if err != nil {
		return FileView{}, err
	}
	return FileView{r: r, rec: rec}, nil
}

// FunctionView resolves a Function record's fields on demand.
type FunctionView struct {
	r   *Reader
	rec functionRecord
}

// Name returns the function's name.
func (v FunctionView) Name() (string, error) {
	return v.r.String(v.rec.Name)
}

// EntryPC returns the function's relative entry address and whether it has
// one; inline-only abstract origins have none.
func (v FunctionView) EntryPC() (uint32, bool) {
	if v.rec.EntryPC == Absent {
		return 0, false
	}
	return v.rec.EntryPC, true
}

// Language returns the 8 bit language tag.
func (v FunctionView) Language() uint8 {
	return v.rec.Lang
}

// Function resolves the function at idx into a FunctionView.
func (r *Reader) Function(idx uint32) (FunctionView, error) {
	rec, err := r.functionRecord(idx)
	if err != nil {
		return FunctionView{}, err
	}
	return FunctionView{r: r, rec: rec}, nil
}

// Frame is one entry of an inline chain: a resolved source location plus
// convenience accessors for its file and function.
type Frame struct {
	r   *Reader
	rec sourceLocationRecord
}

// Line returns the frame's line number; 0 means unknown.
func (f Frame) Line() uint32 {
	return f.rec.Line
}

// File resolves the frame's file, reporting false if it has none.
func (f Frame) File() (FileView, bool, error) {
	if f.rec.File == Absent {
		return FileView{}, false, nil
	}
	v, err := f.r.File(f.rec.File)
	return v, err == nil, err
}

// Function resolves the frame's function, reporting false if it has none.
func (f Frame) Function() (FunctionView, bool, error) {
	if f.rec.Function == Absent {
		return FunctionView{}, false, nil
	}
	v, err := f.r.Function(f.rec.Function)
	return v, err == nil, err
}

// FrameIterator walks an inline chain from the innermost (most inlined)
// frame outward, terminating at the sentinel inlined_into index.
type FrameIterator struct {
	r    *Reader
	next uint32 // source location index, or Absent
	err  error
}

// Next advances and returns the next frame, or false when the chain is
// exhausted (including an empty iterator from a lookup miss).
func (it *FrameIterator) Next() (Frame, bool) {
	if it.err != nil || it.r == nil || it.next == Absent {
		return Frame{}, false
	}
	rec, err := it.r.sourceLocationRecord(it.next)
	if err != nil {
		it.err = err
		return Frame{}, false
	}
	it.next = rec.InlinedInto
	return Frame{r: it.r, rec: rec}, true
}

// Err returns the first error encountered while advancing, if any.
func (it *FrameIterator) Err() error {
	return it.err
}

func emptyFrameIterator() FrameIterator {
	return FrameIterator{next: Absent}
}

// FunctionIterator walks every function in table order.
type FunctionIterator struct {
	r   *Reader
	idx uint32
}

// Next returns the next function view in table order.
func (it *FunctionIterator) Next() (FunctionView, bool, error) {
	if it.idx >= it.r.header.NumFunctions {
		return FunctionView{}, false, nil
	}
	v, err := it.r.Function(it.idx)
	it.idx++
	return v, err == nil, err
}

// Functions returns an iterator over every function, table order.
func (r *Reader) Functions() FunctionIterator {
	return FunctionIterator{r: r}
}

// FileIterator walks every file in table order.
type FileIterator struct {
	r   *Reader
	idx uint32
}

// Next returns the next file view in table order.
func (it *FileIterator) Next() (FileView, bool, error) {
	if it.idx >= it.r.header.NumFiles {
		return FileView{}, false, nil
	}
	v, err := it.r.File(it.idx)
	it.idx++
	return v, err == nil, err
}

// Files returns an iterator over every file, table order.
func (r *Reader) Files() FileIterator {
	return FileIterator{r: r}
}
