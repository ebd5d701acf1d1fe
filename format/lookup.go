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

import "sort"

// Lookup resolves absoluteAddr to an inline chain of frames. A miss (the
// address precedes the threshold, doesn't fit in 32 bits, or precedes the
// first range) yields an empty iterator, never an error.
func (r *Reader) Lookup(absoluteAddr uint64) FrameIterator {
	if absoluteAddr < r.header.RangeThreshold {
		return emptyFrameIterator()
	}
	rel := absoluteAddr - r.header.RangeThreshold
	if rel > 0xffffffff {
		return emptyFrameIterator()
	}
	relAddr := uint32(rel)

	n := r.numRanges()
	if n == 0 {
		return emptyFrameIterator()
	}

	// largest i such that rangeAddr(i) <= relAddr
	i := sort.Search(n, func(i int) bool { return r.rangeAddr(i) > relAddr }) - 1
	if i < 0 {
		return emptyFrameIterator()
	}

	base := r.sourceLocationBase()
	return FrameIterator{r: r, next: base + uint32(i)}
}
