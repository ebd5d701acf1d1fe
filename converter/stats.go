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
	"cmp"
	"sort"

	"github.com/crashlog/symcache/ir"
)

// Histogram is an order-statistics accumulator: values are recorded as
// seen and sorted lazily, once, the first time a percentile is asked for.
type Histogram[T cmp.Ordered] struct {
	values []T
	sorted bool
}

// Record adds v to the histogram.
func (h *Histogram[T]) Record(v T) {
	h.values = append(h.values, v)
	h.sorted = false
}

// Len returns the number of values recorded.
func (h *Histogram[T]) Len() int {
	return len(h.values)
}

func (h *Histogram[T]) ensureSorted() {
	if h.sorted {
		return
	}
	sort.Slice(h.values, func(i, j int) bool { return h.values[i] < h.values[j] })
	h.sorted = true
}

// percentile returns the sorted value at index floor(frac*(n-1)) for frac
// in 0..1, clamped to the recorded range. It returns T's zero value for an
// empty histogram.
func (h *Histogram[T]) percentile(frac float64) T {
	if len(h.values) == 0 {
		var zero T
		return zero
	}
	h.ensureSorted()
	idx := int(frac * float64(len(h.values)-1))
	if idx < 0 {
		idx = 0
	} else if idx >= len(h.values) {
		idx = len(h.values) - 1
	}
	return h.values[idx]
}

// HistogramStats summarizes a Histogram's recorded values at a fixed set
// of percentiles.
type HistogramStats[T cmp.Ordered] struct {
	Count  int
	Median T
	P90    T
	P99    T
	P999   T
}

// Stats snapshots h at its current percentiles.
func (h *Histogram[T]) Stats() HistogramStats[T] {
	return HistogramStats[T]{
		Count:  h.Len(),
		Median: h.percentile(0.5),
		P90:    h.percentile(0.9),
		P99:    h.percentile(0.99),
		P999:   h.percentile(0.999),
	}
}

// CoverageReport summarizes a converted cache: how much address space its
// ranges cover, how many distinct files it saw, and distributions over
// line numbers and range sizes. It is pure bookkeeping over the already
// built IR and never alters it or the serialized format.
type CoverageReport struct {
	TotalRangeBytes  uint64
	NumDistinctFiles int
	LineNumbers      HistogramStats[uint32]
	RangeSizes       HistogramStats[uint32]
}

// ConversionStats walks the IR built so far and summarizes it. Safe to
// call repeatedly, and at any point after ingestion, including before
// Serialize.
func (c *Converter) ConversionStats() CoverageReport {
	var lineHist Histogram[uint32]
	var sizeHist Histogram[uint32]

	distinctFiles := make(map[ir.FileIndex]struct{})
	for _, sl := range c.sourceLocations {
		if sl.File != ir.FileIndex(ir.Absent) {
			distinctFiles[sl.File] = struct{}{}
		}
		if sl.Line > 0 {
			lineHist.Record(sl.Line)
		}
	}

	var totalBytes uint64
	for i, addr := range c.rangeKeys {
		if i+1 >= len(c.rangeKeys) {
			break
		}
		size := c.rangeKeys[i+1] - addr
		sizeHist.Record(size)
		totalBytes += uint64(size)
	}

	return CoverageReport{
		TotalRangeBytes:  totalBytes,
		NumDistinctFiles: len(distinctFiles),
		LineNumbers:      lineHist.Stats(),
		RangeSizes:       sizeHist.Stats(),
	}
}
