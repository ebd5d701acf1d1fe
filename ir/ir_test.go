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

package ir_test

import (
	"testing"

	"github.com/crashlog/symcache/ir"
)

func TestFunctionHasEntryPC(t *testing.T) {
	withPC := ir.Function{Name: 1, EntryPC: 0x1000, Lang: 0}
	if !withPC.HasEntryPC() {
		t.Errorf("expected function with concrete entry_pc to report HasEntryPC")
	}

	withoutPC := ir.Function{Name: 1, EntryPC: ir.Absent, Lang: 0}
	if withoutPC.HasEntryPC() {
		t.Errorf("expected function with absent entry_pc to report !HasEntryPC")
	}
}

func TestSourceLocationIsInlined(t *testing.T) {
	root := ir.SourceLocation{
		File:        0,
		Line:        10,
		Function:    0,
		InlinedInto: ir.SourceLocationIndex(ir.Absent),
	}
	if root.IsInlined() {
		t.Errorf("expected root source location to report !IsInlined")
	}

	inlined := ir.SourceLocation{
		File:        0,
		Line:        10,
		Function:    0,
		InlinedInto: 0,
	}
	if !inlined.IsInlined() {
		t.Errorf("expected chained source location to report IsInlined")
	}
}

func TestAbsentSentinelIsMaxUint32(t *testing.T) {
	if ir.Absent != 0xffffffff {
		t.Errorf("expected Absent to be 0xffffffff, got %#x", ir.Absent)
	}
}
