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
	"testing"
)

func entryWithFields(tag dwarf.Tag, fields ...dwarf.Field) *dwarf.Entry {
	return &dwarf.Entry{Tag: tag, Field: fields}
}

func TestDieRangesLowHighDWARF4Offset(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000), Class: dwarf.ClassAddress},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: int64(0x100), Class: dwarf.ClassConstant},
	)
	ranges, err := dieRanges(nil, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != [2]uint64{0x1000, 0x1100} {
		t.Errorf("got %v, want [[0x1000 0x1100]]", ranges)
	}
}

func TestDieRangesLowHighDWARF2Address(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x2000), Class: dwarf.ClassAddress},
		dwarf.Field{Attr: dwarf.AttrHighpc, Val: uint64(0x2100), Class: dwarf.ClassAddress},
	)
	ranges, err := dieRanges(nil, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != [2]uint64{0x2000, 0x2100} {
		t.Errorf("got %v, want [[0x2000 0x2100]]", ranges)
	}
}

func TestDieRangesNoAttributes(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram)
	ranges, err := dieRanges(nil, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranges != nil {
		t.Errorf("got %v, want nil", ranges)
	}
}

func TestDieRangesLowWithoutHigh(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrLowpc, Val: uint64(0x1000), Class: dwarf.ClassAddress},
	)
	if _, err := dieRanges(nil, entry); err == nil {
		t.Errorf("expected error for low_pc without high_pc")
	}
}

func TestResolveEntryPCPrefersExplicitAttribute(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrEntrypc, Val: uint64(0x1234)},
	)
	pc, ok := resolveEntryPC(entry, [][2]uint64{{0x1000, 0x1100}})
	if !ok || pc != 0x1234 {
		t.Errorf("got (%#x, %v), want (0x1234, true)", pc, ok)
	}
}

func TestResolveEntryPCFallsBackToLowestRange(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram)
	pc, ok := resolveEntryPC(entry, [][2]uint64{{0x2000, 0x2100}, {0x1000, 0x1100}})
	if !ok || pc != 0x1000 {
		t.Errorf("got (%#x, %v), want (0x1000, true)", pc, ok)
	}
}

func TestResolveEntryPCNoRanges(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram)
	if _, ok := resolveEntryPC(entry, nil); ok {
		t.Errorf("expected no entry pc when there are no ranges and no explicit attribute")
	}
}

func TestLanguageTag(t *testing.T) {
	cu := entryWithFields(dwarf.TagCompileUnit,
		dwarf.Field{Attr: dwarf.AttrLanguage, Val: int64(0x01)},
	)
	if got := languageTag(cu); got != 1 {
		t.Errorf("got %d, want 1", got)
	}

	noLang := entryWithFields(dwarf.TagCompileUnit)
	if got := languageTag(noLang); got != 0 {
		t.Errorf("got %d, want 0 for missing DW_AT_language", got)
	}
}

func TestCompDirAttr(t *testing.T) {
	cu := entryWithFields(dwarf.TagCompileUnit,
		dwarf.Field{Attr: dwarf.AttrCompDir, Val: "/build"},
	)
	got := compDirAttr(cu)
	if got == nil || *got != "/build" {
		t.Errorf("got %v, want \"/build\"", got)
	}

	empty := entryWithFields(dwarf.TagCompileUnit,
		dwarf.Field{Attr: dwarf.AttrCompDir, Val: ""},
	)
	if got := compDirAttr(empty); got != nil {
		t.Errorf("expected nil for empty comp_dir, got %v", *got)
	}
}

func TestDieNamePrefersLinkageName(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrName, Val: "foo"},
		dwarf.Field{Attr: dwarf.AttrLinkageName, Val: "_Z3foov"},
	)
	if got := dieName(entry); got != "_Z3foov" {
		t.Errorf("got %q, want _Z3foov", got)
	}
}

func TestDieNameFallsBackToName(t *testing.T) {
	entry := entryWithFields(dwarf.TagSubprogram,
		dwarf.Field{Attr: dwarf.AttrName, Val: "foo"},
	)
	if got := dieName(entry); got != "foo" {
		t.Errorf("got %q, want foo", got)
	}
}

func TestKeysInRange(t *testing.T) {
	keys := []uint32{10, 20, 30, 40, 50}

	got := keysInRange(keys, 20, 40)
	want := []uint32{20, 30}
	if !equalUint32Slices(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := keysInRange(keys, 0, 10); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}

	if got := keysInRange(keys, 45, 1000); !equalUint32Slices(got, []uint32{50}) {
		t.Errorf("got %v, want [50]", got)
	}
}

func equalUint32Slices(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
