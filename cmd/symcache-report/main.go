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

// Command symcache-report converts a Breakpad symbol file and/or an ELF
// binary's DWARF debug info into a symcache, and renders an HTML coverage
// report summarizing what went into it: how many distinct files were
// seen, how much address space the ranges cover, and the line-number and
// range-size distributions. It is a convenience around the converter and
// format packages, not part of the core library.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"

	"github.com/crashlog/symcache/converter"
)

func main() {
	var (
		breakpadPath   string
		elfPath        string
		outPath        string
		reportPath     string
		rangeThreshold uint64
	)

	flag.StringVar(&breakpadPath, "breakpad", "", "path to a Breakpad .sym file")
	flag.StringVar(&elfPath, "elf", "", "path to an ELF binary with DWARF debug info")
	flag.StringVar(&outPath, "out", "", "path to write the serialized symcache (optional)")
	flag.StringVar(&reportPath, "report", "report.html", "path to write the HTML coverage report")
	flag.Uint64Var(&rangeThreshold, "range-threshold", 0, "load bias subtracted from every address")
	flag.Parse()

	if breakpadPath == "" && elfPath == "" {
		fmt.Fprintln(os.Stderr, "symcache-report: one of -breakpad or -elf is required")
		os.Exit(2)
	}

	if err := run(breakpadPath, elfPath, outPath, reportPath, rangeThreshold); err != nil {
		fmt.Fprintf(os.Stderr, "symcache-report: %v\n", err)
		os.Exit(1)
	}
}

func run(breakpadPath, elfPath, outPath, reportPath string, rangeThreshold uint64) error {
	c := converter.New(converter.Options{RangeThreshold: rangeThreshold})

	var malformed int
	sink := func(err error) { malformed++ }

	if breakpadPath != "" {
		f, err := os.Open(breakpadPath)
		if err != nil {
			return fmt.Errorf("opening breakpad symbol file: %w", err)
		}
		err = c.ProcessBreakpad(f, sink)
		f.Close()
		if err != nil {
			return fmt.Errorf("processing breakpad symbol file: %w", err)
		}
	}

	if elfPath != "" {
		ef, err := elf.Open(elfPath)
		if err != nil {
			return fmt.Errorf("opening ELF binary: %w", err)
		}
		defer ef.Close()

		d, err := ef.DWARF()
		if err != nil {
			return fmt.Errorf("reading DWARF debug info: %w", err)
		}
		c.ProcessDWARF(d, sink)
	}

	if outPath != "" {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output cache: %w", err)
		}
		stats, err := c.Serialize(out)
		out.Close()
		if err != nil {
			return fmt.Errorf("serializing cache: %w", err)
		}
		fmt.Printf("wrote %s: %d functions, %d files, %d ranges, %d bytes\n",
			outPath, stats.NumFunctions, stats.NumFiles, stats.NumRanges, stats.BytesWritten)
	}

	if malformed > 0 {
		fmt.Printf("%d malformed record(s) skipped during ingestion\n", malformed)
	}

	report := c.ConversionStats()
	page := renderReport(report)

	rf, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer rf.Close()

	if err := page.Render(rf); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	fmt.Printf("wrote coverage report to %s\n", reportPath)
	return nil
}
