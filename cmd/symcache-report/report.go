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

package main

import (
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/crashlog/symcache/converter"
)

// renderReport lays out a CoverageReport as a page with two bar charts
// (line-number and range-size percentiles) and a small summary bar chart,
// matching the fixed percentile set a Histogram tracks.
func renderReport(report converter.CoverageReport) *components.Page {
	page := components.NewPage()
	page.PageTitle = "symcache coverage report"

	page.AddCharts(
		percentileBar("line numbers seen per source location", report.LineNumbers),
		percentileBar("range sizes (bytes)", report.RangeSizes),
		summaryBar(report),
	)

	return page
}

func percentileBar(title string, stats converter.HistogramStats[uint32]) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d sample(s)", stats.Count),
		}),
	)

	bar.SetXAxis([]string{"median", "p90", "p99", "p999"}).
		AddSeries("value", []opts.BarData{
			{Value: stats.Median},
			{Value: stats.P90},
			{Value: stats.P99},
			{Value: stats.P999},
		})

	return bar
}

func summaryBar(report converter.CoverageReport) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "conversion summary",
		}),
	)

	bar.SetXAxis([]string{"distinct files", "total range bytes (KiB)"}).
		AddSeries("value", []opts.BarData{
			{Value: report.NumDistinctFiles},
			{Value: report.TotalRangeBytes / 1024},
		})

	return bar
}
