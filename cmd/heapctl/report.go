package main

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// formatBytes renders n with a binary unit and grouped digits.
func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return printer.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return printer.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return printer.Sprintf("%.2f KiB", float64(n)/(1<<10))
	default:
		return printer.Sprintf("%d B", n)
	}
}

// formatCount renders n with grouped digits.
func formatCount[T ~int | ~int64 | ~uint64](n T) string {
	return printer.Sprintf("%d", n)
}

// percent returns part/total as a percentage string.
func percent(part, total uint64) string {
	if total == 0 {
		return "-"
	}
	return strconv.FormatFloat(100*float64(part)/float64(total), 'f', 1, 64) + "%"
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}
