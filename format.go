package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size, or a dash when unknown.
func formatSize(size *int64) string {
	if size == nil {
		return "-"
	}

	return humanize.Bytes(uint64(*size))
}

// formatMtime renders the server's float-seconds mtime for display.
func formatMtime(mtime float64) string {
	if mtime == 0 {
		return "-"
	}

	return time.Unix(int64(mtime), 0).UTC().Format("2006-01-02 15:04:05")
}

// parseSize parses a human size flag like "50MB" into bytes. A plain
// number is taken as bytes.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return int64(n), nil
}

// printTable writes aligned columns to the given writer. headers and
// each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
