package main

import (
	"fmt"
	"io"
	"os"
	"time"
)

// statusf prints a status message to stderr unless --quiet is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatTime returns a compact local timestamp: the clock alone for today,
// the date otherwise.
func formatTime(t, now time.Time) string {
	t = t.Local()
	now = now.Local()

	switch {
	case t.YearDay() == now.YearDay() && t.Year() == now.Year():
		return t.Format("15:04:05")
	case t.Year() == now.Year():
		return t.Format("Jan _2 15:04")
	default:
		return t.Format("Jan _2  2006")
	}
}

// formatExpiry describes a token expiry relative to now.
func formatExpiry(exp, now time.Time) string {
	left := exp.Sub(now).Round(time.Second)
	if left <= 0 {
		return fmt.Sprintf("%s (expired %s ago)", formatTime(exp, now), -left)
	}

	return fmt.Sprintf("%s (in %s)", formatTime(exp, now), left)
}

// field is one label/value line of text output.
type field struct {
	label, value string
}

// printFields writes fields with their values aligned in one column.
func printFields(w io.Writer, fields []field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.label)+1)
	}

	for _, f := range fields {
		fmt.Fprintf(w, "%-*s  %s\n", width, f.label+":", f.value)
	}
}
