// Package printer formats meshctl output. Every function takes the writer
// so commands can route output through cobra and tests can capture it.
package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a message in green with a checkmark prefix
func Success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s", fmt.Sprintf(format, a...))
}

// Warning prints a message in yellow with a warning prefix
func Warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! %s", fmt.Sprintf(format, a...))
}

// Failure prints a message in bold red with a cross prefix
func Failure(w io.Writer, format string, a ...any) {
	red.Fprintf(w, "✗ %s", fmt.Sprintf(format, a...))
}

// Step prints a step message with emphasis
func Step(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, "→ %s", fmt.Sprintf(format, a...))
}

// Muted prints secondary detail
func Muted(w io.Writer, format string, a ...any) {
	faint.Fprintf(w, format, a...)
}

// Printf prints a plain formatted message
func Printf(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format, a...)
}

// Error prints a title, explanation, context and suggestions to w and
// returns a simple error for Cobra.
func Error(w io.Writer, title, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(w, "%s\n", title)

	if explanation != "" {
		fmt.Fprintf(w, "\n%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "\n")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, context[k])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(w, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(w, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(w, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(w, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return reportedError(title)
}

// reportedError is an error whose details were already printed.
type reportedError string

func (e reportedError) Error() string { return string(e) }

// IsReported reports whether err was produced by Error and needs no
// further printing.
func IsReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}
