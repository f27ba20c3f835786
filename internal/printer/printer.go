// Package printer renders human-facing command output.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Printer writes colored messages to w. Colors follow fatih/color's
// terminal detection and NO_COLOR.
type Printer struct {
	w io.Writer
}

// New creates a Printer for w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Writer returns the destination writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Success prints a green line with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.w, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line with a warning prefix.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.w, "⚠ %s\n", fmt.Sprintf(format, a...))
}

// Failure prints a bold red line with a cross prefix.
func (p *Printer) Failure(format string, a ...any) {
	red.Fprintf(p.w, "✗ %s\n", fmt.Sprintf(format, a...))
}

// Step prints an emphasized progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.w, "→ %s\n", fmt.Sprintf(format, a...))
}

// Header prints a bold section title.
func (p *Printer) Header(format string, a ...any) {
	bold.Fprintf(p.w, "%s\n", fmt.Sprintf(format, a...))
}

// Info prints a plain line.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.w, format+"\n", a...)
}

// KeyValues prints aligned "key: value" pairs in the given order.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		fmt.Fprintf(p.w, "  %-*s  %s\n", width+1, kv[0]+":", kv[1])
	}
}

// Table renders rows under header.
func (p *Printer) Table(header []string, rows [][]string) {
	table := tablewriter.NewWriter(p.w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

// Error prints a titled error with an explanation and suggestions, and
// returns an error carrying the title for the command to exit with.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.w, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(p.w, "\n%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.w, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.w, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.w, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", strings.TrimSpace(title))
}
