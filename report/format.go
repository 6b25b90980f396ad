package report

import (
	"strings"

	"github.com/fatih/color"
	"github.com/risor-io/ffiguard/elog"
)

// Formatter formats reports the way the native runtime prints them in
// verbose mode, optionally with colors.
type Formatter struct {
	// UseColor enables ANSI color codes in output.
	UseColor bool
	// Verbose adds the SQLSTATE and LOCATION lines.
	Verbose bool
}

// NewFormatter creates a new report formatter.
func NewFormatter(useColor, verbose bool) *Formatter {
	return &Formatter{UseColor: useColor, Verbose: verbose}
}

// Colors used for report formatting
var (
	colorError    = color.New(color.FgHiRed, color.Bold)
	colorWarning  = color.New(color.FgHiYellow, color.Bold)
	colorNotice   = color.New(color.FgHiBlue, color.Bold)
	colorCode     = color.New(color.FgHiBlack)
	colorLocation = color.New(color.FgCyan)
	colorLabel    = color.New(color.FgHiBlack, color.Bold)
	colorHint     = color.New(color.FgHiYellow)
)

// Format renders a single report. The output always ends with a newline.
func (f *Formatter) Format(r *ReportWithLevel) string {
	var b strings.Builder

	// "ERROR:  22012: division by zero"
	b.WriteString(f.paint(levelColor(r.Level), r.Level.String()+":"))
	b.WriteString("  ")
	if f.Verbose {
		b.WriteString(f.paint(colorCode, r.Code.SQLState()+":"))
		b.WriteString(" ")
	}
	b.WriteString(r.Message)
	b.WriteString("\n")

	if r.Detail != "" {
		f.writeField(&b, "DETAIL", r.Detail, nil)
	}
	if r.Hint != "" {
		f.writeField(&b, "HINT", r.Hint, colorHint)
	}
	if f.Verbose && !r.Location.IsUnknown() {
		f.writeField(&b, "LOCATION", r.Location.String(), colorLocation)
	}
	return b.String()
}

// FormatAll renders several reports separated by blank lines.
func (f *Formatter) FormatAll(reports []*ReportWithLevel) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		parts = append(parts, f.Format(r))
	}
	return strings.Join(parts, "\n")
}

func (f *Formatter) writeField(b *strings.Builder, label, value string, c *color.Color) {
	b.WriteString(f.paint(colorLabel, label+":"))
	b.WriteString("  ")
	if c != nil {
		b.WriteString(f.paint(c, value))
	} else {
		b.WriteString(value)
	}
	b.WriteString("\n")
}

func (f *Formatter) paint(c *color.Color, s string) string {
	if !f.UseColor {
		return s
	}
	return c.Sprint(s)
}

func levelColor(l elog.Level) *color.Color {
	switch {
	case l >= elog.ERROR:
		return colorError
	case l == elog.WARNING:
		return colorWarning
	default:
		return colorNotice
	}
}
