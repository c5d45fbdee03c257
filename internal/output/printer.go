// Package output renders station chains, timelines and order summaries for
// the terminal.
//
// [Printer] styles text with lipgloss. The renderer is bound to the
// printer's writer, so output sent to a buffer or a pipe carries no escape
// codes.
package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"labflow/internal/acceptance"
	"labflow/internal/router"
	"labflow/internal/status"
)

// Defaults used when the printer is not configured.
const (
	DefaultTruncateLength = 60
	DefaultTimeFormat     = "2006-01-02 15:04"
)

type styles struct {
	success lipgloss.Style
	failure lipgloss.Style
	header  lipgloss.Style
	muted   lipgloss.Style
	status  map[status.StationStatus]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		header:  r.NewStyle().Bold(true).Underline(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		status: map[status.StationStatus]lipgloss.Style{
			status.StationWaiting:    r.NewStyle().Foreground(lipgloss.Color("3")),
			status.StationProcessing: r.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
			status.StationFinished:   r.NewStyle().Foreground(lipgloss.Color("2")),
			status.StationRejected:   r.NewStyle().Foreground(lipgloss.Color("1")),
		},
	}
}

// Printer writes styled terminal output.
type Printer struct {
	out        io.Writer
	s          styles
	truncate   int
	timeFormat string
}

// NewPrinter creates a Printer writing to stdout.
func NewPrinter() *Printer {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a Printer writing to w.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{
		out:        w,
		s:          newStyles(lipgloss.NewRenderer(w)),
		truncate:   DefaultTruncateLength,
		timeFormat: DefaultTimeFormat,
	}
}

// SetTruncateLength limits free-text columns to n runes. Non-positive
// values are ignored.
func (p *Printer) SetTruncateLength(n int) {
	if n > 0 {
		p.truncate = n
	}
}

// SetTimeFormat sets the layout used for timestamps.
func (p *Printer) SetTimeFormat(layout string) {
	if layout != "" {
		p.timeFormat = layout
	}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Success prints a highlighted confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.s.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Failure prints a highlighted error line.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintln(p.out, p.s.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Item prints an item heading.
func (p *Printer) Item(item acceptance.Item) {
	fmt.Fprintln(p.out, p.s.header.Render(fmt.Sprintf("Item %s", item.ID)))
	fmt.Fprintf(p.out, "  order:    %s\n", item.OrderID)
	fmt.Fprintf(p.out, "  workflow: %s\n", item.WorkflowID)
	if item.Name != "" {
		fmt.Fprintf(p.out, "  name:     %s\n", p.cut(item.Name))
	}
	fmt.Fprintf(p.out, "  kind:     %s\n", item.Kind)
	switch {
	case item.Specimen == nil:
		fmt.Fprintf(p.out, "  specimen: %s\n", p.s.muted.Render("none"))
	case item.Specimen.Active:
		fmt.Fprintf(p.out, "  specimen: %s\n", item.Specimen.Barcode)
	default:
		fmt.Fprintf(p.out, "  specimen: %s %s\n", item.Specimen.Barcode, p.s.muted.Render("(inactive)"))
	}
	if item.Report != nil {
		state := "draft"
		if item.Report.Published {
			state = "published"
		}
		fmt.Fprintf(p.out, "  report:   %s\n", state)
	}
}

// Stations prints an item's station chain in creation order.
func (p *Printer) Stations(records []acceptance.StationRecord) {
	fmt.Fprintln(p.out, p.s.header.Render("Stations"))
	if len(records) == 0 {
		fmt.Fprintln(p.out, p.s.muted.Render("  no station records"))
		return
	}
	for _, rec := range records {
		p.station(rec)
	}
}

func (p *Printer) station(rec acceptance.StationRecord) {
	name := rec.SectionName
	if name == "" {
		name = rec.SectionID
	}
	st := p.s.status[rec.Status].Render(fmt.Sprintf("%-10s", rec.Status))
	fmt.Fprintf(p.out, "  [%d] %-16s %s %s\n", rec.Order, name, st, p.s.muted.Render(rec.ID))
	if rec.FinishedAt != nil {
		fmt.Fprintf(p.out, "      finished %s by %s\n", rec.FinishedAt.Format(p.timeFormat), orDash(rec.FinishedBy))
	} else if rec.StartedAt != nil {
		fmt.Fprintf(p.out, "      started %s by %s\n", rec.StartedAt.Format(p.timeFormat), orDash(rec.StartedBy))
	}
	if len(rec.Parameters) > 0 {
		fmt.Fprintf(p.out, "      %s\n", p.cut(formatParameters(rec.Parameters)))
	}
	if rec.Details != "" {
		fmt.Fprintf(p.out, "      %s\n", p.cut(rec.Details))
	}
}

// Remaining prints the sections an item has yet to visit.
func (p *Printer) Remaining(steps []router.Step) {
	if len(steps) == 0 {
		return
	}
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, orElse(s.Name, s.SectionID))
	}
	fmt.Fprintf(p.out, "  next: %s\n", strings.Join(names, " → "))
}

// Timeline prints an item's audit entries.
func (p *Printer) Timeline(entries []acceptance.TimelineEntry) {
	fmt.Fprintln(p.out, p.s.header.Render("Timeline"))
	if len(entries) == 0 {
		fmt.Fprintln(p.out, p.s.muted.Render("  no entries"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(p.out, "  %s  %s\n", p.s.muted.Render(e.At.Format(p.timeFormat)), p.cut(e.Message))
	}
}

// Transition prints the result of a completion or rejection.
func (p *Printer) Transition(rec acceptance.StationRecord, next *acceptance.StationRecord) {
	p.Success("%s %s at %s", rec.ID, rec.Status, orElse(rec.SectionName, rec.SectionID))
	if next == nil {
		fmt.Fprintln(p.out, p.s.muted.Render("  workflow path ended"))
		return
	}
	fmt.Fprintf(p.out, "  next: %s (%s, %s)\n", orElse(next.SectionName, next.SectionID), next.ID, next.Status)
}

// Orders prints one line per order.
func (p *Printer) Orders(orders []acceptance.Order) {
	fmt.Fprintln(p.out, p.s.header.Render("Orders"))
	if len(orders) == 0 {
		fmt.Fprintln(p.out, p.s.muted.Render("  no orders"))
		return
	}
	for _, o := range orders {
		fmt.Fprintf(p.out, "  %-12s %-10s %s\n", o.ID, o.Status, p.cut(o.Reference))
	}
}

// OrderStatus prints the outcome of a roll-up.
func (p *Printer) OrderStatus(orderID string, s status.OrderStatus) {
	fmt.Fprintf(p.out, "  %-12s %s\n", orderID, s)
}

// ScanResult prints the outcome of one barcode scan.
func (p *Printer) ScanResult(barcode string, started []acceptance.StationRecord, err error) {
	if err != nil {
		p.Failure("%s: %v", barcode, err)
		return
	}
	p.Success("%s: started %d station record(s)", barcode, len(started))
	for _, rec := range started {
		fmt.Fprintf(p.out, "  %s %s at %s\n", rec.ItemID, rec.ID, orElse(rec.SectionName, rec.SectionID))
	}
}

// ScanSummary prints the totals of a scanner feed.
func (p *Printer) ScanSummary(scans, started, notFound, notWaiting, failed int) {
	fmt.Fprintln(p.out, p.s.header.Render("Scanner feed"))
	fmt.Fprintf(p.out, "  scans: %d | started: %d | not found: %d | not waiting: %d | failed: %d\n",
		scans, started, notFound, notWaiting, failed)
}

func (p *Printer) cut(s string) string {
	return truncate(s, p.truncate)
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

func formatParameters(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, " ")
}

func orElse(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDash(v string) string {
	return orElse(v, "-")
}
