package common

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

// Report writes the boxed console layout shared by the admin tools: a
// titled header, tree items with indented details, and a footer.
type Report struct {
	w     io.Writer
	width int
}

// NewReport writes to stdout.
func NewReport(width int) *Report {
	return NewReportTo(os.Stdout, width)
}

func NewReportTo(w io.Writer, width int) *Report {
	return &Report{w: w, width: width}
}

func (r *Report) line(s string) {
	fmt.Fprintln(r.w, s)
}

func (r *Report) Header(title string) {
	r.line("\n" + strings.Repeat("=", r.width))
	r.line(title)
	r.Rule()
}

func (r *Report) Footer(message string) {
	r.line("\n" + strings.Repeat("=", r.width))
	r.line(message)
	r.line(strings.Repeat("=", r.width) + "\n")
}

func (r *Report) Rule() {
	r.line(strings.Repeat("=", r.width))
}

// Section opens a sub-section inside the tree.
func (r *Report) Section() {
	r.line("├" + strings.Repeat("─", r.width-2))
}

// Item prints one tree entry; last closes the branch.
func (r *Report) Item(last bool, format string, args ...any) {
	prefix := "│  "
	if last {
		prefix = "└  "
	}
	r.line(prefix + fmt.Sprintf(format, args...))
}

// Detail prints a line indented under the item printed with the same last flag.
func (r *Report) Detail(last bool, format string, args ...any) {
	prefix := "│  "
	if last {
		prefix = "   "
	}
	r.line(prefix + "   " + fmt.Sprintf(format, args...))
}

// Field prints an aligned label: value line.
func (r *Report) Field(label, format string, args ...any) {
	r.line(fmt.Sprintf("%-12s %s", label+":", fmt.Sprintf(format, args...)))
}

// GemsItem prints a labelled, right-aligned gem amount as a tree entry.
func (r *Report) GemsItem(last bool, label string, amount int64) {
	r.Item(last, "%-10s: %16s gems", label, FormatGems(amount))
}

// FormatGems renders a gem amount with thousands separators.
func FormatGems(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	for i := len(digits) - 3; i > 0; i -= 3 {
		digits = digits[:i] + "," + digits[i:]
	}
	return sign + digits
}
