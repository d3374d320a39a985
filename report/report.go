// Package report renders measurement tables as box-drawn text, markdown
// or JSON. Every renderer is a pure function of its input table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/heartever/flo-shani-aesni/harness"
)

// Format selects a renderer.
type Format string

const (
	FormatBox      Format = "box"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatBox, FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (box, markdown, json)", s)
	}
}

// Labels names the two sequential columns.
type Labels struct {
	Baseline    string
	Accelerated string
}

const cellWidth = 9

// Ratio divides num by den. A zero denominator yields +Inf, or NaN when
// the numerator is zero as well.
func Ratio(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return math.NaN()
		}

		return math.Inf(1)
	}

	return num / den
}

// SequentialSpeedup is baseline cycles over accelerated cycles.
func SequentialSpeedup(row harness.SequentialRow) float64 {
	return Ratio(float64(row.Baseline), float64(row.Accelerated))
}

// ParallelSpeedup is N * cycles_1x / cycles_N for the column holding
// degree N. Without a 1x column the result is NaN.
func ParallelSpeedup(t *harness.ParallelTable, row harness.ParallelRow, col int) float64 {
	one := t.Column(1)
	if one < 0 {
		return math.NaN()
	}

	degree := float64(t.Degrees[col])

	return Ratio(degree*float64(row.Cycles[one]), float64(row.Cycles[col]))
}

// Sequential writes the single-stream comparison table.
func Sequential(w io.Writer, t *harness.SequentialTable, labels Labels) error {
	if t == nil || len(t.Rows) == 0 {
		return fmt.Errorf("no sequential results to report")
	}

	fmt.Fprintf(w, "    SHA-256: %s vs %s\n", labels.Baseline, labels.Accelerated)

	b := newBox(4)
	b.header(w, "bytes", labels.Baseline, labels.Accelerated, "Speedup")

	for _, r := range t.Rows {
		fmt.Fprintf(w, "║%9d║%9d║%9d║%9.2f║\n",
			r.Size, r.Baseline, r.Accelerated, SequentialSpeedup(r))
	}

	b.footer(w)

	return nil
}

// Parallel writes the multi-stream speedup table.
func Parallel(w io.Writer, t *harness.ParallelTable) error {
	if t == nil || len(t.Rows) == 0 {
		return fmt.Errorf("no parallel results to report")
	}

	fmt.Fprintln(w, " Multiple-message hashing")

	cols := []string{"bytes"}
	for _, d := range t.Degrees {
		cols = append(cols, fmt.Sprintf("%dx", d))
	}

	b := newBox(len(cols))
	b.header(w, cols...)

	for _, r := range t.Rows {
		fmt.Fprintf(w, "║%9d", r.Size)
		for col := range t.Degrees {
			fmt.Fprintf(w, "║%9.2f", ParallelSpeedup(t, r, col))
		}
		fmt.Fprintln(w, "║")
	}

	b.footer(w)

	return nil
}

// SequentialMarkdown writes the single-stream comparison as markdown.
func SequentialMarkdown(w io.Writer, t *harness.SequentialTable, labels Labels) error {
	if t == nil || len(t.Rows) == 0 {
		return fmt.Errorf("no sequential results to report")
	}

	fmt.Fprintf(w, "## SHA-256: %s vs %s\n", labels.Baseline, labels.Accelerated)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "| Bytes | %s | %s | Speedup |\n",
		labels.Baseline, labels.Accelerated)
	fmt.Fprintln(w, "|-------|------|------|---------|")

	for _, r := range t.Rows {
		fmt.Fprintf(w, "| %d | %d | %d | %.2fx |\n",
			r.Size, r.Baseline, r.Accelerated, SequentialSpeedup(r))
	}

	fmt.Fprintln(w)

	return nil
}

// ParallelMarkdown writes the multi-stream speedups as markdown.
func ParallelMarkdown(w io.Writer, t *harness.ParallelTable) error {
	if t == nil || len(t.Rows) == 0 {
		return fmt.Errorf("no parallel results to report")
	}

	fmt.Fprintln(w, "## Multiple-message hashing")
	fmt.Fprintln(w)

	head := []string{"Bytes"}
	rule := []string{"-------"}
	for _, d := range t.Degrees {
		head = append(head, fmt.Sprintf("%dx", d))
		rule = append(rule, "------")
	}

	fmt.Fprintf(w, "| %s |\n", strings.Join(head, " | "))
	fmt.Fprintf(w, "|%s|\n", strings.Join(rule, "|"))

	for _, r := range t.Rows {
		cells := []string{fmt.Sprintf("%d", r.Size)}
		for col := range t.Degrees {
			cells = append(cells,
				fmt.Sprintf("%.2fx", ParallelSpeedup(t, r, col)))
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}

	fmt.Fprintln(w)

	return nil
}

// jsonRatio is nil where the ratio is undefined, since JSON has no
// encoding for NaN or infinity.
func jsonRatio(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}

type jsonSequentialRow struct {
	harness.SequentialRow
	Speedup *float64 `json:"speedup"`
}

type jsonParallelRow struct {
	harness.ParallelRow
	Speedup []*float64 `json:"speedup"`
}

type jsonReport struct {
	Baseline    string              `json:"baseline"`
	Accelerated string              `json:"accelerated"`
	Sequential  []jsonSequentialRow `json:"sequential"`
	Degrees     []int               `json:"degrees"`
	Parallel    []jsonParallelRow   `json:"parallel"`
}

// GenerateJSON writes both tables with their derived ratios as JSON.
func GenerateJSON(
	w io.Writer,
	seq *harness.SequentialTable,
	par *harness.ParallelTable,
	labels Labels,
) error {
	out := jsonReport{
		Baseline:    labels.Baseline,
		Accelerated: labels.Accelerated,
		Sequential:  []jsonSequentialRow{},
		Parallel:    []jsonParallelRow{},
	}

	if seq != nil {
		for _, r := range seq.Rows {
			out.Sequential = append(out.Sequential, jsonSequentialRow{
				SequentialRow: r,
				Speedup:       jsonRatio(SequentialSpeedup(r)),
			})
		}
	}

	if par != nil {
		out.Degrees = par.Degrees
		for _, r := range par.Rows {
			row := jsonParallelRow{ParallelRow: r}
			for col := range par.Degrees {
				row.Speedup = append(row.Speedup,
					jsonRatio(ParallelSpeedup(par, r, col)))
			}
			out.Parallel = append(out.Parallel, row)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// box draws the frame of a fixed-width table with cols cells.
type box struct {
	cols int
}

func newBox(cols int) box {
	return box{cols: cols}
}

func (b box) rule(left, mid, right string) string {
	cells := make([]string, b.cols)
	for i := range cells {
		cells[i] = strings.Repeat("═", cellWidth)
	}

	return left + strings.Join(cells, mid) + right
}

func (b box) header(w io.Writer, labels ...string) {
	fmt.Fprintln(w, b.rule("╔", "╦", "╗"))

	cells := make([]string, len(labels))
	for i, l := range labels {
		cells[i] = center(l, cellWidth)
	}
	fmt.Fprintf(w, "║%s║\n", strings.Join(cells, "║"))

	fmt.Fprintln(w, b.rule("╠", "╩", "╣"))
}

func (b box) footer(w io.Writer) {
	fmt.Fprintln(w, b.rule("╚", "╩", "╝"))
}

// center pads s to width, truncating when it does not fit.
func center(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width])
	}

	pad := width - len(r)
	left := pad / 2

	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
