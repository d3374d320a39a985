// Package harness drives hash routines across a geometric sequence of
// message sizes and records elapsed cycles into size-indexed tables.
package harness

import (
	"errors"
	"fmt"
)

// ErrMisaligned is returned when recorded samples do not line up with the
// sizes already present in a table.
var ErrMisaligned = errors.New("sample sizes do not match table rows")

// Sample is the total elapsed cycles of one size's iteration batch.
type Sample struct {
	Size   uint64 `json:"size"`
	Cycles uint64 `json:"cycles"`
}

// Column selects a slot of a SequentialRow.
type Column int

const (
	Baseline Column = iota
	Accelerated
)

func (c Column) String() string {
	switch c {
	case Baseline:
		return "baseline"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("column(%d)", int(c))
	}
}

// SequentialRow compares two single-stream routines at one size.
type SequentialRow struct {
	Size        uint64 `json:"size"`
	Baseline    uint64 `json:"baseline_cycles"`
	Accelerated uint64 `json:"accelerated_cycles"`
}

// SequentialTable holds one row per tested size, in increasing order.
type SequentialTable struct {
	Rows []SequentialRow `json:"rows"`
}

// Record writes samples into col. Recording the same column again
// overwrites it.
func (t *SequentialTable) Record(col Column, samples []Sample) error {
	if col != Baseline && col != Accelerated {
		return fmt.Errorf("record %s: unknown column", col)
	}

	if len(t.Rows) == 0 {
		t.Rows = make([]SequentialRow, len(samples))
		for i, s := range samples {
			t.Rows[i].Size = s.Size
		}
	}

	if err := checkAligned(len(t.Rows), func(i int) uint64 {
		return t.Rows[i].Size
	}, samples); err != nil {
		return fmt.Errorf("record %s: %w", col, err)
	}

	for i, s := range samples {
		if col == Baseline {
			t.Rows[i].Baseline = s.Cycles
		} else {
			t.Rows[i].Accelerated = s.Cycles
		}
	}

	return nil
}

// ParallelRow holds one size's cycles for every parallelism degree.
// Cycles[k] belongs to the table's Degrees[k].
type ParallelRow struct {
	Size   uint64   `json:"size"`
	Cycles []uint64 `json:"cycles"`
}

// ParallelTable holds multi-stream results for a fixed degree list.
type ParallelTable struct {
	Degrees []int         `json:"degrees"`
	Rows    []ParallelRow `json:"rows"`
}

// NewParallelTable creates an empty table with one column per degree.
func NewParallelTable(degrees []int) *ParallelTable {
	return &ParallelTable{Degrees: append([]int(nil), degrees...)}
}

// Column returns the index of degree in Degrees, or -1.
func (t *ParallelTable) Column(degree int) int {
	for i, d := range t.Degrees {
		if d == degree {
			return i
		}
	}

	return -1
}

// Record writes samples into degree's column.
func (t *ParallelTable) Record(degree int, samples []Sample) error {
	col := t.Column(degree)
	if col < 0 {
		return fmt.Errorf("record %dx: degree not in table %v", degree, t.Degrees)
	}

	if len(t.Rows) == 0 {
		t.Rows = make([]ParallelRow, len(samples))
		for i, s := range samples {
			t.Rows[i] = ParallelRow{
				Size:   s.Size,
				Cycles: make([]uint64, len(t.Degrees)),
			}
		}
	}

	if err := checkAligned(len(t.Rows), func(i int) uint64 {
		return t.Rows[i].Size
	}, samples); err != nil {
		return fmt.Errorf("record %dx: %w", degree, err)
	}

	for i, s := range samples {
		t.Rows[i].Cycles[col] = s.Cycles
	}

	return nil
}

func checkAligned(rows int, size func(int) uint64, samples []Sample) error {
	if len(samples) != rows {
		return fmt.Errorf("%w: %d samples for %d rows",
			ErrMisaligned, len(samples), rows)
	}

	for i, s := range samples {
		if s.Size != size(i) {
			return fmt.Errorf("%w: row %d has size %d, sample has %d",
				ErrMisaligned, i, size(i), s.Size)
		}
	}

	return nil
}
