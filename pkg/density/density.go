// Package density converts CT Hounsfield units to relative electron density
// using a piecewise-linear calibration table.
package density

import (
	"errors"
	"fmt"
	"sort"

	"radplan/pkg/grid"
)

// ErrEmptyTable indicates a calibration table with no anchor points.
var ErrEmptyTable = errors.New("density: empty calibration table")

// Anchor is a single calibration point mapping a Hounsfield value to a
// relative electron density (water = 1.0).
type Anchor struct {
	HU      int
	Density float64
}

// Table is an HU to electron density lookup. Conversion clamps to the
// nearest anchor outside the calibrated range and interpolates linearly
// between anchors inside it.
type Table struct {
	anchors []Anchor
}

// Default returns the standard calibration table covering air through
// dense bone.
func Default() *Table {
	t, _ := NewTable([]Anchor{
		{-1000, 0.001},
		{-950, 0.001},
		{-700, 0.25},
		{-100, 0.9},
		{0, 1.0},
		{50, 1.05},
		{300, 1.5},
		{1000, 2.0},
		{3000, 3.0},
	})
	return t
}

// NewTable builds a calibration table from the given anchors. Anchors must
// already be in strictly ascending HU order; the table never re-sorts what
// the calibration loader hands it.
func NewTable(anchors []Anchor) (*Table, error) {
	if len(anchors) == 0 {
		return nil, ErrEmptyTable
	}

	copied := make([]Anchor, len(anchors))
	copy(copied, anchors)

	for i := 1; i < len(copied); i++ {
		if copied[i].HU <= copied[i-1].HU {
			return nil, fmt.Errorf("density: anchors not in ascending HU order at HU %d", copied[i].HU)
		}
	}

	return &Table{anchors: copied}, nil
}

// Convert maps a Hounsfield value to relative electron density.
func (t *Table) Convert(hu int) float64 {
	a := t.anchors
	if hu <= a[0].HU {
		return a[0].Density
	}
	last := len(a) - 1
	if hu >= a[last].HU {
		return a[last].Density
	}

	// First anchor with HU strictly greater than the query.
	hi := sort.Search(len(a), func(i int) bool { return a[i].HU > hu })
	lo := hi - 1

	frac := float64(hu-a[lo].HU) / float64(a[hi].HU-a[lo].HU)
	return a[lo].Density + frac*(a[hi].Density-a[lo].Density)
}

// ConvertGrid converts a whole CT volume into an electron density grid with
// the same dimensions and spacing.
func (t *Table) ConvertGrid(ct *grid.CTGrid) *grid.Grid {
	out := grid.NewGrid(ct.Width, ct.Height, ct.Depth, ct.Spacing)
	for i, hu := range ct.Data {
		out.Data[i] = t.Convert(int(hu))
	}
	return out
}
