package dose

import (
	"sort"

	"radplan/pkg/grid"
)

// referenceMask picks the structure used for normalization: the preferred
// name when present and nonempty, otherwise the first nonempty structure in
// sorted name order.
func referenceMask(masks map[string]*grid.Mask, preferred string) (*grid.Mask, string, bool) {
	if m, ok := masks[preferred]; ok && m != nil && m.Count() > 0 {
		return m, preferred, true
	}

	names := make([]string, 0, len(masks))
	for name := range masks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if m := masks[name]; m != nil && m.Count() > 0 {
			return m, name, true
		}
	}
	return nil, "", false
}

// Normalize scales the grid in place so the chosen statistic over the mask
// equals the prescribed dose, and returns the applied scale. It reports
// false and leaves the grid untouched when the statistic or the
// prescription is not positive.
func Normalize(g *grid.Grid, mask *grid.Mask, prescribed float64, mode NormMode) (float64, bool) {
	if prescribed <= 0 || mode == NormNone {
		return 1.0, false
	}

	var stat float64
	var ok bool
	switch mode {
	case NormByMean:
		stat, ok = g.MeanIn(mask)
	default:
		stat, ok = g.MaxIn(mask)
	}
	if !ok || stat <= 0 {
		return 1.0, false
	}

	scale := prescribed / stat
	g.Scale(scale)
	return scale, true
}
