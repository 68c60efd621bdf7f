// Package statespace builds the population-weight matrices that map between
// the atomic geographic statespace and arbitrary sets of input and output
// locations.
//
// H maps from statespace (columns) to input space (rows). W maps from
// statespace (columns) to output space (rows). Weight rows are computed in
// exact rational arithmetic and converted to floating point only at the
// matrix boundary, because the downstream reduction is rank-sensitive.
package statespace

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/geo"
)

// Statespace holds the input and output weight matrices over a shared column
// basis, plus the locations corresponding to the rows of W. Treated as
// immutable once built.
type Statespace struct {
	H               *mat.Dense
	W               *mat.Dense
	OutputLocations []string
}

// Reducer collapses a redundant or partial atomic statespace to a minimal
// basis. It returns reduced H and W over the new basis together with the
// indices of output-catalogue rows still representable.
type Reducer interface {
	Reduce(h0, w0 *mat.Dense) (h, w *mat.Dense, selected []int, err error)
}

const defaultCacheSize = 16

// Mapper builds statespaces for a fixed geography. Results are memoized with
// a small bounded cache since the same request recurs across nearby weeks.
type Mapper struct {
	geo     *geo.Geo
	reducer Reducer
	memo    *cache
}

// NewMapper creates a Mapper over the given geography and reducer.
func NewMapper(g *geo.Geo, r Reducer) *Mapper {
	return &Mapper{geo: g, reducer: r, memo: newCache(defaultCacheSize)}
}

// WeightRow returns the population weights of every atom with respect to the
// given location. Atoms outside the location get weight zero; an atom split
// into reporting sub-units contributes the population of the sub-units the
// location actually contains. The returned weights sum to exactly one.
func (m *Mapper) WeightRow(location string, season int, atoms []string) ([]*big.Rat, error) {
	populations := make([]int64, len(atoms))
	var total int64
	for i, atom := range atoms {
		var pop int64
		for _, sub := range m.geo.Subunits(atom) {
			if m.geo.Contains(location, sub) {
				pop += int64(m.geo.Population(sub, season))
			}
		}
		populations[i] = pop
		total += pop
	}
	if total == 0 {
		return nil, &EmptyLocationError{Location: location}
	}

	row := make([]*big.Rat, len(atoms))
	for i, pop := range populations {
		row[i] = big.NewRat(pop, total)
	}
	return row, nil
}

// weightMatrix stacks weight rows for each location.
func (m *Mapper) weightMatrix(locations []string, season int, atoms []string) ([][]*big.Rat, error) {
	rows := make([][]*big.Rat, len(locations))
	for i, loc := range locations {
		row, err := m.WeightRow(loc, season, atoms)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

// DetermineStatespace returns the matrices H and W used by the sensor fusion
// kernel, plus the output locations corresponding to the rows of W.
//
// season is the surveillance season for retrospective population weights
// (zero means most recent). exclude lists atoms known not to be reporting;
// they are removed from the statespace entirely and must not appear among the
// inputs.
func (m *Mapper) DetermineStatespace(inputLocations []string, season int, excludeLocations []string) (*Statespace, error) {
	if len(inputLocations) == 0 {
		return nil, eris.New("statespace: no input locations")
	}
	if overlap := intersect(inputLocations, excludeLocations); len(overlap) > 0 {
		return nil, &InvalidStatespaceRequest{Overlap: overlap}
	}

	key := cacheKey(inputLocations, season, excludeLocations)
	if ss, ok := m.memo.get(key); ok {
		return ss, nil
	}

	excluded := make(map[string]bool, len(excludeLocations))
	for _, loc := range excludeLocations {
		excluded[loc] = true
	}
	atoms := filter(m.geo.Atoms(), excluded)
	catalog := filter(m.geo.Catalog(), excluded)

	h0, err := m.weightMatrix(inputLocations, season, atoms)
	if err != nil {
		return nil, err
	}

	// An exclusion that empties a catalogue region fails the whole request;
	// matrix construction never returns a partial statespace.
	w0 := make([][]*big.Rat, len(catalog))
	for i, loc := range catalog {
		row, err := m.WeightRow(loc, season, atoms)
		if err != nil {
			return nil, err
		}
		w0[i] = row
	}

	// Typical case: every atom is represented among the inputs, so the
	// atomic decomposition is already the statespace and no reduction is
	// needed.
	if covers(inputLocations, atoms) {
		ss := &Statespace{
			H:               toDense(h0),
			W:               toDense(w0),
			OutputLocations: catalog,
		}
		m.memo.put(key, ss)
		return ss, nil
	}

	h, w, selected, err := m.reducer.Reduce(toDense(h0), toDense(w0))
	if err != nil {
		return nil, err
	}
	kept := make([]string, len(selected))
	for i, idx := range selected {
		kept[i] = catalog[idx]
	}
	ss := &Statespace{H: h, W: w, OutputLocations: kept}
	m.memo.put(key, ss)
	return ss, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func filter(locations []string, excluded map[string]bool) []string {
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		if !excluded[loc] {
			out = append(out, loc)
		}
	}
	return out
}

// covers reports whether the input set is a superset of the atoms.
func covers(inputs, atoms []string) bool {
	set := make(map[string]bool, len(inputs))
	for _, loc := range inputs {
		set[loc] = true
	}
	for _, atom := range atoms {
		if !set[atom] {
			return false
		}
	}
	return true
}

// toDense converts exact-rational rows to a float64 matrix. This is the only
// place weights lose exactness.
func toDense(rows [][]*big.Rat) *mat.Dense {
	r, c := len(rows), len(rows[0])
	out := mat.NewDense(r, c, nil)
	for i, row := range rows {
		for j, v := range row {
			f, _ := v.Float64()
			out.Set(i, j, f)
		}
	}
	return out
}

func cacheKey(inputs []string, season int, excludes []string) string {
	return fmt.Sprintf("%s|%d|%s",
		strings.Join(inputs, ","), season, strings.Join(excludes, ","))
}
