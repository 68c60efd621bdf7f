package statespace

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/brookslogan/nowcast-template/internal/geo"
)

// testGeo builds a three-atom geography with populations 100/300/600 so the
// expected weights are simple fractions.
func testGeo(t *testing.T) *geo.Geo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geo.yaml")
	data := []byte(`
minimum_season: 2010
atoms: [aa, bb, cc]
regions:
  all: [aa, bb, cc]
  east: [aa, bb]
populations:
  aa: {default: 100}
  bb: {default: 300}
  cc: {default: 600}
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	g, err := geo.Load(path)
	require.NoError(t, err)
	return g
}

// countingReducer passes matrices through unchanged and counts calls.
type countingReducer struct {
	calls int
}

func (r *countingReducer) Reduce(h0, w0 *mat.Dense) (*mat.Dense, *mat.Dense, []int, error) {
	r.calls++
	rows, _ := w0.Dims()
	selected := make([]int, rows)
	for i := range selected {
		selected[i] = i
	}
	return h0, w0, selected, nil
}

func TestWeightRowExact(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})
	atoms := g.Atoms()

	// east = aa (100) + bb (300): weights 1/4, 3/4, 0.
	row, err := m.WeightRow("east", 0, atoms)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Zero(t, row[0].Cmp(big.NewRat(1, 4)))
	assert.Zero(t, row[1].Cmp(big.NewRat(3, 4)))
	assert.Zero(t, row[2].Cmp(big.NewRat(0, 1)))

	// Rows are exactly row-stochastic before any float conversion.
	sum := new(big.Rat)
	for _, v := range row {
		sum.Add(sum, v)
	}
	assert.Zero(t, sum.Cmp(big.NewRat(1, 1)))

	// An atom's own row is the indicator row.
	row, err = m.WeightRow("bb", 0, atoms)
	require.NoError(t, err)
	assert.Zero(t, row[1].Cmp(big.NewRat(1, 1)))
	assert.Zero(t, row[0].Cmp(new(big.Rat)))
}

func TestWeightRowEmptyLocation(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})

	_, err := m.WeightRow("narnia", 0, g.Atoms())
	var empty *EmptyLocationError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "narnia", empty.Location)
}

func TestDetermineStatespaceIdentityFastPath(t *testing.T) {
	g := testGeo(t)
	reducer := &countingReducer{}
	m := NewMapper(g, reducer)

	// Inputs cover every atom, so no reduction happens.
	ss, err := m.DetermineStatespace([]string{"aa", "bb", "cc"}, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, reducer.calls)

	// H is the identity over the atoms.
	assert.True(t, mat.EqualApprox(mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}), ss.H, 1e-12))

	assert.Equal(t, []string{"all", "east", "aa", "bb", "cc"}, ss.OutputLocations)
	// east row of W: 100/400, 300/400, 0.
	assert.InDelta(t, 0.25, ss.W.At(1, 0), 1e-12)
	assert.InDelta(t, 0.75, ss.W.At(1, 1), 1e-12)
	assert.InDelta(t, 0.0, ss.W.At(1, 2), 1e-12)
	// all row: 0.1, 0.3, 0.6.
	assert.InDelta(t, 0.1, ss.W.At(0, 0), 1e-12)
	assert.InDelta(t, 0.3, ss.W.At(0, 1), 1e-12)
	assert.InDelta(t, 0.6, ss.W.At(0, 2), 1e-12)
}

func TestDetermineStatespaceOverlapRejected(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})

	_, err := m.DetermineStatespace([]string{"aa", "bb"}, 0, []string{"bb", "cc"})
	var invalid *InvalidStatespaceRequest
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"bb"}, invalid.Overlap)
}

func TestDetermineStatespaceMemoized(t *testing.T) {
	g := testGeo(t)
	reducer := &countingReducer{}
	m := NewMapper(g, reducer)

	// A partial input set goes through the reducer; the repeat request is
	// served from the memo.
	first, err := m.DetermineStatespace([]string{"aa"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reducer.calls)

	second, err := m.DetermineStatespace([]string{"aa"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reducer.calls)
	assert.Same(t, first, second)

	// A different season is a different request.
	_, err = m.DetermineStatespace([]string{"aa"}, 2015, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reducer.calls)
}

func TestDetermineStatespaceExclusionEmptiesRegion(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})

	// Excluding aa and bb leaves the east region with no populated
	// constituents; the whole request fails, never a partial statespace.
	_, err := m.DetermineStatespace([]string{"cc"}, 0, []string{"aa", "bb"})
	var empty *EmptyLocationError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "east", empty.Location)
}

func TestDetermineStatespaceEmptyInput(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})

	_, err := m.DetermineStatespace([]string{"narnia"}, 0, nil)
	var empty *EmptyLocationError
	assert.True(t, errors.As(err, &empty))
}

func TestDetermineStatespaceNoInputs(t *testing.T) {
	g := testGeo(t)
	m := NewMapper(g, &countingReducer{})

	_, err := m.DetermineStatespace(nil, 0, nil)
	require.Error(t, err)

	_, err = m.DetermineStatespace([]string{}, 0, nil)
	require.Error(t, err)
}

func TestCacheEviction(t *testing.T) {
	c := newCache(2)
	a, b, d := &Statespace{}, &Statespace{}, &Statespace{}

	c.put("a", a)
	c.put("b", b)
	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("d", d)
	_, ok = c.get("b")
	assert.False(t, ok)
	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)
}
