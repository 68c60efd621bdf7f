// Package geo defines the geographic hierarchy, population weight table, and
// the atom remapping rules used to build statespace weight matrices.
//
// A location is either an atom (smallest reporting unit) or a region (a named
// union of atoms). One wrinkle: an atom may itself be split into reporting
// sub-units at weight-computation time (New York reports as New York City and
// the rest of the state), which the remap table describes.
package geo

import (
	_ "embed"
	"os"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed geography.yaml
var defaultGeography []byte

// popEntry holds per-season population counts for one reporting sub-unit.
type popEntry struct {
	Default int         `yaml:"default"`
	Seasons map[int]int `yaml:"seasons"`
}

// file is the YAML document shape.
type file struct {
	MinimumSeason int                 `yaml:"minimum_season"`
	Atoms         []string            `yaml:"atoms"`
	Remap         map[string][]string `yaml:"remap"`
	Regions       map[string][]string `yaml:"regions"`
	Populations   map[string]popEntry `yaml:"populations"`
}

// Geo is an immutable geography: atoms, regions, populations, remapping.
type Geo struct {
	atoms     []string
	catalog   []string
	regions   map[string][]string
	remap     map[string][]string
	pops      map[string]popEntry
	minSeason int
}

// Load reads a geography definition from a YAML file.
func Load(path string) (*Geo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", path)
	}
	return parse(data)
}

var (
	defaultOnce sync.Once
	defaultGeo  *Geo
)

// Default returns the embedded US geography.
func Default() *Geo {
	defaultOnce.Do(func() {
		g, err := parse(defaultGeography)
		if err != nil {
			panic(err)
		}
		defaultGeo = g
	})
	return defaultGeo
}

func parse(data []byte) (*Geo, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "geo: parse geography")
	}
	if len(f.Atoms) == 0 {
		return nil, eris.New("geo: no atoms defined")
	}

	g := &Geo{
		atoms:     f.Atoms,
		regions:   f.Regions,
		remap:     f.Remap,
		pops:      f.Populations,
		minSeason: f.MinimumSeason,
	}

	// Every reporting sub-unit must have a population entry.
	for _, atom := range f.Atoms {
		for _, sub := range g.Subunits(atom) {
			if _, ok := g.pops[sub]; !ok {
				return nil, eris.Errorf("geo: no population for %s", sub)
			}
		}
	}

	// Output catalogue: regions in name order, then atoms.
	regions := make([]string, 0, len(f.Regions))
	for name := range f.Regions {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	g.catalog = append(g.catalog, regions...)
	g.catalog = append(g.catalog, f.Atoms...)

	return g, nil
}

// Atoms returns the atomic locations, in catalogue order.
func (g *Geo) Atoms() []string {
	return g.atoms
}

// Catalog returns every known location (regions first, then atoms).
func (g *Geo) Catalog() []string {
	return g.catalog
}

// IsAtom reports whether the location is atomic.
func (g *Geo) IsAtom(location string) bool {
	for _, a := range g.atoms {
		if a == location {
			return true
		}
	}
	return false
}

// Subunits returns the reporting sub-units of an atom: the remapped list if
// the atom is split, otherwise the atom itself.
func (g *Geo) Subunits(atom string) []string {
	if subs, ok := g.remap[atom]; ok {
		return subs
	}
	return []string{atom}
}

// Constituents returns the reporting sub-units contained in a location. For a
// region that is the membership list; for an atom it is its own sub-units.
// The second return value is false for unknown locations.
func (g *Geo) Constituents(location string) ([]string, bool) {
	if members, ok := g.regions[location]; ok {
		return members, true
	}
	if g.IsAtom(location) {
		return g.Subunits(location), true
	}
	return nil, false
}

// Contains reports whether the location contains the given reporting sub-unit.
func (g *Geo) Contains(location, subunit string) bool {
	members, ok := g.Constituents(location)
	if !ok {
		return false
	}
	for _, m := range members {
		if m == subunit {
			return true
		}
	}
	return false
}

// Population returns the population of a reporting sub-unit for the given
// season. Season 0 means "most recent". Requested seasons are clamped to the
// earliest season with assigned weights, so retrospective lookups before that
// season reuse its counts.
func (g *Geo) Population(subunit string, season int) int {
	entry, ok := g.pops[subunit]
	if !ok {
		return 0
	}
	if season == 0 {
		return entry.Default
	}
	if season < g.minSeason {
		season = g.minSeason
	}
	if p, ok := entry.Seasons[season]; ok {
		return p
	}
	return entry.Default
}
