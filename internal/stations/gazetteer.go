// Package stations maps free-text station names from arrival records onto
// canonical gazetteer entries with coordinates.
package stations

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// Station is one reference gazetteer entry: CRS code, canonical name and
// WGS84 coordinates. Read-only once loaded.
type Station struct {
	CRS       string
	Name      string
	Latitude  float64
	Longitude float64
}

// Gazetteer is the reference dataset, keyed by canonical name. Loaded once
// per pipeline run and never mutated afterwards.
type Gazetteer struct {
	byName map[string]Station
	names  []string // canonical names, sorted for deterministic iteration
}

// LoadGazetteer reads the station_coordinates CSV written by the
// stationsimport tool. The file must have a header row naming at least
// crs, station_name, latitude and longitude columns, in any order.
func LoadGazetteer(path string) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadGazetteer(f)
}

// ReadGazetteer parses gazetteer CSV from r.
func ReadGazetteer(r io.Reader) (*Gazetteer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read gazetteer header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"crs", "station_name", "latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("gazetteer missing column %q", required)
		}
	}

	g := &Gazetteer{byName: make(map[string]Station)}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read gazetteer line %d: %w", line, err)
		}

		name := rec[col["station_name"]]
		crs := rec[col["crs"]]
		if name == "" || crs == "" {
			continue
		}
		lat, err := strconv.ParseFloat(rec[col["latitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(rec[col["longitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("gazetteer line %d: longitude: %w", line, err)
		}

		if _, dup := g.byName[name]; !dup {
			g.names = append(g.names, name)
		}
		g.byName[name] = Station{CRS: crs, Name: name, Latitude: lat, Longitude: lon}
	}

	if len(g.byName) == 0 {
		return nil, fmt.Errorf("gazetteer contains no stations")
	}
	sort.Strings(g.names)
	return g, nil
}

// Lookup returns the station for an exact canonical name.
func (g *Gazetteer) Lookup(name string) (Station, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Names returns the sorted canonical name set. Callers must not modify it.
func (g *Gazetteer) Names() []string { return g.names }

// Len reports the number of stations loaded.
func (g *Gazetteer) Len() int { return len(g.byName) }
