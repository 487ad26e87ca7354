// Package enrich attaches gazetteer coordinates and point geometries to
// normalized arrival records.
package enrich

import (
	"fmt"
	"strconv"

	"rail_delays/internal/normalize"
	"rail_delays/internal/stations"
)

// SRID is the spatial reference for all synthesized geometries (WGS84).
const SRID = 4326

// Point is a lon/lat point geometry. Always synthesized from gazetteer
// coordinates so it can be recomputed at any time; never accepted as
// opaque input.
type Point struct {
	Lon float64
	Lat float64
}

// WKT renders the point as well-known text.
func (p Point) WKT() string {
	return "POINT(" + strconv.FormatFloat(p.Lon, 'f', -1, 64) + " " + strconv.FormatFloat(p.Lat, 'f', -1, 64) + ")"
}

// Arrival is a normalized arrival with both endpoints resolved to
// gazetteer stations. Every Arrival the merger emits has complete
// coordinates and geometry for origin and destination; partially resolved
// records are quarantined instead.
type Arrival struct {
	normalize.Arrival

	OriginCRS      string
	OriginLat      float64
	OriginLon      float64
	OriginGeom     Point
	DestinationCRS string
	DestinationLat float64
	DestinationLon float64
	DestGeom       Point
}

// Merger resolves arrival endpoints against a gazetteer and synthesizes
// endpoint geometries.
type Merger struct {
	resolver *stations.Resolver
}

// NewMerger creates a merger using the given resolver.
func NewMerger(r *stations.Resolver) *Merger {
	return &Merger{resolver: r}
}

// Merge enriches one normalized arrival. When either endpoint fails to
// resolve the record is quarantined: the returned rejection names every
// unresolved endpoint and the record is excluded from enriched output.
func (m *Merger) Merge(a normalize.Arrival) (*Arrival, *normalize.Rejection) {
	origin, originOK := m.resolver.Resolve(a.Origin)
	dest, destOK := m.resolver.Resolve(a.Destination)

	if !originOK || !destOK {
		detail := ""
		if !originOK {
			detail = fmt.Sprintf("origin %q unresolved", a.Origin)
		}
		if !destOK {
			if detail != "" {
				detail += "; "
			}
			detail += fmt.Sprintf("destination %q unresolved", a.Destination)
		}
		return nil, &normalize.Rejection{
			Reason:           normalize.ReasonUnresolvedStation,
			RunDate:          a.RunDate.Format("2006-01-02"),
			ServiceID:        a.ServiceID,
			Operator:         a.Operator,
			ScheduledArrival: a.Scheduled.Format("1504"),
			Origin:           a.Origin,
			Destination:      a.Destination,
			Detail:           detail,
		}
	}

	return &Arrival{
		Arrival:        a,
		OriginCRS:      origin.CRS,
		OriginLat:      origin.Latitude,
		OriginLon:      origin.Longitude,
		OriginGeom:     Point{Lon: origin.Longitude, Lat: origin.Latitude},
		DestinationCRS: dest.CRS,
		DestinationLat: dest.Latitude,
		DestinationLon: dest.Longitude,
		DestGeom:       Point{Lon: dest.Longitude, Lat: dest.Latitude},
	}, nil
}
