package pipeline

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/planetlabs/treeq/internal/crs"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/hilbert"
)

// Reproject transforms the geometry of every row in place.
func Reproject(rows []*Row, reprojector *crs.Reprojector) {
	if reprojector.Identity() {
		return
	}
	for _, row := range rows {
		if row.Invalid != "" || row.Feature.Geometry == nil {
			continue
		}
		row.Feature.Geometry = reprojector.Reproject(row.Feature.Geometry)
	}
}

// Filter drops rows without a valid WGS84 geometry and accounts for each of
// them.  Zero valid rows is an ErrEmptyDataset.
func Filter(rows []*Row) ([]*geo.Feature, *Stats, error) {
	stats := &Stats{}
	features := make([]*geo.Feature, 0, len(rows))
	for _, row := range rows {
		if row.Invalid != "" {
			stats.drop(row.Invalid)
			continue
		}
		if err := geo.Validate(row.Feature.Geometry); err != nil {
			stats.drop(geo.ReasonOf(err))
			continue
		}
		stats.keep()
		features = append(features, row.Feature)
	}
	if stats.Valid == 0 {
		return nil, stats, fmt.Errorf("%w: all %d rows were dropped", ErrEmptyDataset, stats.Total)
	}
	return features, stats, nil
}

// Sort orders the features along a Hilbert curve over their extent.
func Sort(features []*geo.Feature) ([]*geo.Feature, error) {
	geometries := make([]orb.Geometry, len(features))
	for i, feature := range features {
		geometries[i] = feature.Geometry
	}
	order, err := hilbert.Sort(geometries)
	if err != nil {
		return nil, err
	}
	sorted := make([]*geo.Feature, len(features))
	for i, position := range order {
		sorted[i] = features[position]
	}
	return sorted, nil
}
