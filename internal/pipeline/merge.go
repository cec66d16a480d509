package pipeline

import (
	"fmt"
	"strings"

	"github.com/planetlabs/treeq/internal/crs"
	"github.com/planetlabs/treeq/internal/source"
)

// Merge combines the layers of a source into one.  A single layer is
// returned as is.  With several layers every column the mapping reads must
// resolve in at least one of them, and all embedded CRSs must agree.  Rows
// are concatenated in layer order and the columns are the ordered union.
func Merge(layers []*source.Layer, columns []string) (*source.Layer, error) {
	switch len(layers) {
	case 0:
		return &source.Layer{}, nil
	case 1:
		return layers[0], nil
	}

	for _, column := range columns {
		found := false
		for _, layer := range layers {
			if layer.HasColumn(column) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: column %q is not present in any of the layers %s", ErrIncompatibleSchema, column, layerNames(layers))
		}
	}

	embedded, err := commonCRS(layers)
	if err != nil {
		return nil, err
	}

	merged := &source.Layer{Name: layers[0].Name, CRS: embedded}
	seen := map[string]bool{}
	size := 0
	for _, layer := range layers {
		size += len(layer.Records)
		if merged.GeometryColumn == "" {
			merged.GeometryColumn = layer.GeometryColumn
		}
		for _, column := range layer.Columns {
			if !seen[column] {
				seen[column] = true
				merged.Columns = append(merged.Columns, column)
			}
		}
	}

	merged.Records = make([]*source.Record, 0, size)
	for _, layer := range layers {
		merged.Records = append(merged.Records, layer.Records...)
	}
	return merged, nil
}

// commonCRS returns the CRS embedded in the layers.  Layers without one
// adopt the CRS of the others.
func commonCRS(layers []*source.Layer) (string, error) {
	var (
		id     string
		parsed *crs.CRS
		from   string
	)
	for _, layer := range layers {
		if layer.CRS == "" {
			continue
		}
		if id == "" {
			id, from = layer.CRS, layer.Name
			parsed, _ = crs.Parse(layer.CRS)
			continue
		}
		if strings.EqualFold(id, layer.CRS) {
			continue
		}
		if other, err := crs.Parse(layer.CRS); err == nil && parsed.Equal(other) {
			continue
		}
		return "", fmt.Errorf("%w: layer %q uses %s while layer %q uses %s", ErrIncompatibleSchema, from, id, layer.Name, layer.CRS)
	}
	return id, nil
}

func layerNames(layers []*source.Layer) string {
	names := make([]string, len(layers))
	for i, layer := range layers {
		names[i] = fmt.Sprintf("%q", layer.Name)
	}
	return strings.Join(names, ", ")
}
