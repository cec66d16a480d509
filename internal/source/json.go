package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/planetlabs/treeq/internal/geojson"
)

// geometryColumn is the name given to native geometries of formats that do
// not name their geometry column.
const geometryColumn = "geometry"

func readJSON(path string, options *Options) ([]*Layer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := geojson.NewFeatureReader(bufio.NewReader(file))
	columns := newColumnSet()
	layer := &Layer{Name: layerName(path)}
	for {
		feature, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", ErrParse, len(layer.Records), err)
		}
		properties := feature.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		if feature.Id != nil {
			if _, ok := properties["id"]; !ok {
				properties["id"] = feature.Id
			}
		}
		columns.addKeys(properties)
		if feature.Geometry != nil {
			layer.GeometryColumn = geometryColumn
		}
		layer.Records = append(layer.Records, &Record{Properties: properties, Geometry: feature.Geometry})
	}
	layer.Columns = columns.names
	return []*Layer{layer}, nil
}
