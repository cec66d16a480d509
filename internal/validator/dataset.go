// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validator

import (
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/planetlabs/treeq/internal/geoparquet"
)

// DatasetRules check the conventions of converted tree datasets on top of
// the GeoParquet rules.
func DatasetRules() []Rule {
	return []Rule{
		RequiredDatasetMetadata(),
		PrimaryColumnWGS84(),
		CoveringColumn(),
	}
}

func RequiredDatasetMetadata() Rule {
	return &GenericRule[*file.Reader]{
		title: fmt.Sprintf("file must include %q metadata matching the row count", geoparquet.DatasetMetadataKey),
		validate: func(file *file.Reader) error {
			dataset, err := geoparquet.GetDatasetMetadata(file.MetaData().KeyValueMetadata())
			if err != nil {
				return err
			}
			if dataset.Name == "" {
				return fmt.Errorf("missing dataset name in %q metadata", geoparquet.DatasetMetadataKey)
			}
			if dataset.Rows != file.NumRows() {
				return fmt.Errorf("%q metadata lists %d rows, the file has %d", geoparquet.DatasetMetadataKey, dataset.Rows, file.NumRows())
			}
			return nil
		},
	}
}

func PrimaryColumnWGS84() Rule {
	return &GenericRule[*FileInfo]{
		title: "primary geometry column must use WGS84 coordinates",
		validate: func(info *FileInfo) error {
			column := info.Metadata.Primary()
			if column == nil {
				return fatal("missing metadata for primary column %q", info.Metadata.PrimaryColumn)
			}
			proj, err := column.Proj()
			if err != nil {
				return err
			}
			if proj == nil {
				return nil
			}
			if proj.Id == nil {
				return fmt.Errorf("crs %q has no identifier", proj)
			}
			switch proj.Id.String() {
			case "EPSG:4326", "OGC:CRS84":
				return nil
			}
			return fmt.Errorf("unexpected crs %s for column %q", proj.Id, info.Metadata.PrimaryColumn)
		},
	}
}

func CoveringColumn() Rule {
	return &GenericRule[*FileInfo]{
		title: "bbox covering must reference a struct column of doubles",
		validate: func(info *FileInfo) error {
			for name, column := range info.Metadata.Columns {
				covering := column.Covering
				if covering == nil {
					continue
				}
				structName := covering.Column()
				if structName == "" {
					return fmt.Errorf("covering for %q must reference a single struct column", name)
				}
				arrowSchema, err := pqarrow.FromParquet(info.File.MetaData().Schema, nil, info.File.MetaData().KeyValueMetadata())
				if err != nil {
					return fmt.Errorf("failed to read schema: %w", err)
				}
				fields, ok := arrowSchema.FieldsByName(structName)
				if !ok {
					return fmt.Errorf("missing covering column %q", structName)
				}
				structType, ok := fields[0].Type.(*arrow.StructType)
				if !ok {
					return fmt.Errorf("covering column %q must be a struct", structName)
				}
				for _, path := range [][]string{covering.Bbox.Xmin, covering.Bbox.Ymin, covering.Bbox.Xmax, covering.Bbox.Ymax} {
					if len(path) != 2 || path[0] != structName {
						return fmt.Errorf("unexpected covering path %v for %q", path, name)
					}
					field, ok := structType.FieldByName(path[1])
					if !ok {
						return fmt.Errorf("covering column %q is missing %q", structName, path[1])
					}
					if field.Type.ID() != arrow.FLOAT64 && field.Type.ID() != arrow.FLOAT32 {
						return fmt.Errorf("covering field %s.%s must be a floating point number", structName, path[1])
					}
				}
			}
			return nil
		},
	}
}
