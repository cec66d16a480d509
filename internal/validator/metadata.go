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
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/schema"
	"github.com/planetlabs/treeq/internal/geoparquet"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

func RequiredGeoKey() Rule {
	return &GenericRule[*file.Reader]{
		title: fmt.Sprintf("file must include a %q metadata key", geoparquet.MetadataKey),
		validate: func(file *file.Reader) error {
			_, err := geoparquet.GetMetadataValue(file.MetaData().KeyValueMetadata(), geoparquet.MetadataKey)
			if errors.Is(err, geoparquet.ErrNoMetadata) {
				return fatal("missing %q metadata key", geoparquet.MetadataKey)
			}
			return nil
		},
	}
}

func RequiredMetadataType() Rule {
	return &GenericRule[*file.Reader]{
		title: "metadata must be a JSON object",
		validate: func(file *file.Reader) error {
			value, err := geoparquet.GetMetadataValue(file.MetaData().KeyValueMetadata(), geoparquet.MetadataKey)
			if err != nil {
				return fatal("%s", err)
			}
			object := map[string]any{}
			if err := json.Unmarshal([]byte(value), &object); err != nil {
				return fatal("failed to parse file metadata as a JSON object")
			}
			return nil
		},
	}
}

// requiredString checks that a top level member is a string.
func requiredString(key string, allowEmpty bool) Rule {
	return &GenericRule[MetadataMap]{
		title: fmt.Sprintf("metadata must include a %q string", key),
		validate: func(metadata MetadataMap) error {
			value, ok := metadata[key]
			if !ok {
				return fmt.Errorf("missing %q in metadata", key)
			}
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("expected %q to be a string, got %s", key, asJSON(value))
			}
			if str == "" && !allowEmpty {
				return fmt.Errorf("expected %q to be a non-empty string", key)
			}
			return nil
		},
	}
}

func RequiredVersion() Rule {
	return requiredString("version", false)
}

func RequiredPrimaryColumn() Rule {
	return requiredString("primary_column", true)
}

func RequiredColumns() Rule {
	return &GenericRule[MetadataMap]{
		title: `metadata must include a "columns" object`,
		validate: func(metadata MetadataMap) error {
			value, ok := metadata["columns"]
			if !ok {
				return fatal(`missing "columns" in metadata`)
			}
			columns, ok := value.(map[string]any)
			if !ok {
				return fatal(`expected "columns" to be an object, got %s`, asJSON(value))
			}
			for name, meta := range columns {
				if _, ok := meta.(map[string]any); !ok {
					return fatal("expected column %q to be an object, got %s", name, asJSON(meta))
				}
			}
			return nil
		},
	}
}

// optionalString returns an optional string member of the column metadata.
func optionalString(name string, meta map[string]any, key string) (string, bool, error) {
	value, ok := meta[key]
	if !ok {
		return "", false, nil
	}
	str, ok := value.(string)
	if !ok {
		return "", true, fmt.Errorf("expected %q for column %q to be a string, got %s", key, name, asJSON(value))
	}
	return str, true, nil
}

func RequiredColumnEncoding() Rule {
	return eachColumn(`column metadata must include a valid "encoding" string`, func(name string, meta map[string]any) error {
		encoding, ok, err := optionalString(name, meta, "encoding")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("missing %q for column %q", "encoding", name)
		}
		if encoding != geoparquet.DefaultGeometryEncoding {
			return fmt.Errorf("unsupported encoding %q for column %q", encoding, name)
		}
		return nil
	})
}

func RequiredGeometryTypes() Rule {
	return eachColumn(`column metadata must include a "geometry_types" list`, func(name string, meta map[string]any) error {
		value, ok := meta["geometry_types"]
		if !ok {
			return fmt.Errorf("missing %q for column %q", "geometry_types", name)
		}
		list, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected %q for column %q to be a list, got %s", "geometry_types", name, asJSON(value))
		}
		for _, item := range list {
			geometryType, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected %q for column %q to be a list of strings, got %s", "geometry_types", name, asJSON(list))
			}
			if !slices.Contains(geoparquet.GeometryTypes, geometryType) {
				return fmt.Errorf("unsupported geometry type %q for column %q", geometryType, name)
			}
		}
		return nil
	})
}

func projJSONSchemaURL(version string) string {
	return fmt.Sprintf("https://proj.org/schemas/v%s/projjson.schema.json", version)
}

// leafMessage reports the first innermost cause of a schema violation.
func leafMessage(err *jsonschema.ValidationError) string {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := leaf.InstanceLocation
	if location == "" {
		location = "input"
	}
	return fmt.Sprintf("%s is invalid: %s", location, leaf.Message)
}

const optionalCRSTitle = `optional "crs" must be null or a PROJJSON object`

func OptionalCRS() Rule {
	return eachColumn(optionalCRSTitle, func(name string, meta map[string]any) error {
		if meta["crs"] == nil {
			return nil
		}
		crs, ok := meta["crs"].(map[string]any)
		if !ok {
			return fmt.Errorf("expected %q for column %q to be an object, got %s", "crs", name, asJSON(meta["crs"]))
		}
		schemaURL, ok := crs["$schema"].(string)
		if !ok {
			schemaURL = projJSONSchemaURL("0.6")
		}
		compiled, err := jsonschema.NewCompiler().Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("failed to compile PROJJSON schema: %w", err)
		}
		err = compiled.Validate(crs)
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("validation failed against %s: %s", schemaURL, leafMessage(validationErr))
		}
		return err
	})
}

// optionalEnum checks an optional string member against the allowed values.
func optionalEnum(key string, allowed ...string) Rule {
	return eachColumn(fmt.Sprintf("optional %q must be a valid string", key), func(name string, meta map[string]any) error {
		value, ok, err := optionalString(name, meta, key)
		if err != nil || !ok {
			return err
		}
		if !slices.Contains(allowed, value) {
			return fmt.Errorf("unsupported %s %q for column %q, expected one of %s", key, value, name, asJSON(allowed))
		}
		return nil
	})
}

func OptionalOrientation() Rule {
	return optionalEnum("orientation", geoparquet.OrientationCounterClockwise)
}

func OptionalEdges() Rule {
	return optionalEnum("edges", geoparquet.EdgesPlanar, geoparquet.EdgesSpherical)
}

func OptionalBbox() Rule {
	return eachColumn(`optional "bbox" must be an array of 4 or 6 numbers`, func(name string, meta map[string]any) error {
		value, ok := meta["bbox"]
		if !ok {
			return nil
		}
		bbox, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected %q for column %q to be a list, got %s", "bbox", name, asJSON(value))
		}
		if len(bbox) != 4 && len(bbox) != 6 {
			return fmt.Errorf("expected %q for column %q to be a list of 4 or 6 numbers, got %s", "bbox", name, asJSON(bbox))
		}
		for _, item := range bbox {
			if _, ok := item.(float64); !ok {
				return fatal("expected %q for column %q to be a list of numbers, got %s", "bbox", name, asJSON(bbox))
			}
		}
		return nil
	})
}

func OptionalEpoch() Rule {
	return eachColumn(`optional "epoch" must be a number`, func(name string, meta map[string]any) error {
		value, ok := meta["epoch"]
		if !ok {
			return nil
		}
		if _, ok := value.(float64); !ok {
			return fatal("expected %q for column %q to be a number, got %s", "epoch", name, asJSON(value))
		}
		return nil
	})
}

func PrimaryColumnInLookup() Rule {
	return &GenericRule[*FileInfo]{
		title: `column metadata must include the "primary_column" name`,
		validate: func(info *FileInfo) error {
			if info.Metadata.Primary() == nil {
				return fmt.Errorf("the %q column is not included in the column metadata", info.Metadata.PrimaryColumn)
			}
			return nil
		},
	}
}

// schemaField looks up the top level parquet field for a geometry column.
func schemaField(info *FileInfo, name string) (schema.Node, error) {
	root := info.File.MetaData().Schema.Root()
	index := root.FieldIndexByName(name)
	if index < 0 {
		return nil, fatal("missing geometry column %q", name)
	}
	return root.Field(index), nil
}

func GeometryUngrouped() Rule {
	return eachGeometryColumn("geometry columns must not be grouped", func(info *FileInfo, name string) error {
		field, err := schemaField(info, name)
		if err != nil {
			return err
		}
		if _, ok := field.(*schema.PrimitiveNode); !ok {
			return fmt.Errorf("column %q must not be a group", name)
		}
		return nil
	})
}

func GeometryDataType() Rule {
	return eachGeometryColumn("geometry columns must be stored using the BYTE_ARRAY parquet type", func(info *FileInfo, name string) error {
		field, err := schemaField(info, name)
		if err != nil {
			return err
		}
		primitive, ok := field.(*schema.PrimitiveNode)
		if !ok {
			return fatal("expected primitive column for %q", name)
		}
		if primitive.PhysicalType() != parquet.Types.ByteArray {
			return fatal("unexpected type for column %q, got %s", name, primitive.PhysicalType())
		}
		return nil
	})
}

func GeometryRepetition() Rule {
	return eachGeometryColumn("geometry columns must be required or optional, not repeated", func(info *FileInfo, name string) error {
		field, err := schemaField(info, name)
		if err != nil {
			return err
		}
		switch field.RepetitionType() {
		case parquet.Repetitions.Required, parquet.Repetitions.Optional:
			return nil
		case parquet.Repetitions.Repeated:
			return fmt.Errorf("column %q must not be repeated", name)
		}
		return fmt.Errorf("column %q must be required or optional", name)
	})
}
