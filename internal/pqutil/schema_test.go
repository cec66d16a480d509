package pqutil_test

import (
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/planetlabs/treeq/internal/pqutil"
	"github.com/planetlabs/treeq/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquetSchemaString(t *testing.T) {
	cases := map[string]struct {
		fields   []arrow.Field
		expected string
	}{
		"attributes": {
			fields: []arrow.Field{
				{Name: "Municipality", Type: arrow.BinaryTypes.String, Nullable: false},
				{Name: "Height", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
				{Name: "Crown", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
				{Name: "Age", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
				{Name: "Year_of_planting", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
				{Name: "Monumental", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
				{Name: "Protected", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
				{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true},
				{Name: "tag", Type: &arrow.FixedSizeBinaryType{ByteWidth: 4}, Nullable: false},
			},
			expected: `
				message {
					required binary Municipality (STRING);
					optional double Height;
					optional float Crown;
					optional int32 Age (INT (32, true));
					optional int64 Year_of_planting (INT (64, true));
					optional boolean Monumental;
					required boolean Protected;
					optional binary geometry;
					required fixed_len_byte_array (24) tag;
				}
			`,
		},
		"bbox covering": {
			fields: []arrow.Field{
				{Name: "bbox", Type: arrow.StructOf(
					arrow.Field{Name: "xmin", Type: arrow.PrimitiveTypes.Float64},
					arrow.Field{Name: "ymin", Type: arrow.PrimitiveTypes.Float64},
					arrow.Field{Name: "xmax", Type: arrow.PrimitiveTypes.Float64},
					arrow.Field{Name: "ymax", Type: arrow.PrimitiveTypes.Float64},
				), Nullable: false},
			},
			expected: `
				message {
					required group bbox {
						required double xmin;
						required double ymin;
						required double xmax;
						required double ymax;
					}
				}
			`,
		},
		"lists": {
			fields: []arrow.Field{
				{Name: "Species", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
				{Name: "Inspections", Type: arrow.ListOf(arrow.StructOf(
					arrow.Field{Name: "inspector", Type: arrow.BinaryTypes.String, Nullable: false},
					arrow.Field{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
				)), Nullable: false},
			},
			expected: `
				message {
					optional group Species (LIST) {
						repeated group list {
							optional binary element (STRING);
						}
					}
					required group Inspections (LIST) {
						repeated group list {
							optional group element {
								required binary inspector (STRING);
								optional double score;
							}
						}
					}
				}
			`,
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			schema, err := pqarrow.ToParquet(arrow.NewSchema(c.fields, nil), nil, pqarrow.DefaultWriterProps())
			require.NoError(t, err)
			assert.Equal(t, test.Tab2Space(test.Dedent(c.expected)), pqutil.ParquetSchemaString(schema))
		})
	}
}

func TestPhysicalTypeString(t *testing.T) {
	assert.Equal(t, "binary", pqutil.PhysicalTypeString(parquet.Types.ByteArray))
	assert.Equal(t, "double", pqutil.PhysicalTypeString(parquet.Types.Double))
	assert.Equal(t, "int64", pqutil.PhysicalTypeString(parquet.Types.Int64))
	assert.Equal(t, "boolean", pqutil.PhysicalTypeString(parquet.Types.Boolean))
}
