package pqutil

import (
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/planetlabs/treeq/internal/geo"
)

// ArrowSchemaBuilder assembles a schema field by field, keeping the order in
// which fields are added.
type ArrowSchemaBuilder struct {
	fields []arrow.Field
	names  map[string]bool
}

func NewArrowSchemaBuilder() *ArrowSchemaBuilder {
	return &ArrowSchemaBuilder{
		names: map[string]bool{},
	}
}

func (b *ArrowSchemaBuilder) Has(name string) bool {
	return b.names[name]
}

func (b *ArrowSchemaBuilder) add(field arrow.Field) error {
	if b.names[field.Name] {
		return fmt.Errorf("duplicate field %q", field.Name)
	}
	b.names[field.Name] = true
	b.fields = append(b.fields, field)
	return nil
}

// Add appends a nullable field.
func (b *ArrowSchemaBuilder) Add(name string, dataType arrow.DataType) error {
	return b.add(arrow.Field{Name: name, Type: dataType, Nullable: true})
}

func (b *ArrowSchemaBuilder) AddGeometry(name string, encoding string) error {
	var dataType arrow.DataType
	switch encoding {
	case geo.EncodingWKB:
		dataType = arrow.BinaryTypes.Binary
	case geo.EncodingWKT:
		dataType = arrow.BinaryTypes.String
	default:
		return fmt.Errorf("unsupported geometry encoding: %s", encoding)
	}
	return b.add(arrow.Field{Name: name, Type: dataType, Nullable: true})
}

func (b *ArrowSchemaBuilder) AddBbox(name string) error {
	bboxFields := []arrow.Field{
		{Name: "xmin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "ymin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "xmax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "ymax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	}
	dataType := arrow.StructOf(bboxFields...)
	return b.add(arrow.Field{Name: name, Type: dataType, Nullable: true})
}

func (b *ArrowSchemaBuilder) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(b.fields))
	copy(fields, b.fields)
	return arrow.NewSchema(fields, nil)
}
