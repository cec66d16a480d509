package pqutil

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v16/parquet"
	pqschema "github.com/apache/arrow/go/v16/parquet/schema"
)

// ParquetSchemaString renders a schema in the message notation used by
// parquet-go (https://pkg.go.dev/github.com/fraugster/parquet-go/parquetschema).
func ParquetSchemaString(schema *pqschema.Schema) string {
	lines := []string{"message {"}
	root := schema.Root()
	for i := 0; i < root.NumFields(); i += 1 {
		lines = appendNode(lines, root.Field(i), 1)
	}
	lines = append(lines, "}")
	return strings.Join(lines, "\n") + "\n"
}

func appendNode(lines []string, node pqschema.Node, depth int) []string {
	indent := strings.Repeat("  ", depth)
	repetition := node.RepetitionType().String()
	annotation := LogicalOrConvertedAnnotation(node)

	switch n := node.(type) {
	case *pqschema.PrimitiveNode:
		return append(lines, fmt.Sprintf("%s%s %s %s%s;", indent, repetition, PhysicalTypeString(n.PhysicalType()), n.Name(), annotation))
	case *pqschema.GroupNode:
		lines = append(lines, fmt.Sprintf("%s%s group %s%s {", indent, repetition, n.Name(), annotation))
		for i := 0; i < n.NumFields(); i += 1 {
			lines = appendNode(lines, n.Field(i), depth+1)
		}
		return append(lines, indent+"}")
	default:
		return append(lines, fmt.Sprintf("%sunknown node type: %v", indent, node))
	}
}

var timeUnits = map[pqschema.TimeUnitType]string{
	pqschema.TimeUnitMillis: "MILLIS",
	pqschema.TimeUnitMicros: "MICROS",
	pqschema.TimeUnitNanos:  "NANOS",
}

// LogicalOrConvertedAnnotation returns the parenthesized type annotation of
// a node with a leading space, or an empty string for plain nodes.
func LogicalOrConvertedAnnotation(node pqschema.Node) string {
	switch t := node.LogicalType().(type) {
	case *pqschema.IntLogicalType:
		return fmt.Sprintf(" (INT (%d, %t))", t.BitWidth(), t.IsSigned())
	case *pqschema.DecimalLogicalType:
		return fmt.Sprintf(" (DECIMAL (%d, %d))", t.Precision(), t.Scale())
	case *pqschema.TimestampLogicalType:
		unit, ok := timeUnits[t.TimeUnit()]
		if !ok {
			unit = "UNKNOWN"
		}
		return fmt.Sprintf(" (TIMESTAMP (%s, %t))", unit, t.IsAdjustedToUTC())
	case nil, pqschema.UnknownLogicalType, pqschema.NoLogicalType:
		if converted := node.ConvertedType(); converted != pqschema.ConvertedTypes.None {
			return " (" + strings.ToUpper(converted.String()) + ")"
		}
		return ""
	default:
		return " (" + strings.ToUpper(t.String()) + ")"
	}
}

// PhysicalTypeString names a physical type the way the schema notation
// does: lowercase, binary for byte arrays, and the width for fixed length
// byte arrays.
func PhysicalTypeString(physical parquet.Type) string {
	switch physical {
	case parquet.Types.ByteArray:
		return "binary"
	case parquet.Types.FixedLenByteArray:
		return fmt.Sprintf("fixed_len_byte_array (%d)", physical.ByteSize())
	}
	return strings.ToLower(physical.String())
}
