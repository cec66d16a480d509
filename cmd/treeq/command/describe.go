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

package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/metadata"
	"github.com/apache/arrow/go/v16/parquet/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/treeq/internal/geoparquet"
	"github.com/planetlabs/treeq/internal/pqutil"
	"golang.org/x/term"
)

type DescribeCmd struct {
	Input    string        `arg:"" optional:"" name:"input" help:"Path or URL for a GeoParquet file.  If not provided, input is read from stdin."`
	Format   string        `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
	Timeout  time.Duration `help:"Timeout for fetching a remote file." default:"60s"`
	Unpretty bool          `help:"No newlines or indentation in the JSON output."`
}

const (
	ColName          = "Column"
	ColType          = "Type"
	ColAnnotation    = "Annotation"
	ColRepetition    = "Repetition"
	ColCompression   = "Compression"
	ColEncoding      = "Encoding"
	ColGeometryTypes = "Geometry Types"
	ColBounds        = "Bounds"
	ColDetail        = "Detail"
)

type DescribeInfo struct {
	Schema       *DescribeSchema             `json:"schema"`
	Metadata     *geoparquet.Metadata        `json:"metadata"`
	Dataset      *geoparquet.DatasetMetadata `json:"dataset,omitempty"`
	NumRows      int64                       `json:"rows"`
	NumRowGroups int                         `json:"groups"`
}

type DescribeSchema struct {
	Name        string            `json:"name,omitempty"`
	Optional    bool              `json:"optional,omitempty"`
	Repeated    bool              `json:"repeated,omitempty"`
	Type        string            `json:"type,omitempty"`
	Annotation  string            `json:"annotation,omitempty"`
	Compression string            `json:"compression,omitempty"`
	Fields      []*DescribeSchema `json:"fields,omitempty"`
}

func (c *DescribeCmd) Run() error {
	input, inputErr := readerFromInput(context.Background(), c.Input, c.Timeout)
	if inputErr != nil {
		return NewCommandError("trouble getting a reader from %q: %w", c.Input, inputErr)
	}
	defer input.Close()

	fileReader, fileErr := file.NewParquetReader(input)
	if fileErr != nil {
		return NewCommandError("failed to read %q as parquet: %w", inputName(c.Input), fileErr)
	}
	defer fileReader.Close()

	info, err := describe(fileReader)
	if err != nil {
		return NewCommandError("%w", err)
	}

	if c.Format == "json" {
		if err := writeJSON(info, c.Unpretty); err != nil {
			return NewCommandError("failed to encode metadata: %w", err)
		}
		return nil
	}
	c.formatText(info)
	return nil
}

func describe(fileReader *file.Reader) (*DescribeInfo, error) {
	fileMetadata := fileReader.MetaData()
	kv := fileMetadata.KeyValueMetadata()

	metadata, geoErr := geoparquet.GetMetadata(kv)
	if geoErr != nil && !errors.Is(geoErr, geoparquet.ErrNoMetadata) {
		return nil, geoErr
	}

	var dataset *geoparquet.DatasetMetadata
	if hasKey(kv, geoparquet.DatasetMetadataKey) {
		d, err := geoparquet.GetDatasetMetadata(kv)
		if err != nil {
			return nil, err
		}
		dataset = d
	}

	return &DescribeInfo{
		Schema:       buildSchema(fileReader, "", fileMetadata.Schema.Root()),
		Metadata:     metadata,
		Dataset:      dataset,
		NumRows:      fileMetadata.NumRows,
		NumRowGroups: fileReader.NumRowGroups(),
	}, nil
}

func hasKey(kv metadata.KeyValueMetadata, key string) bool {
	for _, pair := range kv {
		if pair.Key == key {
			return true
		}
	}
	return false
}

func (c *DescribeCmd) formatText(info *DescribeInfo) {
	metadata := info.Metadata

	header := table.Row{ColName, ColType, ColAnnotation, ColRepetition, ColCompression}
	columnConfigs := []table.ColumnConfig{}
	if metadata != nil {
		header = append(header, ColEncoding, ColGeometryTypes, ColBounds, ColDetail)
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Name:             ColGeometryTypes,
			WidthMax:         50,
			WidthMaxEnforcer: text.WrapSoft,
		}, table.ColumnConfig{
			Name:             ColBounds,
			WidthMax:         50,
			WidthMaxEnforcer: text.WrapSoft,
		})
	}

	out := os.Stdout
	width := 0
	if term.IsTerminal(int(out.Fd())) {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil {
			width = w
		}
	}

	tbl := table.NewWriter()
	if width > 0 {
		tbl.SetAllowedRowLength(width)
	}
	tbl.SetColumnConfigs(columnConfigs)
	tbl.AppendHeader(header)

	for _, field := range info.Schema.Fields {
		name := field.Name
		if metadata != nil && metadata.PrimaryColumn == name {
			name = text.Bold.Sprint(name)
		}
		repetition := "1"
		if field.Repeated {
			repetition = "0..*"
		} else if field.Optional {
			repetition = "0..1"
		}
		row := table.Row{name, field.Type, field.Annotation, repetition, field.Compression}
		if metadata != nil {
			row = append(row, geometryDetail(metadata, field.Name)...)
		}
		tbl.AppendRow(row)
	}

	tbl.AppendFooter(makeFooter("Rows", info.NumRows, header), table.RowConfig{AutoMerge: true})
	tbl.AppendFooter(makeFooter("Groups", info.NumRowGroups, header), table.RowConfig{AutoMerge: true})
	if metadata != nil {
		version := metadata.Version
		if version == "" {
			version = "missing"
		}
		tbl.AppendFooter(makeFooter("Version", version, header), table.RowConfig{AutoMerge: true, AutoMergeAlign: text.AlignLeft})
	}

	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(out)
	tbl.Render()

	if info.Dataset == nil {
		return
	}
	dataset := info.Dataset
	details := table.NewWriter()
	if width > 0 {
		details.SetAllowedRowLength(width)
	}
	details.SetTitle("Dataset")
	details.AppendRow(table.Row{"name", dataset.Name})
	for _, pair := range [][2]string{
		{"owner", dataset.Owner},
		{"contact", dataset.Contact},
		{"source", dataset.Source},
		{"source format", dataset.SourceFormat},
		{"source crs", dataset.SourceCRS},
		{"update frequency", dataset.UpdateInterval},
		{"language", dataset.Language},
		{"run", dataset.RunId},
	} {
		if pair[1] != "" {
			details.AppendRow(table.Row{pair[0], pair[1]})
		}
	}
	details.AppendRow(table.Row{"rows", dataset.Rows})
	details.AppendRow(table.Row{"dropped rows", dataset.DroppedRows})
	details.SetStyle(table.StyleRounded)
	details.SetOutputMirror(out)
	details.Render()
}

func geometryDetail(metadata *geoparquet.Metadata, name string) table.Row {
	geoColumn, ok := metadata.Columns[name]
	if !ok {
		return table.Row{""}
	}
	types := strings.Join(geoColumn.GetGeometryTypes(), ", ")
	bounds := ""
	if geoColumn.Bounds != nil {
		values := make([]string, len(geoColumn.Bounds))
		for i, v := range geoColumn.Bounds {
			values[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		bounds = fmt.Sprintf("[%s]", strings.Join(values, ", "))
	}
	details := table.NewWriter()
	details.SetStyle(table.StyleLight)
	details.Style().Options.DrawBorder = false
	if geoColumn.Orientation != "" {
		details.AppendRow(table.Row{"orientation", geoColumn.Orientation})
	}
	if geoColumn.Edges != "" {
		details.AppendRow(table.Row{"edges", geoColumn.Edges})
	}
	if geoColumn.CRS != nil {
		if proj, err := geoColumn.Proj(); err == nil && proj != nil && proj.Id != nil {
			details.AppendRow(table.Row{"crs", proj.Id.String()})
		} else {
			details.AppendRow(table.Row{"crs", "custom"})
		}
	}
	if covering := geoColumn.Covering.Column(); covering != "" {
		details.AppendRow(table.Row{"covering", covering})
	}
	return table.Row{geoColumn.Encoding, types, bounds, details.Render()}
}

func makeFooter(key string, value any, header table.Row) table.Row {
	row := table.Row{key, value}
	for i := len(row); i < len(header); i += 1 {
		row = append(row, "")
	}
	return row
}

func getCompression(fileReader *file.Reader, node schema.Node) string {
	if _, ok := node.(*schema.GroupNode); ok {
		return ""
	}
	if fileReader.NumRowGroups() == 0 {
		return "unknown"
	}
	rowGroupReader := fileReader.RowGroup(0)
	colIndex := fileReader.MetaData().Schema.ColumnIndexByName(node.Path())
	if colIndex < 0 {
		return "unknown"
	}
	col, err := rowGroupReader.MetaData().ColumnChunk(colIndex)
	if err != nil {
		return "unknown"
	}
	return strings.ToLower(col.Compression().String())
}

func annotation(node schema.Node) string {
	value := pqutil.LogicalOrConvertedAnnotation(node)
	if value == "" {
		if _, isGroup := node.(*schema.GroupNode); isGroup {
			return "group"
		}
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(value, " ("), ")"))
}

func buildSchema(fileReader *file.Reader, name string, node schema.Node) *DescribeSchema {
	repetition := node.RepetitionType()
	field := &DescribeSchema{
		Name:        name,
		Optional:    repetition == parquet.Repetitions.Optional,
		Repeated:    repetition == parquet.Repetitions.Repeated,
		Annotation:  annotation(node),
		Compression: getCompression(fileReader, node),
	}

	switch n := node.(type) {
	case *schema.PrimitiveNode:
		field.Type = pqutil.PhysicalTypeString(n.PhysicalType())
	case *schema.GroupNode:
		count := n.NumFields()
		field.Fields = make([]*DescribeSchema, count)
		for i := 0; i < count; i += 1 {
			child := n.Field(i)
			field.Fields[i] = buildSchema(fileReader, child.Name(), child)
		}
	}
	return field
}
