package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/planetlabs/treeq/cmd/treeq/command"
	"github.com/planetlabs/treeq/internal/test"
)

func (s *Suite) describe(cmd *command.DescribeCmd) *command.DescribeInfo {
	cmd.Format = "json"
	s.Require().NoError(cmd.Run())

	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), info))
	return info
}

func (s *Suite) TestDescribe() {
	output := s.convert(s.amsterdam())

	info := s.describe(&command.DescribeCmd{Input: filepath.Join(output, "amsterdam", "amsterdam.parquet")})

	s.Equal(int64(2), info.NumRows)
	s.Equal(1, info.NumRowGroups)

	names := []string{}
	for _, field := range info.Schema.Fields {
		names = append(names, field.Name)
	}
	s.Equal([]string{"Municipality", "Latin_name", "Height", "Year_of_planting", "Trunk_diameter", "geometry", "bbox"}, names)

	s.Equal("binary", info.Schema.Fields[0].Type)
	s.Equal("string", info.Schema.Fields[0].Annotation)
	s.Equal("zstd", info.Schema.Fields[0].Compression)
	s.Equal("double", info.Schema.Fields[2].Type)
	s.Equal("int64", info.Schema.Fields[3].Type)
	s.Equal("binary", info.Schema.Fields[5].Type)
	s.Equal("group", info.Schema.Fields[6].Annotation)
	s.Len(info.Schema.Fields[6].Fields, 4)

	s.Require().NotNil(info.Metadata)
	s.Equal("geometry", info.Metadata.PrimaryColumn)
	s.Equal([]string{"Point"}, info.Metadata.Primary().GetGeometryTypes())

	s.Require().NotNil(info.Dataset)
	s.Equal("Amsterdam", info.Dataset.Name)
	s.Equal("csv", info.Dataset.SourceFormat)
	s.Equal(int64(2), info.Dataset.Rows)
}

func (s *Suite) TestDescribeRemote() {
	s.convert(s.amsterdam())

	info := s.describe(&command.DescribeCmd{Input: s.server.URL + "/output/amsterdam/amsterdam.parquet"})
	s.Equal(int64(2), info.NumRows)
	s.Require().NotNil(info.Dataset)
	s.Equal("Amsterdam", info.Dataset.Name)
}

func (s *Suite) TestDescribeStdin() {
	schema := arrow.NewSchema([]arrow.Field{{Name: "num", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	s.writeStdin(test.ParquetFromJSON(s.T(), schema, `[
		{"num": 0},
		{"num": 1},
		{"num": 2},
		{"num": 3},
		{"num": 4}
	]`))

	info := s.describe(&command.DescribeCmd{})
	s.Equal(int64(5), info.NumRows)
	s.Equal(1, info.NumRowGroups)
	s.Require().Len(info.Schema.Fields, 1)
	s.Equal("int64", info.Schema.Fields[0].Type)
	s.True(info.Schema.Fields[0].Optional)
	s.Nil(info.Metadata)
	s.Nil(info.Dataset)
}

func (s *Suite) TestDescribeText() {
	output := s.convert(s.amsterdam())

	cmd := &command.DescribeCmd{Input: filepath.Join(output, "amsterdam", "amsterdam.parquet"), Format: "text"}
	s.Require().NoError(cmd.Run())

	text := string(s.readStdout())
	s.Contains(text, "Latin_name")
	s.Contains(text, "EPSG:4326")
	s.Contains(text, "Amsterdam")
	s.Contains(text, "dropped rows")
}

func (s *Suite) TestDescribeNotParquet() {
	path := filepath.Join(s.dir, "trees.csv")
	s.Require().NoError(os.WriteFile(path, []byte(amsterdamCSV), 0o644))

	cmd := &command.DescribeCmd{Input: path, Format: "json"}
	s.ErrorContains(cmd.Run(), "as parquet")
}
