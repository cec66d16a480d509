package command_test

import (
	"encoding/json"
	"path/filepath"
	"strconv"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/planetlabs/treeq/cmd/treeq/command"
	"github.com/planetlabs/treeq/internal/test"
	"github.com/planetlabs/treeq/internal/validator"
)

func (s *Suite) readValidation() *validator.Report {
	report := &validator.Report{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), report))
	return report
}

func (s *Suite) TestValidateConverted() {
	output := s.convert(s.amsterdam())
	path := filepath.Join(output, "amsterdam", "amsterdam.parquet")

	code := s.run(&command.VersionInfo{}, "validate", "--offline", "--dataset", "--format", "json", path)
	s.Equal(0, code)

	report := s.readValidation()
	s.False(report.MetadataOnly)
	s.Empty(report.Failures())
	expected := len(validator.OfflineMetadataRules()) + len(validator.DataScanningRules()) + len(validator.DatasetRules())
	s.Len(report.Checks, expected)
	for _, check := range report.Checks {
		s.True(check.Run, check.Title)
	}
}

func (s *Suite) TestValidateMetadataOnly() {
	output := s.convert(s.amsterdam())
	path := filepath.Join(output, "amsterdam", "amsterdam.parquet")

	code := s.run(&command.VersionInfo{}, "validate", "--offline", "--metadata-only", "--format", "json", path)
	s.Equal(0, code)

	report := s.readValidation()
	s.True(report.MetadataOnly)
	s.Empty(report.Failures())
}

func (s *Suite) TestValidatePlainParquet() {
	schema := arrow.NewSchema([]arrow.Field{{Name: "species", Type: arrow.BinaryTypes.String, Nullable: true}}, nil)
	s.writeStdin(test.ParquetFromJSON(s.T(), schema, `[{"species": "Acer"}]`))

	code := s.run(&command.VersionInfo{}, "validate", "--offline", "--dataset", "--format", "json")
	s.Equal(1, code)

	report := s.readValidation()
	s.NotEmpty(report.Failures())
}

func (s *Suite) TestValidateText() {
	output := s.convert(s.amsterdam())
	path := filepath.Join(output, "amsterdam", "amsterdam.parquet")

	code := s.run(&command.VersionInfo{}, "validate", "--offline", "--unpretty", path)
	s.Equal(0, code)

	expected := len(validator.OfflineMetadataRules()) + len(validator.DataScanningRules())
	s.Contains(string(s.readStdout()), "Summary: Passed "+strconv.Itoa(expected)+" checks.")
}

func (s *Suite) TestVersion() {
	info := &command.VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-10-19"}
	s.Equal(0, s.run(info, "version", "--format", "json"))

	output := &command.VersionInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), output))
	s.Equal(&command.VersionInfo{Version: "1.2.3"}, output)
}

func (s *Suite) TestVersionDetail() {
	info := &command.VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-10-19"}
	s.Equal(0, s.run(info, "version", "--detail"))
	s.Contains(string(s.readStdout()), "1.2.3 (abc123 2026-10-19, go")
}
