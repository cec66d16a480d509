package command_test

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/planetlabs/treeq/cmd/treeq/command"
	"github.com/planetlabs/treeq/internal/pipeline"
)

const emptyGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "properties": {"soort": "Acer"}, "geometry": {"type": "LineString", "coordinates": []}}
	]
}`

func (s *Suite) convertCmd(configPath string) *command.ConvertCmd {
	return &command.ConvertCmd{
		Config:   configPath,
		Output:   filepath.Join(s.dir, "output"),
		Format:   "json",
		LogLevel: "error",
	}
}

func (s *Suite) readReport() *command.ConvertReport {
	report := &command.ConvertReport{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), report))
	return report
}

func (s *Suite) TestConvert() {
	s.writeFile("remote/utrecht.csv", "species;lon;lat\nFagus sylvatica;5,12;52,09\n")
	remote := map[string]any{
		"name":          "Utrecht",
		"download_link": s.server.URL + "/remote/utrecht.csv",
		"file_type":     "csv",
		"crs":           "EPSG:4326",
		"column_mapping": map[string]string{
			"Latin_name":   "species",
			"Municipality": "Utrecht",
			"Lon":          "lon",
			"Lat":          "lat",
		},
	}
	empty := map[string]any{
		"name":       "Empty",
		"local_path": s.writeFile("sources/empty.geojson", emptyGeoJSON),
		"file_type":  "geojson",
		"column_mapping": map[string]string{
			"Latin_name":   "soort",
			"Municipality": "Leeg",
		},
	}

	cmd := s.convertCmd(s.writeConfig(s.amsterdam(), remote, empty))
	s.Require().NoError(cmd.Run())

	report := s.readReport()
	s.Equal(&pipeline.Summary{Succeeded: 2, Skipped: 1, Rows: 3, Lost: 1}, report.Summary)
	s.Require().Len(report.Results, 3)

	amsterdam := report.Results[0]
	s.Equal("Amsterdam", amsterdam.Name)
	s.Equal(pipeline.StatusSucceeded, amsterdam.Status)
	s.Equal(int64(2), amsterdam.Rows)
	s.Equal([]float64{4.90, 52.36, 4.91, 52.37}, amsterdam.Extent)
	s.FileExists(filepath.Join(s.dir, "output", "amsterdam", "amsterdam.parquet"))

	utrecht := report.Results[1]
	s.Equal(pipeline.StatusSucceeded, utrecht.Status, utrecht.Message)
	s.Equal([]float64{5.12, 52.09, 5.12, 52.09}, utrecht.Extent)

	skipped := report.Results[2]
	s.Equal(pipeline.StatusSkipped, skipped.Status)
	s.Equal(pipeline.KindEmptyDataset, skipped.Kind)
	s.NoFileExists(filepath.Join(s.dir, "output", "empty", "empty.parquet"))
}

func (s *Suite) TestConvertSingleDataset() {
	missing := map[string]any{
		"name":           "Missing",
		"local_path":     filepath.Join(s.dir, "nowhere.csv"),
		"file_type":      "csv",
		"column_mapping": map[string]string{"Municipality": "Nergens", "Lon": "x", "Lat": "y"},
	}

	cmd := s.convertCmd(s.writeConfig(missing, s.amsterdam()))
	cmd.Dataset = "amsterdam"
	s.Require().NoError(cmd.Run())

	report := s.readReport()
	s.Require().Len(report.Results, 1)
	s.Equal("Amsterdam", report.Results[0].Name)
}

func (s *Suite) TestConvertFailure() {
	missing := map[string]any{
		"name":           "Missing",
		"local_path":     filepath.Join(s.dir, "nowhere.csv"),
		"file_type":      "csv",
		"column_mapping": map[string]string{"Municipality": "Nergens", "Lon": "x", "Lat": "y"},
	}

	cmd := s.convertCmd(s.writeConfig(missing, s.amsterdam()))
	err := cmd.Run()
	s.Require().Error(err)
	s.ErrorAs(err, new(*command.CommandError))
	s.Equal("1 of 2 datasets failed", err.Error())

	report := s.readReport()
	s.Equal(pipeline.StatusFailed, report.Results[0].Status)
	s.Equal(pipeline.KindFetch, report.Results[0].Kind)
	s.Equal(pipeline.StatusSucceeded, report.Results[1].Status)
}

func (s *Suite) TestConvertUnknownDataset() {
	cmd := s.convertCmd(s.writeConfig(s.amsterdam()))
	cmd.Dataset = "Rotterdam"
	s.ErrorContains(cmd.Run(), `no dataset named "Rotterdam"`)
}

func (s *Suite) TestConvertInvalidConfig() {
	cmd := s.convertCmd(s.writeFile("datasets.json", `[{"name": "No type"}]`))
	s.Error(cmd.Run())
}

func (s *Suite) TestConvertText() {
	cmd := s.convertCmd(s.writeConfig(s.amsterdam()))
	cmd.Format = "text"
	cmd.Unpretty = true
	s.Require().NoError(cmd.Run())

	output := string(s.readStdout())
	s.Contains(output, "Amsterdam")
	s.Contains(output, "succeeded")
	s.Contains(output, "[4.900000, 52.360000, 4.910000, 52.370000]")
	s.True(strings.HasSuffix(output, "Summary: 1 succeeded, 0 skipped, 0 failed.\n\n"))
}
