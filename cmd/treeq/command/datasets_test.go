package command_test

import (
	"encoding/json"
	"path/filepath"

	"github.com/planetlabs/treeq/cmd/treeq/command"
)

func (s *Suite) TestDatasets() {
	broken := map[string]any{
		"name":           "Den Haag",
		"download_link":  "https://example.com/bomen.json",
		"file_type":      "JSON",
		"column_mapping": map[string]string{"Municipality": "Den Haag", "Lon": "x"},
	}
	native := map[string]any{
		"name":           "Zeist",
		"local_path":     "zeist.gpkg",
		"file_type":      "gpkg",
		"column_mapping": map[string]string{"Municipality": "Zeist", "Latin_name": "boomsoort"},
	}

	output := filepath.Join(s.dir, "output")
	cmd := &command.DatasetsCmd{Config: s.writeConfig(s.amsterdam(), broken, native), Output: output, Format: "json"}
	s.Require().NoError(cmd.Run())

	infos := []*command.DatasetInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), &infos))
	s.Require().Len(infos, 3)

	amsterdam := infos[0]
	s.Equal("csv", amsterdam.Format)
	s.Equal("EPSG:4326", amsterdam.CRS)
	s.Equal(filepath.Join(output, "amsterdam", "amsterdam.parquet"), amsterdam.Output)
	s.Equal(map[string]string{
		"Geometry":         "Lon, Lat",
		"Municipality":     "= Amsterdam",
		"Latin_name":       "Soortnaam",
		"Height":           "Boomhoogte",
		"Year_of_planting": "Plantjaar",
	}, amsterdam.Mapping)
	s.Empty(amsterdam.Problem)

	denHaag := infos[1]
	s.Equal("json", denHaag.Format)
	s.Equal("https://example.com/bomen.json", denHaag.Location)
	s.Equal(filepath.Join(output, "den-haag", "den-haag.parquet"), denHaag.Output)
	s.Contains(denHaag.Problem, "must be declared together")

	zeist := infos[2]
	s.Equal("native", zeist.Mapping["Geometry"])
	s.Equal("boomsoort", zeist.Mapping["Latin_name"])
}

func (s *Suite) TestDatasetsText() {
	cmd := &command.DatasetsCmd{Config: s.writeConfig(s.amsterdam()), Output: "output", Format: "text"}
	s.Require().NoError(cmd.Run())

	output := string(s.readStdout())
	s.Contains(output, "Amsterdam")
	s.Contains(output, "Latin_name: Soortnaam")
	s.Contains(output, "Geometry: Lon, Lat")
}
