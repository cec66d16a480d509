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
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/pipeline"
	"golang.org/x/term"
)

type DatasetsCmd struct {
	Config   string `help:"Dataset configuration file (JSON or YAML)." type:"existingfile" required:""`
	Output   string `help:"Directory for the converted files." type:"path" default:"output"`
	Format   string `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
	Unpretty bool   `help:"No newlines or indentation in the JSON output."`
}

// DatasetInfo summarizes a configured dataset.
type DatasetInfo struct {
	Name     string            `json:"name"`
	Format   string            `json:"format"`
	CRS      string            `json:"crs,omitempty"`
	Location string            `json:"location"`
	Output   string            `json:"output"`
	Mapping  map[string]string `json:"mapping"`
	Problem  string            `json:"problem,omitempty"`
}

func (c *DatasetsCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return NewCommandError("%w", err)
	}

	infos := make([]*DatasetInfo, len(cfg.Datasets))
	for i, dataset := range cfg.Datasets {
		info := &DatasetInfo{
			Name:     dataset.Name,
			Format:   dataset.Format(),
			CRS:      dataset.CRS,
			Location: dataset.Location(),
			Output:   pipeline.OutputPath(c.Output, dataset),
			Mapping:  map[string]string{},
		}
		mapping, err := cfg.Mapping(dataset)
		if err != nil {
			info.Problem = err.Error()
		} else {
			for _, attribute := range mapping.Attributes {
				if value, ok := mapping.Constants[attribute.Name]; ok {
					info.Mapping[attribute.Name] = "= " + value
				} else if value, ok := mapping.Columns[attribute.Name]; ok {
					info.Mapping[attribute.Name] = value
				}
			}
			info.Mapping[config.KeyGeometry] = geometrySource(mapping)
		}
		infos[i] = info
	}

	if c.Format == "json" {
		if err := writeJSON(infos, c.Unpretty); err != nil {
			return NewCommandError("unable to format datasets as json: %w", err)
		}
		return nil
	}

	out := os.Stdout
	tbl := table.NewWriter()
	if term.IsTerminal(int(out.Fd())) {
		if width, _, err := term.GetSize(int(out.Fd())); err == nil {
			tbl.SetAllowedRowLength(width)
		}
	}
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Location", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Mapping", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	tbl.AppendHeader(table.Row{"Dataset", "Format", "CRS", "Location", "Mapping"})
	for _, info := range infos {
		mapping := info.Problem
		if mapping == "" {
			pairs := []string{config.KeyGeometry + ": " + info.Mapping[config.KeyGeometry]}
			for _, attribute := range cfg.Attributes {
				if value, ok := info.Mapping[attribute.Name]; ok {
					pairs = append(pairs, attribute.Name+": "+value)
				}
			}
			mapping = strings.Join(pairs, "\n")
		}
		tbl.AppendRow(table.Row{info.Name, info.Format, info.CRS, info.Location, mapping})
	}
	tbl.AppendFooter(table.Row{"Datasets", len(infos), "", "", ""})
	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(out)
	tbl.Render()
	return nil
}

func geometrySource(mapping *config.FieldMapping) string {
	switch {
	case mapping.LonColumn != "":
		return mapping.LonColumn + ", " + mapping.LatColumn
	case mapping.GeometryColumn != "":
		return mapping.GeometryColumn
	}
	return "native"
}
