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
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/pipeline"
	"golang.org/x/term"
)

type ConvertCmd struct {
	Config           string        `help:"Dataset configuration file (JSON or YAML)." type:"existingfile" required:""`
	Dataset          string        `help:"Only convert the dataset with this name."`
	Output           string        `help:"Directory for the converted files." type:"path" default:"output"`
	Compression      string        `help:"Parquet compression to use.  Possible values: ${enum}." enum:"uncompressed, snappy, gzip, brotli, zstd" default:"zstd"`
	CompressionLevel int           `help:"Compression level.  Defaults to 15 for zstd and the codec default otherwise."`
	RowGroupLength   int           `help:"Maximum number of rows per group when writing Parquet."`
	Concurrency      int           `help:"Maximum number of datasets converted at once.  Defaults to the number of CPUs."`
	Timeout          time.Duration `help:"Timeout for fetching a remote source." default:"60s"`
	Format           string        `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
	Unpretty         bool          `help:"No colors in text output, no newlines and indentation in JSON output."`
	LogLevel         string        `help:"Log level.  Possible values: ${enum}." enum:"debug, info, warn, error" default:"warn"`
}

// ConvertReport is the outcome of a run.
type ConvertReport struct {
	Results []*pipeline.Result `json:"datasets"`
	Summary *pipeline.Summary  `json:"summary"`
}

func (c *ConvertCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return NewCommandError("%w", err)
	}
	datasets, err := cfg.Select(c.Dataset)
	if err != nil {
		return NewCommandError("%w", err)
	}

	logger, err := newLogger(c.LogLevel)
	if err != nil {
		return NewCommandError("invalid log level: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results := pipeline.Run(ctx, cfg, datasets, &pipeline.Options{
		OutputDir:        c.Output,
		Compression:      c.Compression,
		CompressionLevel: c.CompressionLevel,
		RowGroupLength:   c.RowGroupLength,
		Concurrency:      c.Concurrency,
		Timeout:          c.Timeout,
		Logger:           logger,
	})
	report := &ConvertReport{Results: results, Summary: pipeline.Summarize(results)}

	if c.Format == "json" {
		if err := writeJSON(report, c.Unpretty); err != nil {
			return NewCommandError("unable to format report as json: %w", err)
		}
	} else {
		c.formatText(report)
	}

	if failed := report.Summary.Failed; failed > 0 {
		return NewCommandError("%d of %d dataset%s failed", failed, len(results), maybeS(len(results)))
	}
	return nil
}

const (
	ColDataset = "Dataset"
	ColStatus  = "Status"
	ColRows    = "Rows"
	ColDropped = "Dropped"
	ColExtent  = "Extent"
	ColProblem = "Problem"
)

func (c *ConvertCmd) formatText(report *ConvertReport) {
	if c.Unpretty {
		color.NoColor = true
	}

	out := os.Stdout
	tbl := table.NewWriter()
	if term.IsTerminal(int(out.Fd())) {
		width, _, err := term.GetSize(int(out.Fd()))
		if err == nil {
			tbl.SetAllowedRowLength(width)
		}
	}
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Name: ColRows, Align: text.AlignRight},
		{Name: ColDropped, Align: text.AlignRight},
		{Name: ColProblem, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	tbl.AppendHeader(table.Row{ColDataset, ColStatus, ColRows, ColDropped, ColExtent, ColProblem})

	for _, result := range report.Results {
		dropped := ""
		if result.Stats != nil {
			dropped = strconv.Itoa(result.Lost())
		}
		problem := ""
		if result.Kind != "" {
			problem = fmt.Sprintf("%s: %s", result.Kind, result.Message)
		}
		tbl.AppendRow(table.Row{result.Name, statusString(result.Status), result.Rows, dropped, extentString(result.Extent), problem})
	}

	summary := report.Summary
	tbl.AppendFooter(table.Row{"Total", "", summary.Rows, summary.Lost, "", ""})
	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(out)
	tbl.Render()

	fmt.Printf("\nSummary: %d succeeded, %d skipped, %d failed.\n\n", summary.Succeeded, summary.Skipped, summary.Failed)
}

func statusString(status pipeline.Status) string {
	switch status {
	case pipeline.StatusSucceeded:
		return color.GreenString("✓ %s", status)
	case pipeline.StatusSkipped:
		return color.YellowString("! %s", status)
	}
	return color.RedString("✗ %s", status)
}

func extentString(extent []float64) string {
	if len(extent) == 0 {
		return ""
	}
	values := make([]string, len(extent))
	for i, v := range extent {
		values[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return fmt.Sprintf("[%s]", strings.Join(values, ", "))
}
