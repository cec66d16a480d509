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
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/planetlabs/treeq/internal/validator"
)

type ValidateCmd struct {
	Input        string        `arg:"" optional:"" name:"input" help:"Path or URL for a GeoParquet file.  If not provided, input is read from stdin."`
	MetadataOnly bool          `help:"Only run rules that apply to file metadata and schema (no data will be scanned)."`
	Dataset      bool          `help:"Also check that the file follows the converted tree dataset conventions."`
	Offline      bool          `help:"Skip the rules that fetch remote JSON schemas."`
	Timeout      time.Duration `help:"Timeout for fetching a remote file." default:"60s"`
	Unpretty     bool          `help:"No colors in text output, no newlines and indentation in JSON output."`
	Format       string        `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
}

func (c *ValidateCmd) Run(ctx *kong.Context) error {
	report, err := c.validate(context.Background())
	if err != nil {
		return err
	}

	if c.Format == "json" {
		if err := writeJSON(report, c.Unpretty); err != nil {
			return NewCommandError("unable to format report as json: %w", err)
		}
	} else {
		c.formatText(report)
	}

	if len(report.Failures()) > 0 {
		ctx.Kong.Exit(1)
	}
	return nil
}

func (c *ValidateCmd) validate(ctx context.Context) (*validator.Report, error) {
	input, inputErr := readerFromInput(ctx, c.Input, c.Timeout)
	if inputErr != nil {
		return nil, NewCommandError("trouble getting a reader from %q: %w", c.Input, inputErr)
	}
	defer input.Close()

	extra := []validator.Rule{}
	if c.Dataset {
		extra = validator.DatasetRules()
	}
	v := validator.New(c.MetadataOnly, extra...)
	if c.Offline {
		rules := validator.OfflineMetadataRules()
		if !c.MetadataOnly {
			rules = append(rules, validator.DataScanningRules()...)
		}
		v = validator.NewWithRules(c.MetadataOnly, append(rules, extra...))
	}
	report, err := v.Validate(ctx, input, inputName(c.Input))
	if err != nil {
		return nil, NewCommandError("validation failed: %w", err)
	}
	return report, nil
}

func (c *ValidateCmd) formatText(report *validator.Report) {
	if c.Unpretty {
		color.NoColor = true
	}

	passed, failed, skipped := report.Tally()
	summary := []string{fmt.Sprintf("Passed %d check%s", passed, maybeS(passed))}
	if failed > 0 {
		summary = append(summary, fmt.Sprintf("failed %d check%s", failed, maybeS(failed)))
	}
	if skipped > 0 {
		summary = append(summary, fmt.Sprintf("%d check%s not run", skipped, maybeS(skipped)))
	}
	fmt.Printf("\nSummary: %s.\n\n", strings.Join(summary, ", "))

	if report.MetadataOnly {
		scanning := len(validator.DataScanningRules())
		color.Yellow("Metadata and schema checks only.  Skipped %d data scanning check%s.\n\n", scanning, maybeS(scanning))
	}

	for _, check := range report.Checks {
		switch {
		case !check.Run:
			color.Yellow(" ! %s\n   ↳ not checked", check.Title)
		case check.Passed:
			color.Green(" ✓ %s", check.Title)
		default:
			color.Red(" ✗ %s\n   ↳ %s", check.Title, check.Message)
		}
	}
	fmt.Println()
}
