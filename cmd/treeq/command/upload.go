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
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/fatih/color"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/pipeline"
	"github.com/planetlabs/treeq/internal/storage"
)

type UploadCmd struct {
	Config   string `help:"Dataset configuration file (JSON or YAML)." type:"existingfile" required:""`
	Dataset  string `help:"Only upload the dataset with this name."`
	Output   string `help:"Directory with the converted files." type:"path" default:"output"`
	Bucket   string `help:"Bucket URL (for example s3://bucket?region=eu-west-1, gs://bucket, azblob://container, or file:///path)." required:""`
	Prefix   string `help:"Key prefix for the uploaded files."`
	Format   string `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
	Unpretty bool   `help:"No colors in text output, no newlines and indentation in JSON output."`
}

// UploadResult describes the upload of one converted dataset.
type UploadResult struct {
	Name    string `json:"name"`
	Key     string `json:"key,omitempty"`
	Bytes   int64  `json:"bytes"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *UploadCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return NewCommandError("%w", err)
	}
	datasets, err := cfg.Select(c.Dataset)
	if err != nil {
		return NewCommandError("%w", err)
	}

	ctx := context.Background()
	results := make([]*UploadResult, len(datasets))
	failed := 0
	for i, dataset := range datasets {
		results[i] = c.upload(ctx, dataset)
		if results[i].Error != "" {
			failed += 1
		}
	}

	if c.Format == "json" {
		if err := writeJSON(results, c.Unpretty); err != nil {
			return NewCommandError("unable to format report as json: %w", err)
		}
	} else {
		c.formatText(results)
	}

	if failed > 0 {
		return NewCommandError("%d of %d upload%s failed", failed, len(results), maybeS(len(results)))
	}
	return nil
}

// Key returns the object key for a converted dataset.
func (c *UploadCmd) Key(dataset *config.Dataset) string {
	slug := dataset.Slug()
	return path.Join(strings.Trim(c.Prefix, "/"), slug, slug+".parquet")
}

func (c *UploadCmd) upload(ctx context.Context, dataset *config.Dataset) *UploadResult {
	result := &UploadResult{Name: dataset.Name}
	local := pipeline.OutputPath(c.Output, dataset)
	if _, err := os.Stat(local); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Skipped = true
			return result
		}
		result.Error = err.Error()
		return result
	}

	result.Key = c.Key(dataset)
	written, err := storage.Upload(ctx, c.Bucket, result.Key, local)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Bytes = written
	return result
}

func (c *UploadCmd) formatText(results []*UploadResult) {
	if c.Unpretty {
		color.NoColor = true
	}
	for _, result := range results {
		switch {
		case result.Error != "":
			color.Red(" ✗ %s", result.Name)
			color.Red("   ↳ %s", result.Error)
		case result.Skipped:
			color.Yellow(" ! %s", result.Name)
			color.Yellow("   ↳ not converted")
		default:
			color.Green(" ✓ %s", result.Name)
			fmt.Printf("   ↳ %s (%d bytes)\n", result.Key, result.Bytes)
		}
	}
}
