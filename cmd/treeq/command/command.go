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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/planetlabs/treeq/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var CLI struct {
	Convert  ConvertCmd  `cmd:"" help:"Convert the configured tree inventories to GeoParquet."`
	Datasets DatasetsCmd `cmd:"" help:"List the configured datasets."`
	Validate ValidateCmd `cmd:"" help:"Validate a GeoParquet file."`
	Describe DescribeCmd `cmd:"" help:"Describe a GeoParquet file."`
	Upload   UploadCmd   `cmd:"" help:"Upload converted datasets to a bucket."`
	Version  VersionCmd  `cmd:"" help:"Print the version of this program."`
}

type CommandError struct {
	err error
}

func NewCommandError(format string, a ...any) *CommandError {
	return &CommandError{err: fmt.Errorf(format, a...)}
}

func (e *CommandError) Error() string {
	return e.err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.err
}

type stdinReader struct {
	*bytes.Reader
}

func (r *stdinReader) Close() error {
	return nil
}

// readerFromInput opens a local path, an http(s) URL, or a bucket URL.  An
// empty input reads all of stdin.
func readerFromInput(ctx context.Context, input string, timeout time.Duration) (storage.ReadCloser, error) {
	if input == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("trouble reading from stdin: %w", err)
		}
		return &stdinReader{Reader: bytes.NewReader(data)}, nil
	}
	return storage.NewReader(ctx, input, timeout)
}

// writeJSON prints a value to stdout, indented unless unpretty is set.
func writeJSON(value any, unpretty bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !unpretty {
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
	}
	return encoder.Encode(value)
}

func inputName(input string) string {
	if input == "" {
		return "<stdin>"
	}
	return input
}

// newLogger writes console formatted logs at the given level to stderr.
func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewDevelopmentConfig()
	config.Level = atomicLevel
	config.Development = false
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

func maybeS(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}
