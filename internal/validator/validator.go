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

// Package validator checks GeoParquet files against the GeoParquet metadata
// rules, rules that scan the geometry data, and the conventions of converted
// tree datasets.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/paulmach/orb"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/geoparquet"
	_ "github.com/santhosh-tekuri/jsonschema/v5/httploader"
)

type Validator struct {
	rules        []Rule
	metadataOnly bool
}

func MetadataOnlyRules() []Rule {
	return []Rule{
		RequiredGeoKey(),
		RequiredMetadataType(),
		RequiredVersion(),
		RequiredPrimaryColumn(),
		RequiredColumns(),
		PrimaryColumnInLookup(),
		RequiredColumnEncoding(),
		RequiredGeometryTypes(),
		OptionalCRS(),
		OptionalOrientation(),
		OptionalEdges(),
		OptionalBbox(),
		OptionalEpoch(),
		GeometryUngrouped(),
		GeometryDataType(),
		GeometryRepetition(),
	}
}

func DataScanningRules() []Rule {
	return []Rule{
		GeometryEncoding(),
		GeometryTypes(),
		GeometryOrientation(),
		GeometryBounds(),
	}
}

// OfflineMetadataRules are the metadata rules that can run without fetching
// remote JSON schemas.
func OfflineMetadataRules() []Rule {
	rules := []Rule{}
	for _, rule := range MetadataOnlyRules() {
		if rule.Title() == optionalCRSTitle {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// New creates a new Validator.  Extra rules run after the standard ones.
func New(metadataOnly bool, extra ...Rule) *Validator {
	rules := MetadataOnlyRules()
	if !metadataOnly {
		rules = append(rules, DataScanningRules()...)
	}
	return NewWithRules(metadataOnly, append(rules, extra...))
}

// NewWithRules creates a Validator that runs exactly the given rules.
func NewWithRules(metadataOnly bool, rules []Rule) *Validator {
	return &Validator{
		rules:        rules,
		metadataOnly: metadataOnly,
	}
}

type Report struct {
	Checks       []*Check `json:"checks"`
	MetadataOnly bool     `json:"metadataOnly"`
}

type Check struct {
	Title   string `json:"title"`
	Run     bool   `json:"run"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Failures returns the checks that ran and did not pass.
func (r *Report) Failures() []*Check {
	failures := []*Check{}
	for _, check := range r.Checks {
		if check.Run && !check.Passed {
			failures = append(failures, check)
		}
	}
	return failures
}

// Tally counts the checks that passed, failed and were not run.
func (r *Report) Tally() (passed int, failed int, skipped int) {
	for _, check := range r.Checks {
		switch {
		case !check.Run:
			skipped += 1
		case check.Passed:
			passed += 1
		default:
			failed += 1
		}
	}
	return passed, failed, skipped
}

// Validate opens and validates a GeoParquet file.
func (v *Validator) Validate(ctx context.Context, input parquet.ReaderAtSeeker, name string) (*Report, error) {
	reader, readerErr := file.NewParquetReader(input)
	if readerErr != nil {
		return nil, fmt.Errorf("failed to create parquet reader from %q: %w", name, readerErr)
	}
	defer reader.Close()

	return v.Report(ctx, reader)
}

// Report runs the rules in stages: file rules, raw metadata rules, column
// metadata rules, rules on the typed metadata, and finally the data scanning
// rules.  A fatal failure ends the report early and leaves the remaining
// checks unrun.
func (v *Validator) Report(ctx context.Context, file *file.Reader) (*Report, error) {
	checks := make([]*Check, len(v.rules))
	for i, rule := range v.rules {
		checks[i] = &Check{Title: rule.Title()}
	}
	report := &Report{Checks: checks, MetadataOnly: v.metadataOnly}

	if run(v, checks, file) != nil {
		return report, nil
	}

	value, err := geoparquet.GetMetadataValue(file.MetaData().KeyValueMetadata(), geoparquet.MetadataKey)
	if err != nil {
		return nil, err
	}
	metadataMap := MetadataMap{}
	if err := json.Unmarshal([]byte(value), &metadataMap); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if run(v, checks, metadataMap) != nil {
		return report, nil
	}

	columns, ok := metadataMap["columns"].(map[string]any)
	if !ok {
		return nil, errors.New("columns metadata is not an object")
	}
	columnMetadataMap := ColumnMetadataMap{}
	for name, meta := range columns {
		column, ok := meta.(map[string]any)
		if !ok {
			return nil, errors.New("column metadata is not an object")
		}
		columnMetadataMap[name] = column
	}
	if run(v, checks, columnMetadataMap) != nil {
		return report, nil
	}

	metadata, err := geoparquet.GetMetadata(file.MetaData().KeyValueMetadata())
	if err != nil {
		return nil, err
	}
	info := &FileInfo{Metadata: metadata, File: file}
	if run(v, checks, info) != nil {
		return report, nil
	}

	if v.metadataOnly {
		return report, nil
	}
	if err := v.scan(ctx, info, checks); err != nil {
		return nil, err
	}
	return report, nil
}

func run[T RuleData](v *Validator, checks []*Check, data T) error {
	for i, r := range v.rules {
		rule, ok := r.(*GenericRule[T])
		if !ok {
			continue
		}
		check := checks[i]
		rule.Init(data)
		check.Run = true
		if err := rule.Validate(); err != nil {
			check.Message = err.Error()
			if errors.Is(err, ErrFatal) {
				return err
			}
			continue
		}
		check.Passed = true
	}
	return nil
}

// valueRules pairs the column value rules of one type with their checks.
type valueRules[T any] struct {
	rules  []*ColumnValueRule[T]
	checks []*Check
}

func bind[T any](v *Validator, checks []*Check, info *FileInfo) *valueRules[T] {
	bound := &valueRules[T]{}
	for i, r := range v.rules {
		if rule, ok := r.(*ColumnValueRule[T]); ok {
			rule.Init(info)
			bound.rules = append(bound.rules, rule)
			bound.checks = append(bound.checks, checks[i])
		}
	}
	return bound
}

// value feeds one value to every rule and reports a fatal error.
func (b *valueRules[T]) value(name string, data T) error {
	for i, rule := range b.rules {
		if err := rule.Value(name, data); errors.Is(err, ErrFatal) {
			b.checks[i].Run = true
			b.checks[i].Message = err.Error()
			return err
		}
	}
	return nil
}

func (b *valueRules[T]) finish() error {
	for i, rule := range b.rules {
		check := b.checks[i]
		check.Run = true
		if err := rule.Validate(); err != nil {
			check.Message = err.Error()
			if errors.Is(err, ErrFatal) {
				return err
			}
			continue
		}
		check.Passed = true
	}
	return nil
}

// scan reads every geometry value once and feeds the encoded value and the
// decoded geometry to the data scanning rules.  Fatal rule failures are
// recorded on the checks, only read errors are returned.
func (v *Validator) scan(ctx context.Context, info *FileInfo, checks []*Check) error {
	encoded := bind[any](v, checks, info)
	decoded := bind[orb.Geometry](v, checks, info)
	if len(encoded.rules) == 0 && len(decoded.rules) == 0 {
		return nil
	}

	recordReader, err := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{
		File:    info.File,
		Context: ctx,
	})
	if err != nil {
		return err
	}
	defer recordReader.Close()

	for {
		record, err := recordReader.Read()
		if err == io.EOF || (err == nil && record == nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read record: %w", err)
		}

		fatalErr, decodeErr := scanRecord(record, info.Metadata, encoded, decoded)
		if decodeErr != nil {
			return decodeErr
		}
		if fatalErr != nil {
			return nil
		}
	}

	if encoded.finish() != nil {
		return nil
	}
	_ = decoded.finish()
	return nil
}

func scanRecord(record arrow.Record, metadata *geoparquet.Metadata, encoded *valueRules[any], decoded *valueRules[orb.Geometry]) (error, error) {
	schema := record.Schema()
	arr := array.RecordToStructArray(record)
	defer arr.Release()

	for col := 0; col < arr.NumField(); col += 1 {
		name := schema.Field(col).Name
		column := metadata.Columns[name]
		if column == nil {
			continue
		}
		values := arr.Field(col)
		for row := 0; row < arr.Len(); row += 1 {
			value := values.GetOneForMarshal(row)
			if err := encoded.value(name, value); err != nil {
				return err, nil
			}
			geometry, err := geo.DecodeGeometry(value, column.Encoding)
			if err != nil {
				return nil, fmt.Errorf("failed to decode geometry for %q: %w", name, err)
			}
			if geometry == nil {
				continue
			}
			if err := decoded.value(name, geometry.Geometry()); err != nil {
				return err, nil
			}
		}
	}
	return nil, nil
}
