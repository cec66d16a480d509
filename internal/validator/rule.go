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

package validator

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/planetlabs/treeq/internal/geoparquet"
)

// MetadataMap is the decoded "geo" metadata before any typing.
type MetadataMap map[string]any

// ColumnMetadataMap holds the untyped metadata of each geometry column.
type ColumnMetadataMap map[string]map[string]any

// FileInfo is handed to rules that need both the file and typed metadata.
type FileInfo struct {
	File     *file.Reader
	Metadata *geoparquet.Metadata
}

type RuleData interface {
	*file.Reader | MetadataMap | ColumnMetadataMap | *FileInfo
}

type Rule interface {
	Title() string
	Validate() error
}

type errFatal string

// ErrFatal matches any error that stops the remaining checks.
var ErrFatal = errFatal("fatal error")

func (e errFatal) Error() string {
	return string(e)
}

func (e errFatal) Is(target error) bool {
	_, ok := target.(errFatal)
	return ok
}

func fatal(format string, a ...any) errFatal {
	return errFatal(fmt.Sprintf(format, a...))
}

// GenericRule checks one piece of data once.
type GenericRule[T RuleData] struct {
	title    string
	value    T
	validate func(T) error
}

var _ Rule = (*GenericRule[*file.Reader])(nil)

func (r *GenericRule[T]) Title() string {
	return r.title
}

func (r *GenericRule[T]) Init(value T) {
	r.value = value
}

func (r *GenericRule[T]) Validate() error {
	return r.validate(r.value)
}

// ColumnValueRule is fed every value of every geometry column and keeps the
// first error.
type ColumnValueRule[T any] struct {
	title string
	value func(*FileInfo, string, T) error
	info  *FileInfo
	err   error
}

var _ Rule = (*ColumnValueRule[any])(nil)

func (r *ColumnValueRule[T]) Title() string {
	return r.title
}

func (r *ColumnValueRule[T]) Init(info *FileInfo) {
	r.info = info
	r.err = nil
}

func (r *ColumnValueRule[T]) Value(name string, data T) error {
	if r.err == nil {
		r.err = r.value(r.info, name, data)
	}
	return r.err
}

func (r *ColumnValueRule[T]) Validate() error {
	return r.err
}

// eachColumn builds a rule that applies check to the metadata of every
// geometry column, in name order.
func eachColumn(title string, check func(name string, meta map[string]any) error) Rule {
	return &GenericRule[ColumnMetadataMap]{
		title: title,
		validate: func(columns ColumnMetadataMap) error {
			for _, name := range slices.Sorted(maps.Keys(columns)) {
				if err := check(name, columns[name]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// eachGeometryColumn builds a rule over the typed metadata of every geometry
// column, in name order.
func eachGeometryColumn(title string, check func(info *FileInfo, name string) error) Rule {
	return &GenericRule[*FileInfo]{
		title: title,
		validate: func(info *FileInfo) error {
			for _, name := range slices.Sorted(maps.Keys(info.Metadata.Columns)) {
				if err := check(info, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func asJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("<unable to encode as JSON: %s>", err)
	}
	return string(data)
}
