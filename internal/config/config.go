// Package config loads the dataset configuration: one entry per tree
// inventory with its source location, format, CRS, and column mapping.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

//go:embed schema.json
var schemaData []byte

const schemaURL = "https://raw.githubusercontent.com/planetlabs/treeq/main/internal/config/schema.json"

var ErrInvalidConfig = errors.New("invalid configuration")

type Dataset struct {
	Name            string            `json:"name"`
	DataOwner       string            `json:"data_owner,omitempty"`
	EmailAddress    string            `json:"email_address,omitempty"`
	UpdateFrequency string            `json:"update_frequency,omitempty"`
	Language        string            `json:"language,omitempty"`
	PrimarySource   string            `json:"primary_source,omitempty"`
	DownloadLink    string            `json:"download_link,omitempty"`
	LocalPath       string            `json:"local_path,omitempty"`
	FileType        string            `json:"file_type"`
	CRS             string            `json:"crs,omitempty"`
	Delimiter       string            `json:"delimiter,omitempty"`
	GeometryColumn  string            `json:"geometry_column,omitempty"`
	LonColumn       string            `json:"lon_column,omitempty"`
	LatColumn       string            `json:"lat_column,omitempty"`
	ColumnMapping   map[string]string `json:"column_mapping"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// Location returns the local path when one is configured and the download
// link otherwise.  A download link nested in the metadata is accepted too.
func (d *Dataset) Location() string {
	if d.LocalPath != "" {
		return d.LocalPath
	}
	if d.DownloadLink != "" {
		return d.DownloadLink
	}
	if link, ok := d.Metadata["download_link"].(string); ok {
		return link
	}
	return ""
}

// Format returns the lower case file type.
func (d *Dataset) Format() string {
	return strings.ToLower(strings.TrimSpace(d.FileType))
}

// Slug is the name used for the output directory and file.
func (d *Dataset) Slug() string {
	slug := strings.ToLower(strings.TrimSpace(d.Name))
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '-'
		}
		return r
	}, slug)
}

// Matches reports whether the dataset has the given name, ignoring case.
func (d *Dataset) Matches(name string) bool {
	return strings.EqualFold(strings.TrimSpace(d.Name), strings.TrimSpace(name))
}

type Config struct {
	Attributes []Attribute `json:"attributes,omitempty"`
	Datasets   []*Dataset  `json:"datasets"`
}

// Select returns the datasets matching the given name, or all datasets when
// the name is empty.
func (c *Config) Select(name string) ([]*Dataset, error) {
	if name == "" {
		return c.Datasets, nil
	}
	for _, dataset := range c.Datasets {
		if dataset.Matches(name) {
			return []*Dataset{dataset}, nil
		}
	}
	return nil, fmt.Errorf("no dataset named %q in the configuration", name)
}

// Mapping resolves the field mapping for a dataset against the configured
// attributes.
func (c *Config) Mapping(dataset *Dataset) (*FieldMapping, error) {
	return NewFieldMapping(dataset, c.Attributes)
}

// Load reads a JSON or YAML configuration file.  Files ending in .yaml or .yml
// are read as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	config, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("trouble loading %s: %w", path, err)
	}
	return config, nil
}

// Parse accepts either a list of datasets or an object with "attributes" and
// "datasets" members.
func Parse(data []byte, format string) (*Config, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if list, ok := document.([]any); ok {
		document = map[string]any{"datasets": list}
		wrapped, err := json.Marshal(document)
		if err != nil {
			return nil, err
		}
		data = wrapped
	}

	if err := validate(document); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	attributes, err := mergeAttributes(DefaultAttributes(), config.Attributes)
	if err != nil {
		return nil, err
	}
	config.Attributes = attributes

	slugs := map[string]string{}
	for _, dataset := range config.Datasets {
		slug := dataset.Slug()
		if other, ok := slugs[slug]; ok {
			return nil, fmt.Errorf("%w: datasets %q and %q share the output name %q", ErrInvalidConfig, other, dataset.Name, slug)
		}
		slugs[slug] = dataset.Name
	}
	return config, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	converted, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return converted, nil
}

func validate(document any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaData)); err != nil {
		return fmt.Errorf("failed to load config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	err = schema.Validate(document)
	if err == nil {
		return nil
	}
	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	leaf := validationErr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := leaf.InstanceLocation
	if location == "" {
		location = "/"
	}
	return fmt.Errorf("%w: %s at %s", ErrInvalidConfig, leaf.Message, location)
}
