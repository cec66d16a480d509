package geoparquet

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow/go/v16/parquet/metadata"
)

// DatasetMetadataKey holds the identity of the source dataset a file was
// converted from.
const DatasetMetadataKey = "treeq"

type DatasetMetadata struct {
	Name           string `json:"name"`
	Owner          string `json:"owner,omitempty"`
	Contact        string `json:"contact,omitempty"`
	Source         string `json:"source,omitempty"`
	SourceFormat   string `json:"source_format"`
	SourceCRS      string `json:"source_crs"`
	RunId          string `json:"run_id"`
	Rows           int64  `json:"rows"`
	DroppedRows    int64  `json:"dropped_rows"`
	UpdateInterval string `json:"update_frequency,omitempty"`
	Language       string `json:"language,omitempty"`

	Extra map[string]any `json:"metadata,omitempty"`
}

func (m *DatasetMetadata) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s metadata: %w", DatasetMetadataKey, err)
	}
	return string(data), nil
}

func GetDatasetMetadata(keyValueMetadata metadata.KeyValueMetadata) (*DatasetMetadata, error) {
	value, err := GetMetadataValue(keyValueMetadata, DatasetMetadataKey)
	if err != nil {
		return nil, err
	}
	dataset := &DatasetMetadata{}
	if err := json.Unmarshal([]byte(value), dataset); err != nil {
		return nil, fmt.Errorf("unable to parse %s metadata: %w", DatasetMetadataKey, err)
	}
	return dataset, nil
}
