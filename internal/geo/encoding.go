package geo

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	orbjson "github.com/paulmach/orb/geojson"
)

const (
	EncodingWKB = "WKB"
	EncodingWKT = "WKT"
)

// DecodeGeometry decodes a WKB or WKT value.  With no encoding, bytes are
// treated as WKB and strings are sniffed for hex WKB, GeoJSON, or WKT.  Nil
// values, empty WKB and blank strings decode to nil.
func DecodeGeometry(value any, encoding string) (*orbjson.Geometry, error) {
	if value == nil {
		return nil, nil
	}

	switch encoding {
	case "":
		if text, ok := value.(string); ok {
			return decodeText(text)
		}
		return DecodeGeometry(value, EncodingWKB)
	case EncodingWKB:
		data, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected bytes for wkb geometry, got %T", value)
		}
		if len(data) == 0 {
			return nil, nil
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return orbjson.NewGeometry(g), nil
	case EncodingWKT:
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for wkt geometry, got %T", value)
		}
		g, err := wkt.Unmarshal(text)
		if err != nil {
			return nil, err
		}
		return orbjson.NewGeometry(g), nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", encoding)
}

func decodeText(value string) (*orbjson.Geometry, error) {
	text := strings.TrimSpace(value)
	switch {
	case text == "":
		return nil, nil
	case strings.HasPrefix(text, "{"):
		geometry := &orbjson.Geometry{}
		if err := json.Unmarshal([]byte(text), geometry); err != nil {
			return nil, fmt.Errorf("trouble parsing geojson geometry: %w", err)
		}
		return geometry, nil
	case looksLikeHexWKB(text):
		data, err := hex.DecodeString(text)
		if err != nil {
			return nil, err
		}
		return DecodeGeometry(data, EncodingWKB)
	}
	return DecodeGeometry(text, EncodingWKT)
}

// looksLikeHexWKB matches even length hex strings of at least a byte order
// mark, a geometry type and one more byte.
func looksLikeHexWKB(text string) bool {
	if len(text) < 10 || len(text)%2 != 0 {
		return false
	}
	return strings.Trim(text, "0123456789abcdefABCDEF") == ""
}
