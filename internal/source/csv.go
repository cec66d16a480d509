package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

var delimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate that occurs most often outside quotes
// in the header line.
func sniffDelimiter(header string) rune {
	counts := map[rune]int{}
	quoted := false
	for _, r := range header {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[r] += 1
		}
	}
	best := ','
	for _, candidate := range delimiters {
		if counts[candidate] > counts[best] {
			best = candidate
		}
	}
	return best
}

func readCSV(path string, options *Options) ([]*Layer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	input := bufio.NewReader(file)
	if prefix, err := input.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = input.Discard(len(byteOrderMark))
	}

	var delimiter rune
	if options != nil && options.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(options.Delimiter)
		if size != len(options.Delimiter) {
			return nil, fmt.Errorf("%w: delimiter must be a single character, got %q", ErrParse, options.Delimiter)
		}
		delimiter = r
	} else {
		line, err := input.Peek(input.Size())
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
		first, _, _ := strings.Cut(string(line), "\n")
		delimiter = sniffDelimiter(first)
	}

	reader := csv.NewReader(input)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrParse)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	layer := &Layer{Name: layerName(path), Columns: columns}
	ragged := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		// short rows are padded with nulls, long rows are kept but marked
		record := &Record{Properties: make(map[string]any, len(columns))}
		for i, column := range columns {
			if i >= len(row) || row[i] == "" {
				record.Properties[column] = nil
				continue
			}
			record.Properties[column] = row[i]
		}
		if len(row) > len(columns) {
			record.Malformed = true
			ragged += 1
		}
		layer.Records = append(layer.Records, record)
	}
	if ragged > 0 {
		options.logger().Warn("rows with more fields than the header", zap.String("layer", layer.Name), zap.Int("rows", ragged))
	}
	return []*Layer{layer}, nil
}
