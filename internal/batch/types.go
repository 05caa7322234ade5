package batch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/persondata/internal/anonymizer"
)

// DetectedTypesColumn is the column added to every output row
const DetectedTypesColumn = "detected_types"

// TextColumn is the column that is redacted
const TextColumn = "text"

// Redactor anonymizes a single text. *anonymizer.Service implements it.
type Redactor interface {
	AnonymizeResult(ctx context.Context, text string) (*anonymizer.Result, error)
}

// parquetInput is the parquet row shape read from input files. Columns other
// than text are not carried over.
type parquetInput struct {
	Text string `parquet:"text"`
}

// parquetOutput is the parquet row shape written to output files
type parquetOutput struct {
	Text          string   `parquet:"text"`
	DetectedTypes []string `parquet:"detected_types"`
}

// Result represents the result of processing a dataset
type Result struct {
	TotalRecords int64            `json:"total_records"`
	Redacted     int64            `json:"redacted"`
	Skipped      int64            `json:"skipped"`
	Failed       int64            `json:"failed"`
	Fallbacks    int64            `json:"fallbacks"`
	LabelCounts  map[string]int64 `json:"label_counts"`
	Duration     time.Duration    `json:"duration"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension. JSON files hold one
// object per line.
func DetectFileFormat(filename string) (FileFormat, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, true
	case ".parquet":
		return FormatParquet, true
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, true
	default:
		return "", false
	}
}

// DefaultOutputPath inserts ".redacted" before the extension of input.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".redacted" + ext
}
