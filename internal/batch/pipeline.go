// Package batch redacts the text column of CSV, JSON lines and Parquet
// datasets.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/persondata/internal/config"
)

// Pipeline redacts datasets row by row with a bounded worker pool
type Pipeline struct {
	redactor Redactor
	config   config.BatchConfig
	logger   *zap.Logger
	start    time.Time
}

// redacted is the outcome for one row
type redacted struct {
	text     string
	labels   []string
	fallback bool
	skipped  bool
	failed   bool
}

// NewPipeline creates a batch pipeline
func NewPipeline(redactor Redactor, cfg config.BatchConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pipeline{redactor: redactor, config: cfg, logger: logger}
}

// ProcessFile redacts inputPath into outputPath using the same format.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	format, ok := DetectFileFormat(inputPath)
	if !ok {
		return nil, fmt.Errorf("unsupported file format: %s", inputPath)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	p.logger.Info("Starting batch redaction",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	var result *Result
	switch format {
	case FormatCSV:
		result, err = p.ProcessCSV(ctx, in, out)
	case FormatJSON:
		result, err = p.ProcessJSON(ctx, in, out)
	case FormatParquet:
		result, err = p.ProcessParquet(ctx, in, out)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(outputPath)
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	p.logger.Info("Batch redaction completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("redacted", result.Redacted),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("failed", result.Failed),
		zap.Int64("fallbacks", result.Fallbacks),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// ProcessCSV redacts the text column of a CSV stream and appends a
// detected_types column (labels joined with ";").
func (p *Pipeline) ProcessCSV(ctx context.Context, in io.Reader, out io.Writer) (*Result, error) {
	result := p.newResult()
	reader := csv.NewReader(in)
	writer := csv.NewWriter(out)

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("failed to read CSV header: %w", err)
	}
	textIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), TextColumn) {
			textIdx = i
			break
		}
	}
	if textIdx < 0 {
		return result, fmt.Errorf("CSV header has no %q column: %v", TextColumn, header)
	}
	if err := writer.Write(append(append([]string(nil), header...), DetectedTypesColumn)); err != nil {
		return result, err
	}

	eof := false
	for !eof {
		var records [][]string
		for len(records) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				return result, fmt.Errorf("failed to read CSV record: %w", err)
			}
			records = append(records, record)
		}
		if len(records) == 0 {
			break
		}

		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r[textIdx]
		}
		rows, err := p.redactBatch(ctx, texts, result)
		if err != nil {
			return result, err
		}
		for i, r := range records {
			r[textIdx] = rows[i].text
			if err := writer.Write(append(r, strings.Join(rows[i].labels, ";"))); err != nil {
				return result, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(p.start)
	return result, nil
}

// ProcessJSON redacts the text field of a JSON lines stream and adds a
// detected_types array. Other fields are copied.
func (p *Pipeline) ProcessJSON(ctx context.Context, in io.Reader, out io.Writer) (*Result, error) {
	result := p.newResult()
	decoder := json.NewDecoder(in)
	decoder.UseNumber()
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)

	eof := false
	for !eof {
		var objects []map[string]interface{}
		for len(objects) < p.config.BatchSize {
			var obj map[string]interface{}
			err := decoder.Decode(&obj)
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				return result, fmt.Errorf("failed to read JSON record %d: %w", result.TotalRecords+int64(len(objects))+1, err)
			}
			if obj == nil {
				obj = map[string]interface{}{}
			}
			objects = append(objects, obj)
		}
		if len(objects) == 0 {
			break
		}

		texts := make([]string, len(objects))
		for i, obj := range objects {
			texts[i], _ = obj[TextColumn].(string)
		}
		rows, err := p.redactBatch(ctx, texts, result)
		if err != nil {
			return result, err
		}
		for i, obj := range objects {
			if _, ok := obj[TextColumn]; ok {
				obj[TextColumn] = rows[i].text
			}
			obj[DetectedTypesColumn] = rows[i].labels
			if err := encoder.Encode(obj); err != nil {
				return result, err
			}
		}
	}

	result.Duration = time.Since(p.start)
	return result, nil
}

// ProcessParquet redacts the text column of a Parquet file. The output holds
// the text and detected_types columns only.
func (p *Pipeline) ProcessParquet(ctx context.Context, in io.ReaderAt, out io.Writer) (*Result, error) {
	result := p.newResult()
	reader := parquet.NewReader(in)
	defer reader.Close()

	writer := parquet.NewWriter(out, parquet.SchemaOf(parquetOutput{}))

	eof := false
	for !eof {
		var texts []string
		for len(texts) < p.config.BatchSize {
			var row parquetInput
			err := reader.Read(&row)
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return result, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			texts = append(texts, row.Text)
		}
		if len(texts) == 0 {
			break
		}

		rows, err := p.redactBatch(ctx, texts, result)
		if err != nil {
			return result, err
		}
		for _, r := range rows {
			labels := r.labels
			if labels == nil {
				labels = []string{}
			}
			if err := writer.Write(&parquetOutput{Text: r.text, DetectedTypes: labels}); err != nil {
				return result, fmt.Errorf("failed to write Parquet record: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize Parquet output: %w", err)
	}
	result.Duration = time.Since(p.start)
	return result, nil
}

// redactBatch anonymizes texts on the worker pool, preserving order. Blank
// rows pass through and oversized rows are emptied; any service error aborts
// the batch.
func (p *Pipeline) redactBatch(ctx context.Context, texts []string, result *Result) ([]redacted, error) {
	rows := make([]redacted, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.WorkerCount)

	for i, text := range texts {
		switch {
		case strings.TrimSpace(text) == "":
			rows[i] = redacted{text: text, skipped: p.config.SkipEmpty, failed: !p.config.SkipEmpty}
			continue
		case p.config.MaxTextBytes > 0 && len(text) > p.config.MaxTextBytes:
			p.logger.Warn("Row exceeds size limit, text dropped",
				zap.Int64("row", result.TotalRecords+int64(i)+1),
				zap.Int("bytes", len(text)))
			rows[i] = redacted{failed: true}
			continue
		}

		g.Go(func() error {
			res, err := p.redactor.AnonymizeResult(gctx, text)
			if err != nil {
				return fmt.Errorf("row %d: %w", result.TotalRecords+int64(i)+1, err)
			}
			rows[i] = redacted{text: res.Text, labels: res.DetectedLabels, fallback: res.FallbackReason != ""}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range rows {
		result.TotalRecords++
		switch {
		case r.failed:
			result.Failed++
		case r.skipped:
			result.Skipped++
		default:
			result.Redacted++
		}
		if r.fallback {
			result.Fallbacks++
		}
		for _, l := range r.labels {
			result.LabelCounts[l]++
		}
		if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}
	return rows, nil
}

func (p *Pipeline) newResult() *Result {
	p.start = time.Now()
	return &Result{LabelCounts: make(map[string]int64)}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *Result) {
	elapsed := time.Since(p.start)
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("redacted", result.Redacted),
		zap.Int64("failed", result.Failed),
		zap.Float64("rate_per_sec", float64(result.TotalRecords)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))
}
