package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// HTTPLoader loads a model inside an inference sidecar and returns a
// Recognizer that calls it over HTTP.
//
// The sidecar exposes two endpoints:
//
//	POST /load {"model": id, "quantized": bool} -> 200 once the model is ready
//	POST /ner  {"text": s, "aggregation_strategy": "simple"} -> {"entities": [...]}
//
// Offsets in the /ner response are rune offsets unless the loader is configured
// for byte offsets; they are converted to byte offsets before returning.
type HTTPLoader struct {
	baseURL     string
	client      *http.Client
	runeOffsets bool
	logger      *zap.Logger
}

// NewHTTPLoader creates a loader for the sidecar at baseURL
// (e.g. "http://localhost:8001"). offsets is "runes" or "bytes".
func NewHTTPLoader(baseURL, offsets string, logger *zap.Logger) *HTTPLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPLoader{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		runeOffsets: offsets != "bytes",
		logger:      logger,
	}
}

type loadRequest struct {
	Model     string `json:"model"`
	Quantized bool   `json:"quantized"`
}

type inferRequest struct {
	Text                string `json:"text"`
	AggregationStrategy string `json:"aggregation_strategy"`
}

type inferResponse struct {
	Entities []Entity `json:"entities"`
}

// Load asks the sidecar to load modelID and waits until it reports ready.
func (l *HTTPLoader) Load(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error) {
	start := time.Now()
	opts.report(Progress{Status: "initiate", File: modelID})

	if err := l.post(ctx, "/load", loadRequest{Model: modelID, Quantized: opts.Quantized}, nil); err != nil {
		return nil, fmt.Errorf("ner: load %s: %w", modelID, err)
	}

	opts.report(Progress{Status: "ready", File: modelID, Ratio: 100})
	l.logger.Info("NER sidecar model ready",
		zap.String("model", modelID),
		zap.Bool("quantized", opts.Quantized),
		zap.Duration("load_time", time.Since(start)),
	)

	return &HTTPRecognizer{loader: l, modelID: modelID}, nil
}

// HTTPRecognizer runs inference through the sidecar. It is safe for concurrent use.
type HTTPRecognizer struct {
	loader  *HTTPLoader
	modelID string
}

// Infer sends text to the sidecar and returns entities with byte offsets.
func (r *HTTPRecognizer) Infer(ctx context.Context, text string, opts InferOptions) ([]Entity, error) {
	if opts.AggregationStrategy == "" {
		opts.AggregationStrategy = AggregationSimple
	}

	var resp inferResponse
	req := inferRequest{Text: text, AggregationStrategy: opts.AggregationStrategy}
	if err := r.loader.post(ctx, "/ner", req, &resp); err != nil {
		return nil, fmt.Errorf("ner: infer: %w", err)
	}

	if !r.loader.runeOffsets {
		return resp.Entities, nil
	}
	return runeToByteOffsets(text, resp.Entities), nil
}

// Close releases idle sidecar connections
func (r *HTTPRecognizer) Close() error {
	r.loader.client.CloseIdleConnections()
	return nil
}

func (l *HTTPLoader) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// runeToByteOffsets rewrites rune offsets to byte offsets. Offsets past the end
// of text are mapped to len(text)+1 so the normalizer drops them.
func runeToByteOffsets(text string, entities []Entity) []Entity {
	index := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		index = append(index, i)
	}
	index = append(index, len(text))

	convert := func(off int) int {
		if off < 0 {
			return off
		}
		if off >= len(index) {
			return len(text) + 1
		}
		return index[off]
	}

	out := make([]Entity, len(entities))
	for i, e := range entities {
		e.Start = convert(e.Start)
		e.End = convert(e.End)
		out[i] = e
	}
	return out
}
