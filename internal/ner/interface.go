// Package ner defines the named-entity recognition capability used by the
// redaction engine and the loaders that produce it.
package ner

import (
	"context"
)

// AggregationSimple merges consecutive tokens of the same entity type into one span.
const AggregationSimple = "simple"

// Entity is one raw span reported by a recognizer. Start and End are byte
// offsets into the inferred text, End exclusive.
type Entity struct {
	EntityGroup string  `json:"entity_group"`
	Score       float64 `json:"score"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Word        string  `json:"word,omitempty"`
}

// InferOptions controls a single inference call
type InferOptions struct {
	AggregationStrategy string `json:"aggregation_strategy"`
}

// Recognizer is a loaded NER model.
type Recognizer interface {
	// Infer labels entity spans in text.
	Infer(ctx context.Context, text string, opts InferOptions) ([]Entity, error)
}

// Progress is reported by loaders while a model is being fetched or initialized.
type Progress struct {
	Status string  `json:"status"` // initiate, download, progress, done, ready
	File   string  `json:"file,omitempty"`
	Loaded int64   `json:"loaded,omitempty"`
	Total  int64   `json:"total,omitempty"`
	Ratio  float64 `json:"progress,omitempty"`
}

// LoadOptions controls how a model is loaded
type LoadOptions struct {
	Quantized bool
	Progress  func(Progress)
}

func (o LoadOptions) report(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

// Loader produces a Recognizer for a model identifier. Load may block for a
// long time; implementations honor ctx cancellation where they can.
type Loader interface {
	Load(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error)

// Load calls f(ctx, modelID, opts)
func (f LoaderFunc) Load(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error) {
	return f(ctx, modelID, opts)
}

// RecognizerFunc adapts a function to the Recognizer interface
type RecognizerFunc func(ctx context.Context, text string, opts InferOptions) ([]Entity, error)

// Infer calls f(ctx, text, opts)
func (f RecognizerFunc) Infer(ctx context.Context, text string, opts InferOptions) ([]Entity, error) {
	return f(ctx, text, opts)
}
