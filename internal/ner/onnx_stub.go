//go:build !onnx
// +build !onnx

package ner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/config"
)

// Stub implementation used when the 'onnx' build tag is not set. Loading
// always fails, which leaves the service in pattern-only mode.
func NewONNXLoader(cfg config.ModelConfig, logger *zap.Logger) Loader {
	return LoaderFunc(func(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error) {
		return nil, fmt.Errorf("onnx loader for %s not available: build with -tags onnx", modelID)
	})
}
