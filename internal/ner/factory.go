package ner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/config"
)

// LoaderType selects how the NER model is reached
type LoaderType string

const (
	// HTTPLoaderType talks to an inference sidecar
	HTTPLoaderType LoaderType = "http"

	// ONNXLoaderType runs the model in-process (build tag 'onnx')
	ONNXLoaderType LoaderType = "onnx"
)

// NewLoader creates the loader named by cfg.Loader.
func NewLoader(cfg config.ModelConfig, logger *zap.Logger) (Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch LoaderType(cfg.Loader) {
	case HTTPLoaderType:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http loader needs an endpoint")
		}
		logger.Info("Created HTTP NER loader", zap.String("endpoint", cfg.Endpoint), zap.String("offsets", cfg.Offsets))
		return NewHTTPLoader(cfg.Endpoint, cfg.Offsets, logger), nil
	case ONNXLoaderType:
		logger.Info("Created ONNX NER loader", zap.String("model_path", cfg.ModelPath))
		return NewONNXLoader(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown NER loader: %s (must be http or onnx)", cfg.Loader)
	}
}
