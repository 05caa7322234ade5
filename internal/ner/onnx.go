//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/config"
)

// envMu guards the process-wide ONNX Runtime environment.
var envMu sync.Mutex

// ONNXLoader loads a token-classification model with ONNX Runtime
// (via yalue/onnxruntime_go). Requires build tag 'onnx'.
type ONNXLoader struct {
	cfg    config.ModelConfig
	logger *zap.Logger
}

// NewONNXLoader creates a loader for the model files named in cfg.
func NewONNXLoader(cfg config.ModelConfig, logger *zap.Logger) Loader {
	return &ONNXLoader{cfg: cfg, logger: logger}
}

// Load opens an inference session. With opts.Quantized it prefers a
// <name>_quantized.onnx file next to the configured model.
func (l *ONNXLoader) Load(ctx context.Context, modelID string, opts LoadOptions) (Recognizer, error) {
	modelPath := l.cfg.ModelPath
	if opts.Quantized {
		ext := filepath.Ext(modelPath)
		quantized := strings.TrimSuffix(modelPath, ext) + "_quantized" + ext
		if _, err := os.Stat(quantized); err == nil {
			modelPath = quantized
		}
	}
	opts.report(Progress{Status: "initiate", File: modelPath})

	vocab, err := LoadVocab(l.cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	tokenizer, err := NewTokenizer(vocab, l.cfg.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	labels, err := LoadLabels(l.cfg.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	opts.report(Progress{Status: "progress", File: modelPath, Ratio: 30})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := initEnvironment(); err != nil {
		return nil, err
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ONNX model IO: %w", err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("ONNX model %s reports no outputs", modelPath)
	}

	available := make(map[string]string, len(inputsInfo))
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		if declared, ok := available[name]; ok {
			inputNames = append(inputNames, declared)
		}
	}
	if len(inputNames) == 0 {
		return nil, fmt.Errorf("ONNX model %s has no input_ids input", modelPath)
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("ONNX Runtime session creation failed: %w", err)
	}

	opts.report(Progress{Status: "ready", File: modelPath, Ratio: 100})
	l.logger.Info("ONNX NER model ready",
		zap.String("model", modelID),
		zap.String("path", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("labels", len(labels)),
		zap.Int("vocab_size", len(vocab)),
	)

	return &ONNXRecognizer{
		session:    sess,
		inputNames: inputNames,
		tokenizer:  tokenizer,
		labels:     labels,
		logger:     l.logger,
	}, nil
}

func initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("ONNX Runtime environment init failed: %w", err)
	}
	return nil
}

// ONNXRecognizer runs token classification in-process.
type ONNXRecognizer struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	tokenizer  *Tokenizer
	labels     []string
	logger     *zap.Logger
	mu         sync.RWMutex
}

// Infer tokenizes text, runs the model and aggregates token labels into entities.
func (r *ONNXRecognizer) Infer(ctx context.Context, text string, opts InferOptions) ([]Entity, error) {
	if opts.AggregationStrategy != "" && opts.AggregationStrategy != AggregationSimple {
		return nil, fmt.Errorf("unsupported aggregation strategy %q", opts.AggregationStrategy)
	}

	tokens, err := r.tokenizer.Tokenize(text)
	if err != nil {
		return nil, err
	}
	if tokens.Truncated {
		r.logger.Debug("Input truncated to model max length", zap.Int("max_length", r.tokenizer.MaxLength))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil, fmt.Errorf("onnx session closed")
	}

	shape := ort.NewShape(1, int64(tokens.Len()))
	byName := map[string][]int64{
		"input_ids":      tokens.InputIDs,
		"attention_mask": tokens.AttentionMask,
		"token_type_ids": tokens.TokenTypeIDs,
	}

	inputs := make([]ort.Value, 0, len(r.inputNames))
	for _, name := range r.inputNames {
		t, err := ort.NewTensor(shape, byName[strings.ToLower(name)])
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	// One output; let ORT allocate it
	outputs := make([]ort.Value, 1)
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != tokens.Len() || int(outShape[2]) != len(r.labels) {
		return nil, fmt.Errorf("unexpected output shape %v for %d tokens and %d labels", outShape, tokens.Len(), len(r.labels))
	}

	return Aggregate(text, Predict(tokens, logits.GetData(), r.labels)), nil
}

// Close releases the session. The runtime environment stays initialized for
// the next load.
func (r *ONNXRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		err := r.session.Destroy()
		r.session = nil
		return err
	}
	return nil
}
