package slant

import (
	"log/slog"
	"path/filepath"
)

type options struct {
	modelDir     string
	modelPath    string
	vocabPath    string
	labelMapPath string
	libraryPath  string
	labels       []string
	maxSeqLen    int
	maxBatchSize int
	staticLabel  string
	logger       *slog.Logger
}

// Option configures a Slant instance.
type Option func(*options)

// WithModelDir sets the directory containing the model bundle.
// Expects: model.onnx, vocab.txt and optionally label_map.json.
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithModelPaths sets explicit model and vocab paths.
func WithModelPaths(model, vocab string) Option {
	return func(o *options) {
		o.modelPath = model
		o.vocabPath = vocab
	}
}

// WithLabelMap points at a label_map.json giving the head order.
func WithLabelMap(path string) Option {
	return func(o *options) {
		o.labelMapPath = path
	}
}

// WithLabels sets the label set in classification head order.
// Default: LEFT, CENTER, RIGHT.
func WithLabels(labels ...string) Option {
	return func(o *options) {
		o.labels = labels
	}
}

// WithRuntimeLibrary sets the ONNX Runtime shared library path.
// By default a few well-known locations are probed.
func WithRuntimeLibrary(path string) Option {
	return func(o *options) {
		o.libraryPath = path
	}
}

// WithMaxSeqLen sets the token truncation length. Default: 128.
func WithMaxSeqLen(n int) Option {
	return func(o *options) {
		o.maxSeqLen = n
	}
}

// WithMaxBatchSize bounds one inference call. Default: 64.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		o.maxBatchSize = n
	}
}

// WithStaticLabel skips the model entirely and answers label for every text.
// Useful for wiring tests.
func WithStaticLabel(label string) Option {
	return func(o *options) {
		o.staticLabel = label
	}
}

// WithLogger sets the logger used by Serve. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func defaultOptions() options {
	return options{
		maxSeqLen:    128,
		maxBatchSize: 64,
	}
}

// resolvePaths determines the model, vocab and label map paths. Explicit
// paths take precedence over modelDir.
func resolvePaths(o options) (model, vocab, labelMap string) {
	labelMap = o.labelMapPath
	if o.modelPath != "" {
		return o.modelPath, o.vocabPath, labelMap
	}
	dir := o.modelDir
	if dir == "" {
		dir = filepath.Join("models", "bias-bert")
	}
	return filepath.Join(dir, "model.onnx"), filepath.Join(dir, "vocab.txt"), labelMap
}
