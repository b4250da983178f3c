package slant

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/crimson-sun/slant/internal/engine/classifier"
	"github.com/crimson-sun/slant/internal/model"
	"github.com/crimson-sun/slant/internal/output/stdout"
	"github.com/crimson-sun/slant/internal/worker"
)

// Slant is a headline bias classifier. Safe for concurrent use.
type Slant struct {
	cls    classifier.Classifier
	logger *slog.Logger
}

// New creates a Slant instance, loading the model bundle. This is expensive;
// create once and reuse.
func New(opts ...Option) (*Slant, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	labels := model.DefaultLabels()
	if len(o.labels) > 0 {
		labels = make([]model.Label, len(o.labels))
		for i, l := range o.labels {
			labels[i] = model.Label(l)
		}
	}
	set, err := model.NewLabelSet(labels)
	if err != nil {
		return nil, fmt.Errorf("slant: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if o.staticLabel != "" {
		cls, err := classifier.NewStatic(set, model.Label(o.staticLabel))
		if err != nil {
			return nil, fmt.Errorf("slant: %w", err)
		}
		return &Slant{cls: cls, logger: logger}, nil
	}

	modelPath, vocabPath, labelMapPath := resolvePaths(o)
	cls, err := classifier.New(classifier.Config{
		ModelPath:    modelPath,
		VocabPath:    vocabPath,
		LabelMapPath: labelMapPath,
		Labels:       set.Labels(),
		LibraryPath:  o.libraryPath,
		MaxSeqLen:    o.maxSeqLen,
		MaxBatchSize: o.maxBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("slant: %w", err)
	}
	return &Slant{cls: cls, logger: logger}, nil
}

// Classify returns the bias label of a single text.
func (s *Slant) Classify(text string) (string, error) {
	labels, err := s.ClassifyBatch([]string{text})
	if err != nil {
		return "", err
	}
	return labels[0], nil
}

// ClassifyBatch labels texts in one batched inference pass. The result is
// positionally aligned with texts.
func (s *Slant) ClassifyBatch(texts []string) ([]string, error) {
	labels, err := s.cls.ClassifyBatch(texts)
	if err != nil {
		return nil, fmt.Errorf("slant: %w", err)
	}
	if len(labels) != len(texts) {
		return nil, fmt.Errorf("slant: classifier returned %d labels for %d texts", len(labels), len(texts))
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out, nil
}

// Labels returns the label set in head order.
func (s *Slant) Labels() []string {
	labels := s.cls.Labels().Labels()
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

// Serve reads request lines from r and writes one response line per request
// to w until r is exhausted. See the worker protocol for the line format.
func (s *Slant) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	out := stdout.NewWriter(w)
	defer out.Close()
	return worker.New(s.cls, out, worker.WithLogger(s.logger)).Run(ctx, r)
}

// Close releases model resources.
func (s *Slant) Close() error {
	return s.cls.Close()
}
