// Package classifier provides the batch text classification capability the
// worker serves: an ONNX Runtime sequence classifier for production, plus
// static and function-backed implementations for smoke tests and wiring.
package classifier

import (
	"fmt"

	"github.com/crimson-sun/slant/internal/model"
)

// Classifier labels a batch of texts.
//
// ClassifyBatch returns exactly one label per input text, positionally
// aligned with texts, and an empty slice for an empty batch. Every label is a
// member of Labels().
type Classifier interface {
	ClassifyBatch(texts []string) ([]model.Label, error)
	Labels() model.LabelSet
	Close() error
}

// BatchFunc is the signature of a plain batch classification function.
type BatchFunc func(texts []string) ([]model.Label, error)

type funcClassifier struct {
	labels model.LabelSet
	fn     BatchFunc
}

// NewFunc wraps fn as a Classifier over the given label set.
func NewFunc(labels model.LabelSet, fn BatchFunc) Classifier {
	return &funcClassifier{labels: labels, fn: fn}
}

func (f *funcClassifier) ClassifyBatch(texts []string) ([]model.Label, error) {
	return f.fn(texts)
}

func (f *funcClassifier) Labels() model.LabelSet { return f.labels }

func (f *funcClassifier) Close() error { return nil }

// Static assigns the same label to every text. It needs no model files and
// exists to exercise the protocol end to end.
type Static struct {
	labels model.LabelSet
	label  model.Label
}

// NewStatic returns a Static classifier that always answers label.
func NewStatic(labels model.LabelSet, label model.Label) (*Static, error) {
	if !labels.Contains(label) {
		return nil, fmt.Errorf("classifier: static label %q not in label set %v", label, labels.Labels())
	}
	return &Static{labels: labels, label: label}, nil
}

func (s *Static) ClassifyBatch(texts []string) ([]model.Label, error) {
	out := make([]model.Label, len(texts))
	for i := range out {
		out[i] = s.label
	}
	return out, nil
}

func (s *Static) Labels() model.LabelSet { return s.labels }

func (s *Static) Close() error { return nil }
