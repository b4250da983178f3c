package model

import (
	"fmt"
	"strings"
)

// Label is one classification outcome (e.g. LEFT, CENTER, RIGHT).
type Label string

const (
	LabelLeft   Label = "LEFT"
	LabelCenter Label = "CENTER"
	LabelRight  Label = "RIGHT"
)

// DefaultLabels returns the bias labels in classifier head order.
func DefaultLabels() []Label {
	return []Label{LabelLeft, LabelCenter, LabelRight}
}

// LabelSet is the closed, ordered set of labels a classifier can emit.
// Position i corresponds to logit i of the classification head.
type LabelSet struct {
	labels []Label
	index  map[Label]int
}

// NewLabelSet validates and builds a LabelSet. Labels must be non-empty and unique.
func NewLabelSet(labels []Label) (LabelSet, error) {
	if len(labels) == 0 {
		return LabelSet{}, fmt.Errorf("label set: no labels")
	}
	idx := make(map[Label]int, len(labels))
	for i, l := range labels {
		if strings.TrimSpace(string(l)) == "" {
			return LabelSet{}, fmt.Errorf("label set: label %d is empty", i)
		}
		if _, dup := idx[l]; dup {
			return LabelSet{}, fmt.Errorf("label set: duplicate label %q", l)
		}
		idx[l] = i
	}
	cp := make([]Label, len(labels))
	copy(cp, labels)
	return LabelSet{labels: cp, index: idx}, nil
}

// ParseLabels splits a comma-separated list ("LEFT,CENTER,RIGHT") into labels.
func ParseLabels(s string) []Label {
	var out []Label
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, Label(p))
		}
	}
	return out
}

// Len returns the number of labels.
func (s LabelSet) Len() int { return len(s.labels) }

// At returns the label at head position i.
func (s LabelSet) At(i int) Label { return s.labels[i] }

// Contains reports whether l is part of the set.
func (s LabelSet) Contains(l Label) bool {
	_, ok := s.index[l]
	return ok
}

// Labels returns a copy of the labels in head order.
func (s LabelSet) Labels() []Label {
	out := make([]Label, len(s.labels))
	copy(out, s.labels)
	return out
}
