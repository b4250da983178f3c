package predict

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/slant/internal/engine/classifier"
	"github.com/crimson-sun/slant/internal/model"
)

func labels(t *testing.T) model.LabelSet {
	t.Helper()
	set, err := model.NewLabelSet(model.DefaultLabels())
	require.NoError(t, err)
	return set
}

func TestRun(t *testing.T) {
	var seen []string
	cls := classifier.NewFunc(labels(t), func(texts []string) ([]model.Label, error) {
		seen = append(seen, texts...)
		return []model.Label{model.LabelRight}, nil
	})

	var buf bytes.Buffer
	require.NoError(t, Run(cls, []string{"Tax", "cuts", "pass", "Senate"}, &buf))

	assert.Equal(t, []string{"Tax cuts pass Senate"}, seen)
	assert.Equal(t, "Headline: Tax cuts pass Senate\nPredicted Bias: RIGHT\n", buf.String())
}

func TestRun_NoText(t *testing.T) {
	cls, err := classifier.NewStatic(labels(t), model.LabelCenter)
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, Run(cls, nil, &buf), ErrNoText)
	assert.ErrorIs(t, Run(cls, []string{" ", ""}, &buf), ErrNoText)
	assert.Empty(t, buf.String())
}

func TestRun_ClassifierError(t *testing.T) {
	boom := errors.New("boom")
	cls := classifier.NewFunc(labels(t), func([]string) ([]model.Label, error) { return nil, boom })

	err := Run(cls, []string{"x"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
}

func TestRun_LabelCountMismatch(t *testing.T) {
	cls := classifier.NewFunc(labels(t), func([]string) ([]model.Label, error) { return nil, nil })

	err := Run(cls, []string{"x"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "0 labels")
}

func TestUsage(t *testing.T) {
	var buf bytes.Buffer
	Usage(&buf, "slant")
	assert.Equal(t, "Usage: slant predict 'Some headline here'\n", buf.String())
}
