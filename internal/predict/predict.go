// Package predict implements the one-shot command line mode: classify a
// single headline given as arguments and print the result.
package predict

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/crimson-sun/slant/internal/engine/classifier"
)

// ErrNoText is returned by Run when no headline words were given.
var ErrNoText = errors.New("predict: no text given")

// Usage writes the usage line for the predict mode.
func Usage(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage: %s predict 'Some headline here'\n", prog)
}

// Run joins args with spaces, classifies the result as a single text and
// writes the headline and its label to w.
func Run(cls classifier.Classifier, args []string, w io.Writer) error {
	headline := strings.Join(args, " ")
	if strings.TrimSpace(headline) == "" {
		return ErrNoText
	}
	labels, err := cls.ClassifyBatch([]string{headline})
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	if len(labels) != 1 {
		return fmt.Errorf("predict: classifier returned %d labels for 1 text", len(labels))
	}
	if _, err := fmt.Fprintf(w, "Headline: %s\nPredicted Bias: %s\n", headline, labels[0]); err != nil {
		return fmt.Errorf("predict: write: %w", err)
	}
	return nil
}
