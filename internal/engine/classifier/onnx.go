package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/slant/internal/engine/tokenizer"
	"github.com/crimson-sun/slant/internal/model"
)

// DefaultMaxBatchSize bounds a single inference call. Larger requests are
// split into consecutive sub-batches.
const DefaultMaxBatchSize = 64

// ErrHeadWidth is returned when the model's logit width does not match the
// configured label set.
var ErrHeadWidth = errors.New("classification head width does not match label count")

// Config locates the model bundle and tunes inference.
type Config struct {
	ModelPath    string
	VocabPath    string
	LabelMapPath string        // optional; overrides Labels when set
	Labels       []model.Label // head order; defaults to model.DefaultLabels()
	LibraryPath  string        // ONNX Runtime shared library; probed when empty

	MaxSeqLen      int
	MaxBatchSize   int
	IntraOpThreads int
}

// ortEnv is the process-wide ONNX Runtime environment.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if !ort.IsInitialized() {
			ort.SetSharedLibraryPath(libPath)
			ortEnv.err = ort.InitializeEnvironment()
		}
	})
	return ortEnv.err
}

// ONNXClassifier runs a BERT-style sequence classification model exported to
// ONNX: input_ids + attention_mask (+ token_type_ids when the graph declares
// it) in, [batch, labels] logits out. The predicted label is the argmax.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string

	tok       *tokenizer.Tokenizer
	labels    model.LabelSet
	batchSize int

	mu sync.Mutex
}

// New loads the runtime, tokenizer, label set and model. It is expensive and
// meant to be called once per process.
func New(cfg Config) (*ONNXClassifier, error) {
	labels, err := resolveLabels(cfg)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	tok, err := tokenizer.New(cfg.VocabPath, cfg.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = resolveSharedLibraryPath(filepath.Dir(cfg.ModelPath))
	}
	if libPath == "" {
		return nil, fmt.Errorf("classifier: onnxruntime shared library not found; set SLANT_ORT_LIB_PATH")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("classifier: initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("classifier: read model info: %w", err)
	}
	inputNames, err := selectInputs(inputs)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	outputName, err := checkOutput(outputs, labels.Len())
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("classifier: session options: %w", err)
	}
	defer opts.Destroy()
	threads := cfg.IntraOpThreads
	if threads <= 0 {
		threads = 1
	}
	if err := opts.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("classifier: set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("classifier: set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("classifier: create session: %w", err)
	}

	batchSize := cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = DefaultMaxBatchSize
	}

	return &ONNXClassifier{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		tok:        tok,
		labels:     labels,
		batchSize:  batchSize,
	}, nil
}

func resolveLabels(cfg Config) (model.LabelSet, error) {
	if cfg.LabelMapPath != "" {
		return loadLabelMap(cfg.LabelMapPath)
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = model.DefaultLabels()
	}
	return model.NewLabelSet(labels)
}

// selectInputs requires input_ids and attention_mask. token_type_ids is
// passed only when the graph declares it (DistilBERT exports omit it).
func selectInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	declared := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		declared[in.Name] = true
	}
	names := []string{"input_ids", "attention_mask"}
	for _, n := range names {
		if !declared[n] {
			return nil, fmt.Errorf("model missing required input %q", n)
		}
	}
	if declared["token_type_ids"] {
		names = append(names, "token_type_ids")
	}
	return names, nil
}

// checkOutput expects a 2D logits tensor. A dynamic label dimension is
// accepted and checked against the real output at inference time.
func checkOutput(outputs []ort.InputOutputInfo, numLabels int) (string, error) {
	if len(outputs) == 0 {
		return "", fmt.Errorf("model has no outputs")
	}
	out := outputs[0]
	for _, o := range outputs {
		if o.Name == "logits" {
			out = o
			break
		}
	}
	dims := out.Dimensions
	if len(dims) != 2 {
		return "", fmt.Errorf("expected 2D logits output %q, got shape %v", out.Name, dims)
	}
	if dims[1] > 0 && int(dims[1]) != numLabels {
		return "", fmt.Errorf("%w: model has %d, labels %d", ErrHeadWidth, dims[1], numLabels)
	}
	return out.Name, nil
}

// Labels returns the label set in head order.
func (c *ONNXClassifier) Labels() model.LabelSet { return c.labels }

// ClassifyBatch labels texts, splitting into sub-batches of at most
// MaxBatchSize. Truncation to MaxSeqLen happens in the tokenizer.
func (c *ONNXClassifier) ClassifyBatch(texts []string) ([]model.Label, error) {
	out := make([]model.Label, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		labels, err := c.classify(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, labels...)
	}
	return out, nil
}

func (c *ONNXClassifier) classify(texts []string) ([]model.Label, error) {
	batch := c.tok.EncodeBatch(texts)
	width := int64(c.labels.Len())

	logits, err := c.infer(batch, width)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	labels := make([]model.Label, len(texts))
	for i, idx := range argmax(logits, int(batch.Size), int(width)) {
		labels[i] = c.labels.At(idx)
	}
	return labels, nil
}

func (c *ONNXClassifier) infer(b tokenizer.Batch, width int64) ([]float32, error) {
	shape := ort.NewShape(b.Size, b.SeqLen)

	ids, err := ort.NewTensor(shape, b.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	mask, err := ort.NewTensor(shape, b.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()

	inputs := []ort.Value{ids, mask}
	if len(c.inputNames) == 3 {
		types, err := ort.NewTensor(shape, b.TokenTypeIDs)
		if err != nil {
			return nil, fmt.Errorf("token_type_ids tensor: %w", err)
		}
		defer types.Destroy()
		inputs = append(inputs, types)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(b.Size, width))
	if err != nil {
		return nil, fmt.Errorf("logits tensor: %w", err)
	}
	defer out.Destroy()

	c.mu.Lock()
	err = c.session.Run(inputs, []ort.Value{out})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	src := out.GetData()
	logits := make([]float32, len(src))
	copy(logits, src)
	return logits, nil
}

// argmax returns the index of the largest logit in each row. Ties resolve to
// the lowest index.
func argmax(logits []float32, rows, width int) []int {
	idx := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := logits[r*width : (r+1)*width]
		best := 0
		for j := 1; j < width; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		idx[r] = best
	}
	return idx
}

// Close releases the ONNX session.
func (c *ONNXClassifier) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Destroy()
}

// resolveSharedLibraryPath probes the usual places for the ONNX Runtime
// shared library, starting with the model directory.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
