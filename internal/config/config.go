package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/slant/internal/model"
)

// Config holds all slant configuration.
type Config struct {
	Mode            string        `yaml:"mode"` // "serve" or "predict"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Journal    JournalConfig    `yaml:"journal"`
	Webhook    WebhookConfig    `yaml:"webhook"`

	// MirrorBuffer is the queue depth in front of the journal and webhook.
	MirrorBuffer int `yaml:"mirror_buffer"`
}

// ClassifierConfig selects and locates the classifier backend.
type ClassifierConfig struct {
	Backend        string   `yaml:"backend"` // "onnx" or "static"
	ModelDir       string   `yaml:"model_dir"`
	ModelPath      string   `yaml:"model_path"`
	VocabPath      string   `yaml:"vocab_path"`
	LabelMapPath   string   `yaml:"label_map_path"`
	LibraryPath    string   `yaml:"ort_library_path"`
	Labels         []string `yaml:"labels"`
	MaxSeqLen      int      `yaml:"max_seq_len"`
	MaxBatchSize   int      `yaml:"max_batch_size"`
	IntraOpThreads int      `yaml:"intra_op_threads"`
	StaticLabel    string   `yaml:"static_label"`
}

// LogConfig controls the stderr logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig controls the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig controls the optional response journal. Empty Path disables it.
type JournalConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// WebhookConfig controls response mirroring over HTTP. Empty URL disables it.
// FailuresOnly mirrors only failure responses.
type WebhookConfig struct {
	URL           string        `yaml:"url"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FailuresOnly  bool          `yaml:"failures_only"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Mode:            "serve",
		ShutdownTimeout: 5 * time.Second,
		Classifier: ClassifierConfig{
			Backend:        "onnx",
			ModelDir:       "models/bias-bert",
			Labels:         labelStrings(model.DefaultLabels()),
			MaxSeqLen:      128,
			MaxBatchSize:   64,
			IntraOpThreads: 1,
			StaticLabel:    string(model.LabelCenter),
		},
		Log:          LogConfig{Level: "info", Format: "json"},
		Webhook:      WebhookConfig{BatchSize: 50, FlushInterval: 5 * time.Second},
		MirrorBuffer: 1024,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// SLANT_CONFIG (if any), then SLANT_* environment variables. Model file
// paths not set explicitly are derived from the model directory.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("SLANT_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	cfg.Classifier.resolvePaths()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Mode = getenv("SLANT_MODE", cfg.Mode)
	cfg.ShutdownTimeout = getenvDuration("SLANT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	c := &cfg.Classifier
	c.Backend = getenv("SLANT_CLASSIFIER", c.Backend)
	c.ModelDir = getenv("SLANT_MODEL_DIR", c.ModelDir)
	c.ModelPath = getenv("SLANT_MODEL_PATH", c.ModelPath)
	c.VocabPath = getenv("SLANT_VOCAB_PATH", c.VocabPath)
	c.LabelMapPath = getenv("SLANT_LABEL_MAP_PATH", c.LabelMapPath)
	c.LibraryPath = getenv("SLANT_ORT_LIB_PATH", c.LibraryPath)
	if v := os.Getenv("SLANT_LABELS"); v != "" {
		c.Labels = labelStrings(model.ParseLabels(v))
	}
	c.MaxSeqLen = getenvInt("SLANT_MAX_SEQ_LEN", c.MaxSeqLen)
	c.MaxBatchSize = getenvInt("SLANT_MAX_BATCH_SIZE", c.MaxBatchSize)
	c.IntraOpThreads = getenvInt("SLANT_INTRA_OP_THREADS", c.IntraOpThreads)
	c.StaticLabel = getenv("SLANT_STATIC_LABEL", c.StaticLabel)

	cfg.Log.Level = getenv("SLANT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("SLANT_LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Addr = getenv("SLANT_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Journal.Path = getenv("SLANT_JOURNAL_PATH", cfg.Journal.Path)
	cfg.Journal.MaxBytes = int64(getenvInt("SLANT_JOURNAL_MAX_BYTES", int(cfg.Journal.MaxBytes)))
	cfg.Webhook.URL = getenv("SLANT_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.BatchSize = getenvInt("SLANT_WEBHOOK_BATCH_SIZE", cfg.Webhook.BatchSize)
	cfg.Webhook.FlushInterval = getenvDuration("SLANT_WEBHOOK_FLUSH_INTERVAL", cfg.Webhook.FlushInterval)
	cfg.Webhook.FailuresOnly = getenvBool("SLANT_WEBHOOK_FAILURES_ONLY", cfg.Webhook.FailuresOnly)
	cfg.MirrorBuffer = getenvInt("SLANT_MIRROR_BUFFER", cfg.MirrorBuffer)
}

// resolvePaths fills model, vocab and label map paths from ModelDir. The
// label map is only picked up when the file exists; otherwise Labels apply.
func (c *ClassifierConfig) resolvePaths() {
	if c.ModelPath == "" {
		c.ModelPath = filepath.Join(c.ModelDir, "model.onnx")
	}
	if c.VocabPath == "" {
		c.VocabPath = filepath.Join(c.ModelDir, "vocab.txt")
	}
	if c.LabelMapPath == "" {
		candidate := filepath.Join(c.ModelDir, "label_map.json")
		if _, err := os.Stat(candidate); err == nil {
			c.LabelMapPath = candidate
		}
	}
}

// LabelSet returns the configured labels as model labels.
func (c ClassifierConfig) LabelSet() []model.Label {
	out := make([]model.Label, len(c.Labels))
	for i, l := range c.Labels {
		out[i] = model.Label(l)
	}
	return out
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case "serve", "predict":
	default:
		errs = append(errs, fmt.Errorf("mode must be serve or predict, got %q", c.Mode))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be >= 0, got %v", c.ShutdownTimeout))
	}

	cl := c.Classifier
	set, err := model.NewLabelSet(cl.LabelSet())
	if err != nil {
		errs = append(errs, fmt.Errorf("labels: %w", err))
	}
	switch cl.Backend {
	case "onnx":
		for _, f := range []struct{ name, path string }{
			{"model", cl.ModelPath},
			{"vocab", cl.VocabPath},
		} {
			if _, err := os.Stat(f.path); err != nil {
				errs = append(errs, fmt.Errorf("%s file not found: %s (set SLANT_MODEL_DIR)", f.name, f.path))
			}
		}
		if cl.LabelMapPath != "" {
			if _, err := os.Stat(cl.LabelMapPath); err != nil {
				errs = append(errs, fmt.Errorf("label map file not found: %s", cl.LabelMapPath))
			}
		}
		if cl.MaxSeqLen < 2 || cl.MaxSeqLen > 512 {
			errs = append(errs, fmt.Errorf("max sequence length must be in [2, 512], got %d", cl.MaxSeqLen))
		}
		if cl.MaxBatchSize < 1 {
			errs = append(errs, fmt.Errorf("max batch size must be >= 1, got %d", cl.MaxBatchSize))
		}
		if cl.IntraOpThreads < 1 {
			errs = append(errs, fmt.Errorf("intra-op threads must be >= 1, got %d", cl.IntraOpThreads))
		}
	case "static":
		if err == nil && !set.Contains(model.Label(cl.StaticLabel)) {
			errs = append(errs, fmt.Errorf("static label %q is not one of %v", cl.StaticLabel, cl.Labels))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier must be onnx or static, got %q", cl.Backend))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}
	if c.Journal.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("journal max bytes must be >= 0, got %d", c.Journal.MaxBytes))
	}
	if c.Webhook.URL != "" {
		if u, err := url.Parse(c.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook url must be an absolute http(s) URL, got %q", c.Webhook.URL))
		}
		if c.Webhook.BatchSize < 1 {
			errs = append(errs, fmt.Errorf("webhook batch size must be >= 1, got %d", c.Webhook.BatchSize))
		}
		if c.Webhook.FlushInterval <= 0 {
			errs = append(errs, fmt.Errorf("webhook flush interval must be > 0, got %v", c.Webhook.FlushInterval))
		}
	}
	if c.MirrorBuffer < 1 {
		errs = append(errs, fmt.Errorf("mirror buffer must be >= 1, got %d", c.MirrorBuffer))
	}

	return errors.Join(errs...)
}

func labelStrings(labels []model.Label) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
