package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/slant/internal/config"
	"github.com/crimson-sun/slant/internal/engine/classifier"
	"github.com/crimson-sun/slant/internal/logging"
	"github.com/crimson-sun/slant/internal/metrics"
	"github.com/crimson-sun/slant/internal/model"
	"github.com/crimson-sun/slant/internal/output"
	"github.com/crimson-sun/slant/internal/output/async"
	"github.com/crimson-sun/slant/internal/output/file"
	"github.com/crimson-sun/slant/internal/output/multi"
	"github.com/crimson-sun/slant/internal/output/stdout"
	"github.com/crimson-sun/slant/internal/output/webhook"
	"github.com/crimson-sun/slant/internal/predict"
	"github.com/crimson-sun/slant/internal/worker"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	prog := filepath.Base(argv[0])
	args := argv[1:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		return 1
	}
	if len(args) > 0 && args[0] == "predict" {
		cfg.Mode = "predict"
		args = args[1:]
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid configuration:\n%v\n", prog, err)
		return 1
	}

	workerID := uuid.NewString()
	logger := logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), "worker_id", workerID)

	if cfg.Mode == "predict" && len(args) == 0 {
		predict.Usage(os.Stdout, prog)
		return 0
	}

	start := time.Now()
	cls, err := newClassifier(cfg.Classifier)
	if err != nil {
		logger.Error("failed to initialize classifier", "error", err)
		return 1
	}
	logger.Info("classifier ready",
		"backend", cfg.Classifier.Backend,
		"labels", cls.Labels().Labels(),
		"elapsed", time.Since(start),
	)

	if cfg.Mode == "predict" {
		defer cls.Close()
		if err := predict.Run(cls, args, os.Stdout); err != nil {
			logger.Error("predict failed", "error", err)
			return 1
		}
		return 0
	}

	if err := serve(cfg, cls, workerID, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	return 0
}

func newClassifier(c config.ClassifierConfig) (classifier.Classifier, error) {
	labels, err := model.NewLabelSet(c.LabelSet())
	if err != nil {
		return nil, err
	}
	switch c.Backend {
	case "static":
		return classifier.NewStatic(labels, model.Label(c.StaticLabel))
	default:
		return classifier.New(classifier.Config{
			ModelPath:      c.ModelPath,
			VocabPath:      c.VocabPath,
			LabelMapPath:   c.LabelMapPath,
			Labels:         labels.Labels(),
			LibraryPath:    c.LibraryPath,
			MaxSeqLen:      c.MaxSeqLen,
			MaxBatchSize:   c.MaxBatchSize,
			IntraOpThreads: c.IntraOpThreads,
		})
	}
}

// serve runs the request loop on stdin/stdout, plus the metrics listener when
// configured, until stdin ends or a signal arrives. It owns cls and closes it.
func serve(cfg config.Config, cls classifier.Classifier, workerID string, logger *slog.Logger) error {
	m, err := metrics.New()
	if err != nil {
		return err
	}

	out := stdout.New()
	closers := []func() error{out.Close, cls.Close}
	var closeOnce sync.Once
	closeAll := func() {
		closeOnce.Do(func() {
			for _, c := range closers {
				c()
			}
		})
	}
	defer closeAll()

	opts := []worker.Option{worker.WithLogger(logger), worker.WithMetrics(m)}
	mirror, err := newMirror(cfg, workerID, logger)
	if err != nil {
		return err
	}
	if mirror != nil {
		closers = append(closers, mirror.Close)
		opts = append(opts, worker.WithMirror(mirror))
	}
	w := worker.New(cls, out, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, draining", "signal", sig.String(), "state", w.State().String())
			cancel()
		case <-ctx.Done():
			return
		}
		switch drain(w, cfg.ShutdownTimeout) {
		case drainIdle:
			// Run may stay parked on a stdin read forever.
			closeAll()
			os.Exit(0)
		case drainTimeout:
			// The worker still owns stdout and the classifier.
			logger.Warn("shutdown timeout elapsed with request in flight", "timeout", cfg.ShutdownTimeout)
			os.Exit(1)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		logger.Info("worker ready", "mode", cfg.Mode)
		err := w.Run(gctx, os.Stdin)
		if errors.Is(err, context.Canceled) || errors.Is(err, worker.ErrStopped) {
			return nil
		}
		return err
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr) })
	}

	err = g.Wait()
	logger.Info("worker terminated", "state", w.State().String())
	return err
}

// newMirror assembles the optional secondary outputs (journal file, webhook)
// behind one async queue so they never slow the stdout stream. It returns nil
// when neither is configured.
func newMirror(cfg config.Config, workerID string, logger *slog.Logger) (output.Output, error) {
	var sinks []output.Output
	if cfg.Journal.Path != "" {
		j, err := file.New(cfg.Journal.Path, file.WithMaxSize(cfg.Journal.MaxBytes))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, j)
		logger.Info("response journal enabled", "path", cfg.Journal.Path)
	}
	if cfg.Webhook.URL != "" {
		hookOpts := []webhook.Option{
			webhook.WithWorkerID(workerID),
			webhook.WithBatchSize(cfg.Webhook.BatchSize),
			webhook.WithFlushInterval(cfg.Webhook.FlushInterval),
		}
		if cfg.Webhook.FailuresOnly {
			hookOpts = append(hookOpts, webhook.WithFailuresOnly())
		}
		sinks = append(sinks, webhook.New(cfg.Webhook.URL, hookOpts...))
		logger.Info("response webhook enabled", "url", cfg.Webhook.URL, "failures_only", cfg.Webhook.FailuresOnly)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return async.New(multi.New(sinks...),
		async.WithBufferSize(cfg.MirrorBuffer),
		async.WithDropOnFull(),
		async.WithOnError(func(err error) { logger.Warn("mirror write failed", "error", err) }),
	), nil
}

type drainResult int

const (
	drainIdle    drainResult = iota // no request was in flight
	drainDone                       // the request in flight finished and Run returned
	drainTimeout                    // a request was still in flight at the deadline
)

// drain stops w from starting new requests and waits up to timeout for the
// request in flight, if any, to be answered.
func drain(w *worker.Worker, timeout time.Duration) drainResult {
	if w.Stop() {
		return drainIdle
	}
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if w.State() == worker.StateTerminated {
			return drainDone
		}
		if !time.Now().Before(deadline) {
			return drainTimeout
		}
		<-tick.C
	}
}
