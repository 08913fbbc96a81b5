package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/klog/v2"

	"github.com/manningwu07/minigpt/IO"
	"github.com/manningwu07/minigpt/generate"
	"github.com/manningwu07/minigpt/metrics"
	"github.com/manningwu07/minigpt/params"
	"github.com/manningwu07/minigpt/train"
	"github.com/manningwu07/minigpt/transformer"
)

func main() {
	klog.InitFlags(nil)
	opts := parseFlags(os.Args[1:])
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		klog.Fatalf("minigpt: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := params.Load(opts.envFile)
	if err != nil {
		return err
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m = metrics.New(reg)
		srv := serveMetrics(opts.metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	t0 := time.Now()
	texts, err := IO.LoadReviews(opts.dataDir)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("no *.txt samples under %s", opts.dataDir)
	}
	vocab := IO.BuildVocabulary(texts, cfg.VocabSize-1)
	samples, held := IO.SplitHoldout(IO.PrepareDataset(texts, vocab, cfg.MaxLen), cfg.ValFrac,
		rand.New(rand.NewPCG(cfg.Seed, 3)))
	klog.Infof("loaded %d samples (%d held out), vocabulary %d tokens (%v)",
		len(samples), len(held), vocab.Size(), time.Since(t0))

	gpt, err := transformer.NewGPT(cfg, rand.NewPCG(cfg.Seed, 1))
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}
	gen := &generate.Generator{
		Model:   gpt,
		Vocab:   vocab,
		MaxLen:  cfg.MaxLen,
		TopK:    cfg.TopK,
		Rand:    rand.NewPCG(cfg.Seed, 2),
		Metrics: m,
	}

	tc := train.ConfigFrom(cfg)
	tc.Metrics = m
	tc.Validation = held
	tc.Callbacks = append(tc.Callbacks, gen.Callback(os.Stdout, cfg.Prompt, cfg.GenTokens, cfg.PrintEvery))
	if opts.logCSV != "" {
		f, err := os.Create(opts.logCSV)
		if err != nil {
			return fmt.Errorf("create training log: %w", err)
		}
		defer f.Close()
		tc.Callbacks = append(tc.Callbacks, train.CSVLogger(f))
	}

	history, err := train.TrainGPT(ctx, gpt, samples, tc)
	switch {
	case errors.Is(err, context.Canceled):
		klog.Warningf("training interrupted after %d epochs", len(history))
		return nil
	case err != nil:
		return fmt.Errorf("train: %w", err)
	}
	if n := len(history); n > 0 {
		klog.Infof("finished %d epochs, final loss %.4f", n, history[n-1].Loss)
		plotLoss(os.Stdout, history)
	}

	if opts.chat {
		return ChatCLI(ctx, gen, os.Stdin, os.Stdout, cfg.GenTokens)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		klog.Infof("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}
