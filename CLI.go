package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/manningwu07/minigpt/generate"
	"github.com/manningwu07/minigpt/params"
)

type options struct {
	dataDir     string
	envFile     string
	logCSV      string
	metricsAddr string
	chat        bool

	epochs    int
	prompt    string
	genTokens int
	workers   int

	set map[string]bool
}

func parseFlags(args []string) options {
	var o options
	fs := flag.CommandLine
	fs.StringVar(&o.dataDir, "data", "", "root directory of *.txt review files (required)")
	fs.StringVar(&o.envFile, "env", "", "optional dotenv file with MINIGPT_* overrides")
	fs.StringVar(&o.logCSV, "log-csv", "", "write per-epoch stats to this CSV file")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&o.chat, "chat", false, "read prompts from stdin after training")
	fs.IntVar(&o.epochs, "epochs", 0, "override the number of epochs")
	fs.StringVar(&o.prompt, "prompt", "", "override the sampling prompt")
	fs.IntVar(&o.genTokens, "gen-tokens", 0, "override the number of sampled tokens")
	fs.IntVar(&o.workers, "workers", 0, "override the gradient worker count")
	_ = fs.Parse(args)

	if o.dataDir == "" {
		fmt.Fprintln(os.Stderr, "minigpt: -data is required")
		fs.Usage()
		os.Exit(2)
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o
}

// apply copies explicitly set flags over cfg.
func (o options) apply(cfg *params.TrainingConfig) {
	if o.set["epochs"] {
		cfg.Epochs = o.epochs
	}
	if o.set["prompt"] {
		cfg.Prompt = o.prompt
	}
	if o.set["gen-tokens"] {
		cfg.GenTokens = o.genTokens
	}
	if o.set["workers"] {
		cfg.Workers = o.workers
	}
}

// ChatCLI samples a continuation for every prompt line read from in.
// An empty line or "exit" ends the session.
func ChatCLI(ctx context.Context, gen *generate.Generator, in io.Reader, out io.Writer, maxTokens int) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(out, "Type a prompt, or 'exit' to quit.")
	for {
		fmt.Fprint(out, "You: ")
		if !sc.Scan() {
			return sc.Err()
		}
		input := strings.TrimSpace(sc.Text())
		if input == "" || input == "exit" {
			return nil
		}
		text, err := gen.GenerateText(ctx, input, maxTokens)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			klog.Errorf("generate: %v", err)
			continue
		}
		fmt.Fprintln(out, "Bot:", text)
	}
}
