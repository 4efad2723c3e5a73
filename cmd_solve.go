package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/config"
	"github.com/jmccarv/ciphersolve/internal/evaluator"
	"github.com/jmccarv/ciphersolve/internal/logging"
	"github.com/jmccarv/ciphersolve/internal/optimizer"
	"github.com/jmccarv/ciphersolve/internal/transform"
)

var (
	maxRuntime      time.Duration
	topN            int
	cipherFile      string
	knownSolution   string
	knownKey        string
	transformers    []string
	strategy        string
	distribution    string
	iterations      int
	epochs          int
	evaluatorKind   string
	seed            uint64
	iterateRandomly bool
	noProgress      bool
)

var solveCmd = &cobra.Command{
	Use:   "solve [CRYPTOGRAM FILE]",
	Short: "Search for the plaintext of one or more ciphers",
	Long: `Read cryptograms, one per line, from CRYPTOGRAM FILE or stdin, or a single
structured cipher with --cipher, and search for each one's key.

Every non-space character of a cryptogram line is one cipher symbol. Lines
starting with # are ignored. Ctrl-C stops the cipher being solved and prints
the best solution found so far.

Examples:
  ciphersolve solve -c ./books ciphers.txt
  ciphersolve solve --cipher z408.yaml --strategy gibbs --epochs 5
  echo "ABCBCB" | ciphersolve solve -r 30s --solution banana`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSolve,
}

func init() {
	f := solveCmd.Flags()
	f.DurationVarP(&maxRuntime, "max-runtime", "r", 0, "Stop each solve after this amount of time. Ex: 30s or 1m")
	f.IntVar(&topN, "topn", 0, "Display top N distinct solutions")
	f.StringVar(&cipherFile, "cipher", "", "YAML or JSON cipher file with its grid shape")
	f.StringVar(&knownSolution, "solution", "", "Known plaintext, to report how many epochs found it")
	f.StringVar(&knownKey, "key", "", "Known key as SYMBOLS=letters pairs, e.g. 'AB=th C=e'")
	f.StringArrayVarP(&transformers, "transform", "t", nil, "Rearrange the ciphertext first, e.g. transposition:KEY (repeatable)")
	f.StringVar(&strategy, "strategy", "", "annealing or gibbs")
	f.StringVar(&distribution, "distribution", "", "Gibbs letter distribution: rank or softmax")
	f.IntVarP(&iterations, "iterations", "i", 0, "Sweeps per epoch")
	f.IntVarP(&epochs, "epochs", "e", 0, "Independent restarts")
	f.StringVar(&evaluatorKind, "evaluator", "", "ngram or ngram-ioc")
	f.Uint64Var(&seed, "seed", 0, "Random seed; 0 picks one")
	f.BoolVar(&iterateRandomly, "randomize", false, "Visit symbols in a random order every sweep")
	f.BoolVar(&noProgress, "no-progress", false, "Never show the progress bar")
}

func applySolveFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-runtime") {
		cfg.Decipherment.MaxRuntime = maxRuntime
	}
	if flags.Changed("topn") {
		cfg.Decipherment.TopN = topN
	}
	if flags.Changed("transform") {
		cfg.Transformers = transformers
	}
	if flags.Changed("strategy") {
		cfg.Sampler.Strategy = strategy
	}
	if flags.Changed("distribution") {
		cfg.Sampler.Distribution = distribution
	}
	if flags.Changed("iterations") {
		cfg.Sampler.Iterations = iterations
	}
	if flags.Changed("epochs") {
		cfg.Decipherment.Epochs = epochs
	}
	if flags.Changed("evaluator") {
		cfg.Decipherment.Evaluator = evaluatorKind
	}
	if flags.Changed("seed") {
		cfg.Sampler.Seed = seed
	}
	if flags.Changed("randomize") {
		cfg.Sampler.IterateRandomly = iterateRandomly
	}
	return nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ciphers, err := readCiphers(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if len(ciphers) == 0 {
		return errors.New("no ciphers to solve")
	}

	m, _, err := loadModel(ctx)
	if err != nil {
		return err
	}
	kind, err := app.cfg.EvaluatorKind()
	if err != nil {
		return err
	}
	ev, err := evaluator.New(kind, m, app.cfg.Decipherment.IndexOfCoincidenceRoot)
	if err != nil {
		return err
	}
	oc, err := app.cfg.OptimizerConfig()
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	defer signal.Stop(sigs)

	for _, c := range ciphers {
		tc, err := transform.Apply(c, app.cfg.Transformers)
		if err != nil {
			fmt.Fprintf(out, "skipping cipher %s: %v\n", c.Name(), err)
			continue
		}
		c = tc

		opts := []optimizer.Option{optimizer.WithLogger(app.logger)}
		var bar *progress
		if !noProgress && logging.IsTerminal(os.Stderr) {
			bar = newProgress(os.Stderr, oc.Epochs)
			opts = append(opts, optimizer.WithObserver(bar))
		}
		opt, err := optimizer.New(m, ev, app.pool, oc, opts...)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%v\n", c)
		res, err := solve(ctx, opt, c, sigs)
		if bar != nil {
			bar.Wait()
		}
		if err != nil {
			fmt.Fprintf(out, "unable to solve %s: %v\n", c.Name(), err)
			continue
		}
		printResult(out, res)
	}
	return nil
}

// solve runs one cipher, stopping early on SIGINT or after the configured
// maximum runtime.
func solve(ctx context.Context, opt *optimizer.Optimizer, c *cipher.Cipher, sigs <-chan os.Signal) (*optimizer.Result, error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	if d := app.cfg.Decipherment.MaxRuntime; d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
			return
		}
	}()
	return opt.Optimize(ctx, c)
}

// readCiphers loads the --cipher file, or one cipher per line from the named
// file or in, and attaches any known solution given on the command line.
func readCiphers(in io.Reader, args []string) ([]*cipher.Cipher, error) {
	var ciphers []*cipher.Cipher
	if cipherFile != "" {
		c, err := cipher.Load(cipherFile)
		if err != nil {
			return nil, err
		}
		ciphers = append(ciphers, c)
	} else {
		if len(args) > 0 {
			f, err := os.Open(args[0])
			if err != nil {
				return nil, err
			}
			defer f.Close()
			in = f
		}
		var err error
		if ciphers, err = cipher.ReadLines(in); err != nil {
			return nil, err
		}
	}

	for _, c := range ciphers {
		if knownKey != "" {
			k, err := cipher.ParseKey(knownKey)
			if err != nil {
				return nil, err
			}
			if err := c.SetKnownKey(k); err != nil {
				return nil, fmt.Errorf("%s: %w", c.Name(), err)
			}
		}
		if knownSolution != "" {
			if err := c.SetKnownSolution(knownSolution); err != nil {
				return nil, fmt.Errorf("%s: %w", c.Name(), err)
			}
		}
	}
	return ciphers, nil
}
