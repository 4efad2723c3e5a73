// Package optimizer searches for the key of a substitution cipher.
//
// Each epoch starts from a key drawn letter by letter from the corpus unigram
// distribution and runs a fixed number of sweeps under a falling temperature.
// A sweep makes one decision per distinct cipher symbol, either a single
// Metropolis proposal (annealing) or a draw from all 26 rescored candidates
// (Gibbs). When word boundaries are modelled every gap is then resampled.
// The best solution of every epoch competes for the run's result.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/evaluator"
	"github.com/jmccarv/ciphersolve/internal/ngram"
	"github.com/jmccarv/ciphersolve/internal/roulette"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

var (
	// ErrInvariant marks a scoring bookkeeping defect, such as a negative
	// acceptance probability.
	ErrInvariant = errors.New("optimizer: invariant violated")
	// ErrTaskFailed is returned when a candidate evaluation fails twice.
	ErrTaskFailed = errors.New("optimizer: evaluation task failed")
	// ErrNoLetters is returned when the model has no letters to draw keys from.
	ErrNoLetters = errors.New("optimizer: model has no letter unigrams")
	// ErrConfig is returned for an invalid Config.
	ErrConfig = errors.New("optimizer: invalid config")
)

var tracer = otel.Tracer("ciphersolve.optimizer")

// boundaryRate is the chance of a word boundary in each gap of an initial
// solution: one over the average English word length.
const boundaryRate = 1.0 / 5

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Strategy selects how a sweep updates each symbol.
type Strategy int

const (
	// Annealing proposes one random letter per symbol and applies the
	// Metropolis rule.
	Annealing Strategy = iota
	// Gibbs rescores every letter for the symbol and draws one.
	Gibbs
)

func (s Strategy) String() string {
	switch s {
	case Annealing:
		return "annealing"
	case Gibbs:
		return "gibbs"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy is the inverse of Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "annealing", "simulated-annealing":
		return Annealing, nil
	case "gibbs":
		return Gibbs, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrConfig, s)
}

// Distribution selects how Gibbs candidate scores become weights.
type Distribution int

const (
	// Rank weights candidates by their position in score order only.
	Rank Distribution = iota
	// Softmax weights candidates by exp((score-best)/temperature).
	Softmax
)

func (d Distribution) String() string {
	switch d {
	case Rank:
		return "rank"
	case Softmax:
		return "softmax"
	}
	return fmt.Sprintf("Distribution(%d)", int(d))
}

// ParseDistribution is the inverse of Distribution.String.
func ParseDistribution(s string) (Distribution, error) {
	switch strings.ToLower(s) {
	case "rank":
		return Rank, nil
	case "softmax":
		return Softmax, nil
	}
	return 0, fmt.Errorf("%w: unknown distribution %q", ErrConfig, s)
}

// Config holds the search parameters.
type Config struct {
	Strategy     Strategy
	Distribution Distribution
	// Iterations is the number of sweeps per epoch.
	Iterations     int
	TemperatureMax float64
	TemperatureMin float64
	// IterateRandomly visits symbols in a fresh random order every sweep
	// instead of order of first appearance.
	IterateRandomly bool
	Epochs          int
	// CorrectnessThreshold is the known-key proximity at which an epoch
	// counts as correct.
	CorrectnessThreshold float64
	// TopN is how many distinct solutions the result keeps.
	TopN           int
	WordBoundaries bool
	// Seed makes runs repeatable. Zero seeds from the runtime.
	Seed uint64
}

// Validate checks the ranges of c.
func (c Config) Validate() error {
	switch {
	case c.Iterations < 1:
		return fmt.Errorf("%w: iterations %d", ErrConfig, c.Iterations)
	case c.Epochs < 1:
		return fmt.Errorf("%w: epochs %d", ErrConfig, c.Epochs)
	case c.TemperatureMin < 0:
		return fmt.Errorf("%w: minimum temperature %v", ErrConfig, c.TemperatureMin)
	case c.TemperatureMax < c.TemperatureMin:
		return fmt.Errorf("%w: maximum temperature %v below minimum %v", ErrConfig, c.TemperatureMax, c.TemperatureMin)
	case c.CorrectnessThreshold < 0 || c.CorrectnessThreshold > 1:
		return fmt.Errorf("%w: correctness threshold %v", ErrConfig, c.CorrectnessThreshold)
	case c.Strategy != Annealing && c.Strategy != Gibbs:
		return fmt.Errorf("%w: %v", ErrConfig, c.Strategy)
	case c.Distribution != Rank && c.Distribution != Softmax:
		return fmt.Errorf("%w: %v", ErrConfig, c.Distribution)
	}
	return nil
}

// Progress is reported after every sweep.
type Progress struct {
	Epoch       int
	Sweep       int
	Sweeps      int
	Temperature float64
	Score       float64
}

// Observer is told about progress. Calls come from the goroutine running
// Optimize.
type Observer interface {
	SweepDone(p Progress)
	EpochDone(s EpochSummary)
}

// EpochSummary describes one finished or aborted epoch.
type EpochSummary struct {
	Epoch   int
	Score   float64
	Sweeps  int
	Elapsed time.Duration
	// Proximity is the fraction of positions matching the known key; only
	// meaningful when HasKnown is set.
	Proximity float64
	HasKnown  bool
	Correct   bool
	TimedOut  bool
	Err       error
}

// Result is the outcome of Optimize.
type Result struct {
	RunID  uuid.UUID
	Cipher *cipher.Cipher
	Best   *cipher.Solution
	// Top are the best distinct solutions, best first.
	Top    []*cipher.Solution
	Epochs []EpochSummary
	// CorrectFraction is the share of epochs that reached the correctness
	// threshold, when the cipher has a known solution.
	CorrectFraction float64
	HasKnown        bool
	TimedOut        bool
	Elapsed         time.Duration
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithObserver registers an observer for progress callbacks.
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) { o.observer = obs }
}

// Optimizer runs searches against one model. It holds no per-run state, so
// several ciphers may be optimised at once.
type Optimizer struct {
	cfg      Config
	model    *ngram.Model
	ev       *evaluator.Evaluator
	pool     *workpool.Pool
	logger   *slog.Logger
	observer Observer

	letters []byte
	unigram *roulette.Sampler
	ranks   []float64

	// evaluate rescores a candidate; replaced in tests to inject faults.
	evaluate func(sol *cipher.Solution, id int) error
}

// New prepares an optimizer. The model must be normalised and ev must score
// against it.
func New(model *ngram.Model, ev *evaluator.Evaluator, pool *workpool.Pool, cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = workpool.New(0)
	}

	o := &Optimizer{
		cfg:    cfg,
		model:  model,
		ev:     ev,
		pool:   pool,
		logger: slog.Default(),
		ranks:  rankWeights(len(alphabet)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.evaluate = func(sol *cipher.Solution, id int) error {
		_, err := o.ev.EvaluateIncremental(sol, id)
		return err
	}

	unigrams := model.Unigrams()
	weights := make([]float64, 0, len(unigrams))
	for _, u := range unigrams {
		if u.Letter < 'a' || u.Letter > 'z' {
			continue
		}
		o.letters = append(o.letters, u.Letter)
		weights = append(weights, u.Probability)
	}
	if len(o.letters) == 0 {
		return nil, ErrNoLetters
	}
	s, err := roulette.New(weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoLetters, err)
	}
	o.unigram = s
	return o, nil
}

func (o *Optimizer) newRand() *rand.Rand {
	if o.cfg.Seed != 0 {
		return rand.New(rand.NewPCG(o.cfg.Seed, o.cfg.Seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Optimize searches for the key of c. Cancelling ctx stops the run between
// sweeps; the best solution found so far is still returned, with TimedOut
// set. An error is returned when the cipher cannot be scored at all, when
// the only epoch failed, or when every epoch failed.
func (o *Optimizer) Optimize(ctx context.Context, c *cipher.Cipher) (res *Result, err error) {
	runID := uuid.New()
	ctx, span := tracer.Start(ctx, "optimizer.Optimize")
	span.SetAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("cipher.name", c.Name()),
		attribute.Int("cipher.length", c.Len()),
		attribute.String("optimizer.strategy", o.cfg.Strategy.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := o.ev.Check(cipher.NewSolution(c, o.cfg.WordBoundaries)); err != nil {
		return nil, fmt.Errorf("cipher %q: %w", c.Name(), err)
	}

	logger := o.logger.With("run_id", runID.String(), "cipher", c.Name())
	logger.Info("starting optimizer",
		"symbols", c.Distinct(),
		"length", c.Len(),
		"strategy", o.cfg.Strategy.String(),
		"epochs", o.cfg.Epochs,
		"iterations", o.cfg.Iterations,
	)

	start := time.Now()
	rng := o.newRand()
	top := newSolutionSet(o.cfg.TopN)
	res = &Result{RunID: runID, Cipher: c, HasKnown: c.HasKnownSolution()}

	var firstErr error
	correct := 0
	for epoch := 0; epoch < o.cfg.Epochs; epoch++ {
		if epoch > 0 && ctx.Err() != nil {
			res.TimedOut = true
			break
		}

		best, summary := o.runEpoch(ctx, logger, c, epoch, rng)
		res.Epochs = append(res.Epochs, summary)
		if summary.TimedOut {
			res.TimedOut = true
		}
		if o.observer != nil {
			o.observer.EpochDone(summary)
		}

		if summary.Err != nil {
			epochsTotal.WithLabelValues("failed").Inc()
			logger.Error("epoch failed", "epoch", epoch+1, "error", summary.Err)
			if firstErr == nil {
				firstErr = summary.Err
			}
			continue
		}
		epochsTotal.WithLabelValues("completed").Inc()
		if summary.Correct {
			correct++
		}
		top.add(best)
	}

	res.Elapsed = time.Since(start)
	res.Best = top.best()
	res.Top = top.solutions()
	if res.Best == nil {
		return nil, firstErr
	}
	if res.HasKnown && len(res.Epochs) > 0 {
		res.CorrectFraction = float64(correct) / float64(len(res.Epochs))
		logger.Info("known solution check",
			"correct", correct,
			"epochs", len(res.Epochs),
			"percent", fmt.Sprintf("%.2f", res.CorrectFraction*100),
		)
	}
	span.SetAttributes(attribute.Float64("optimizer.best_score", res.Best.Score()))
	logger.Info("optimizer finished",
		"best_score", res.Best.Score(),
		"elapsed", res.Elapsed,
		"timed_out", res.TimedOut,
	)
	return res, nil
}
