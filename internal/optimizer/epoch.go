package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/roulette"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

var (
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersolve_optimizer_proposals_total",
		Help: "Letter proposals by strategy and outcome",
	}, []string{"strategy", "result"})

	boundaryFlipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphersolve_optimizer_boundary_flips_total",
		Help: "Word boundaries added or removed by the boundary sampler",
	})

	taskRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphersolve_optimizer_task_retries_total",
		Help: "Candidate evaluations retried after a failure",
	})

	epochsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersolve_optimizer_epochs_total",
		Help: "Epochs by outcome",
	}, []string{"result"})

	epochDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciphersolve_optimizer_epoch_duration_seconds",
		Help:    "Wall time of one epoch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})
)

// runEpoch never returns a nil solution unless summary.Err is set.
func (o *Optimizer) runEpoch(ctx context.Context, logger *slog.Logger, c *cipher.Cipher, epoch int, rng *rand.Rand) (best *cipher.Solution, summary EpochSummary) {
	ctx, span := tracer.Start(ctx, "optimizer.epoch", trace.WithAttributes(attribute.Int("epoch", epoch+1)))
	start := time.Now()
	summary.Epoch = epoch + 1
	defer func() {
		summary.Elapsed = time.Since(start)
		epochDuration.Observe(summary.Elapsed.Seconds())
		if summary.Err != nil {
			span.RecordError(summary.Err)
			span.SetStatus(codes.Error, summary.Err.Error())
		}
		span.End()
	}()

	logger.Info("starting epoch", "epoch", epoch+1, "of", o.cfg.Epochs, "iterations", o.cfg.Iterations)

	sol := o.initialSolution(c, rng)
	if err := o.ev.EvaluateFull(sol); err != nil {
		summary.Err = fmt.Errorf("epoch %d: initial solution: %w", epoch+1, err)
		return nil, summary
	}
	best = sol.Clone()

	order := make([]int, c.Distinct())
	for i := range order {
		order[i] = i
	}
	debug := rate.Sometimes{Interval: time.Second}
	// A sweep that has started runs to the end.
	sweepCtx := context.WithoutCancel(ctx)

	n := o.cfg.Iterations
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			summary.TimedOut = true
			break
		}
		t := Temperature(i, n, o.cfg.TemperatureMax, o.cfg.TemperatureMin)
		if o.cfg.IterateRandomly {
			rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		}

		var err error
		switch o.cfg.Strategy {
		case Gibbs:
			sol, err = o.gibbsSweep(sweepCtx, sol, order, t, rng)
		default:
			err = o.annealSweep(sol, order, t, rng)
		}
		if err == nil && sol.WordBoundaries() {
			err = o.boundarySweep(sol, t, rng)
		}
		if err != nil {
			summary.Err = fmt.Errorf("epoch %d sweep %d: %w", epoch+1, i+1, err)
			summary.Sweeps = i
			return nil, summary
		}
		summary.Sweeps = i + 1

		if sol.Score() > best.Score() {
			best = sol.Clone()
		}
		if o.observer != nil {
			o.observer.SweepDone(Progress{Epoch: epoch + 1, Sweep: i + 1, Sweeps: n, Temperature: t, Score: best.Score()})
		}
		debug.Do(func() {
			logger.Debug("sweep complete",
				"epoch", epoch+1,
				"sweep", i+1,
				"temperature", t,
				"score", sol.Score(),
				"best", best.Score(),
			)
		})
	}

	summary.Score = best.Score()
	if p, ok := best.KnownProximity(); ok {
		summary.HasKnown = true
		summary.Proximity = p
		summary.Correct = o.cfg.CorrectnessThreshold <= p
	}
	logger.Info("epoch complete",
		"epoch", epoch+1,
		"score", summary.Score,
		"sweeps", summary.Sweeps,
		"elapsed", time.Since(start),
		"plaintext", best.String(),
	)
	return best, summary
}

// initialSolution draws every symbol's letter from the unigram distribution
// and, with boundaries modelled, puts a boundary in each gap with
// probability boundaryRate.
func (o *Optimizer) initialSolution(c *cipher.Cipher, rng *rand.Rand) *cipher.Solution {
	sol := cipher.NewSolution(c, o.cfg.WordBoundaries)
	for id := 0; id < c.Distinct(); id++ {
		sol.Replace(id, o.letters[o.unigram.Next(rng)])
	}
	for gap := 0; gap < sol.Gaps(); gap++ {
		if rng.Float64() < boundaryRate {
			sol.SetBoundary(gap, true)
		}
	}
	return sol
}

// annealSweep proposes one uniformly drawn letter per symbol and keeps it
// under the Metropolis rule. A proposal equal to the current letter is
// skipped.
func (o *Optimizer) annealSweep(sol *cipher.Solution, order []int, t float64, rng *rand.Rand) error {
	var accepted, rejected, skipped int
	for _, id := range order {
		l := alphabet[rng.IntN(len(alphabet))]
		prev := sol.Letter(id)
		if l == prev {
			skipped++
			continue
		}

		current := sol.Score()
		sol.Replace(id, l)
		cp, err := o.ev.EvaluateIncremental(sol, id)
		if err != nil {
			return err
		}
		ok, err := Accept(t, current, sol.Score(), rng.Float64())
		if err != nil {
			return err
		}
		if ok {
			accepted++
			continue
		}
		sol.Replace(id, prev)
		sol.Restore(cp)
		rejected++
	}
	proposalsTotal.WithLabelValues("annealing", "accepted").Add(float64(accepted))
	proposalsTotal.WithLabelValues("annealing", "rejected").Add(float64(rejected))
	proposalsTotal.WithLabelValues("annealing", "skipped").Add(float64(skipped))
	return nil
}

// gibbsSweep replaces each symbol's letter with a draw from its full
// conditional distribution. It returns the solution to carry on with, which
// is one of the rescored candidates.
func (o *Optimizer) gibbsSweep(ctx context.Context, sol *cipher.Solution, order []int, t float64, rng *rand.Rand) (*cipher.Solution, error) {
	scores := make([]float64, len(alphabet))
	for _, id := range order {
		base := sol
		candidates, err := workpool.Map(ctx, o.pool, len(alphabet), func(_ context.Context, i int) (*cipher.Solution, error) {
			return o.candidate(base, id, alphabet[i])
		})
		if err != nil {
			return nil, err
		}

		for i, cand := range candidates {
			scores[i] = cand.Score()
		}
		s, err := roulette.New(letterWeights(o.cfg.Distribution, scores, t, o.ranks))
		if err != nil {
			return nil, fmt.Errorf("%w: letter distribution: %w", ErrInvariant, err)
		}
		pick := s.Next(rng)
		if candidates[pick].Letter(id) == sol.Letter(id) {
			proposalsTotal.WithLabelValues("gibbs", "unchanged").Inc()
		} else {
			proposalsTotal.WithLabelValues("gibbs", "changed").Inc()
		}
		sol = candidates[pick]
	}
	return sol, nil
}

// candidate scores base with symbol id set to l, on a copy. A failed
// evaluation is retried once.
func (o *Optimizer) candidate(base *cipher.Solution, id int, l byte) (*cipher.Solution, error) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var cand *cipher.Solution
		if cand, err = o.tryCandidate(base, id, l); err == nil {
			return cand, nil
		}
		if attempt == 1 {
			taskRetriesTotal.Inc()
			o.logger.Warn("retrying candidate evaluation", "letter", string(l), "error", err)
		}
	}
	return nil, fmt.Errorf("%w: letter %c: %w", ErrTaskFailed, l, err)
}

func (o *Optimizer) tryCandidate(base *cipher.Solution, id int, l byte) (cand *cipher.Solution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", workpool.ErrPanic, r)
		}
	}()
	cand = base.Clone()
	cand.Replace(id, l)
	if err := o.evaluate(cand, id); err != nil {
		return nil, err
	}
	return cand, nil
}

// boundarySweep redraws every gap from the two-outcome distribution of the
// local scores with and without a boundary there, softened by t. The draw
// replaces the current state directly; a change is followed by a full
// rescore.
func (o *Optimizer) boundarySweep(sol *cipher.Solution, t float64, rng *rand.Rand) error {
	weights := make([]float64, 2)
	for gap := 0; gap < sol.Gaps(); gap++ {
		with, without, err := o.ev.BoundaryScores(sol, gap)
		if err != nil {
			return err
		}
		softmax([]float64{with, without}, t, weights)
		s, err := roulette.New(weights)
		if err != nil {
			return fmt.Errorf("%w: boundary distribution: %w", ErrInvariant, err)
		}
		if !sol.SetBoundary(gap, s.Next(rng) == 0) {
			continue
		}
		boundaryFlipsTotal.Inc()
		if err := o.ev.EvaluateFull(sol); err != nil {
			return err
		}
	}
	return nil
}
