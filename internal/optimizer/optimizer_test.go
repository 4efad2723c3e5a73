package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/corpus"
	"github.com/jmccarv/ciphersolve/internal/evaluator"
	"github.com/jmccarv/ciphersolve/internal/ngram"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

const text = `we need the seeds here even when the evening seems endless
the tree sheltered the green meadow where deer were seen
she said the weather there was better than ever before`

func testModel(t *testing.T, order int, wb bool) *ngram.Model {
	t.Helper()
	im, err := corpus.NewImporter(corpus.Options{Order: order, WordBoundaries: wb}, workpool.New(2), nil)
	require.NoError(t, err)
	m, _, err := im.Import(context.Background(), []corpus.Source{corpus.StringSource("t", text)})
	require.NoError(t, err)
	return m
}

func baseConfig() Config {
	return Config{
		Strategy:             Annealing,
		Iterations:           500,
		TemperatureMax:       5,
		TemperatureMin:       0.01,
		Epochs:               1,
		CorrectnessThreshold: 0.9,
		TopN:                 3,
		Seed:                 42,
	}
}

func newOptimizer(t *testing.T, m *ngram.Model, kind evaluator.Kind, cfg Config, pool *workpool.Pool) *Optimizer {
	t.Helper()
	ev, err := evaluator.New(kind, m, 0)
	require.NoError(t, err)
	o, err := New(m, ev, pool, cfg)
	require.NoError(t, err)
	return o
}

func mostFrequentLetter(m *ngram.Model) byte {
	var best ngram.Unigram
	for _, u := range m.Unigrams() {
		if u.Count > best.Count {
			best = u
		}
	}
	return best.Letter
}

func TestTemperatureSchedule(t *testing.T) {
	const n = 10
	assert.Equal(t, 5.0, Temperature(0, n, 5, 1))
	prev := math.Inf(1)
	for i := 0; i < n; i++ {
		temp := Temperature(i, n, 5, 1)
		assert.Less(t, temp, prev)
		assert.Greater(t, temp, 1.0)
		prev = temp
	}
	assert.InDelta(t, 1.4, Temperature(n-1, n, 5, 1), 1e-12)
	assert.Equal(t, 1.0, Temperature(n, n, 5, 1))
}

func TestAccept(t *testing.T) {
	ok, err := Accept(1, -10, -5, 0.999)
	require.NoError(t, err)
	assert.True(t, ok, "better")

	ok, err = Accept(1, -10, -10, 0.999)
	require.NoError(t, err)
	assert.True(t, ok, "equal")

	p := math.Exp(-1)
	ok, err = Accept(1, -10, -11, p-1e-9)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Accept(1, -10, -11, p+1e-9)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Accept(0, -10, -11, 0)
	require.NoError(t, err)
	assert.False(t, ok, "zero temperature never accepts worse")

	_, err = Accept(1, math.NaN(), -11, 0.5)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestAcceptRateFollowsTemperature(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	const trials = 20000
	for _, temp := range []float64{0.05, 1, 5} {
		for _, delta := range []float64{0.01, 0.05, 0.5, 2} {
			want := math.Exp(-delta / temp)
			accepted := 0
			for i := 0; i < trials; i++ {
				ok, err := Accept(temp, -10, -10-delta, rng.Float64())
				require.NoError(t, err)
				if ok {
					accepted++
				}
			}
			got := float64(accepted) / trials
			assert.InDelta(t, want, got, 0.02, "temperature %v delta %v", temp, delta)
		}
	}
}

func TestRankWeights(t *testing.T) {
	w := rankWeights(26)
	sum := 0.0
	for j, v := range w {
		sum += v
		if j > 0 {
			assert.Greater(t, v, w[j-1])
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, 1.0/26/26, w[0], 1e-15)
}

func TestLetterWeights(t *testing.T) {
	scores := []float64{-3, -1, -2}
	ranks := rankWeights(3)

	w := letterWeights(Rank, scores, 1, ranks)
	assert.Equal(t, []float64{ranks[0], ranks[2], ranks[1]}, w)

	w = letterWeights(Softmax, scores, 1, ranks)
	assert.InDelta(t, math.Exp(-2), w[0], 1e-12)
	assert.Equal(t, 1.0, w[1])
	assert.InDelta(t, math.Exp(-1), w[2], 1e-12)

	w = letterWeights(Softmax, scores, 0, ranks)
	assert.Equal(t, []float64{0, 1, 0}, w)
}

func TestSolutionSet(t *testing.T) {
	c, err := cipher.New("t", 1, 2, []string{"A", "B"})
	require.NoError(t, err)
	mk := func(key string, score float64) *cipher.Solution {
		s := cipher.NewSolution(c, false)
		s.Replace(0, key[0])
		s.Replace(1, key[1])
		s.SetScore(score, 0)
		return s
	}

	ss := newSolutionSet(2)
	first := mk("ab", -5)
	assert.True(t, ss.add(first))
	assert.False(t, ss.add(mk("ab", -1)), "same key")
	assert.True(t, ss.add(mk("cd", -5)))
	assert.Same(t, first, ss.best(), "ties keep the earlier")
	assert.False(t, ss.add(mk("ef", -5)), "full and not strictly better")
	assert.True(t, ss.add(mk("gh", -2)))
	require.Len(t, ss.solutions(), 2)
	assert.Equal(t, -2.0, ss.best().Score())
	assert.Same(t, first, ss.solutions()[1])
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, baseConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"iterations", func(c *Config) { c.Iterations = 0 }},
		{"epochs", func(c *Config) { c.Epochs = 0 }},
		{"negative min", func(c *Config) { c.TemperatureMin = -1 }},
		{"max below min", func(c *Config) { c.TemperatureMax = 0.001 }},
		{"threshold", func(c *Config) { c.CorrectnessThreshold = 1.5 }},
		{"strategy", func(c *Config) { c.Strategy = Strategy(9) }},
		{"distribution", func(c *Config) { c.Distribution = Distribution(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
}

func TestParseNames(t *testing.T) {
	s, err := ParseStrategy("Gibbs")
	require.NoError(t, err)
	assert.Equal(t, Gibbs, s)
	_, err = ParseStrategy("genetic")
	assert.ErrorIs(t, err, ErrConfig)

	d, err := ParseDistribution("softmax")
	require.NoError(t, err)
	assert.Equal(t, Softmax, d)
	_, err = ParseDistribution("uniform")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSingleSymbolConverges(t *testing.T) {
	c, err := cipher.FromLine("ones", "AAAAAAAA")
	require.NoError(t, err)

	// e is the commonest letter and ee the commonest doubled pair.
	for _, order := range []int{1, 2} {
		m := testModel(t, order, false)
		require.Equal(t, byte('e'), mostFrequentLetter(m))

		for _, tc := range []struct {
			name string
			cfg  func(*Config)
		}{
			{"annealing", func(*Config) {}},
			{"gibbs softmax", func(c *Config) { c.Strategy = Gibbs; c.Distribution = Softmax; c.Iterations = 100 }},
			{"gibbs rank", func(c *Config) { c.Strategy = Gibbs; c.Distribution = Rank; c.Iterations = 100 }},
		} {
			t.Run(fmt.Sprintf("order %d %s", order, tc.name), func(t *testing.T) {
				cfg := baseConfig()
				tc.cfg(&cfg)
				o := newOptimizer(t, m, evaluator.NGram, cfg, workpool.New(4))

				res, err := o.Optimize(context.Background(), c)
				require.NoError(t, err)
				require.NotNil(t, res.Best)
				assert.Equal(t, byte('e'), res.Best.Letter(0))
				assert.Equal(t, "eeeeeeee", res.Best.Plaintext())
				assert.Len(t, res.Best.LogProbabilities(), 9-order)
				assert.False(t, res.TimedOut)
				require.Len(t, res.Epochs, 1)
				assert.Equal(t, cfg.Iterations, res.Epochs[0].Sweeps)
			})
		}
	}
}

func TestKnownSolutionFraction(t *testing.T) {
	m := testModel(t, 1, false)
	cfg := baseConfig()
	cfg.Epochs = 3
	o := newOptimizer(t, m, evaluator.NGram, cfg, workpool.New(2))

	right, err := cipher.FromLine("right", "AAAA")
	require.NoError(t, err)
	require.NoError(t, right.SetKnownSolution("eeee"))
	res, err := o.Optimize(context.Background(), right)
	require.NoError(t, err)
	assert.True(t, res.HasKnown)
	assert.Len(t, res.Epochs, 3)
	assert.Equal(t, 1.0, res.CorrectFraction)
	for _, e := range res.Epochs {
		assert.True(t, e.Correct)
		assert.Equal(t, 1.0, e.Proximity)
	}

	wrong, err := cipher.FromLine("wrong", "AAAA")
	require.NoError(t, err)
	require.NoError(t, wrong.SetKnownSolution("qqqq"))
	res, err = o.Optimize(context.Background(), wrong)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.CorrectFraction)
	assert.Len(t, res.Top, 1, "every epoch finds the same key")
}

func TestBookkeepingStaysConsistent(t *testing.T) {
	for _, strategy := range []Strategy{Annealing, Gibbs} {
		t.Run(strategy.String(), func(t *testing.T) {
			m := testModel(t, 3, true)
			cfg := baseConfig()
			cfg.Strategy = strategy
			cfg.Iterations = 20
			cfg.Epochs = 2
			cfg.WordBoundaries = true
			cfg.IterateRandomly = true
			o := newOptimizer(t, m, evaluator.NGramIndexOfCoincidence, cfg, workpool.New(4))

			c, err := cipher.FromLine("text", "ABCDBEFGHCIJKAELMNBO")
			require.NoError(t, err)
			res, err := o.Optimize(context.Background(), c)
			require.NoError(t, err)

			ev, err := evaluator.New(evaluator.NGramIndexOfCoincidence, m, 0)
			require.NoError(t, err)
			for _, sol := range res.Top {
				fresh := sol.Clone()
				require.NoError(t, ev.EvaluateFull(fresh))
				assert.InDelta(t, fresh.Score(), sol.Score(), 1e-9)
				assert.Equal(t, fresh.LogProbabilities(), sol.LogProbabilities())
			}
			for i := 1; i < len(res.Top); i++ {
				assert.GreaterOrEqual(t, res.Top[i-1].Score(), res.Top[i].Score())
			}
		})
	}
}

func TestCancelledRunReturnsBestSoFar(t *testing.T) {
	m := testModel(t, 2, false)
	cfg := baseConfig()
	cfg.Epochs = 5
	o := newOptimizer(t, m, evaluator.NGram, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := cipher.FromLine("c", "ABCABD")
	require.NoError(t, err)

	res, err := o.Optimize(ctx, c)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	require.Len(t, res.Epochs, 1)
	assert.Equal(t, 0, res.Epochs[0].Sweeps)
	assert.True(t, res.Epochs[0].TimedOut)
	require.NotNil(t, res.Best)
}

func TestEmptyCipherIsRejected(t *testing.T) {
	m := testModel(t, 2, false)
	o := newOptimizer(t, m, evaluator.NGram, baseConfig(), nil)
	c, err := cipher.New("empty", 0, 0, nil)
	require.NoError(t, err)
	_, err = o.Optimize(context.Background(), c)
	assert.ErrorIs(t, err, evaluator.ErrEmptyPlaintext)
}

func TestGibbsRetriesFailedTaskOnce(t *testing.T) {
	m := testModel(t, 2, false)
	cfg := baseConfig()
	cfg.Strategy = Gibbs
	cfg.Iterations = 3
	// One worker makes every retry directly follow its failure.
	o := newOptimizer(t, m, evaluator.NGram, cfg, workpool.New(1))

	var calls atomic.Int64
	evaluate := o.evaluate
	o.evaluate = func(sol *cipher.Solution, id int) error {
		switch calls.Add(1) % 4 {
		case 1:
			return errors.New("transient")
		case 3:
			panic("transient panic")
		}
		return evaluate(sol, id)
	}

	c, err := cipher.FromLine("c", "ABCAB")
	require.NoError(t, err)
	res, err := o.Optimize(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Epochs[0].Sweeps)
}

func TestGibbsTaskFailsAfterRetry(t *testing.T) {
	m := testModel(t, 2, false)
	cfg := baseConfig()
	cfg.Strategy = Gibbs
	cfg.Iterations = 3

	for _, epochs := range []int{1, 2} {
		cfg.Epochs = epochs
		o := newOptimizer(t, m, evaluator.NGram, cfg, workpool.New(2))
		o.evaluate = func(*cipher.Solution, int) error { return errors.New("broken") }

		c, err := cipher.FromLine("c", "ABCAB")
		require.NoError(t, err)
		_, err = o.Optimize(context.Background(), c)
		assert.ErrorIs(t, err, ErrTaskFailed, "epochs %d", epochs)
	}
}

func TestNewRequiresLetters(t *testing.T) {
	m, err := ngram.New(1)
	require.NoError(t, err)
	m.AddObservation(" ")
	require.NoError(t, m.Normalize(context.Background(), workpool.New(1), false))
	ev, err := evaluator.New(evaluator.NGram, m, 0)
	require.NoError(t, err)

	_, err = New(m, ev, nil, baseConfig())
	assert.ErrorIs(t, err, ErrNoLetters)

	bad := baseConfig()
	bad.Epochs = 0
	_, err = New(m, ev, nil, bad)
	assert.ErrorIs(t, err, ErrConfig)
}
