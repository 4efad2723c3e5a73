package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/config"
	"github.com/jmccarv/ciphersolve/internal/corpus"
	"github.com/jmccarv/ciphersolve/internal/evaluator"
	"github.com/jmccarv/ciphersolve/internal/modelstore"
	"github.com/jmccarv/ciphersolve/internal/ngram"
	"github.com/jmccarv/ciphersolve/internal/optimizer"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

// withConfig installs cfg as the application settings for one test.
func withConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	saved := app.cfg
	app.cfg = cfg
	t.Cleanup(func() { app.cfg = saved })
}

func resetSolveFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cipherFile, knownSolution, knownKey = "", "", ""
	})
}

func TestPrintResult(t *testing.T) {
	c, err := cipher.FromLine("line 1", "ABCBCB")
	require.NoError(t, err)
	require.NoError(t, c.SetKnownSolution("banana"))

	sol := cipher.NewSolution(c, false)
	sol.ApplyKey(c.KnownKey())
	sol.SetScore(-1.5, 0)

	res := &optimizer.Result{
		Cipher: c,
		Best:   sol,
		Top:    []*cipher.Solution{sol},
		Epochs: []optimizer.EpochSummary{
			{Epoch: 1, Score: -1.5, Sweeps: 10, HasKnown: true, Proximity: 1, Correct: true, Elapsed: time.Second},
			{Epoch: 2, Score: -3, Sweeps: 4, HasKnown: true, Proximity: 0.5, TimedOut: true},
		},
		HasKnown:        true,
		CorrectFraction: 0.5,
		TimedOut:        true,
		Elapsed:         2 * time.Second,
	}

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "1. -1.5000  banana")
	assert.Contains(t, out, "key: A=b B=a C=n")
	assert.Contains(t, out, "correct epochs: 1 of 2 (50.00%)")
	assert.Contains(t, out, "Evaluated 2 epochs in 2s (stopped early)")
	assert.Contains(t, out, "stopped")

	lines := strings.Split(out, "\n")
	assert.True(t, strings.HasPrefix(lines[0], "epoch"))
	assert.Contains(t, lines[1], "correct")
}

func TestReadCiphersFromFile(t *testing.T) {
	resetSolveFlags(t)
	path := filepath.Join(t.TempDir(), "ciphers.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nABCBCB\n\nXYZ\n"), 0o600))

	ciphers, err := readCiphers(strings.NewReader("ignored"), []string{path})
	require.NoError(t, err)
	require.Len(t, ciphers, 2)
	assert.Equal(t, "line 2", ciphers[0].Name())
	assert.Equal(t, 3, ciphers[1].Len())
}

func TestReadCiphersKnownSolution(t *testing.T) {
	resetSolveFlags(t)
	knownSolution = "banana"

	ciphers, err := readCiphers(strings.NewReader("ABCBCB\n"), nil)
	require.NoError(t, err)
	require.Len(t, ciphers, 1)
	assert.True(t, ciphers[0].HasKnownSolution())

	knownSolution = "bananas"
	_, err = readCiphers(strings.NewReader("ABCBCB\n"), nil)
	assert.Error(t, err)
}

func TestReadCiphersStructured(t *testing.T) {
	resetSolveFlags(t)
	cipherFile = filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(cipherFile, []byte("name: grid\nrows: 2\ncolumns: 2\nciphertext: A B B A\n"), 0o600))

	ciphers, err := readCiphers(strings.NewReader(""), nil)
	require.NoError(t, err)
	require.Len(t, ciphers, 1)
	assert.Equal(t, "grid", ciphers[0].Name())
	assert.Equal(t, 2, ciphers[0].Rows())
}

func TestApplyFlagsOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	cmd.Flags().AddFlagSet(solveCmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--order", "3", "--strategy", "gibbs", "-r", "45s", "-t", "flip-vertically"}))

	cfg := config.Default()
	require.NoError(t, applyFlags(cmd, &cfg))
	assert.Equal(t, 3, cfg.Corpus.Order)
	assert.Equal(t, "gibbs", cfg.Sampler.Strategy)
	assert.Equal(t, 45*time.Second, cfg.Decipherment.MaxRuntime)
	assert.Equal(t, []string{"flip-vertically"}, cfg.Transformers)
	assert.Equal(t, config.Default().Sampler.Iterations, cfg.Sampler.Iterations)
	assert.Equal(t, config.Default().Corpus.Directory, cfg.Corpus.Directory)
	require.NoError(t, cfg.Validate())
}

func TestFlagsOverrideBadEnvironment(t *testing.T) {
	t.Setenv("CIPHERSOLVE_ORDER", "0")
	_, err := config.Load("")
	require.ErrorIs(t, err, config.ErrInvalid)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--order", "4"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Corpus.Order)
}

func longRun(t *testing.T) *optimizer.Optimizer {
	t.Helper()
	im, err := corpus.NewImporter(corpus.Options{Order: 2}, workpool.New(2), nil)
	require.NoError(t, err)
	m, _, err := im.Import(context.Background(), []corpus.Source{corpus.StringSource("t", "the cat sat on the mat")})
	require.NoError(t, err)
	ev, err := evaluator.New(evaluator.NGram, m, 0)
	require.NoError(t, err)
	o, err := optimizer.New(m, ev, workpool.New(2), optimizer.Config{
		Iterations:           100_000_000,
		TemperatureMax:       1,
		Epochs:               1,
		CorrectnessThreshold: 0.9,
		TopN:                 1,
		Seed:                 1,
	})
	require.NoError(t, err)
	return o
}

func TestSolveStopsOnInterrupt(t *testing.T) {
	withConfig(t, config.Default())
	c, err := cipher.FromLine("c", "ABCABD")
	require.NoError(t, err)

	sigs := make(chan os.Signal, 1)
	sigs <- os.Interrupt
	res, err := solve(context.Background(), longRun(t), c, sigs)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	require.NotNil(t, res.Best)
}

func TestSolveStopsAtMaxRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Decipherment.MaxRuntime = 50 * time.Millisecond
	withConfig(t, cfg)
	c, err := cipher.FromLine("c", "ABCABD")
	require.NoError(t, err)

	start := time.Now()
	res, err := solve(context.Background(), longRun(t), c, make(chan os.Signal))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestListAndClearCache(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Corpus.Directory = filepath.Join(dir, "books")
	cfg.Corpus.Cache = filepath.Join(dir, "models.db")
	withConfig(t, cfg)

	m, err := ngram.New(cfg.Corpus.Order)
	require.NoError(t, err)
	m.AddObservation("the")

	store, err := openCache()
	require.NoError(t, err)
	defer store.Close()

	corpusDir, key, err := cacheKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(key, m, modelstore.Meta{Corpus: corpusDir, Files: 3}))
	other := modelstore.Key("/elsewhere", 2, true)
	require.NoError(t, store.Save(other, m, modelstore.Meta{Corpus: "/elsewhere", Files: 1}))

	var buf bytes.Buffer
	require.NoError(t, listCache(&buf, store))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "corpus"))
	assert.Contains(t, out, corpusDir)
	assert.Contains(t, out, "/elsewhere")

	buf.Reset()
	require.NoError(t, clearCache(&buf, store, false))
	assert.Equal(t, "removed "+key+"\n", buf.String())
	entries, err := store.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, other)

	buf.Reset()
	require.NoError(t, clearCache(&buf, store, true))
	entries, err = store.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenCacheNeedsPath(t *testing.T) {
	withConfig(t, config.Default())
	_, err := openCache()
	assert.Error(t, err)
}
