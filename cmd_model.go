package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmccarv/ciphersolve/internal/config"
	"github.com/jmccarv/ciphersolve/internal/corpus"
	"github.com/jmccarv/ciphersolve/internal/modelstore"
	"github.com/jmccarv/ciphersolve/internal/ngram"
)

var (
	corpusDir      string
	order          int
	minimumCount   int64
	wordBoundaries bool
	modelCache     string
	rebuildModel   bool
	clearAll       bool
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Build the language model and show corpus statistics",
	Long: `Build the character n-gram model from the corpus directory, or load it from
the model cache, and print its size and the corpus letter frequencies.

Examples:
  ciphersolve model --corpus ./books --order 5
  ciphersolve model --model-cache models.db --rebuild`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, stats, err := loadModel(cmd.Context())
		if err != nil {
			return err
		}
		return printModel(cmd.OutOrStdout(), m, stats)
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the models held in the model cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()
		return listCache(cmd.OutOrStdout(), store)
	},
}

var modelClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the configured corpus model, or every model, from the model cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()
		return clearCache(cmd.OutOrStdout(), store, clearAll)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&corpusDir, "corpus", "c", "", "Directory of plain text corpus files")
	pf.IntVar(&order, "order", 0, "Longest n-gram in the model")
	pf.Int64Var(&minimumCount, "minimum-count", 0, "Ignore n-grams seen fewer times than this")
	pf.BoolVarP(&wordBoundaries, "word-boundaries", "w", false, "Model spaces between words")
	pf.StringVar(&modelCache, "model-cache", "", "bbolt file caching built models")

	modelCmd.Flags().BoolVar(&rebuildModel, "rebuild", false, "Ignore and replace the cached model")
	modelClearCmd.Flags().BoolVar(&clearAll, "all", false, "Remove every cached model")
	modelCmd.AddCommand(modelListCmd, modelClearCmd)
}

func applyModelFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("corpus") {
		cfg.Corpus.Directory = corpusDir
	}
	if flags.Changed("order") {
		cfg.Corpus.Order = order
	}
	if flags.Changed("minimum-count") {
		cfg.Corpus.MinimumCount = minimumCount
	}
	if flags.Changed("word-boundaries") {
		cfg.Corpus.WordBoundaries = wordBoundaries
	}
	if flags.Changed("model-cache") {
		cfg.Corpus.Cache = modelCache
	}
	return applySolveFlags(cmd, cfg)
}

// loadModel returns the normalised model for the configured corpus, from
// the cache when one is configured and holds it.
func loadModel(ctx context.Context) (*ngram.Model, corpus.Stats, error) {
	cfg := app.cfg.Corpus
	dir, key, err := cacheKey()
	if err != nil {
		return nil, corpus.Stats{}, err
	}

	var store *modelstore.Store
	if cfg.Cache != "" {
		if store, err = modelstore.Open(cfg.Cache); err != nil {
			return nil, corpus.Stats{}, err
		}
		defer store.Close()

		if !rebuildModel {
			m, stats, ok, err := loadCached(ctx, store, key)
			if err != nil {
				app.logger.Warn("ignoring unusable cached model", "key", key, "error", err)
			} else if ok {
				return m, stats, nil
			}
		}
	}

	im, err := corpus.NewImporter(app.cfg.CorpusOptions(), app.pool, app.logger)
	if err != nil {
		return nil, corpus.Stats{}, err
	}
	m, stats, err := im.ImportDirectory(ctx, dir)
	if err != nil {
		return nil, stats, err
	}

	if store != nil {
		meta := modelstore.Meta{Corpus: dir, WordBoundaries: cfg.WordBoundaries, Files: stats.Files}
		if err := store.Save(key, m, meta); err != nil {
			app.logger.Warn("unable to cache model", "key", key, "error", err)
		} else {
			app.logger.Info("cached model", "cache", cfg.Cache, "key", key)
		}
	}
	return m, stats, nil
}

// cacheKey is the cache entry for the configured corpus directory, made
// absolute.
func cacheKey() (dir, key string, err error) {
	cfg := app.cfg.Corpus
	if dir, err = filepath.Abs(cfg.Directory); err != nil {
		return "", "", err
	}
	return dir, modelstore.Key(dir, cfg.Order, cfg.WordBoundaries), nil
}

func openCache() (*modelstore.Store, error) {
	if app.cfg.Corpus.Cache == "" {
		return nil, errors.New("no model cache configured, use --model-cache")
	}
	return modelstore.Open(app.cfg.Corpus.Cache)
}

func listCache(w io.Writer, store *modelstore.Store) error {
	entries, err := store.Entries()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "corpus\torder\tboundaries\tfiles\tn-grams\tsaved\t")
	for _, key := range keys {
		meta := entries[key]
		fmt.Fprintf(tw, "%s\t%d\t%t\t%d\t%d\t%s\t\n",
			meta.Corpus, meta.Order, meta.WordBoundaries, meta.Files, meta.Total, meta.SavedAt.Format(time.DateTime))
	}
	return tw.Flush()
}

// clearCache removes the configured corpus model, or every model when all is
// set.
func clearCache(w io.Writer, store *modelstore.Store, all bool) error {
	var keys []string
	if all {
		entries, err := store.Entries()
		if err != nil {
			return err
		}
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	} else {
		_, key, err := cacheKey()
		if err != nil {
			return err
		}
		keys = []string{key}
	}
	for _, key := range keys {
		if err := store.Delete(key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		fmt.Fprintln(w, "removed", key)
	}
	return nil
}

func loadCached(ctx context.Context, store *modelstore.Store, key string) (*ngram.Model, corpus.Stats, bool, error) {
	start := time.Now()
	m, meta, ok, err := store.Load(key)
	if err != nil || !ok {
		return nil, corpus.Stats{}, false, err
	}
	m.SetMinimumCount(app.cfg.Corpus.MinimumCount)
	if err := m.Normalize(ctx, app.pool, app.cfg.Corpus.ConditionalProbability); err != nil {
		return nil, corpus.Stats{}, false, err
	}

	stats := corpus.Stats{
		Files:       meta.Files,
		Total:       m.Total(),
		Unique:      int64(m.Len() - 1),
		LevelTotals: make([]int64, m.Order()+1),
		Elapsed:     time.Since(start),
	}
	for l := 1; l <= m.Order(); l++ {
		stats.LevelTotals[l] = m.LevelTotal(l)
	}
	app.logger.Info("loaded cached model",
		"key", key,
		"saved_at", meta.SavedAt,
		"unique", stats.Unique,
		"elapsed", stats.Elapsed,
	)
	return m, stats, true, nil
}

func printModel(w io.Writer, m *ngram.Model, stats corpus.Stats) error {
	fmt.Fprintf(w, "order %d, %d files, %d n-grams observed, %d unique\n",
		m.Order(), stats.Files, stats.Total, stats.Unique)
	for l := 1; l < len(stats.LevelTotals); l++ {
		fmt.Fprintf(w, "  level %d: %d\n", l, stats.LevelTotals[l])
	}
	fmt.Fprintf(w, "unknown n-gram probability %.3g\n", m.UnknownProbability())
	if m.HasConditional() {
		fmt.Fprintln(w, "windows scored by conditional probability")
	}
	fmt.Fprintln(w)
	return corpus.WriteFrequencies(w, corpus.LetterFrequencies(m))
}
