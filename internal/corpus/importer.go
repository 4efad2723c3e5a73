// Package corpus builds an n-gram model from plain text documents.
//
// Each document is parsed on its own worker into local counts. Once every
// document is done the counts are merged into the model, which is then
// normalised and frozen.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jmccarv/ciphersolve/internal/ngram"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

// DefaultExtension is the extension of corpus files picked up from a directory.
const DefaultExtension = ".txt"

var tracer = otel.Tracer("ciphersolve.corpus")

var (
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersolve_corpus_files_total",
		Help: "Corpus files seen by result",
	}, []string{"result"})

	windowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ciphersolve_corpus_windows_total",
		Help: "N-gram windows observed across all corpus files",
	})

	importDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciphersolve_corpus_import_duration_seconds",
		Help:    "Time to import and normalise a corpus",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

// Options control how text is turned into n-grams.
type Options struct {
	Order                  int
	WordBoundaries         bool
	Extension              string
	ConditionalProbability bool
	MinimumCount           int64
}

// Stats summarise an import.
type Stats struct {
	Files   int
	Skipped int
	Failed  int
	Total   int64
	// Unique is the number of distinct n-grams of any length in the model.
	Unique      int64
	LevelTotals []int64
	Elapsed     time.Duration
}

// Importer turns corpus sources into a normalised model.
type Importer struct {
	opts   Options
	pool   *workpool.Pool
	logger *slog.Logger
}

// NewImporter validates opts and returns an Importer. A nil pool runs with
// the default size; a nil logger uses slog.Default.
func NewImporter(opts Options, pool *workpool.Pool, logger *slog.Logger) (*Importer, error) {
	if opts.Order < 1 {
		return nil, fmt.Errorf("%w: got %d", ngram.ErrOrder, opts.Order)
	}
	if opts.MinimumCount < 0 {
		return nil, fmt.Errorf("corpus: minimum count %d is negative", opts.MinimumCount)
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if pool == nil {
		pool = workpool.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{opts: opts, pool: pool, logger: logger}, nil
}

// ImportDirectory imports every file under dir with the configured extension.
func (im *Importer) ImportDirectory(ctx context.Context, dir string) (*ngram.Model, Stats, error) {
	sources, skipped, failed, err := DirectorySources(dir, im.opts.Extension, im.logger)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("corpus: list %s: %w", dir, err)
	}
	filesTotal.WithLabelValues("skipped").Add(float64(skipped))
	filesTotal.WithLabelValues("failed").Add(float64(failed))

	m, stats, err := im.Import(ctx, sources)
	stats.Skipped += skipped
	stats.Failed += failed
	return m, stats, err
}

// Import parses every source concurrently, merges the counts and normalises
// the model. A source that cannot be read is logged and counted as failed.
func (im *Importer) Import(ctx context.Context, sources []Source) (_ *ngram.Model, stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "corpus.Import")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	im.logger.Info("starting corpus import",
		"sources", len(sources),
		"order", im.opts.Order,
		"word_boundaries", im.opts.WordBoundaries,
	)

	results, err := workpool.Map(ctx, im.pool, len(sources), func(_ context.Context, i int) (*FileResults, error) {
		return im.parseSource(sources[i]), nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("corpus: parse: %w", err)
	}

	model, err := ngram.New(im.opts.Order)
	if err != nil {
		return nil, stats, err
	}
	model.SetMinimumCount(im.opts.MinimumCount)

	stats.LevelTotals = make([]int64, im.opts.Order+1)
	for _, res := range results {
		if res == nil {
			stats.Failed++
			continue
		}
		stats.Files++
		stats.Total += res.Total
		for l, n := range res.LevelTotals {
			stats.LevelTotals[l] += n
		}
		for gram, n := range res.Counts {
			model.AddObservationCount(gram, n)
		}
	}
	stats.Unique = int64(model.Len() - 1)
	windowsTotal.Add(float64(stats.Total))

	if err := model.Normalize(ctx, im.pool, im.opts.ConditionalProbability); err != nil {
		if errors.Is(err, ngram.ErrEmptyModel) {
			return nil, stats, fmt.Errorf("corpus: %d files yielded no letters: %w", stats.Files, err)
		}
		return nil, stats, err
	}

	stats.Elapsed = time.Since(start)
	importDuration.Observe(stats.Elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("corpus.files", stats.Files),
		attribute.Int("corpus.failed", stats.Failed),
		attribute.Int64("corpus.total", stats.Total),
		attribute.Int64("corpus.unique", stats.Unique),
	)
	im.logger.Info("imported corpus",
		"files", stats.Files,
		"failed", stats.Failed,
		"unique", stats.Unique,
		"total", stats.Total,
		"elapsed", stats.Elapsed,
	)
	return model, stats, nil
}

// parseSource returns nil when the source could not be read.
func (im *Importer) parseSource(src Source) *FileResults {
	rc, err := src.Open()
	if err != nil {
		im.logger.Warn("unable to open corpus file", "name", src.Name, "error", err)
		filesTotal.WithLabelValues("failed").Inc()
		return nil
	}
	defer rc.Close()

	res, err := Parse(rc, im.opts.Order, im.opts.WordBoundaries)
	if err != nil {
		im.logger.Warn("unable to read corpus file", "name", src.Name, "error", err)
		filesTotal.WithLabelValues("failed").Inc()
		return nil
	}
	filesTotal.WithLabelValues("parsed").Inc()
	im.logger.Debug("parsed corpus file", "name", src.Name, "windows", res.Total, "distinct", res.Unique())
	return res
}
