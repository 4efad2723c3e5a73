// Package config loads solver settings with priority flags > environment >
// file > defaults. The command layer applies flags; everything else is here.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jmccarv/ciphersolve/internal/corpus"
	"github.com/jmccarv/ciphersolve/internal/evaluator"
	"github.com/jmccarv/ciphersolve/internal/logging"
	"github.com/jmccarv/ciphersolve/internal/optimizer"
	"github.com/jmccarv/ciphersolve/internal/transform"
)

// ErrInvalid is returned when a configuration fails validation or cannot be
// parsed.
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix starts every environment override.
const EnvPrefix = "CIPHERSOLVE_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full set of solver settings.
type Config struct {
	Corpus       CorpusConfig       `json:"corpus" yaml:"corpus"`
	Sampler      SamplerConfig      `json:"sampler" yaml:"sampler"`
	Decipherment DeciphermentConfig `json:"decipherment" yaml:"decipherment"`
	// Transformers rearrange every cipher before solving, in order.
	Transformers []string `json:"transformers" yaml:"transformers"`
	// Workers bounds concurrent tasks; zero means twice the CPU count.
	Workers int            `json:"workers" yaml:"workers" validate:"gte=0"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// CorpusConfig describes the language model.
type CorpusConfig struct {
	Directory              string `json:"directory" yaml:"directory" validate:"required"`
	Extension              string `json:"extension" yaml:"extension" validate:"required,startswith=."`
	Order                  int    `json:"order" yaml:"order" validate:"min=1,max=12"`
	MinimumCount           int64  `json:"minimum_count" yaml:"minimum_count" validate:"gte=0"`
	WordBoundaries         bool   `json:"word_boundaries" yaml:"word_boundaries"`
	ConditionalProbability bool   `json:"conditional_probability" yaml:"conditional_probability"`
	// Cache is a bbolt file holding built models; empty disables caching.
	Cache string `json:"cache" yaml:"cache"`
}

// SamplerConfig controls one epoch of search.
type SamplerConfig struct {
	Strategy        string  `json:"strategy" yaml:"strategy" validate:"oneof=annealing simulated-annealing gibbs"`
	Distribution    string  `json:"distribution" yaml:"distribution" validate:"oneof=rank softmax"`
	Iterations      int     `json:"iterations" yaml:"iterations" validate:"min=1"`
	TemperatureMax  float64 `json:"temperature_max" yaml:"temperature_max" validate:"gtefield=TemperatureMin"`
	TemperatureMin  float64 `json:"temperature_min" yaml:"temperature_min" validate:"gte=0"`
	IterateRandomly bool    `json:"iterate_randomly" yaml:"iterate_randomly"`
	Seed            uint64  `json:"seed" yaml:"seed"`
}

// DeciphermentConfig controls the run as a whole.
type DeciphermentConfig struct {
	Epochs               int     `json:"epochs" yaml:"epochs" validate:"min=1"`
	CorrectnessThreshold float64 `json:"correctness_threshold" yaml:"correctness_threshold" validate:"gte=0,lte=1"`
	Evaluator            string  `json:"evaluator" yaml:"evaluator" validate:"oneof=ngram ngram-ioc"`
	// IndexOfCoincidenceRoot softens the index of coincidence in the
	// composite evaluator.
	IndexOfCoincidenceRoot float64       `json:"ioc_root" yaml:"ioc_root" validate:"gte=1"`
	TopN                   int           `json:"top_n" yaml:"top_n" validate:"min=1"`
	MaxRuntime             time.Duration `json:"max_runtime" yaml:"max_runtime" validate:"gte=0"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Corpus: CorpusConfig{
			Directory:              "corpus",
			Extension:              corpus.DefaultExtension,
			Order:                  5,
			MinimumCount:           1,
			WordBoundaries:         false,
			ConditionalProbability: false,
		},
		// The ngram-ioc score is a mean log probability, so one proposal
		// moves it by a tenth or less; the temperatures are on that scale.
		Sampler: SamplerConfig{
			Strategy:       "annealing",
			Distribution:   "rank",
			Iterations:     5000,
			TemperatureMax: 0.05,
			TemperatureMin: 0,
		},
		Decipherment: DeciphermentConfig{
			Epochs:                 10,
			CorrectnessThreshold:   0.9,
			Evaluator:              "ngram-ioc",
			IndexOfCoincidenceRoot: evaluator.DefaultRoot,
			TopN:                   3,
		},
		Logging: logging.Config{Level: "info", Format: logging.FormatAuto},
	}
}

// Load reads the configuration with Read and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read starts from Default, applies the file at path when path is not empty,
// then environment overrides. The result is not validated, so callers with
// overrides of their own apply them before calling Validate.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return nil
}

type envParser struct {
	errs []error
}

func (p *envParser) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func (p *envParser) fail(name string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s%s: %w", ErrInvalid, EnvPrefix, name, err))
}

func (p *envParser) str(name string, dst *string) {
	if v, ok := p.lookup(name); ok {
		*dst = v
	}
}

func (p *envParser) integer(name string, dst *int) {
	if v, ok := p.lookup(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = i
	}
}

func (p *envParser) integer64(name string, dst *int64) {
	if v, ok := p.lookup(name); ok {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = i
	}
}

func (p *envParser) unsigned(name string, dst *uint64) {
	if v, ok := p.lookup(name); ok {
		i, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = i
	}
}

func (p *envParser) float(name string, dst *float64) {
	if v, ok := p.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = f
	}
}

func (p *envParser) boolean(name string, dst *bool) {
	if v, ok := p.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = b
	}
}

func (p *envParser) duration(name string, dst *time.Duration) {
	if v, ok := p.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = d
	}
}

func loadEnv(cfg *Config) error {
	var p envParser

	p.str("CORPUS_DIR", &cfg.Corpus.Directory)
	p.str("CORPUS_EXTENSION", &cfg.Corpus.Extension)
	p.integer("ORDER", &cfg.Corpus.Order)
	p.integer64("MINIMUM_COUNT", &cfg.Corpus.MinimumCount)
	p.boolean("WORD_BOUNDARIES", &cfg.Corpus.WordBoundaries)
	p.boolean("CONDITIONAL_PROBABILITY", &cfg.Corpus.ConditionalProbability)
	p.str("MODEL_CACHE", &cfg.Corpus.Cache)

	p.str("STRATEGY", &cfg.Sampler.Strategy)
	p.str("DISTRIBUTION", &cfg.Sampler.Distribution)
	p.integer("ITERATIONS", &cfg.Sampler.Iterations)
	p.float("TEMPERATURE_MAX", &cfg.Sampler.TemperatureMax)
	p.float("TEMPERATURE_MIN", &cfg.Sampler.TemperatureMin)
	p.boolean("ITERATE_RANDOMLY", &cfg.Sampler.IterateRandomly)
	p.unsigned("SEED", &cfg.Sampler.Seed)

	p.integer("EPOCHS", &cfg.Decipherment.Epochs)
	p.float("CORRECTNESS_THRESHOLD", &cfg.Decipherment.CorrectnessThreshold)
	p.str("EVALUATOR", &cfg.Decipherment.Evaluator)
	p.float("IOC_ROOT", &cfg.Decipherment.IndexOfCoincidenceRoot)
	p.integer("TOP_N", &cfg.Decipherment.TopN)
	p.duration("MAX_RUNTIME", &cfg.Decipherment.MaxRuntime)

	if v, ok := p.lookup("TRANSFORMERS"); ok {
		cfg.Transformers = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	p.integer("WORKERS", &cfg.Workers)

	p.str("LOG_LEVEL", &cfg.Logging.Level)
	p.str("LOG_FORMAT", &cfg.Logging.Format)
	p.str("LOG_FILE", &cfg.Logging.File)

	return errors.Join(p.errs...)
}

// Validate checks field ranges and the names of strategies, evaluators and
// transformers.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, spec := range c.Transformers {
		if _, err := transform.Lookup(spec); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if _, err := c.OptimizerConfig(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// CorpusOptions are the importer settings.
func (c Config) CorpusOptions() corpus.Options {
	return corpus.Options{
		Order:                  c.Corpus.Order,
		WordBoundaries:         c.Corpus.WordBoundaries,
		Extension:              c.Corpus.Extension,
		ConditionalProbability: c.Corpus.ConditionalProbability,
		MinimumCount:           c.Corpus.MinimumCount,
	}
}

// EvaluatorKind is the configured evaluator.
func (c Config) EvaluatorKind() (evaluator.Kind, error) {
	return evaluator.ParseKind(c.Decipherment.Evaluator)
}

// OptimizerConfig is the search configuration.
func (c Config) OptimizerConfig() (optimizer.Config, error) {
	strategy, err := optimizer.ParseStrategy(c.Sampler.Strategy)
	if err != nil {
		return optimizer.Config{}, err
	}
	dist, err := optimizer.ParseDistribution(c.Sampler.Distribution)
	if err != nil {
		return optimizer.Config{}, err
	}
	oc := optimizer.Config{
		Strategy:             strategy,
		Distribution:         dist,
		Iterations:           c.Sampler.Iterations,
		TemperatureMax:       c.Sampler.TemperatureMax,
		TemperatureMin:       c.Sampler.TemperatureMin,
		IterateRandomly:      c.Sampler.IterateRandomly,
		Epochs:               c.Decipherment.Epochs,
		CorrectnessThreshold: c.Decipherment.CorrectnessThreshold,
		TopN:                 c.Decipherment.TopN,
		WordBoundaries:       c.Corpus.WordBoundaries,
		Seed:                 c.Sampler.Seed,
	}
	return oc, oc.Validate()
}
