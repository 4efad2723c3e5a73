// Package evaluator scores the plaintext of a solution against an n-gram
// model.
//
// Scores live in log space. A full evaluation looks up every window of the
// rendered plaintext; an incremental one looks up only the windows touching
// the positions of one symbol and returns a checkpoint for rolling back.
package evaluator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jmccarv/ciphersolve/internal/cipher"
	"github.com/jmccarv/ciphersolve/internal/ngram"
)

var (
	// ErrEmptyPlaintext is returned when there is nothing to score.
	ErrEmptyPlaintext = errors.New("evaluator: empty plaintext")
	// ErrPlaintextTooShort is returned when no window of the model order fits.
	ErrPlaintextTooShort = errors.New("evaluator: plaintext shorter than model order")
	// ErrWindowCount is returned when a solution's window array no longer
	// matches its rendering.
	ErrWindowCount = errors.New("evaluator: window count does not match plaintext")
	// ErrUnknownKind is returned by ParseKind.
	ErrUnknownKind = errors.New("evaluator: unknown evaluator")
	// ErrGap is returned for a word boundary gap outside the plaintext.
	ErrGap = errors.New("evaluator: no such gap")
	// ErrRoot is returned for an index of coincidence root below 1.
	ErrRoot = errors.New("evaluator: root must be at least 1")
)

// DefaultRoot is the root taken of the index of coincidence before it scales
// the mean log probability.
const DefaultRoot = 6

// Kind selects how the score is formed.
type Kind int

const (
	// NGram scores a solution by its summed window log probabilities.
	NGram Kind = iota
	// NGramIndexOfCoincidence scores by the mean window log probability times
	// a root of the plaintext's index of coincidence.
	NGramIndexOfCoincidence
)

func (k Kind) String() string {
	switch k {
	case NGram:
		return "ngram"
	case NGramIndexOfCoincidence:
		return "ngram-ioc"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "ngram":
		return NGram, nil
	case "ngram-ioc", "ngram_ioc":
		return NGramIndexOfCoincidence, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Evaluator scores solutions. It only reads the model, so one Evaluator
// serves any number of goroutines as long as each works on its own
// solution.
type Evaluator struct {
	kind    Kind
	model   *ngram.Model
	order   int
	inverse float64
}

// New returns an evaluator of the given kind. A root of zero selects
// DefaultRoot.
func New(kind Kind, model *ngram.Model, root float64) (*Evaluator, error) {
	if model == nil || !model.Normalized() {
		return nil, errors.New("evaluator: model must be normalised")
	}
	if kind != NGram && kind != NGramIndexOfCoincidence {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	switch {
	case root == 0:
		root = DefaultRoot
	case root < 1 || math.IsNaN(root):
		return nil, fmt.Errorf("%w: got %v", ErrRoot, root)
	}
	return &Evaluator{kind: kind, model: model, order: model.Order(), inverse: 1 / root}, nil
}

// Kind is the scoring variant.
func (e *Evaluator) Kind() Kind { return e.kind }

// Order is the window width.
func (e *Evaluator) Order() int { return e.order }

// Check reports whether sol can be scored at all.
func (e *Evaluator) Check(sol *cipher.Solution) error {
	if sol.Cipher().Len() == 0 {
		return ErrEmptyPlaintext
	}
	if n := sol.WindowCount(e.order); n < 1 {
		return fmt.Errorf("%w: %d characters, order %d", ErrPlaintextTooShort, len(sol.Rendered()), e.order)
	}
	return nil
}

// EvaluateFull scores every window of the solution's rendering.
func (e *Evaluator) EvaluateFull(sol *cipher.Solution) error {
	if err := e.Check(sol); err != nil {
		return err
	}
	text := sol.Rendered()
	lp := make([]float64, sol.WindowCount(e.order))
	for i := range lp {
		lp[i] = e.model.LogProbability(text[i : i+e.order])
	}
	sol.Reset(lp)
	sol.SetScore(e.score(sol))
	return nil
}

// EvaluateIncremental rescores the windows that overlap any position of
// symbol id, after its letter has been replaced. Restoring the returned
// checkpoint puts the solution's scores back exactly as they were.
func (e *Evaluator) EvaluateIncremental(sol *cipher.Solution, id int) (*cipher.Checkpoint, error) {
	n := sol.WindowCount(e.order)
	if n < 1 {
		return nil, ErrPlaintextTooShort
	}
	if len(sol.LogProbabilities()) != n {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrWindowCount, len(sol.LogProbabilities()), n)
	}

	ranges := e.windowRanges(sol, id, n)
	text := sol.Rendered()
	values := make([]float64, 0, len(ranges)*e.order)
	for _, r := range ranges {
		for w := r.Start; w < r.End; w++ {
			values = append(values, e.model.LogProbability(text[w:w+e.order]))
		}
	}

	cp, err := sol.Overwrite(ranges, values)
	if err != nil {
		return nil, err
	}
	sol.SetScore(e.score(sol))
	return cp, nil
}

// windowRanges returns the merged window starts covering every rendered
// offset of the symbol.
func (e *Evaluator) windowRanges(sol *cipher.Solution, id, n int) []cipher.Range {
	positions := sol.Cipher().Positions(id)
	ranges := make([]cipher.Range, 0, len(positions))
	for _, pos := range positions {
		r := sol.Offset(pos)
		start := max(r-e.order+1, 0)
		end := min(r, n-1) + 1
		if start >= end {
			continue
		}
		if last := len(ranges) - 1; last >= 0 && start <= ranges[last].End {
			ranges[last].End = max(ranges[last].End, end)
			continue
		}
		ranges = append(ranges, cipher.Range{Start: start, End: end})
	}
	return ranges
}

// BoundaryScores sums the log probabilities of the windows that straddle
// gap, once with a word boundary there and once without. Windows away from
// the gap are the same either way and are left out, so the difference of the
// two values is the difference of the full summed scores.
func (e *Evaluator) BoundaryScores(sol *cipher.Solution, gap int) (with, without float64, err error) {
	if gap < 0 || gap >= sol.Gaps() {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrGap, gap, sol.Gaps())
	}
	text := sol.Rendered()
	o := sol.Offset(gap)
	right := o + 1
	if sol.HasBoundary(gap) {
		right++
	}

	k := e.order - 1
	seg := make([]byte, 0, 2*k+1)
	seg = append(seg, text[max(o+1-k, 0):o+1]...)
	split := len(seg)
	seg = append(seg, text[right:min(right+k, len(text))]...)
	without = e.sumWindows(seg)

	seg = append(seg[:split], append([]byte{' '}, seg[split:]...)...)
	with = e.sumWindows(seg)
	return with, without, nil
}

func (e *Evaluator) sumWindows(seg []byte) float64 {
	sum := 0.0
	for i := 0; i+e.order <= len(seg); i++ {
		sum += e.model.LogProbability(seg[i : i+e.order])
	}
	return sum
}

func (e *Evaluator) score(sol *cipher.Solution) (score, statistic float64) {
	switch e.kind {
	case NGramIndexOfCoincidence:
		ioc := IndexOfCoincidence(sol)
		mean := sol.LogProbability() / float64(len(sol.LogProbabilities()))
		return mean * math.Pow(ioc, e.inverse), ioc
	default:
		return sol.LogProbability(), 0
	}
}

// IndexOfCoincidence measures how unevenly the plaintext letters are
// distributed: the chance that two positions drawn without replacement hold
// the same letter. It is 1 for fewer than two letters.
func IndexOfCoincidence(sol *cipher.Solution) float64 {
	var counts [26]int
	c := sol.Cipher()
	total := 0
	for id := 0; id < c.Distinct(); id++ {
		l := sol.Letter(id)
		if l < 'a' || l > 'z' {
			continue
		}
		n := len(c.Positions(id))
		counts[l-'a'] += n
		total += n
	}
	if total < 2 {
		return 1
	}
	sum := 0
	for _, n := range counts {
		sum += n * (n - 1)
	}
	return float64(sum) / float64(total*(total-1))
}
