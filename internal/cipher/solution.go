package cipher

import (
	"errors"
	"fmt"
	"strings"
)

// Unset is rendered for a symbol that has no letter yet.
const Unset = '_'

// ErrRange is returned when an overwrite does not fit the window array.
var ErrRange = errors.New("cipher: window range out of bounds")

// Range is a half-open run [Start, End) of window start offsets.
type Range struct {
	Start, End int
}

// Len is the number of windows in the range.
func (r Range) Len() int { return r.End - r.Start }

// Checkpoint holds what an Overwrite replaced so Restore can put it back.
type Checkpoint struct {
	ranges    []Range
	saved     []float64
	logProb   float64
	score     float64
	statistic float64
}

// Solution is a candidate key for a cipher, its rendered plaintext and the
// scores of that plaintext.
//
// The rendered plaintext is kept in step with the key: changing one symbol
// rewrites only the bytes at that symbol's positions. When word boundaries
// are modelled the rendering starts and ends with a space and has a space
// after every cipher position flagged as a boundary.
//
// Scores are written only by an evaluator. A Solution is not safe for
// concurrent use; use Clone to hand one to another goroutine.
type Solution struct {
	cipher     *Cipher
	mapping    []byte
	boundaries []bool

	rendered []byte
	offsets  []int

	logProbs  []float64
	logProb   float64
	score     float64
	statistic float64
}

// NewSolution returns a solution with every symbol unset.
func NewSolution(c *Cipher, wordBoundaries bool) *Solution {
	s := &Solution{
		cipher:  c,
		mapping: make([]byte, c.Distinct()),
		offsets: make([]int, c.Len()),
	}
	for i := range s.mapping {
		s.mapping[i] = Unset
	}
	if wordBoundaries {
		s.boundaries = make([]bool, max(c.Len()-1, 0))
	}
	s.render()
	return s
}

func (s *Solution) render() {
	n := s.cipher.Len()
	buf := s.rendered[:0]
	if n == 0 {
		s.rendered = buf
		return
	}
	if s.boundaries != nil {
		buf = append(buf, ' ')
	}
	for pos := 0; pos < n; pos++ {
		s.offsets[pos] = len(buf)
		buf = append(buf, s.mapping[s.cipher.symbolAt[pos]])
		if pos < len(s.boundaries) && s.boundaries[pos] {
			buf = append(buf, ' ')
		}
	}
	if s.boundaries != nil {
		buf = append(buf, ' ')
	}
	s.rendered = buf
}

// Cipher is the cipher this solution decrypts.
func (s *Solution) Cipher() *Cipher { return s.cipher }

// Letter returns the letter mapped to a symbol id, or Unset.
func (s *Solution) Letter(id int) byte { return s.mapping[id] }

// Replace maps symbol id to letter l and returns the previous letter.
func (s *Solution) Replace(id int, l byte) byte {
	prev := s.mapping[id]
	if prev == l {
		return prev
	}
	s.mapping[id] = l
	for _, pos := range s.cipher.index[id] {
		s.rendered[s.offsets[pos]] = l
	}
	return prev
}

// ApplyKey maps every symbol that k names.
func (s *Solution) ApplyKey(k Key) {
	for sym, l := range k {
		if id, ok := s.cipher.ids[sym]; ok {
			s.Replace(id, l)
		}
	}
}

// Key returns the mapped symbols.
func (s *Solution) Key() Key {
	k := make(Key, len(s.mapping))
	for id, l := range s.mapping {
		if l != Unset {
			k[s.cipher.symbols[id]] = l
		}
	}
	return k
}

// KeyString is a compact form of the key, one letter per symbol id, used to
// tell solutions apart.
func (s *Solution) KeyString() string {
	var b strings.Builder
	b.Write(s.mapping)
	if s.boundaries != nil {
		b.WriteByte('|')
		for _, on := range s.boundaries {
			if on {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

// WordBoundaries reports whether this solution models word boundaries.
func (s *Solution) WordBoundaries() bool { return s.boundaries != nil }

// Gaps is the number of places a word boundary can go.
func (s *Solution) Gaps() int { return len(s.boundaries) }

// HasBoundary reports whether there is a word boundary after position gap.
func (s *Solution) HasBoundary(gap int) bool {
	return gap >= 0 && gap < len(s.boundaries) && s.boundaries[gap]
}

// SetBoundary adds or removes the word boundary after position gap and
// reports whether anything changed. A change shifts the rendering, so the
// solution must be fully evaluated again.
func (s *Solution) SetBoundary(gap int, on bool) bool {
	if gap < 0 || gap >= len(s.boundaries) || s.boundaries[gap] == on {
		return false
	}
	s.boundaries[gap] = on
	s.render()
	return true
}

// Boundaries lists the gaps that hold a word boundary.
func (s *Solution) Boundaries() []int {
	var out []int
	for gap, on := range s.boundaries {
		if on {
			out = append(out, gap)
		}
	}
	return out
}

// Rendered is the plaintext as scored, boundaries included. The slice must
// not be modified.
func (s *Solution) Rendered() []byte { return s.rendered }

// Offset is where cipher position pos sits in the rendering.
func (s *Solution) Offset(pos int) int { return s.offsets[pos] }

// WindowCount is how many windows of width order fit the rendering.
func (s *Solution) WindowCount(order int) int {
	return len(s.rendered) - order + 1
}

// Plaintext is the decrypted letters without boundaries.
func (s *Solution) Plaintext() string {
	out := make([]byte, s.cipher.Len())
	for pos, id := range s.cipher.symbolAt {
		out[pos] = s.mapping[id]
	}
	return string(out)
}

// String is the rendering without its outer spaces.
func (s *Solution) String() string {
	return strings.TrimSpace(string(s.rendered))
}

// LogProbabilities are the per-window log probabilities. The slice must not
// be modified.
func (s *Solution) LogProbabilities() []float64 { return s.logProbs }

// LogProbability is the sum of LogProbabilities.
func (s *Solution) LogProbability() float64 { return s.logProb }

// Score is the evaluator's score, higher is better.
func (s *Solution) Score() float64 { return s.score }

// Statistic is the auxiliary statistic folded into the score, if any.
func (s *Solution) Statistic() float64 { return s.statistic }

// Reset replaces all window log probabilities. The solution keeps lp.
func (s *Solution) Reset(lp []float64) {
	s.logProbs = lp
	s.logProb = 0
	for _, v := range lp {
		s.logProb += v
	}
}

// SetScore records the evaluator's score and auxiliary statistic.
func (s *Solution) SetScore(score, statistic float64) {
	s.score = score
	s.statistic = statistic
}

// Overwrite writes values into the window ranges, in order, and adjusts the
// log probability sum by the difference. The returned checkpoint restores
// the previous entries and scores.
func (s *Solution) Overwrite(ranges []Range, values []float64) (*Checkpoint, error) {
	n := 0
	for _, r := range ranges {
		if r.Start < 0 || r.End > len(s.logProbs) || r.Start > r.End {
			return nil, fmt.Errorf("%w: [%d, %d) of %d", ErrRange, r.Start, r.End, len(s.logProbs))
		}
		n += r.Len()
	}
	if n != len(values) {
		return nil, fmt.Errorf("%w: %d values for %d windows", ErrRange, len(values), n)
	}

	cp := &Checkpoint{
		ranges:    ranges,
		saved:     make([]float64, 0, n),
		logProb:   s.logProb,
		score:     s.score,
		statistic: s.statistic,
	}
	delta := 0.0
	i := 0
	for _, r := range ranges {
		for w := r.Start; w < r.End; w++ {
			cp.saved = append(cp.saved, s.logProbs[w])
			delta += values[i] - s.logProbs[w]
			s.logProbs[w] = values[i]
			i++
		}
	}
	s.logProb += delta
	return cp, nil
}

// Restore undoes the Overwrite that produced cp. The key is not touched; the
// caller puts back the letter it replaced.
func (s *Solution) Restore(cp *Checkpoint) {
	i := 0
	for _, r := range cp.ranges {
		i += copy(s.logProbs[r.Start:r.End], cp.saved[i:i+r.Len()])
	}
	s.logProb = cp.logProb
	s.score = cp.score
	s.statistic = cp.statistic
}

// Clone returns an independent copy sharing only the cipher.
func (s *Solution) Clone() *Solution {
	out := &Solution{
		cipher:    s.cipher,
		mapping:   append([]byte(nil), s.mapping...),
		rendered:  append([]byte(nil), s.rendered...),
		offsets:   append([]int(nil), s.offsets...),
		logProbs:  append([]float64(nil), s.logProbs...),
		logProb:   s.logProb,
		score:     s.score,
		statistic: s.statistic,
	}
	if s.boundaries != nil {
		out.boundaries = append([]bool{}, s.boundaries...)
	}
	return out
}

// KnownProximity is the fraction of cipher positions whose letter matches
// the known key. The boolean is false when the cipher has no known key.
func (s *Solution) KnownProximity() (float64, bool) {
	known := s.cipher.known
	if len(known) == 0 || s.cipher.Len() == 0 {
		return 0, false
	}
	match := 0
	for pos, id := range s.cipher.symbolAt {
		if s.mapping[id] == known[s.cipher.tokens[pos]] {
			match++
		}
	}
	return float64(match) / float64(s.cipher.Len()), true
}
