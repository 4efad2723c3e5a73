package corpus

import (
	"fmt"
	"io"
	"sort"

	"github.com/jmccarv/ciphersolve/internal/ngram"
)

// LetterFrequency is a letter with its share of the corpus letters.
type LetterFrequency struct {
	Letter byte
	Count  int64
	Pct    float64
}

// LetterFrequencies returns the model's unigram letters, most frequent first.
// Letters with equal share stay in alphabetical order.
func LetterFrequencies(m *ngram.Model) []LetterFrequency {
	unigrams := m.Unigrams()
	freq := make([]LetterFrequency, len(unigrams))
	for i, u := range unigrams {
		freq[i] = LetterFrequency{Letter: u.Letter, Count: u.Count, Pct: u.Probability}
	}
	sort.SliceStable(freq, func(i, j int) bool { return freq[i].Pct > freq[j].Pct })
	return freq
}

// WriteFrequencies prints the frequencies on one line as upper case letters
// and percentages.
func WriteFrequencies(w io.Writer, freq []LetterFrequency) error {
	for _, f := range freq {
		c := f.Letter
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if _, err := fmt.Fprintf(w, "%c %4.2f  ", c, f.Pct*100); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
