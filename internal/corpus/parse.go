package corpus

import (
	"bytes"
	"io"
)

// FileResults are the counts gathered from one source before they are merged
// into the model.
type FileResults struct {
	// Total is the number of windows observed.
	Total int64
	// LevelTotals[L] is how many windows reached length L. Index 0 is unused.
	LevelTotals []int64
	// Counts maps each distinct window to its occurrences.
	Counts map[string]int64
}

// Unique is the number of distinct windows in the file.
func (r *FileResults) Unique() int {
	return len(r.Counts)
}

// Merge adds the counts of other into r.
func (r *FileResults) Merge(other *FileResults) {
	r.Total += other.Total
	for len(r.LevelTotals) < len(other.LevelTotals) {
		r.LevelTotals = append(r.LevelTotals, 0)
	}
	for i, n := range other.LevelTotals {
		r.LevelTotals[i] += n
	}
	if r.Counts == nil {
		r.Counts = make(map[string]int64, len(other.Counts))
	}
	for gram, n := range other.Counts {
		r.Counts[gram] += n
	}
}

// NormalizeLine reduces one line of text to the model alphabet: lower case
// letters, plus single spaces between and around words when wordBoundaries is
// set. It returns nil for a line with no letters.
func NormalizeLine(line []byte, wordBoundaries bool) []byte {
	out := make([]byte, 0, len(line)+2)
	if wordBoundaries {
		out = append(out, ' ')
	}
	pendingSpace := false
	for _, c := range line {
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
			fallthrough
		case c >= 'a' && c <= 'z':
			if pendingSpace && wordBoundaries && len(out) > 1 {
				out = append(out, ' ')
			}
			pendingSpace = false
			out = append(out, c)
		case c == ' ':
			pendingSpace = true
		}
	}
	if wordBoundaries {
		if len(out) == 1 {
			return nil
		}
		return append(out, ' ')
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Parse reads all of r and counts every window of the normalised text. A
// window starts at each position of a line and is order characters wide, or
// shorter where the line runs out.
func Parse(r io.Reader, order int, wordBoundaries bool) (*FileResults, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	res := &FileResults{
		LevelTotals: make([]int64, order+1),
		Counts:      make(map[string]int64),
	}
	lines := bytes.FieldsFunc(data, func(c rune) bool { return c == '\n' || c == '\r' })
	for _, line := range lines {
		text := NormalizeLine(line, wordBoundaries)
		for i := range text {
			end := min(i+order, len(text))
			res.Counts[string(text[i:end])]++
			res.Total++
			for l := 1; l <= end-i; l++ {
				res.LevelTotals[l]++
			}
		}
	}
	return res, nil
}
