package optimizer

import (
	"sort"

	"github.com/jmccarv/ciphersolve/internal/cipher"
)

// solutionSet keeps the best nr distinct solutions by score. A solution only
// displaces another when it scores strictly higher, so of two equal scores
// the one found first stays ahead.
type solutionSet struct {
	set  []*cipher.Solution
	seen map[string]bool
	nr   int
}

func newSolutionSet(size int) *solutionSet {
	if size < 1 {
		size = 1
	}
	return &solutionSet{make([]*cipher.Solution, 0, size+1), make(map[string]bool), size}
}

// add reports whether s made it into the set. The set keeps s itself, so the
// caller must not modify it afterwards.
func (ss *solutionSet) add(s *cipher.Solution) bool {
	key := s.KeyString()
	if ss.seen[key] {
		return false
	}
	ss.seen[key] = true

	if len(ss.set) >= ss.nr {
		if s.Score() <= ss.set[len(ss.set)-1].Score() {
			return false
		}
	}

	ss.set = append(ss.set, s)
	sort.SliceStable(ss.set, func(i, j int) bool { return ss.set[i].Score() > ss.set[j].Score() })

	if len(ss.set) > ss.nr {
		ss.set = ss.set[:ss.nr]
	}
	return true
}

func (ss *solutionSet) best() *cipher.Solution {
	if len(ss.set) == 0 {
		return nil
	}
	return ss.set[0]
}

func (ss *solutionSet) solutions() []*cipher.Solution {
	return append([]*cipher.Solution(nil), ss.set...)
}
