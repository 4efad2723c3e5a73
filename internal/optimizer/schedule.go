package optimizer

import (
	"fmt"
	"math"
	"sort"
)

// Temperature is the annealing temperature for sweep i of n. It falls
// linearly from max at the first sweep towards min, reaching
// min + (max-min)/n on the last one.
func Temperature(i, n int, max, min float64) float64 {
	if n <= 0 {
		return min
	}
	return (max-min)*(float64(n-i)/float64(n)) + min
}

// Accept applies the Metropolis rule to a proposal that moves the score from
// current to proposal at temperature t, with u drawn uniformly from [0, 1).
// A better or equal proposal is always taken; a worse one with probability
// exp(-(current-proposal)/t).
func Accept(t, current, proposal, u float64) (bool, error) {
	if proposal >= current {
		return true, nil
	}
	p := math.Exp(((current - proposal) / t) * -1)
	if p < 0 || math.IsNaN(p) {
		return false, fmt.Errorf("%w: acceptance probability %v (current %v, proposal %v, temperature %v)",
			ErrInvariant, p, current, proposal, t)
	}
	return p > 1 || u < p, nil
}

// rankWeights returns the weights given to n candidates sorted by ascending
// score: the candidate at rank j gets (1/n) * sum(1/i) for i from n-j to n,
// so the best gets the most and the weights sum to 1.
func rankWeights(n int) []float64 {
	w := make([]float64, n)
	for i := 1; i <= n; i++ {
		share := 1 / float64(n) / float64(i)
		for j := n - 1; j >= n-i; j-- {
			w[j] += share
		}
	}
	return w
}

// letterWeights turns candidate scores into sampling weights.
func letterWeights(dist Distribution, scores []float64, t float64, ranks []float64) []float64 {
	weights := make([]float64, len(scores))
	switch dist {
	case Softmax:
		softmax(scores, t, weights)
	default:
		order := make([]int, len(scores))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
		for j, idx := range order {
			weights[idx] = ranks[j]
		}
	}
	return weights
}

// softmax writes exp((s-max)/t) for every score into out. A temperature of
// zero puts all the weight on the best scores.
func softmax(scores []float64, t float64, out []float64) {
	best := math.Inf(-1)
	for _, s := range scores {
		best = math.Max(best, s)
	}
	for i, s := range scores {
		switch {
		case s == best:
			out[i] = 1
		case t <= 0:
			out[i] = 0
		default:
			out[i] = math.Exp((s - best) / t)
		}
	}
}
