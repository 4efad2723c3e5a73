// Package ngram holds the character n-gram language model: a prefix tree of
// letter sequences with counts, per-depth probabilities, conditional
// probabilities and a fallback probability for sequences never observed.
//
// Nodes live in one slice and refer to each other by index. The model is
// written during ingestion, normalised once, and read-only afterwards, which
// is what lets scoring goroutines share it without locks.
package ngram

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrOrder is returned for an order below 1.
	ErrOrder = errors.New("ngram: order must be at least 1")
	// ErrEmptyModel is returned when normalising a model with no observations.
	ErrEmptyModel = errors.New("ngram: no n-grams observed")
	// ErrFrozen is returned when restoring into a normalised model.
	ErrFrozen = errors.New("ngram: model is normalised and read-only")
)

// Handle identifies a node inside a Model.
type Handle int32

const (
	rootHandle Handle = 0
	noHandle   Handle = -1
)

// Node is one prefix in the tree.
type Node struct {
	// Gram is the prefix this node stands for; the root has "".
	Gram string
	// Count is how many observed windows start with Gram.
	Count int64
	// Ends is how many observed windows were exactly Gram and shorter than
	// the model order (windows cut off at the end of a line).
	Ends int64
	// Probability is Count over the total count at this depth.
	Probability float64
	// LogProbability is the natural log of Probability.
	LogProbability float64
	// ConditionalProbability is Count over the parent's continuing count.
	ConditionalProbability float64
	// ConditionalLogProbability is the natural log of ConditionalProbability.
	ConditionalLogProbability float64

	handle   Handle
	children []edge
}

type edge struct {
	char byte
	node Handle
}

// Depth is the length of the node's gram.
func (n *Node) Depth() int {
	return len(n.Gram)
}

// Model is a character n-gram model of a fixed order.
type Model struct {
	order        int
	nodes        []Node
	minimumCount int64
	levelTotals  []int64

	unknownProbability    float64
	unknownLogProbability float64

	conditional bool
	frozen      bool
}

// New returns an empty model of the given order.
func New(order int) (*Model, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrOrder, order)
	}
	m := &Model{
		order: order,
		nodes: make([]Node, 1, 1024),
	}
	m.nodes[0].handle = rootHandle
	return m, nil
}

// Order is the longest n-gram the model holds.
func (m *Model) Order() int {
	return m.order
}

// SetMinimumCount makes lookups treat nodes seen fewer than n times as
// unknown.
func (m *Model) SetMinimumCount(n int64) {
	m.minimumCount = n
}

// Len is the number of nodes including the root.
func (m *Model) Len() int {
	return len(m.nodes)
}

// Root returns the root node. Its count is the number of windows observed.
func (m *Model) Root() *Node {
	return &m.nodes[rootHandle]
}

// Total is the number of windows observed.
func (m *Model) Total() int64 {
	return m.nodes[rootHandle].Count
}

// Normalized reports whether Normalize has completed.
func (m *Model) Normalized() bool {
	return m.frozen
}

// HasConditional reports whether conditional probabilities were computed.
func (m *Model) HasConditional() bool {
	return m.conditional
}

// UnknownProbability is the probability given to n-grams not in the model.
func (m *Model) UnknownProbability() float64 {
	return m.unknownProbability
}

// UnknownLogProbability is the log of UnknownProbability.
func (m *Model) UnknownLogProbability() float64 {
	return m.unknownLogProbability
}

// LevelTotal is the summed count of all nodes at depth level, available
// after Normalize.
func (m *Model) LevelTotal(level int) int64 {
	if level < 1 || level >= len(m.levelTotals) {
		return 0
	}
	return m.levelTotals[level]
}

// AddObservation records one window. See AddObservationCount.
func (m *Model) AddObservation(gram string) bool {
	return m.AddObservationCount(gram, 1)
}

// AddObservationCount records n occurrences of the window gram: every prefix
// of gram up to the model order gains n. It reports whether the node for the
// full gram was created by this call. A frozen model ignores observations.
func (m *Model) AddObservationCount(gram string, n int64) bool {
	if m.frozen || len(gram) == 0 || n <= 0 {
		return false
	}
	if len(gram) > m.order {
		gram = gram[:m.order]
	}

	m.nodes[rootHandle].Count += n

	h := rootHandle
	created := false
	for i := 0; i < len(gram); i++ {
		next := m.child(h, gram[i])
		created = next == noHandle
		if created {
			next = m.addChild(h, gram[:i+1])
		}
		m.nodes[next].Count += n
		h = next
	}
	if len(gram) < m.order {
		m.nodes[h].Ends += n
	}
	return created
}

// Restore sets the raw counts of the node for gram, creating the path to it.
// It exists to reload a model saved with Walk; counts of the prefixes are not
// touched.
func (m *Model) Restore(gram string, count, ends int64) error {
	if m.frozen {
		return ErrFrozen
	}
	if len(gram) > m.order {
		return fmt.Errorf("ngram: restore %q: longer than order %d", gram, m.order)
	}
	h := rootHandle
	for i := 0; i < len(gram); i++ {
		next := m.child(h, gram[i])
		if next == noHandle {
			next = m.addChild(h, gram[:i+1])
		}
		h = next
	}
	m.nodes[h].Count = count
	m.nodes[h].Ends = ends
	return nil
}

// FindExact returns the node for gram. The boolean is false when gram is not
// in the model, is longer than the order, or is below the minimum count;
// callers then use UnknownProbability.
func (m *Model) FindExact(gram string) (*Node, bool) {
	if len(gram) == 0 || len(gram) > m.order {
		return nil, false
	}
	h := rootHandle
	for i := 0; i < len(gram) && h != noHandle; i++ {
		h = m.child(h, gram[i])
	}
	if h == noHandle || m.nodes[h].Count < m.minimumCount {
		return nil, false
	}
	return &m.nodes[h], true
}

// LogProbability scores one window: the node's log probability, or the
// unknown log probability when the window is not in the model. A model
// normalised with conditional probabilities scores the window's last letter
// given the letters before it.
func (m *Model) LogProbability(window []byte) float64 {
	h := rootHandle
	for _, c := range window {
		if h = m.child(h, c); h == noHandle {
			return m.unknownLogProbability
		}
	}
	if h == rootHandle || m.nodes[h].Count < m.minimumCount {
		return m.unknownLogProbability
	}
	if m.conditional {
		return m.nodes[h].ConditionalLogProbability
	}
	return m.nodes[h].LogProbability
}

// Children returns the children of n in character order.
func (m *Model) Children(n *Node) []*Node {
	out := make([]*Node, len(n.children))
	for i, e := range n.children {
		out[i] = &m.nodes[e.node]
	}
	return out
}

// Walk visits every node depth first, parents before children, starting at
// the root. A non-nil error from fn stops the walk.
func (m *Model) Walk(fn func(n *Node) error) error {
	return m.walk(rootHandle, fn)
}

func (m *Model) walk(h Handle, fn func(n *Node) error) error {
	if err := fn(&m.nodes[h]); err != nil {
		return err
	}
	for _, e := range m.nodes[h].children {
		if err := m.walk(e.node, fn); err != nil {
			return err
		}
	}
	return nil
}

// Unigram is a first-order letter with its share of all letters.
type Unigram struct {
	Letter      byte
	Count       int64
	Probability float64
}

// Unigrams returns the first-order letter nodes, skipping the word boundary
// character, with probabilities normalised over letters only.
func (m *Model) Unigrams() []Unigram {
	var total int64
	out := make([]Unigram, 0, len(m.nodes[rootHandle].children))
	for _, e := range m.nodes[rootHandle].children {
		if e.char == ' ' {
			continue
		}
		n := &m.nodes[e.node]
		out = append(out, Unigram{Letter: e.char, Count: n.Count})
		total += n.Count
	}
	if total == 0 {
		return nil
	}
	for i := range out {
		out[i].Probability = float64(out[i].Count) / float64(total)
	}
	return out
}

func (m *Model) child(h Handle, c byte) Handle {
	edges := m.nodes[h].children
	i := sort.Search(len(edges), func(i int) bool { return edges[i].char >= c })
	if i < len(edges) && edges[i].char == c {
		return edges[i].node
	}
	return noHandle
}

func (m *Model) addChild(parent Handle, gram string) Handle {
	h := Handle(len(m.nodes))
	m.nodes = append(m.nodes, Node{Gram: gram, handle: h})

	c := gram[len(gram)-1]
	edges := m.nodes[parent].children
	i := sort.Search(len(edges), func(i int) bool { return edges[i].char >= c })
	edges = append(edges, edge{})
	copy(edges[i+1:], edges[i:])
	edges[i] = edge{char: c, node: h}
	m.nodes[parent].children = edges
	return h
}

func logOf(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}
