package ngram

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jmccarv/ciphersolve/internal/workpool"
)

var tracer = otel.Tracer("ciphersolve.ngram")

// Normalize turns counts into probabilities and freezes the model.
//
// The unknown probability is fixed at 1 over the summed counts of the root's
// children. Then, one depth at a time, every node at that depth gets its count
// over the depth total; each depth is a batch of one task per top-level
// branch. When conditional is set a second pass, started only after the depth
// passes are done, gives each node its count over its parent's continuing
// count, and LogProbability scores with it from then on.
func (m *Model) Normalize(ctx context.Context, pool *workpool.Pool, conditional bool) (err error) {
	ctx, span := tracer.Start(ctx, "ngram.Normalize")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if m.frozen {
		return nil
	}

	root := &m.nodes[rootHandle]
	var firstOrder int64
	branches := make([]Handle, 0, len(root.children))
	for _, e := range root.children {
		firstOrder += m.nodes[e.node].Count
		branches = append(branches, e.node)
	}
	if firstOrder == 0 {
		return ErrEmptyModel
	}
	// A restored model only carries per-node counts.
	root.Count = firstOrder

	m.unknownProbability = 1 / float64(firstOrder)
	m.unknownLogProbability = logOf(m.unknownProbability)

	m.levelTotals = make([]int64, m.order+1)
	for _, n := range m.nodes[1:] {
		m.levelTotals[len(n.Gram)] += n.Count
	}

	span.SetAttributes(
		attribute.Int("ngram.order", m.order),
		attribute.Int("ngram.nodes", len(m.nodes)),
		attribute.Int64("ngram.total", firstOrder),
	)

	for level := 1; level <= m.order; level++ {
		total := m.levelTotals[level]
		if total == 0 {
			continue
		}
		err := pool.Run(ctx, len(branches), func(_ context.Context, i int) error {
			m.normalizeDepth(branches[i], level, total)
			return nil
		})
		if err != nil {
			return fmt.Errorf("normalize depth %d: %w", level, err)
		}
	}

	if conditional {
		err := pool.Run(ctx, len(branches), func(_ context.Context, i int) error {
			m.normalizeConditional(branches[i], firstOrder)
			return nil
		})
		if err != nil {
			return fmt.Errorf("normalize conditional: %w", err)
		}
		m.conditional = true
	}

	m.frozen = true
	return nil
}

func (m *Model) normalizeDepth(h Handle, level int, total int64) {
	n := &m.nodes[h]
	if len(n.Gram) == level {
		n.Probability = float64(n.Count) / float64(total)
		n.LogProbability = logOf(n.Probability)
		return
	}
	for _, e := range n.children {
		m.normalizeDepth(e.node, level, total)
	}
}

func (m *Model) normalizeConditional(h Handle, parentCount int64) {
	n := &m.nodes[h]
	if parentCount > 0 {
		n.ConditionalProbability = float64(n.Count) / float64(parentCount)
		n.ConditionalLogProbability = logOf(n.ConditionalProbability)
	}
	continuing := n.Count - n.Ends
	for _, e := range n.children {
		m.normalizeConditional(e.node, continuing)
	}
}
