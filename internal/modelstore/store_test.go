package modelstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmccarv/ciphersolve/internal/ngram"
	"github.com/jmccarv/ciphersolve/internal/workpool"
)

type snapshot struct {
	count, ends int64
	prob, cond  float64
}

func nodes(t *testing.T, m *ngram.Model) map[string]snapshot {
	t.Helper()
	out := make(map[string]snapshot)
	require.NoError(t, m.Walk(func(n *ngram.Node) error {
		out[n.Gram] = snapshot{n.Count, n.Ends, n.Probability, n.ConditionalProbability}
		return nil
	}))
	return out
}

func sample(t *testing.T) *ngram.Model {
	t.Helper()
	m, err := ngram.New(3)
	require.NoError(t, err)
	text := " the cat sat on the mat "
	for i := range text {
		m.AddObservation(text[i:min(i+3, len(text))])
	}
	require.NoError(t, m.Normalize(context.Background(), workpool.New(2), true))
	return m
}

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := open(t)
	orig := sample(t)
	key := Key("corpus", 3, true)

	require.NoError(t, s.Save(key, orig, Meta{Corpus: "corpus", WordBoundaries: true, Files: 1}))

	m, meta, ok, err := s.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, meta.Order)
	assert.Equal(t, orig.Total(), meta.Total)
	assert.True(t, meta.WordBoundaries)
	assert.False(t, meta.SavedAt.IsZero())
	assert.False(t, m.Normalized())

	require.NoError(t, m.Normalize(context.Background(), workpool.New(2), true))
	assert.Equal(t, orig.Len(), m.Len())
	assert.Equal(t, orig.Total(), m.Total())
	assert.Equal(t, orig.UnknownProbability(), m.UnknownProbability())

	want, got := nodes(t, orig), nodes(t, m)
	require.Len(t, got, len(want))
	for gram, w := range want {
		g, ok := got[gram]
		require.True(t, ok, gram)
		assert.Equal(t, w.count, g.count, gram)
		assert.Equal(t, w.ends, g.ends, gram)
		assert.InDelta(t, w.prob, g.prob, 1e-12, gram)
		assert.InDelta(t, w.cond, g.cond, 1e-12, gram)
	}
}

func TestLoadMissing(t *testing.T) {
	s := open(t)
	m, _, ok, err := s.Load(Key("nothing", 2, false))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestSaveReplacesAndDelete(t *testing.T) {
	s := open(t)
	key := Key("corpus", 3, false)
	require.NoError(t, s.Save(key, sample(t), Meta{Files: 1}))
	require.NoError(t, s.Save(key, sample(t), Meta{Files: 2}))
	require.NoError(t, s.Save(Key("other", 3, false), sample(t), Meta{}))

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[key].Files)

	require.NoError(t, s.Delete(key))
	require.NoError(t, s.Delete(key))
	_, _, ok, err := s.Load(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyDistinguishesSettings(t *testing.T) {
	assert.NotEqual(t, Key("c", 3, true), Key("c", 3, false))
	assert.NotEqual(t, Key("c", 3, true), Key("c", 4, true))
	assert.NotEqual(t, Key("c", 3, true), Key("d", 3, true))
}
