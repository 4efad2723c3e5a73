package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New("sample", 1, 6, []string{"X", "Y", "Z", "X", "W", "Z"})
	require.NoError(t, err)
	return c
}

func TestSolutionRendering(t *testing.T) {
	s := NewSolution(sampleCipher(t), false)
	assert.Equal(t, "______", string(s.Rendered()))

	s.ApplyKey(Key{"X": 't', "Y": 'h', "Z": 'e', "W": 'n'})
	assert.Equal(t, "thetne", string(s.Rendered()))
	assert.Equal(t, "thetne", s.Plaintext())

	prev := s.Replace(3, 'a')
	assert.Equal(t, byte('n'), prev)
	assert.Equal(t, "thetae", string(s.Rendered()))
	assert.Equal(t, byte('a'), s.Letter(3))
	assert.Equal(t, 3, s.WindowCount(4))
}

func TestSolutionWordBoundaries(t *testing.T) {
	s := NewSolution(sampleCipher(t), true)
	s.ApplyKey(Key{"X": 't', "Y": 'h', "Z": 'e', "W": 'n'})
	assert.Equal(t, " thetne ", string(s.Rendered()))
	assert.Equal(t, 5, s.Gaps())

	assert.True(t, s.SetBoundary(2, true))
	assert.False(t, s.SetBoundary(2, true))
	assert.False(t, s.SetBoundary(5, true), "no gap after the last position")
	assert.Equal(t, " the tne ", string(s.Rendered()))
	assert.Equal(t, "the tne", s.String())
	assert.Equal(t, []int{2}, s.Boundaries())
	assert.True(t, s.HasBoundary(2))
	assert.Equal(t, 5, s.Offset(3))

	// Replacing a symbol after the boundary writes through the shifted offsets.
	s.Replace(0, 'b')
	assert.Equal(t, " bhe bne ", string(s.Rendered()))
	assert.Equal(t, "bhebne", s.Plaintext())
}

func TestOverwriteRestore(t *testing.T) {
	s := NewSolution(sampleCipher(t), false)
	s.Reset([]float64{-1, -2, -3, -4, -5})
	s.SetScore(-15, 0.5)
	assert.Equal(t, -15.0, s.LogProbability())

	cp, err := s.Overwrite([]Range{{0, 2}, {3, 4}}, []float64{-0.5, -0.5, -1})
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, -0.5, -3, -1, -5}, s.LogProbabilities())
	assert.InDelta(t, -10.0, s.LogProbability(), 1e-12)
	s.SetScore(-10, 0.7)

	s.Restore(cp)
	assert.Equal(t, []float64{-1, -2, -3, -4, -5}, s.LogProbabilities())
	assert.Equal(t, -15.0, s.LogProbability())
	assert.Equal(t, -15.0, s.Score())
	assert.Equal(t, 0.5, s.Statistic())
}

func TestOverwriteRejectsBadRanges(t *testing.T) {
	s := NewSolution(sampleCipher(t), false)
	s.Reset(make([]float64, 3))

	_, err := s.Overwrite([]Range{{2, 4}}, []float64{0, 0})
	assert.ErrorIs(t, err, ErrRange)
	_, err = s.Overwrite([]Range{{0, 2}}, []float64{0})
	assert.ErrorIs(t, err, ErrRange)
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSolution(sampleCipher(t), true)
	s.ApplyKey(Key{"X": 't', "Y": 'h', "Z": 'e', "W": 'n'})
	s.Reset([]float64{-1, -1})

	c := s.Clone()
	c.Replace(0, 'q')
	c.SetBoundary(0, true)
	c.Reset([]float64{-9})

	assert.Equal(t, " thetne ", string(s.Rendered()))
	assert.Empty(t, s.Boundaries())
	assert.Equal(t, -2.0, s.LogProbability())
	assert.Equal(t, " q heqne ", string(c.Rendered()))
}

func TestKeyAndKeyString(t *testing.T) {
	s := NewSolution(sampleCipher(t), false)
	s.Replace(0, 'a')
	s.Replace(2, 'c')
	assert.Equal(t, Key{"X": 'a', "Z": 'c'}, s.Key())
	assert.Equal(t, "a_c_", s.KeyString())

	b := NewSolution(sampleCipher(t), true)
	b.SetBoundary(1, true)
	assert.Equal(t, "____|01000", b.KeyString())
}

func TestKnownProximity(t *testing.T) {
	c := sampleCipher(t)
	s := NewSolution(c, false)
	_, ok := s.KnownProximity()
	assert.False(t, ok)

	require.NoError(t, c.SetKnownSolution("thetne"))
	s.ApplyKey(Key{"X": 't', "Y": 'h', "Z": 'e', "W": 'q'})
	p, ok := s.KnownProximity()
	require.True(t, ok)
	assert.InDelta(t, 5.0/6.0, p, 1e-12)

	s.ApplyKey(c.KnownKey())
	p, _ = s.KnownProximity()
	assert.Equal(t, 1.0, p)
}

func TestEmptyCipherSolution(t *testing.T) {
	c, err := New("empty", 0, 0, nil)
	require.NoError(t, err)
	s := NewSolution(c, true)
	assert.Empty(t, s.Rendered())
	assert.Equal(t, 0, s.Gaps())
}
