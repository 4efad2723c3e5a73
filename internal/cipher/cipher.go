// Package cipher holds the ciphertext being attacked and candidate
// solutions to it.
//
// A Cipher is a grid of symbols read row by row. Each distinct symbol gets a
// small integer id, in order of first appearance, and the positions it
// occupies are indexed once at construction. A Cipher is never mutated after
// New returns, so it is shared freely between goroutines.
package cipher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShape is returned when rows*columns does not match the token count.
	ErrShape = errors.New("cipher: grid shape does not match ciphertext length")
	// ErrEmptyToken is returned for a blank ciphertext token.
	ErrEmptyToken = errors.New("cipher: empty token")
	// ErrKnownSolution is returned for a known solution that does not fit the
	// ciphertext.
	ErrKnownSolution = errors.New("cipher: known solution does not fit ciphertext")
)

// Cipher is an immutable grid of ciphertext symbols.
type Cipher struct {
	name    string
	rows    int
	columns int

	tokens   []string
	symbolAt []int
	symbols  []string
	ids      map[string]int
	index    [][]int

	known Key
}

// New builds a cipher from its tokens in row-major order.
func New(name string, rows, columns int, tokens []string) (*Cipher, error) {
	if rows < 0 || columns < 0 || rows*columns != len(tokens) {
		return nil, fmt.Errorf("%w: %d x %d for %d tokens", ErrShape, rows, columns, len(tokens))
	}

	c := &Cipher{
		name:     name,
		rows:     rows,
		columns:  columns,
		tokens:   make([]string, len(tokens)),
		symbolAt: make([]int, len(tokens)),
		ids:      make(map[string]int),
	}
	copy(c.tokens, tokens)

	for pos, tok := range c.tokens {
		if tok == "" {
			return nil, fmt.Errorf("%w at position %d", ErrEmptyToken, pos)
		}
		id, ok := c.ids[tok]
		if !ok {
			id = len(c.symbols)
			c.ids[tok] = id
			c.symbols = append(c.symbols, tok)
			c.index = append(c.index, nil)
		}
		c.symbolAt[pos] = id
		c.index[id] = append(c.index[id], pos)
	}
	return c, nil
}

// Reshape returns a cipher with the same name and known key over a new grid.
// Transformers use it to rearrange the ciphertext.
func (c *Cipher) Reshape(rows, columns int, tokens []string) (*Cipher, error) {
	out, err := New(c.name, rows, columns, tokens)
	if err != nil {
		return nil, err
	}
	out.known = c.known
	return out, nil
}

// Name identifies the cipher in output.
func (c *Cipher) Name() string { return c.name }

// Rows is the grid height.
func (c *Cipher) Rows() int { return c.rows }

// Columns is the grid width.
func (c *Cipher) Columns() int { return c.columns }

// Len is the number of ciphertext positions.
func (c *Cipher) Len() int { return len(c.tokens) }

// Token returns the symbol at pos.
func (c *Cipher) Token(pos int) string { return c.tokens[pos] }

// Tokens returns a copy of the ciphertext in row-major order.
func (c *Cipher) Tokens() []string {
	out := make([]string, len(c.tokens))
	copy(out, c.tokens)
	return out
}

// At returns the token at row r, column col.
func (c *Cipher) At(r, col int) string { return c.tokens[r*c.columns+col] }

// SymbolAt returns the symbol id at pos.
func (c *Cipher) SymbolAt(pos int) int { return c.symbolAt[pos] }

// Distinct is the number of distinct symbols.
func (c *Cipher) Distinct() int { return len(c.symbols) }

// Symbol returns the token for a symbol id.
func (c *Cipher) Symbol(id int) string { return c.symbols[id] }

// Symbols returns the distinct tokens, indexed by symbol id.
func (c *Cipher) Symbols() []string {
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}

// SymbolID looks up the id of a token.
func (c *Cipher) SymbolID(tok string) (int, bool) {
	id, ok := c.ids[tok]
	return id, ok
}

// Positions returns the ciphertext positions of a symbol id in ascending
// order. The slice must not be modified.
func (c *Cipher) Positions(id int) []int { return c.index[id] }

// KnownKey returns the key of the known solution, or nil.
func (c *Cipher) KnownKey() Key { return c.known }

// HasKnownSolution reports whether a known key is attached.
func (c *Cipher) HasKnownSolution() bool { return len(c.known) > 0 }

// SetKnownKey attaches the key of a known solution. Every symbol of the
// cipher must be mapped.
func (c *Cipher) SetKnownKey(k Key) error {
	known := make(Key, len(c.symbols))
	for _, sym := range c.symbols {
		l, ok := k[sym]
		if !ok {
			return fmt.Errorf("%w: symbol %q is not in the key", ErrKnownSolution, sym)
		}
		known[sym] = l
	}
	c.known = known
	return nil
}

// SetKnownSolution derives the known key from the plaintext of the whole
// cipher. Characters other than letters are ignored; the letters left must
// line up one to one with the ciphertext positions.
func (c *Cipher) SetKnownSolution(plaintext string) error {
	letters := make([]byte, 0, len(plaintext))
	for i := 0; i < len(plaintext); i++ {
		if l, ok := lowerLetter(plaintext[i]); ok {
			letters = append(letters, l)
		}
	}
	if len(letters) != len(c.tokens) {
		return fmt.Errorf("%w: %d letters for %d positions", ErrKnownSolution, len(letters), len(c.tokens))
	}

	known := make(Key, len(c.symbols))
	for pos, l := range letters {
		tok := c.tokens[pos]
		if prev, ok := known[tok]; ok && prev != l {
			return fmt.Errorf("%w: symbol %q is both %c and %c", ErrKnownSolution, tok, prev, l)
		}
		known[tok] = l
	}
	c.known = known
	return nil
}

// String renders the ciphertext one row per line.
func (c *Cipher) String() string {
	var b strings.Builder
	for r := 0; r < c.rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(c.tokens[r*c.columns:(r+1)*c.columns], " "))
	}
	return b.String()
}

func lowerLetter(c byte) (byte, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return c, true
	case c >= 'A' && c <= 'Z':
		return c + 'a' - 'A', true
	}
	return 0, false
}
