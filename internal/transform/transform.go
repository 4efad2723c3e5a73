// Package transform rearranges ciphertext before it is solved.
//
// Transformers are named on the command line or in configuration as
// "name" or "name:argument" and applied in order.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmccarv/ciphersolve/internal/cipher"
)

var (
	// ErrUnknownTransformer is returned for a name Lookup does not know.
	ErrUnknownTransformer = errors.New("transform: unknown transformer")
	// ErrArgument is returned for a missing or unexpected argument.
	ErrArgument = errors.New("transform: bad argument")
	// ErrShape is returned when the cipher does not fit the transformer.
	ErrShape = errors.New("transform: cipher does not fit")
)

// Transformer produces a rearranged copy of a cipher.
type Transformer interface {
	Name() string
	Transform(c *cipher.Cipher) (*cipher.Cipher, error)
}

type factory struct {
	needsArg bool
	build    func(arg string) (Transformer, error)
}

var registry = map[string]factory{
	"transposition": {true, func(arg string) (Transformer, error) {
		return NewTransposition(arg)
	}},
	"unwrap-transposition": {true, func(arg string) (Transformer, error) {
		t, err := NewTransposition(arg)
		if err != nil {
			return nil, err
		}
		return t.Inverse(), nil
	}},
	"flip-vertically":      {false, func(string) (Transformer, error) { return FlipVertically{}, nil }},
	"flip-horizontally":    {false, func(string) (Transformer, error) { return FlipHorizontally{}, nil }},
	"upper-right-quadrant": {false, func(string) (Transformer, error) { return UpperRightQuadrant{}, nil }},
	"remove-symbol": {true, func(arg string) (Transformer, error) {
		return RemoveSymbol{Symbol: arg}, nil
	}},
}

// Names lists the known transformer names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup parses "name" or "name:argument".
func Lookup(spec string) (Transformer, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(spec), ":")
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTransformer, name, strings.Join(Names(), ", "))
	}
	switch {
	case f.needsArg && (!hasArg || arg == ""):
		return nil, fmt.Errorf("%w: %s needs an argument", ErrArgument, name)
	case !f.needsArg && hasArg:
		return nil, fmt.Errorf("%w: %s takes no argument", ErrArgument, name)
	}
	return f.build(arg)
}

// Apply runs the transformers named by specs over c in order.
func Apply(c *cipher.Cipher, specs []string) (*cipher.Cipher, error) {
	for _, spec := range specs {
		t, err := Lookup(spec)
		if err != nil {
			return nil, err
		}
		if c, err = t.Transform(c); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return c, nil
}

// Transposition reads a columnar transposition: the ciphertext is taken a
// column at a time, columns visited in the alphabetical order of the key's
// letters, and written back row by row.
type Transposition struct {
	key     string
	columns []int
	inverse bool
}

// NewTransposition builds a transposition for key. Repeated key letters keep
// their left to right order.
func NewTransposition(key string) (*Transposition, error) {
	if len(key) < 2 {
		return nil, fmt.Errorf("%w: transposition key %q is too short", ErrArgument, key)
	}
	upper := strings.ToUpper(key)
	cols := make([]int, len(upper))
	for i := range cols {
		cols[i] = i
	}
	sort.SliceStable(cols, func(a, b int) bool { return upper[cols[a]] < upper[cols[b]] })
	return &Transposition{key: upper, columns: cols}, nil
}

// Inverse returns the transposition that undoes t.
func (t *Transposition) Inverse() *Transposition {
	return &Transposition{key: t.key, columns: t.columns, inverse: !t.inverse}
}

func (t *Transposition) Name() string {
	if t.inverse {
		return "unwrap-transposition:" + t.key
	}
	return "transposition:" + t.key
}

func (t *Transposition) Transform(c *cipher.Cipher) (*cipher.Cipher, error) {
	k := len(t.columns)
	n := c.Len()
	if n%k != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of key length %d", ErrShape, n, k)
	}
	rows := n / k

	in := c.Tokens()
	out := make([]string, n)
	i := 0
	for _, col := range t.columns {
		for r := 0; r < rows; r++ {
			if t.inverse {
				out[i] = in[r*k+col]
			} else {
				out[r*k+col] = in[i]
			}
			i++
		}
	}
	if t.inverse {
		return c.Reshape(c.Rows(), c.Columns(), out)
	}
	return c.Reshape(rows, k, out)
}

// FlipVertically reverses the order of the rows.
type FlipVertically struct{}

func (FlipVertically) Name() string { return "flip-vertically" }

func (FlipVertically) Transform(c *cipher.Cipher) (*cipher.Cipher, error) {
	rows, cols := c.Rows(), c.Columns()
	out := make([]string, 0, c.Len())
	for r := rows - 1; r >= 0; r-- {
		for col := 0; col < cols; col++ {
			out = append(out, c.At(r, col))
		}
	}
	return c.Reshape(rows, cols, out)
}

// FlipHorizontally reverses each row.
type FlipHorizontally struct{}

func (FlipHorizontally) Name() string { return "flip-horizontally" }

func (FlipHorizontally) Transform(c *cipher.Cipher) (*cipher.Cipher, error) {
	rows, cols := c.Rows(), c.Columns()
	out := make([]string, 0, c.Len())
	for r := 0; r < rows; r++ {
		for col := cols - 1; col >= 0; col-- {
			out = append(out, c.At(r, col))
		}
	}
	return c.Reshape(rows, cols, out)
}

// UpperRightQuadrant keeps the top half of the rows and the right half of
// the columns. Odd dimensions round the kept half down.
type UpperRightQuadrant struct{}

func (UpperRightQuadrant) Name() string { return "upper-right-quadrant" }

func (UpperRightQuadrant) Transform(c *cipher.Cipher) (*cipher.Cipher, error) {
	rows, cols := c.Rows()/2, c.Columns()/2
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: %d x %d grid has no quadrant", ErrShape, c.Rows(), c.Columns())
	}
	first := c.Columns() - cols
	out := make([]string, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for col := first; col < c.Columns(); col++ {
			out = append(out, c.At(r, col))
		}
	}
	return c.Reshape(rows, cols, out)
}

// RemoveSymbol drops every occurrence of one symbol. The result is a single
// row, since what is left need not fill the old columns.
type RemoveSymbol struct {
	Symbol string
}

func (t RemoveSymbol) Name() string { return "remove-symbol:" + t.Symbol }

func (t RemoveSymbol) Transform(c *cipher.Cipher) (*cipher.Cipher, error) {
	out := make([]string, 0, c.Len())
	for _, tok := range c.Tokens() {
		if tok != t.Symbol {
			out = append(out, tok)
		}
	}
	return c.Reshape(1, len(out), out)
}
